package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/rdsaudit/internal/config"
	"github.com/yairfalse/rdsaudit/internal/telemetry"
)

var (
	version = "0.1.0"

	configPath string
	inputPath  string
	debug      bool

	rootCmd = &cobra.Command{
		Use:   "rdsaudit",
		Short: "Cross-account RDS audit report",
		Long: `rdsaudit - cross-account RDS audit

Lists the accounts of an AWS organization, finds every RDS instance and
cluster through the Resource Explorer aggregator index, enriches them with
7-day CPU and connection statistics and publishes one spreadsheet report.

Each stage reads a JSON document (--input or stdin) and writes a JSON
document to stdout so an external scheduler can chain them. "run" chains
them locally.`,
		Version:           version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
	}

	cfg *config.Config
)

// Execute runs the root command
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`rdsaudit {{.Version}}
`)
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to TOML config (default: environment only)")
	rootCmd.PersistentFlags().StringVarP(&inputPath, "input", "i", "", "Stage input JSON file (default: stdin)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}

func setup(cmd *cobra.Command, args []string) error {
	loaded, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := setupLogging(loaded.Log, debug, cmd.ErrOrStderr()); err != nil {
		return err
	}
	cfg = loaded
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	var c *config.Config
	var err error
	if path != "" {
		c, err = config.Load(path)
	} else {
		c, err = config.LoadFromEnv()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return c, nil
}

// setupLogging configures the global logger. Stage output owns stdout, so logs go to w.
func setupLogging(c config.LogConfig, debug bool, w io.Writer) error {
	level, err := zerolog.ParseLevel(c.Level)
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	out := w
	if c.Format == "console" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger().Hook(telemetry.OTELHook{})
	return nil
}
