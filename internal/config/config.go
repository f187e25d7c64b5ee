// Package config handles TOML configuration for rdsaudit.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// AccountPlaceholder is substituted with the target account id in the role template.
const AccountPlaceholder = "{ACCOUNT}"

// Config is the root configuration structure.
type Config struct {
	Audit   AuditConfig   `toml:"audit"`
	Report  ReportConfig  `toml:"report"`
	Metrics MetricsConfig `toml:"metrics"`
	Runner  RunnerConfig  `toml:"runner"`
	OTEL    OTELConfig    `toml:"otel"`
	Log     LogConfig     `toml:"log"`
}

// AuditConfig holds the organization and credential settings.
type AuditConfig struct {
	RoleTemplate          string   `toml:"role_template"`
	AggregatorIndexRegion string   `toml:"aggregator_index_region"`
	ParentAccountID       string   `toml:"parent_account_id"`
	ParentOrgID           string   `toml:"parent_org_id"`
	ResourceTypes         []string `toml:"resource_types"`
	SessionName           string   `toml:"session_name"`
}

// ReportConfig holds report rendering and storage settings.
// An empty Region is looked up from the bucket when the report is stored.
type ReportConfig struct {
	Bucket               string `toml:"bucket"`
	Region               string `toml:"region"`
	URLExpiryStr         string `toml:"url_expiry"`
	URLExpiry            time.Duration
	IncludeEnrichment    bool `toml:"include_enrichment"`
	IncludeTagCompliance bool `toml:"include_tag_compliance"`
}

// MetricsConfig holds CloudWatch query settings.
type MetricsConfig struct {
	WindowStr         string `toml:"window"`
	Window            time.Duration
	Concurrency       int     `toml:"concurrency"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// RunnerConfig holds settings for the local scheduler.
type RunnerConfig struct {
	Concurrency      int    `toml:"concurrency"`
	BranchTimeoutStr string `toml:"branch_timeout"`
	BranchTimeout    time.Duration
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string       `toml:"endpoint"`
	Insecure    bool         `toml:"insecure"`
	ServiceName string       `toml:"service_name"`
	Traces      TracesConfig `toml:"traces"`
	Metrics     OTELMetrics  `toml:"metrics"`
}

// TracesConfig holds tracing settings.
type TracesConfig struct {
	Enabled    bool    `toml:"enabled"`
	SampleRate float64 `toml:"sample_rate"`
}

// OTELMetrics holds OTEL metrics export settings.
type OTELMetrics struct {
	Enabled     bool   `toml:"enabled"`
	Pushgateway string `toml:"pushgateway"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns a config with defaults applied and no file or environment input.
func Default() *Config {
	cfg := &Config{Report: ReportConfig{IncludeEnrichment: true}}
	applyDefaults(cfg)
	// defaults are always parseable
	_ = parseDurations(cfg)
	return cfg
}

// Load reads a TOML config file, then applies environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{Report: ReportConfig{IncludeEnrichment: true}}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return finish(cfg, os.LookupEnv)
}

// LoadFromEnv builds a config from defaults and environment variables only.
func LoadFromEnv() (*Config, error) {
	return finish(&Config{Report: ReportConfig{IncludeEnrichment: true}}, os.LookupEnv)
}

func finish(cfg *Config, lookup func(string) (string, bool)) (*Config, error) {
	applyEnv(cfg, lookup)
	applyDefaults(cfg)

	if err := parseDurations(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides file values with the deployment environment variables.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	set("ROLE_TEMPLATE", &cfg.Audit.RoleTemplate)
	set("AGGREGATOR_INDEX_REGION", &cfg.Audit.AggregatorIndexRegion)
	set("PARENT_AWS_ID", &cfg.Audit.ParentAccountID)
	set("PARENT_ORG_ID", &cfg.Audit.ParentOrgID)
	set("REPORT_BUCKET", &cfg.Report.Bucket)
	set("LOG_LEVEL", &cfg.Log.Level)
}

func applyDefaults(cfg *Config) {
	if len(cfg.Audit.ResourceTypes) == 0 {
		cfg.Audit.ResourceTypes = []string{"rds:db", "rds:cluster"}
	}
	if cfg.Audit.SessionName == "" {
		cfg.Audit.SessionName = "rdsaudit"
	}
	if cfg.Report.Bucket == "" && cfg.Audit.ParentAccountID != "" {
		cfg.Report.Bucket = cfg.Audit.ParentAccountID + "-rds-reports"
	}
	if cfg.Report.URLExpiryStr == "" {
		cfg.Report.URLExpiryStr = "15m"
	}
	if cfg.Metrics.WindowStr == "" {
		cfg.Metrics.WindowStr = "168h"
	}
	if cfg.Metrics.Concurrency <= 0 {
		cfg.Metrics.Concurrency = 10
	}
	if cfg.Metrics.RequestsPerSecond <= 0 {
		cfg.Metrics.RequestsPerSecond = 20
	}
	if cfg.Runner.Concurrency <= 0 {
		cfg.Runner.Concurrency = 3
	}
	if cfg.Runner.BranchTimeoutStr == "" {
		cfg.Runner.BranchTimeoutStr = "15m"
	}
	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "rdsaudit"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

func parseDurations(cfg *Config) error {
	var err error
	if cfg.Report.URLExpiry, err = parseDuration("report.url_expiry", cfg.Report.URLExpiryStr); err != nil {
		return err
	}
	if cfg.Metrics.Window, err = parseDuration("metrics.window", cfg.Metrics.WindowStr); err != nil {
		return err
	}
	if cfg.Runner.BranchTimeout, err = parseDuration("runner.branch_timeout", cfg.Runner.BranchTimeoutStr); err != nil {
		return err
	}
	return nil
}

func parseDuration(field, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", field, s, err)
	}
	return d, nil
}

// RoleARN returns the role to assume in the given account.
func (c *AuditConfig) RoleARN(account string) string {
	return strings.ReplaceAll(c.RoleTemplate, AccountPlaceholder, account)
}

// Validate checks the configuration is valid.
func (c *Config) Validate() error {
	if c.Audit.RoleTemplate == "" {
		return fmt.Errorf("audit: role_template required")
	}
	if !strings.Contains(c.Audit.RoleTemplate, AccountPlaceholder) {
		return fmt.Errorf("audit: role_template must contain %s", AccountPlaceholder)
	}
	if c.Audit.AggregatorIndexRegion == "" {
		return fmt.Errorf("audit: aggregator_index_region required")
	}
	if c.Audit.ParentAccountID == "" {
		return fmt.Errorf("audit: parent_account_id required")
	}
	if c.Audit.ParentOrgID == "" {
		return fmt.Errorf("audit: parent_org_id required")
	}
	if c.Report.Bucket == "" {
		return fmt.Errorf("report: bucket required")
	}
	if c.Report.URLExpiry <= 0 || c.Report.URLExpiry > 7*24*time.Hour {
		return fmt.Errorf("report: url_expiry must be between 0 and 168h (got %v)", c.Report.URLExpiry)
	}
	if c.Metrics.Window < time.Minute {
		return fmt.Errorf("metrics: window must be at least 1m (got %v)", c.Metrics.Window)
	}
	// the window is sent to CloudWatch as the statistics period
	if c.Metrics.Window%time.Minute != 0 {
		return fmt.Errorf("metrics: window must be a whole number of minutes (got %v)", c.Metrics.Window)
	}
	if c.OTEL.Traces.SampleRate < 0.0 || c.OTEL.Traces.SampleRate > 1.0 {
		return fmt.Errorf("otel: traces.sample_rate must be between 0.0 and 1.0 (got %v)", c.OTEL.Traces.SampleRate)
	}
	return nil
}
