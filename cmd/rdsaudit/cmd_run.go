package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/yairfalse/rdsaudit/internal/runner"
	"github.com/yairfalse/rdsaudit/internal/stages"
	"github.com/yairfalse/rdsaudit/pkg/audit"
)

var runExclude []string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the whole audit locally",
	Long: `Chain every stage in-process: list accounts, extract and enrich each
account with bounded concurrency, then compile the report.

Input:  {"exclude": [...]} (optional)
Output: {"url": "https://..."}`,
	Example: `  rdsaudit run --config rdsaudit.toml
  rdsaudit run --exclude 111111111111`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStage(cmd, func(h *stages.Handlers, ctx context.Context, req audit.AccountsRequest) (stages.ReportResponse, error) {
			req.Exclude = append(req.Exclude, runExclude...)
			url, err := runner.New(h, cfg.Runner).Run(ctx, req)
			if err != nil {
				return stages.ReportResponse{}, err
			}
			return stages.ReportResponse{URL: url}, nil
		})
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringSliceVar(&runExclude, "exclude", nil, "Account ids to skip")
}
