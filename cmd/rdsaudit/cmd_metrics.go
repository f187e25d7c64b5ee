package main

import (
	"github.com/spf13/cobra"

	"github.com/yairfalse/rdsaudit/internal/stages"
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Attach 7-day CPU and connection statistics to an account inventory",
	Long: `Query CloudWatch for the CPU utilization and connection count of every
resource in an extracted inventory.

Input:  output of "extract"
Output: {"account": "...", "instances": [...]}`,
	Example: `  rdsaudit extract -i account.json | rdsaudit metrics`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStage(cmd, (*stages.Handlers).Metrics)
	},
}

func init() {
	rootCmd.AddCommand(metricsCmd)
}
