package main

import (
	"github.com/spf13/cobra"

	"github.com/yairfalse/rdsaudit/internal/stages"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Compile account reports into one workbook and print its URL",
	Long: `Render a rollup sheet plus one sheet per account, upload the workbook to
the report bucket and print a presigned download URL.

Input:  [output of "metrics", ...]
Output: {"url": "https://..."}`,
	Example: `  jq -s . reports/*.json | rdsaudit report`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStage(cmd, (*stages.Handlers).Report)
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)
}
