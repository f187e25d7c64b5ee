package main

import (
	"github.com/spf13/cobra"

	"github.com/yairfalse/rdsaudit/internal/stages"
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Find and describe the RDS resources of one account",
	Long: `Assume the audit role in the account, search the resource index for its
RDS instances and clusters, normalize them and describe their live state.

Input:  {"account": "...", "organization": "..."}
Output: {"account": "...", "resources": [...]}`,
	Example: `  echo '{"account":"123456789012","organization":"ou-abcd-1234"}' | rdsaudit extract`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStage(cmd, (*stages.Handlers).Extract)
	},
}

func init() {
	rootCmd.AddCommand(extractCmd)
}
