package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/yairfalse/rdsaudit/internal/stages"
	"github.com/yairfalse/rdsaudit/pkg/audit"
)

var accountsExclude []string

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "List the organization accounts to audit",
	Long: `List every account under the configured organization parent, minus the
parent account itself and any excluded account.

Input:  {"exclude": ["123456789012"]}
Output: {"accounts": [{"account": "...", "organization": "..."}]}`,
	Example: `  echo '{"exclude":["111111111111"]}' | rdsaudit accounts
  rdsaudit accounts --exclude 111111111111,222222222222`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStage(cmd, func(h *stages.Handlers, ctx context.Context, req audit.AccountsRequest) (audit.AccountsResponse, error) {
			req.Exclude = append(req.Exclude, accountsExclude...)
			return h.Accounts(ctx, req)
		})
	},
}

func init() {
	rootCmd.AddCommand(accountsCmd)
	accountsCmd.Flags().StringSliceVar(&accountsExclude, "exclude", nil, "Account ids to skip, added to the input exclusion list")
}
