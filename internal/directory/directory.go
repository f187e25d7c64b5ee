// Package directory lists the member accounts of the audited organization.
package directory

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/rdsaudit/internal/awsapi"
	"github.com/yairfalse/rdsaudit/internal/config"
	"github.com/yairfalse/rdsaudit/internal/credentials"
	"github.com/yairfalse/rdsaudit/internal/filter"
	"github.com/yairfalse/rdsaudit/pkg/audit"
)

// Assumer obtains a credential scope for an account.
type Assumer interface {
	Assume(ctx context.Context, account string) (credentials.Scope, error)
}

// Directory enumerates the accounts under the organization parent.
type Directory struct {
	auth          Assumer
	organizations func(cfg aws.Config) awsapi.OrganizationsAPI
	parentAccount string
	parentOrg     string
}

// New creates a directory for the configured parent account and organization unit.
func New(auth Assumer, organizations func(cfg aws.Config) awsapi.OrganizationsAPI, cfg config.AuditConfig) *Directory {
	return &Directory{
		auth:          auth,
		organizations: organizations,
		parentAccount: cfg.ParentAccountID,
		parentOrg:     cfg.ParentOrgID,
	}
}

// List returns every member account except the parent and the excluded ids,
// in the order the organization reports them.
func (d *Directory) List(ctx context.Context, exclude []string) ([]audit.AccountRecord, error) {
	scope, err := d.auth.Assume(ctx, d.parentAccount)
	if err != nil {
		return nil, err
	}

	client := d.organizations(scope.Config)

	var all []audit.AccountRecord
	var nextToken *string
	for {
		out, err := client.ListAccountsForParent(ctx, &organizations.ListAccountsForParentInput{
			ParentId:  aws.String(d.parentOrg),
			NextToken: nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("list accounts for parent: %w", err)
		}

		for _, acct := range out.Accounts {
			all = append(all, audit.AccountRecord{
				Account:      aws.ToString(acct.Id),
				Organization: d.parentOrg,
			})
		}

		if out.NextToken == nil || *out.NextToken == "" {
			break
		}
		nextToken = out.NextToken
	}

	f := filter.New(d.parentAccount, exclude)
	accounts := f.Accounts(all)

	log.Info().
		Str("parent", d.parentOrg).
		Int("listed", len(all)).
		Int("excluded", f.Excluded()).
		Int("accounts", len(accounts)).
		Msg("Listed organization accounts")

	return accounts, nil
}
