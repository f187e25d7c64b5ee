// Package credentials exchanges the audit role template for per-account credential scopes.
package credentials

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/rdsaudit/internal/awsapi"
	"github.com/yairfalse/rdsaudit/internal/config"
)

// DefaultSessionName is used when the config does not name the STS session.
const DefaultSessionName = "rdsaudit"

var (
	// ErrAssumeRole prefixes every authentication failure.
	ErrAssumeRole = errors.New("error assuming the role")
	// ErrNoCredentials is returned when STS answers without a credential payload.
	ErrNoCredentials = errors.New("failed to assume the role")
)

// Scope is an AWS config bound to one target account.
// Scopes are plain values and safe to hand to concurrent branches.
type Scope struct {
	Account string
	Config  aws.Config
}

// Region returns the scope's default region.
func (s Scope) Region() string {
	return s.Config.Region
}

// Authenticator assumes the audit role in target accounts.
type Authenticator struct {
	base        aws.Config
	sts         awsapi.STSAPI
	template    config.AuditConfig
	sessionName string
}

// NewAuthenticator creates an authenticator from the base config.
// The base config is copied per scope and never mutated.
func NewAuthenticator(base aws.Config, client awsapi.STSAPI, cfg config.AuditConfig) *Authenticator {
	name := cfg.SessionName
	if name == "" {
		name = DefaultSessionName
	}
	return &Authenticator{
		base:        base,
		sts:         client,
		template:    cfg,
		sessionName: name,
	}
}

// Base returns a scope carrying the ambient (non-assumed) credentials.
func (a *Authenticator) Base() Scope {
	return Scope{Config: a.base.Copy()}
}

// Assume returns a credential scope for the given account.
func (a *Authenticator) Assume(ctx context.Context, account string) (Scope, error) {
	roleARN := a.template.RoleARN(account)

	out, err := a.sts.AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         aws.String(roleARN),
		RoleSessionName: aws.String(a.sessionName),
	})
	if err != nil {
		return Scope{}, assumeError(err)
	}
	if out == nil || out.Credentials == nil {
		return Scope{}, assumeError(ErrNoCredentials)
	}

	creds := out.Credentials
	cfg := a.base.Copy()
	cfg.Credentials = aws.NewCredentialsCache(awscreds.NewStaticCredentialsProvider(
		aws.ToString(creds.AccessKeyId),
		aws.ToString(creds.SecretAccessKey),
		aws.ToString(creds.SessionToken),
	))

	log.Debug().
		Str("account", account).
		Str("role", roleARN).
		Msg("Assumed audit role")

	return Scope{Account: account, Config: cfg}, nil
}

// assumeError keeps both the fixed prefix sentinel and the cause reachable.
func assumeError(cause error) error {
	return fmt.Errorf("%w: %w", ErrAssumeRole, cause)
}
