// Package runner chains the pipeline stages in-process for operators running
// without an external scheduler.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/yairfalse/rdsaudit/internal/config"
	"github.com/yairfalse/rdsaudit/internal/stages"
	"github.com/yairfalse/rdsaudit/pkg/audit"
)

const (
	DefaultConcurrency   = 3
	DefaultBranchTimeout = 15 * time.Minute
)

// Pipeline is the set of stage handlers the runner drives.
type Pipeline interface {
	Accounts(ctx context.Context, req audit.AccountsRequest) (audit.AccountsResponse, error)
	Extract(ctx context.Context, acct audit.AccountRecord) (audit.AccountInventory, error)
	Metrics(ctx context.Context, inv audit.AccountInventory) (audit.AccountReport, error)
	Report(ctx context.Context, reports []audit.AccountReport) (stages.ReportResponse, error)
}

// Runner fans the per-account branch out over accounts and compiles the result.
type Runner struct {
	pipeline    Pipeline
	concurrency int
	timeout     time.Duration
}

// New creates a runner from the runner config.
func New(pipeline Pipeline, cfg config.RunnerConfig) *Runner {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	timeout := cfg.BranchTimeout
	if timeout <= 0 {
		timeout = DefaultBranchTimeout
	}
	return &Runner{pipeline: pipeline, concurrency: concurrency, timeout: timeout}
}

// Run audits every account and returns the report URL. The first failing
// branch cancels the others and no report is produced.
func (r *Runner) Run(ctx context.Context, req audit.AccountsRequest) (string, error) {
	accounts, err := r.pipeline.Accounts(ctx, req)
	if err != nil {
		return "", err
	}

	reports, err := r.branches(ctx, accounts.Accounts)
	if err != nil {
		return "", err
	}

	resp, err := r.pipeline.Report(ctx, reports)
	if err != nil {
		return "", err
	}
	return resp.URL, nil
}

func (r *Runner) branches(ctx context.Context, accounts []audit.AccountRecord) ([]audit.AccountReport, error) {
	reports := make([]audit.AccountReport, len(accounts))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, acct := range accounts {
		g.Go(func() error {
			report, err := r.branch(ctx, acct)
			if err != nil {
				return fmt.Errorf("account %s: %w", acct.Account, err)
			}
			reports[i] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

func (r *Runner) branch(ctx context.Context, acct audit.AccountRecord) (audit.AccountReport, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	inv, err := r.pipeline.Extract(ctx, acct)
	if err != nil {
		return audit.AccountReport{}, err
	}

	report, err := r.pipeline.Metrics(ctx, inv)
	if err != nil {
		return audit.AccountReport{}, err
	}

	log.Info().
		Str("account", acct.Account).
		Int("instances", len(report.Instances)).
		Dur("duration", time.Since(start)).
		Msg("Account branch complete")

	return report, nil
}
