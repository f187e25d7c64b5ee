// Package stages exposes each pipeline step as a handler with JSON-shaped input and output.
// An external scheduler (or the local runner) chains them.
package stages

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/yairfalse/rdsaudit/internal/credentials"
	"github.com/yairfalse/rdsaudit/internal/inventory"
	"github.com/yairfalse/rdsaudit/internal/telemetry"
	"github.com/yairfalse/rdsaudit/pkg/audit"
)

// Stage names, used in spans, metrics and CLI sub-commands.
const (
	StageAccounts = "accounts"
	StageExtract  = "extract"
	StageMetrics  = "metrics"
	StageReport   = "report"
)

// ReportResponse is the output of the report stage.
type ReportResponse struct {
	URL string `json:"url"`
}

// AccountLister lists the audited accounts.
type AccountLister interface {
	List(ctx context.Context, exclude []string) ([]audit.AccountRecord, error)
}

// Assumer obtains a credential scope for an account.
type Assumer interface {
	Assume(ctx context.Context, account string) (credentials.Scope, error)
}

// Searcher reads one account's entries from the resource index.
type Searcher interface {
	Search(ctx context.Context, scope credentials.Scope, account string) ([]inventory.InventoryEntry, error)
}

// Describer looks up live state for normalized records.
type Describer interface {
	DescribeAll(ctx context.Context, scope credentials.Scope, records []audit.ResourceRecord) ([]audit.DescribedResource, error)
}

// Enricher attaches utilization statistics.
type Enricher interface {
	Enrich(ctx context.Context, scope credentials.Scope, resources []audit.DescribedResource) ([]audit.EnrichedResource, error)
}

// Compiler stores the final report and returns its URL.
type Compiler interface {
	Compile(ctx context.Context, reports []audit.AccountReport) (string, error)
}

// Handlers holds the collaborators of every stage.
type Handlers struct {
	Directory AccountLister
	Auth      Assumer
	Searcher  Searcher
	Describer Describer
	Enricher  Enricher
	Compiler  Compiler
	Telemetry *telemetry.Provider
}

// Accounts lists the organization accounts to audit.
func (h *Handlers) Accounts(ctx context.Context, req audit.AccountsRequest) (resp audit.AccountsResponse, err error) {
	ctx, stage := h.Telemetry.StartStage(ctx, StageAccounts, "")
	defer func() { stage.End(err, len(resp.Accounts)) }()

	accounts, err := h.Directory.List(ctx, req.Exclude)
	if err != nil {
		return audit.AccountsResponse{}, err
	}
	return audit.AccountsResponse{Accounts: accounts}, nil
}

// Extract searches, normalizes and describes one account's database resources.
func (h *Handlers) Extract(ctx context.Context, acct audit.AccountRecord) (inv audit.AccountInventory, err error) {
	ctx, stage := h.Telemetry.StartStage(ctx, StageExtract, acct.Account)
	defer func() { stage.End(err, len(inv.Resources)) }()

	scope, err := h.Auth.Assume(ctx, acct.Account)
	if err != nil {
		return audit.AccountInventory{}, err
	}

	entries, err := h.Searcher.Search(ctx, scope, acct.Account)
	if err != nil {
		return audit.AccountInventory{}, err
	}

	records, err := inventory.NormalizeAll(entries)
	if err != nil {
		return audit.AccountInventory{}, err
	}

	resources, err := h.Describer.DescribeAll(ctx, scope, records)
	if err != nil {
		return audit.AccountInventory{}, err
	}

	log.Info().Ctx(ctx).
		Str("account", acct.Account).
		Int("indexed", len(entries)).
		Int("resources", len(resources)).
		Msg("Extracted account inventory")

	return audit.AccountInventory{Account: acct.Account, Resources: resources}, nil
}

// Metrics enriches one account's inventory with utilization statistics.
func (h *Handlers) Metrics(ctx context.Context, inv audit.AccountInventory) (report audit.AccountReport, err error) {
	ctx, stage := h.Telemetry.StartStage(ctx, StageMetrics, inv.Account)
	defer func() { stage.End(err, len(report.Instances)) }()

	scope, err := h.Auth.Assume(ctx, inv.Account)
	if err != nil {
		return audit.AccountReport{}, err
	}

	instances, err := h.Enricher.Enrich(ctx, scope, inv.Resources)
	if err != nil {
		return audit.AccountReport{}, fmt.Errorf("enrich account %s: %w", inv.Account, err)
	}

	log.Info().Ctx(ctx).
		Str("account", inv.Account).
		Int("instances", len(instances)).
		Msg("Enriched account inventory")

	return audit.AccountReport{Account: inv.Account, Instances: instances}, nil
}

// Report compiles every account report into one stored workbook.
func (h *Handlers) Report(ctx context.Context, reports []audit.AccountReport) (resp ReportResponse, err error) {
	ctx, stage := h.Telemetry.StartStage(ctx, StageReport, "")
	defer func() { stage.End(err, len(audit.Rollup(reports).Instances)) }()

	url, err := h.Compiler.Compile(ctx, reports)
	if err != nil {
		return ReportResponse{}, err
	}
	return ReportResponse{URL: url}, nil
}
