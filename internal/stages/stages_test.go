package stages

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/rdsaudit/internal/config"
	"github.com/yairfalse/rdsaudit/internal/credentials"
	"github.com/yairfalse/rdsaudit/internal/inventory"
	"github.com/yairfalse/rdsaudit/internal/telemetry"
	"github.com/yairfalse/rdsaudit/pkg/audit"
)

// ═══════════════════════════════════════════════════════════════════════════
// Mocks
// ═══════════════════════════════════════════════════════════════════════════

type mockLister struct {
	ListFunc func(ctx context.Context, exclude []string) ([]audit.AccountRecord, error)
}

func (m *mockLister) List(ctx context.Context, exclude []string) ([]audit.AccountRecord, error) {
	return m.ListFunc(ctx, exclude)
}

type mockAssumer struct {
	AssumeFunc func(ctx context.Context, account string) (credentials.Scope, error)
}

func (m *mockAssumer) Assume(ctx context.Context, account string) (credentials.Scope, error) {
	if m.AssumeFunc != nil {
		return m.AssumeFunc(ctx, account)
	}
	return credentials.Scope{Account: account}, nil
}

type mockSearcher struct {
	SearchFunc func(ctx context.Context, scope credentials.Scope, account string) ([]inventory.InventoryEntry, error)
}

func (m *mockSearcher) Search(ctx context.Context, scope credentials.Scope, account string) ([]inventory.InventoryEntry, error) {
	return m.SearchFunc(ctx, scope, account)
}

type passthroughDescriber struct{}

func (passthroughDescriber) DescribeAll(ctx context.Context, scope credentials.Scope, records []audit.ResourceRecord) ([]audit.DescribedResource, error) {
	out := make([]audit.DescribedResource, 0, len(records))
	for _, r := range records {
		out = append(out, audit.DescribedResource{ResourceRecord: r, Details: audit.Details{Role: audit.RoleStandalone}})
	}
	return out, nil
}

type mockEnricher struct {
	EnrichFunc func(ctx context.Context, scope credentials.Scope, resources []audit.DescribedResource) ([]audit.EnrichedResource, error)
}

func (m *mockEnricher) Enrich(ctx context.Context, scope credentials.Scope, resources []audit.DescribedResource) ([]audit.EnrichedResource, error) {
	if m.EnrichFunc != nil {
		return m.EnrichFunc(ctx, scope, resources)
	}
	out := make([]audit.EnrichedResource, 0, len(resources))
	for _, r := range resources {
		out = append(out, audit.Enrich(r, audit.ZeroMetrics(), audit.ZeroMetrics()))
	}
	return out, nil
}

type mockCompiler struct {
	CompileFunc func(ctx context.Context, reports []audit.AccountReport) (string, error)
}

func (m *mockCompiler) Compile(ctx context.Context, reports []audit.AccountReport) (string, error) {
	return m.CompileFunc(ctx, reports)
}

func newProvider(t *testing.T) *telemetry.Provider {
	t.Helper()
	p, err := telemetry.NewProvider(context.Background(), config.OTELConfig{ServiceName: "test-rdsaudit"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	return p
}

func dbEntry(account, name string) inventory.InventoryEntry {
	return inventory.InventoryEntry{
		ARN:          "arn:aws:rds:us-east-1:" + account + ":db:" + name,
		ResourceType: inventory.KindInstance,
		Region:       "us-east-1",
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Handlers
// ═══════════════════════════════════════════════════════════════════════════

func TestAccounts(t *testing.T) {
	h := &Handlers{
		Directory: &mockLister{ListFunc: func(ctx context.Context, exclude []string) ([]audit.AccountRecord, error) {
			assert.Equal(t, []string{"456"}, exclude)
			return []audit.AccountRecord{{Account: "789", Organization: "ou-1"}}, nil
		}},
		Telemetry: newProvider(t),
	}

	resp, err := h.Accounts(context.Background(), audit.AccountsRequest{Exclude: []string{"456"}})

	require.NoError(t, err)
	assert.Equal(t, []audit.AccountRecord{{Account: "789", Organization: "ou-1"}}, resp.Accounts)
}

func TestExtract(t *testing.T) {
	var searchedWith credentials.Scope
	h := &Handlers{
		Auth: &mockAssumer{},
		Searcher: &mockSearcher{SearchFunc: func(ctx context.Context, scope credentials.Scope, account string) ([]inventory.InventoryEntry, error) {
			searchedWith = scope
			return []inventory.InventoryEntry{dbEntry(account, "a"), dbEntry(account, "b")}, nil
		}},
		Describer: passthroughDescriber{},
		Telemetry: newProvider(t),
	}

	inv, err := h.Extract(context.Background(), audit.AccountRecord{Account: "123", Organization: "ou-1"})

	require.NoError(t, err)
	assert.Equal(t, "123", searchedWith.Account)
	assert.Equal(t, "123", inv.Account)
	require.Len(t, inv.Resources, 2)
	assert.Equal(t, "a", inv.Resources[0].Name)
}

func TestExtract_AuthFailureStopsBranch(t *testing.T) {
	cause := errors.New("error assuming the role: denied")
	searched := false
	h := &Handlers{
		Auth: &mockAssumer{AssumeFunc: func(ctx context.Context, account string) (credentials.Scope, error) {
			return credentials.Scope{}, cause
		}},
		Searcher: &mockSearcher{SearchFunc: func(ctx context.Context, scope credentials.Scope, account string) ([]inventory.InventoryEntry, error) {
			searched = true
			return nil, nil
		}},
		Telemetry: newProvider(t),
	}

	_, err := h.Extract(context.Background(), audit.AccountRecord{Account: "123"})

	require.ErrorIs(t, err, cause)
	assert.False(t, searched)
}

func TestExtract_UnrecognizedKindIsFatal(t *testing.T) {
	h := &Handlers{
		Auth: &mockAssumer{},
		Searcher: &mockSearcher{SearchFunc: func(ctx context.Context, scope credentials.Scope, account string) ([]inventory.InventoryEntry, error) {
			e := dbEntry(account, "a")
			e.ResourceType = "ec2:instance"
			return []inventory.InventoryEntry{e}, nil
		}},
		Describer: passthroughDescriber{},
		Telemetry: newProvider(t),
	}

	_, err := h.Extract(context.Background(), audit.AccountRecord{Account: "123"})

	require.ErrorIs(t, err, inventory.ErrUnrecognizedKind)
}

func TestMetrics(t *testing.T) {
	h := &Handlers{
		Auth:      &mockAssumer{},
		Enricher:  &mockEnricher{},
		Telemetry: newProvider(t),
	}
	inv := audit.AccountInventory{
		Account:   "123",
		Resources: []audit.DescribedResource{{ResourceRecord: audit.ResourceRecord{Name: "a"}}},
	}

	report, err := h.Metrics(context.Background(), inv)

	require.NoError(t, err)
	assert.Equal(t, "123", report.Account)
	require.Len(t, report.Instances, 1)
	assert.Equal(t, audit.ZeroMetrics(), report.Instances[0].CPU)
}

func TestMetrics_EnrichFailure(t *testing.T) {
	cause := errors.New("Throttling")
	h := &Handlers{
		Auth: &mockAssumer{},
		Enricher: &mockEnricher{EnrichFunc: func(ctx context.Context, scope credentials.Scope, resources []audit.DescribedResource) ([]audit.EnrichedResource, error) {
			return nil, cause
		}},
		Telemetry: newProvider(t),
	}

	_, err := h.Metrics(context.Background(), audit.AccountInventory{Account: "123"})

	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "enrich account 123")
}

func TestReport(t *testing.T) {
	h := &Handlers{
		Compiler: &mockCompiler{CompileFunc: func(ctx context.Context, reports []audit.AccountReport) (string, error) {
			return "https://example.com/report.xlsx?sig=1", nil
		}},
		Telemetry: newProvider(t),
	}

	resp, err := h.Report(context.Background(), []audit.AccountReport{{Account: "1"}})

	require.NoError(t, err)
	assert.Equal(t, "https://example.com/report.xlsx?sig=1", resp.URL)
}

// ═══════════════════════════════════════════════════════════════════════════
// Codec
// ═══════════════════════════════════════════════════════════════════════════

func TestDecode_ExtractInput(t *testing.T) {
	acct, err := Decode[audit.AccountRecord](strings.NewReader(`{"account":"123","organization":"ou-1"}`))

	require.NoError(t, err)
	assert.Equal(t, audit.AccountRecord{Account: "123", Organization: "ou-1"}, acct)
}

func TestDecode_EmptyInputIsZeroValue(t *testing.T) {
	req, err := Decode[audit.AccountsRequest](strings.NewReader(""))

	require.NoError(t, err)
	assert.Empty(t, req.Exclude)
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode[[]audit.AccountReport](strings.NewReader(`{"not":"a list"`))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode stage input")
}

func TestEncode_ReportRoundTripsThroughMetricsStage(t *testing.T) {
	report := audit.AccountReport{
		Account: "123",
		Instances: []audit.EnrichedResource{{
			ResourceRecord: audit.ResourceRecord{Account: "123", Name: "orders", ARN: "arn:aws:rds:us-east-1:123:cluster:orders"},
			Details:        audit.Details{Role: audit.RoleCluster},
			CPU:            audit.PerformanceMetrics{P95: 15.4},
		}},
	}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, report))
	assert.Contains(t, buf.String(), `"role": "cluster"`)
	assert.Contains(t, buf.String(), `"p95": 15.4`)

	got, err := Decode[audit.AccountReport](&buf)
	require.NoError(t, err)
	assert.Equal(t, report, got)
}
