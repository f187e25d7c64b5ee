package report

import (
	"github.com/yairfalse/rdsaudit/pkg/audit"
)

// Column describes one report column: its header, width and how to read the value.
// Value must return a string, float64 or bool.
type Column struct {
	Name  string
	Width float64
	Value func(audit.EnrichedResource) any
}

// BaseColumns are always rendered.
func BaseColumns() []Column {
	return []Column{
		{Name: "Account", Width: 18, Value: func(r audit.EnrichedResource) any { return r.Account }},
		{Name: "Name", Width: 35, Value: func(r audit.EnrichedResource) any { return r.Name }},
		{Name: "Region", Width: 14, Value: func(r audit.EnrichedResource) any { return r.Region }},
		{Name: "ResourceType", Width: 16, Value: func(r audit.EnrichedResource) any { return r.ResourceType }},
		{Name: "ARN", Width: 70, Value: func(r audit.EnrichedResource) any { return r.ARN }},
		{Name: "LastReportedAt", Width: 24, Value: func(r audit.EnrichedResource) any { return r.LastReportedAt }},
	}
}

// EnrichmentColumns carry the live state and utilization statistics.
func EnrichmentColumns() []Column {
	cols := []Column{
		{Name: "Role", Width: 12, Value: func(r audit.EnrichedResource) any { return r.Role.String() }},
		{Name: "InstanceType", Width: 18, Value: func(r audit.EnrichedResource) any { return r.InstanceType }},
		{Name: "Engine", Width: 20, Value: func(r audit.EnrichedResource) any { return r.Engine }},
		{Name: "SavingsPlan", Width: 14, Value: func(r audit.EnrichedResource) any { return r.SavingsPlan }},
	}
	cols = append(cols, metricColumns("CPU", func(r audit.EnrichedResource) audit.PerformanceMetrics { return r.CPU })...)
	cols = append(cols, metricColumns("Connections", func(r audit.EnrichedResource) audit.PerformanceMetrics { return r.Connections })...)
	return cols
}

// TagComplianceColumn flags resources carrying the required tag.
func TagComplianceColumn() Column {
	return Column{Name: "HasRequiredTags", Width: 18, Value: func(r audit.EnrichedResource) any { return r.HasRequiredTags }}
}

// Columns assembles the column set for the given options.
func Columns(enrichment, tagCompliance bool) []Column {
	cols := BaseColumns()
	if enrichment {
		cols = append(cols, EnrichmentColumns()...)
	}
	if tagCompliance {
		cols = append(cols, TagComplianceColumn())
	}
	return cols
}

var metricHeaders = []struct {
	label string
	stat  audit.Statistic
}{
	{"Avg", audit.StatAvg},
	{"P50", audit.StatP50},
	{"P90", audit.StatP90},
	{"P95", audit.StatP95},
	{"P99", audit.StatP99},
	{"Max", audit.StatMax},
}

func metricColumns(prefix string, pick func(audit.EnrichedResource) audit.PerformanceMetrics) []Column {
	cols := make([]Column, 0, len(metricHeaders))
	for _, h := range metricHeaders {
		cols = append(cols, Column{
			Name:  prefix + " " + h.label,
			Width: 16,
			Value: func(r audit.EnrichedResource) any { return pick(r).Get(h.stat) },
		})
	}
	return cols
}
