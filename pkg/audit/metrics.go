package audit

import "math"

// PerformanceMetrics holds windowed statistics for one metric.
// A statistic without data points is 0.
type PerformanceMetrics struct {
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P90 float64 `json:"p90"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
	Max float64 `json:"max"`
}

// Statistic names one field of PerformanceMetrics.
type Statistic string

const (
	StatP50 Statistic = "p50"
	StatP90 Statistic = "p90"
	StatP95 Statistic = "p95"
	StatP99 Statistic = "p99"
	StatAvg Statistic = "avg"
	StatMax Statistic = "max"
)

// Statistics lists every field of PerformanceMetrics in query order.
var Statistics = []Statistic{StatP50, StatP90, StatP95, StatP99, StatAvg, StatMax}

// ZeroMetrics returns metrics with every statistic set to 0.
func ZeroMetrics() PerformanceMetrics {
	return PerformanceMetrics{}
}

// Set stores v under the given statistic. Unknown statistics are ignored.
func (m *PerformanceMetrics) Set(s Statistic, v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		v = 0
	}
	switch s {
	case StatP50:
		m.P50 = v
	case StatP90:
		m.P90 = v
	case StatP95:
		m.P95 = v
	case StatP99:
		m.P99 = v
	case StatAvg:
		m.Avg = v
	case StatMax:
		m.Max = v
	}
}

// Get returns the value stored under the given statistic.
func (m PerformanceMetrics) Get(s Statistic) float64 {
	switch s {
	case StatP50:
		return m.P50
	case StatP90:
		return m.P90
	case StatP95:
		return m.P95
	case StatP99:
		return m.P99
	case StatAvg:
		return m.Avg
	case StatMax:
		return m.Max
	}
	return 0
}

func (m PerformanceMetrics) sanitized() PerformanceMetrics {
	var out PerformanceMetrics
	for _, s := range Statistics {
		out.Set(s, m.Get(s))
	}
	return out
}
