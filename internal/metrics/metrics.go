// Package metrics fetches windowed CloudWatch utilization statistics for RDS resources.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/yairfalse/rdsaudit/internal/awsapi"
	"github.com/yairfalse/rdsaudit/internal/config"
	"github.com/yairfalse/rdsaudit/internal/credentials"
	"github.com/yairfalse/rdsaudit/pkg/audit"
)

const (
	Namespace         = "AWS/RDS"
	MetricCPU         = "CPUUtilization"
	MetricConnections = "DatabaseConnections"

	DefaultWindow      = 7 * 24 * time.Hour
	DefaultConcurrency = 10
	DefaultRPS         = 20
)

// statNames maps each statistic to the CloudWatch statistic it is queried with.
var statNames = map[audit.Statistic]string{
	audit.StatP50: "p50",
	audit.StatP90: "p90",
	audit.StatP95: "p95",
	audit.StatP99: "p99",
	audit.StatAvg: "Average",
	audit.StatMax: "Maximum",
}

// Query describes one metric requested for a resource.
type Query struct {
	Metric string
	Unit   cwtypes.StandardUnit
}

var (
	CPUQuery         = Query{Metric: MetricCPU, Unit: cwtypes.StandardUnitPercent}
	ConnectionsQuery = Query{Metric: MetricConnections, Unit: cwtypes.StandardUnitCount}
)

// Aggregator enriches described resources with CPU and connection statistics.
type Aggregator struct {
	client      func(cfg aws.Config, region string) awsapi.CloudWatchAPI
	window      time.Duration
	concurrency int
	limiter     *rate.Limiter
	now         func() time.Time
}

// NewAggregator creates an aggregator from the metrics config.
func NewAggregator(client func(cfg aws.Config, region string) awsapi.CloudWatchAPI, cfg config.MetricsConfig) *Aggregator {
	window := cfg.Window
	if window <= 0 {
		window = DefaultWindow
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = DefaultRPS
	}

	return &Aggregator{
		client:      client,
		window:      window,
		concurrency: concurrency,
		// burst of twice the rate
		limiter: rate.NewLimiter(rate.Limit(rps), max(1, int(rps*2))),
		now:     time.Now,
	}
}

// Enrich fetches statistics for every resource. Any query failure fails the whole call.
// The output keeps the input order.
func (a *Aggregator) Enrich(ctx context.Context, scope credentials.Scope, resources []audit.DescribedResource) ([]audit.EnrichedResource, error) {
	out := make([]audit.EnrichedResource, len(resources))
	end := a.now().UTC()
	start := end.Add(-a.window)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, r := range resources {
		g.Go(func() error {
			enriched, err := a.enrichOne(ctx, scope, r, start, end)
			if err != nil {
				return err
			}
			out[i] = enriched
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Debug().
		Str("account", scope.Account).
		Int("count", len(out)).
		Dur("window", a.window).
		Msg("Enriched resources with metrics")

	return out, nil
}

// enrichOne runs the CPU and connection queries concurrently.
func (a *Aggregator) enrichOne(ctx context.Context, scope credentials.Scope, r audit.DescribedResource, start, end time.Time) (audit.EnrichedResource, error) {
	client := a.client(scope.Config, r.Region)

	var cpu, conns audit.PerformanceMetrics
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		cpu, err = a.fetch(ctx, client, r, CPUQuery, start, end)
		return err
	})
	g.Go(func() error {
		var err error
		conns, err = a.fetch(ctx, client, r, ConnectionsQuery, start, end)
		return err
	})
	if err := g.Wait(); err != nil {
		return audit.EnrichedResource{}, err
	}

	return audit.Enrich(r, cpu, conns), nil
}

func (a *Aggregator) fetch(ctx context.Context, client awsapi.CloudWatchAPI, r audit.DescribedResource, q Query, start, end time.Time) (audit.PerformanceMetrics, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return audit.PerformanceMetrics{}, fmt.Errorf("wait for cloudwatch rate limit: %w", err)
	}

	out, err := client.GetMetricData(ctx, a.Input(r, q, start, end))
	if err != nil {
		return audit.PerformanceMetrics{}, fmt.Errorf("get %s for %s: %w", q.Metric, r.Name, err)
	}
	return Fold(out.MetricDataResults), nil
}

// Input builds the batched query for one metric of one resource.
func (a *Aggregator) Input(r audit.DescribedResource, q Query, start, end time.Time) *cloudwatch.GetMetricDataInput {
	period := int32(a.window / time.Second)
	metric := &cwtypes.Metric{
		Namespace:  aws.String(Namespace),
		MetricName: aws.String(q.Metric),
		Dimensions: []cwtypes.Dimension{{
			Name:  aws.String(r.Role.DimensionName()),
			Value: aws.String(r.Name),
		}},
	}

	queries := make([]cwtypes.MetricDataQuery, 0, len(audit.Statistics))
	for _, s := range audit.Statistics {
		queries = append(queries, cwtypes.MetricDataQuery{
			Id: aws.String(string(s)),
			MetricStat: &cwtypes.MetricStat{
				Metric: metric,
				Period: aws.Int32(period),
				Stat:   aws.String(statNames[s]),
				Unit:   q.Unit,
			},
			ReturnData: aws.Bool(true),
		})
	}

	return &cloudwatch.GetMetricDataInput{
		StartTime:         aws.Time(start),
		EndTime:           aws.Time(end),
		MetricDataQueries: queries,
		ScanBy:            cwtypes.ScanByTimestampDescending,
	}
}

// Fold keeps the latest value of each statistic. Missing statistics stay 0.
func Fold(results []cwtypes.MetricDataResult) audit.PerformanceMetrics {
	m := audit.ZeroMetrics()
	for _, res := range results {
		if len(res.Values) == 0 {
			continue
		}
		m.Set(audit.Statistic(aws.ToString(res.Id)), res.Values[0])
	}
	return m
}
