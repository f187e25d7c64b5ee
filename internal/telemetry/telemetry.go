// Package telemetry provides OpenTelemetry instrumentation for rdsaudit.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/rdsaudit/internal/config"
)

const instrumentationName = "rdsaudit"

// Provider wraps OTEL tracer and meter providers.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter

	// registry is filled by the prometheus exporter on every gather
	registry    *promclient.Registry
	pushgateway string

	// Metrics
	stageDuration metric.Float64Histogram
	resourceCount metric.Int64Counter
	stageErrors   metric.Int64Counter
}

// NewProvider creates a new telemetry provider.
func NewProvider(ctx context.Context, cfg config.OTELConfig) (*Provider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	p := &Provider{}

	if err := p.setupTracing(ctx, cfg, res); err != nil {
		return nil, err
	}

	if err := p.setupMetrics(ctx, cfg, res); err != nil {
		if p.tracerProvider != nil {
			_ = p.tracerProvider.Shutdown(ctx)
		}
		return nil, err
	}

	if err := p.initMetrics(); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *Provider) setupTracing(ctx context.Context, cfg config.OTELConfig, res *resource.Resource) error {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
	}

	if cfg.Traces.Enabled && cfg.Endpoint != "" {
		exp, err := createTraceExporter(ctx, cfg)
		if err != nil {
			return fmt.Errorf("create trace exporter: %w", err)
		}
		sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Traces.SampleRate))
		opts = append(opts, sdktrace.WithBatcher(exp), sdktrace.WithSampler(sampler))
	}

	p.tracerProvider = sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(p.tracerProvider)
	p.tracer = p.tracerProvider.Tracer(instrumentationName)

	return nil
}

func (p *Provider) setupMetrics(ctx context.Context, cfg config.OTELConfig, res *resource.Resource) error {
	p.registry = promclient.NewRegistry()
	p.pushgateway = cfg.Metrics.Pushgateway

	promExporter, err := prometheus.New(prometheus.WithRegisterer(p.registry))
	if err != nil {
		return fmt.Errorf("create prometheus exporter: %w", err)
	}

	opts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExporter),
	}

	if cfg.Metrics.Enabled && cfg.Endpoint != "" {
		exp, err := createMetricExporter(ctx, cfg)
		if err != nil {
			return fmt.Errorf("create metric exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)))
	}

	p.meterProvider = sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(p.meterProvider)
	p.meter = p.meterProvider.Meter(instrumentationName)

	return nil
}

func createTraceExporter(ctx context.Context, cfg config.OTELConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return otlptracegrpc.New(ctx, opts...)
}

func createMetricExporter(ctx context.Context, cfg config.OTELConfig) (sdkmetric.Exporter, error) {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	return otlpmetricgrpc.New(ctx, opts...)
}

func (p *Provider) initMetrics() error {
	var err error

	p.stageDuration, err = p.meter.Float64Histogram(
		"rdsaudit_stage_duration_seconds",
		metric.WithDescription("Duration of pipeline stages"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create stage_duration: %w", err)
	}

	p.resourceCount, err = p.meter.Int64Counter(
		"rdsaudit_resources_total",
		metric.WithDescription("Total records produced by pipeline stages"),
	)
	if err != nil {
		return fmt.Errorf("create resource_count: %w", err)
	}

	p.stageErrors, err = p.meter.Int64Counter(
		"rdsaudit_stage_errors_total",
		metric.WithDescription("Total failed pipeline stages"),
	)
	if err != nil {
		return fmt.Errorf("create stage_errors: %w", err)
	}

	return nil
}

// Stage is one running pipeline stage.
type Stage struct {
	p     *Provider
	ctx   context.Context
	span  trace.Span
	attrs []attribute.KeyValue
	start time.Time
}

// StartStage opens a span for a pipeline stage. account may be empty for
// organization-wide stages.
func (p *Provider) StartStage(ctx context.Context, stage, account string) (context.Context, *Stage) {
	attrs := []attribute.KeyValue{attribute.String("stage", stage)}
	if account != "" {
		attrs = append(attrs, attribute.String("account", account))
	}

	ctx, span := p.tracer.Start(ctx, "rdsaudit."+stage, trace.WithAttributes(attrs...))
	return ctx, &Stage{p: p, ctx: ctx, span: span, attrs: attrs, start: time.Now()}
}

// End records the stage outcome and closes its span.
func (s *Stage) End(err error, count int) {
	opt := metric.WithAttributes(s.attrs...)
	s.p.stageDuration.Record(s.ctx, time.Since(s.start).Seconds(), opt)

	if err != nil {
		s.p.stageErrors.Add(s.ctx, 1, opt)
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.p.resourceCount.Add(s.ctx, int64(count), opt)
		s.span.SetAttributes(attribute.Int("count", count))
	}
	s.span.End()
}

// Push sends the current metric snapshot to the configured Prometheus
// Pushgateway. It is a no-op when no gateway is configured.
func (p *Provider) Push(ctx context.Context) error {
	if p.pushgateway == "" || p.registry == nil {
		return nil
	}
	err := push.New(p.pushgateway, instrumentationName).
		Gatherer(p.registry).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}

// Shutdown pushes the final metrics, then flushes and shuts down the providers.
// The providers are shut down even when the push fails.
func (p *Provider) Shutdown(ctx context.Context) error {
	pushErr := p.Push(ctx)

	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			return errors.Join(pushErr, fmt.Errorf("shutdown tracer: %w", err))
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			return errors.Join(pushErr, fmt.Errorf("shutdown meter: %w", err))
		}
	}
	return pushErr
}
