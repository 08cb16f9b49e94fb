package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/itsneelabh/agentrelay/core"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/itsneelabh/agentrelay"

// Provider implements core.Telemetry with OpenTelemetry
type Provider struct {
	tracer        trace.Tracer
	meter         metric.Meter
	traceProvider *sdktrace.TracerProvider
	meterProvider *sdkmetric.MeterProvider

	mu       sync.Mutex
	counters map[string]metric.Float64Counter

	shutdownOnce sync.Once
	shutdownErr  error
}

// Option configures New.
type Option func(*options)

type options struct {
	exporter   sdktrace.SpanExporter
	processors []sdktrace.SpanProcessor
	readers    []sdkmetric.Reader
	writer     io.Writer
	version    string
	global     bool
}

// WithExporter replaces the exporter chosen from the configuration.
func WithExporter(exp sdktrace.SpanExporter) Option {
	return func(o *options) { o.exporter = exp }
}

// WithSpanProcessor registers an additional span processor, such as a
// tracetest.SpanRecorder in tests.
func WithSpanProcessor(sp sdktrace.SpanProcessor) Option {
	return func(o *options) { o.processors = append(o.processors, sp) }
}

// WithMetricReader registers an additional metric reader, such as a
// sdkmetric.ManualReader in tests.
func WithMetricReader(r sdkmetric.Reader) Option {
	return func(o *options) { o.readers = append(o.readers, r) }
}

// WithStdoutWriter redirects the stdout exporter used when no endpoint is set.
func WithStdoutWriter(w io.Writer) Option {
	return func(o *options) { o.writer = w }
}

// WithServiceVersion sets the service.version resource attribute.
func WithServiceVersion(version string) Option {
	return func(o *options) { o.version = version }
}

// WithoutGlobal keeps the provider out of the otel globals.
func WithoutGlobal() Option {
	return func(o *options) { o.global = false }
}

// New creates a provider from cfg. The provider registers itself as the
// global tracer provider and installs the W3C trace context propagator, so
// NewTracedHTTPClient and TracingMiddleware pick it up.
func New(ctx context.Context, cfg core.TelemetryConfig, opts ...Option) (*Provider, error) {
	o := &options{writer: os.Stdout, version: "dev", global: true}
	for _, opt := range opts {
		opt(o)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "agentrelay"
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(o.version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter := o.exporter
	if exporter == nil {
		exporter, err = newExporter(ctx, cfg, o.writer)
		if err != nil {
			return nil, err
		}
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(cfg.SamplingRate)),
	}
	for _, sp := range o.processors {
		tpOpts = append(tpOpts, sdktrace.WithSpanProcessor(sp))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	mpOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if cfg.MetricsEndpoint != "" {
		exp, err := newMetricExporter(ctx, cfg)
		if err != nil {
			_ = tp.Shutdown(ctx)
			return nil, err
		}
		mpOpts = append(mpOpts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)))
	}
	for _, r := range o.readers {
		mpOpts = append(mpOpts, sdkmetric.WithReader(r))
	}
	mp := sdkmetric.NewMeterProvider(mpOpts...)

	if o.global {
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
	}

	return &Provider{
		tracer:        tp.Tracer(instrumentationName),
		meter:         mp.Meter(instrumentationName),
		traceProvider: tp,
		meterProvider: mp,
		counters:      make(map[string]metric.Float64Counter),
	}, nil
}

func newExporter(ctx context.Context, cfg core.TelemetryConfig, w io.Writer) (sdktrace.SpanExporter, error) {
	if cfg.Endpoint == "" {
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		return exp, nil
	}

	grpcOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		grpcOpts = append(grpcOpts, otlptracegrpc.WithInsecure())
	}
	exp, err := otlptracegrpc.New(ctx, grpcOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter for %s: %w", cfg.Endpoint, err)
	}
	return exp, nil
}

// newMetricExporter pushes metrics over OTLP/HTTP to cfg.MetricsEndpoint,
// either host:port or a full URL.
func newMetricExporter(ctx context.Context, cfg core.TelemetryConfig) (sdkmetric.Exporter, error) {
	httpOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.MetricsEndpoint)}
	if strings.Contains(cfg.MetricsEndpoint, "://") {
		httpOpts = []otlpmetrichttp.Option{otlpmetrichttp.WithEndpointURL(cfg.MetricsEndpoint)}
	}
	if cfg.Insecure {
		httpOpts = append(httpOpts, otlpmetrichttp.WithInsecure())
	}
	exp, err := otlpmetrichttp.New(ctx, httpOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metric exporter for %s: %w", cfg.MetricsEndpoint, err)
	}
	return exp, nil
}

// newSampler samples everything at rate >= 1 and nothing at rate <= 0,
// honouring the parent's decision for propagated traces.
func newSampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case rate <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
}

// StartSpan starts a new telemetry span
func (p *Provider) StartSpan(ctx context.Context, name string) (context.Context, core.Span) {
	ctx, span := p.tracer.Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

// RecordMetric adds value to the counter called name.
func (p *Provider) RecordMetric(name string, value float64, labels map[string]string) {
	counter, err := p.counter(name)
	if err != nil {
		return
	}
	attrs := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	counter.Add(context.Background(), value, metric.WithAttributes(attrs...))
}

func (p *Provider) counter(name string) (metric.Float64Counter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.counters[name]; ok {
		return c, nil
	}
	c, err := p.meter.Float64Counter(name)
	if err != nil {
		return nil, err
	}
	p.counters[name] = c
	return c, nil
}

// ForceFlush exports every finished span and pending metric.
func (p *Provider) ForceFlush(ctx context.Context) error {
	return errors.Join(p.traceProvider.ForceFlush(ctx), p.meterProvider.ForceFlush(ctx))
}

// Shutdown flushes and stops the provider. Later calls return the first result.
func (p *Provider) Shutdown(ctx context.Context) error {
	p.shutdownOnce.Do(func() {
		p.shutdownErr = errors.Join(p.traceProvider.Shutdown(ctx), p.meterProvider.Shutdown(ctx))
	})
	return p.shutdownErr
}

// otelSpan wraps an OpenTelemetry span to implement core.Span
type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() {
	s.span.End()
}

func (s *otelSpan) SetAttribute(key string, value interface{}) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case float64:
		s.span.SetAttributes(attribute.Float64(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	case []string:
		s.span.SetAttributes(attribute.StringSlice(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, fmt.Sprintf("%v", v)))
	}
}

func (s *otelSpan) RecordError(err error) {
	if err == nil {
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}
