// Package telemetry builds the OpenTelemetry providers used by the stats
// socket and bridges counter values into observable gauges.
package telemetry

import (
	"context"
	"errors"
	"sync"

	"github.com/hyp3rd/ewrap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/hyp3rd/statsock/pkg/config"
)

// Provider owns the tracer and meter providers and their exporters.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	exporters      *exporterBundle
	runtime        *runtimeMetrics

	once sync.Once
}

// Option customises provider construction.
type Option func(*providerOptions)

type providerOptions struct {
	readers    []sdkmetric.Reader
	processors []sdktrace.SpanProcessor
	global     bool
}

// WithMetricReader attaches an extra reader, typically a ManualReader in tests.
func WithMetricReader(reader sdkmetric.Reader) Option {
	return func(o *providerOptions) {
		o.readers = append(o.readers, reader)
	}
}

// WithSpanProcessor attaches an extra span processor.
func WithSpanProcessor(sp sdktrace.SpanProcessor) Option {
	return func(o *providerOptions) {
		o.processors = append(o.processors, sp)
	}
}

// WithoutGlobal keeps the providers out of the otel globals.
func WithoutGlobal() Option {
	return func(o *providerOptions) {
		o.global = false
	}
}

// New builds providers from cfg. Exporters are only created when
// cfg.Exporter.Enabled is set.
func New(ctx context.Context, cfg config.TelemetryConfig, svc config.ServiceConfig, opts ...Option) (*Provider, error) {
	settings := providerOptions{global: true}
	for _, opt := range opts {
		opt(&settings)
	}

	var exporters *exporterBundle

	if cfg.Exporter.Enabled {
		bundle, err := newExporterBundle(ctx, cfg.Exporter)
		if err != nil {
			return nil, ewrap.Wrap(err, "build exporters")
		}

		exporters = bundle
	}

	res, err := buildResource(ctx, svc)
	if err != nil {
		return nil, releaseExporters(ctx, exporters, ewrap.Wrap(err, "build resource"))
	}

	tp, err := buildTracerProvider(cfg.Sampling, res, exporters, settings.processors)
	if err != nil {
		return nil, releaseExporters(ctx, exporters, ewrap.Wrap(err, "build tracer provider"))
	}

	mp := buildMeterProvider(res, exporters, settings.readers)

	p := &Provider{
		tracerProvider: tp,
		meterProvider:  mp,
		exporters:      exporters,
	}

	if cfg.RuntimeMetrics.Enabled {
		rm, err := startRuntimeMetrics(mp, exporters)
		if err != nil {
			//nolint:errcheck // the start error is the one returned.
			_ = p.Shutdown(ctx)

			return nil, err
		}

		p.runtime = rm
	}

	if settings.global {
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
	}

	return p, nil
}

// TracerProvider returns the SDK tracer provider.
func (p *Provider) TracerProvider() trace.TracerProvider {
	return p.tracerProvider
}

// MeterProvider returns the SDK meter provider.
func (p *Provider) MeterProvider() metric.MeterProvider {
	return p.meterProvider
}

// ExporterStatus reports the trace exporter's health, or false when no
// exporter is configured.
func (p *Provider) ExporterStatus() (ExporterStatus, bool) {
	if p.exporters == nil || p.exporters.traceStats == nil {
		return ExporterStatus{}, false
	}

	return p.exporters.traceStats.status(), true
}

// Shutdown flushes and stops providers and exporters.
func (p *Provider) Shutdown(ctx context.Context) error {
	var shutdownErr error

	p.once.Do(func() {
		var errs []error

		err := p.runtime.shutdown()
		if err != nil {
			errs = append(errs, err)
		}

		err = p.tracerProvider.Shutdown(ctx)
		if err != nil {
			errs = append(errs, err)
		}

		err = p.meterProvider.Shutdown(ctx)
		if err != nil {
			errs = append(errs, err)
		}

		shutdownErr = errors.Join(errs...)
	})

	if shutdownErr != nil {
		return ewrap.Wrap(shutdownErr, "shutdown telemetry")
	}

	return nil
}

func releaseExporters(ctx context.Context, exporters *exporterBundle, cause error) error {
	if exporters == nil {
		return cause
	}

	return errors.Join(cause, exporters.shutdown(ctx))
}

func buildTracerProvider(
	cfg config.SamplingConfig,
	res *resource.Resource,
	exporters *exporterBundle,
	processors []sdktrace.SpanProcessor,
) (*sdktrace.TracerProvider, error) {
	sampler, err := samplerFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sampler),
		sdktrace.WithResource(res),
	}

	if exporters != nil && exporters.traceExporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporters.traceExporter))
	}

	for _, sp := range processors {
		opts = append(opts, sdktrace.WithSpanProcessor(sp))
	}

	return sdktrace.NewTracerProvider(opts...), nil
}

func buildMeterProvider(res *resource.Resource, exporters *exporterBundle, readers []sdkmetric.Reader) *sdkmetric.MeterProvider {
	options := []sdkmetric.Option{
		sdkmetric.WithResource(res),
	}

	if exporters != nil && exporters.metricReader != nil {
		options = append(options, sdkmetric.WithReader(exporters.metricReader))
	}

	for _, reader := range readers {
		options = append(options, sdkmetric.WithReader(reader))
	}

	return sdkmetric.NewMeterProvider(options...)
}

func buildResource(ctx context.Context, svc config.ServiceConfig) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(svc.Name),
		semconv.ServiceVersionKey.String(svc.Version),
		semconv.DeploymentEnvironmentKey.String(svc.Environment),
	}

	for k, v := range svc.Attributes {
		attrs = append(attrs, attribute.String(k, v))
	}

	envRes, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithProcess(),
		resource.WithTelemetrySDK(),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, ewrap.Wrap(err, "create environment resource")
	}

	merged, err := resource.Merge(resource.Default(), envRes)
	if err != nil {
		return nil, ewrap.Wrap(err, "merge environment resource")
	}

	merged, err = resource.Merge(merged, resource.NewSchemaless(attrs...))
	if err != nil {
		return nil, ewrap.Wrap(err, "merge service resource")
	}

	return merged, nil
}

func samplerFromConfig(cfg config.SamplingConfig) (sdktrace.Sampler, error) {
	switch cfg.Mode {
	case "always_on":
		return sdktrace.AlwaysSample(), nil
	case "always_off":
		return sdktrace.NeverSample(), nil
	case "", "parentbased_always_on":
		return sdktrace.ParentBased(sdktrace.AlwaysSample()), nil
	case "parentbased_always_off":
		return sdktrace.ParentBased(sdktrace.NeverSample()), nil
	case "trace_id_ratio":
		if cfg.Argument <= 0 || cfg.Argument > 1 {
			return nil, ewrap.Newf("sampling.argument must be within (0,1], got %f", cfg.Argument)
		}

		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Argument)), nil
	default:
		return nil, ewrap.Newf("unsupported sampling mode %q", cfg.Mode)
	}
}
