package server

import (
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/hyp3rd/statsock/pkg/logging"
)

// Option mutates server settings.
type Option func(*options)

type options struct {
	logger         logging.Adapter
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

func defaultOptions() options {
	return options{
		logger:         logging.NewNoopAdapter(),
		tracerProvider: tracenoop.NewTracerProvider(),
		meterProvider:  metricnoop.NewMeterProvider(),
	}
}

// WithLogger sets the adapter used for accept loop and teardown events.
func WithLogger(adapter logging.Adapter) Option {
	return func(opt *options) {
		opt.logger = logging.OrNoop(adapter)
	}
}

// WithTracerProvider records a span per served connection.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(opt *options) {
		if tp != nil {
			opt.tracerProvider = tp
		}
	}
}

// WithMeterProvider records request counts.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(opt *options) {
		if mp != nil {
			opt.meterProvider = mp
		}
	}
}
