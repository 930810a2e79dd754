package stats

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/hyp3rd/statsock/pkg/config"
	"github.com/hyp3rd/statsock/pkg/logging"
	"github.com/hyp3rd/statsock/pkg/server"
)

// Option customises a Registry.
type Option func(*settings)

type settings struct {
	logger     logging.Adapter
	hasLogger  bool
	socket     *config.SocketConfig
	serverOpts []server.Option
}

func newSettings(opts []Option) settings {
	s := settings{logger: logging.NewNoopAdapter()}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}

	return s
}

// WithLogger routes registry and socket server logs to adapter.
func WithLogger(adapter logging.Adapter) Option {
	return func(s *settings) {
		s.logger = logging.OrNoop(adapter)
		s.hasLogger = true
		s.serverOpts = append(s.serverOpts, server.WithLogger(s.logger))
	}
}

// WithTracerProvider traces socket requests with tp.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *settings) {
		s.serverOpts = append(s.serverOpts, server.WithTracerProvider(tp))
	}
}

// WithMeterProvider records socket request metrics with mp.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *settings) {
		s.serverOpts = append(s.serverOpts, server.WithMeterProvider(mp))
	}
}

// WithSocketConfig supplies permissions, backlog and request limits for Init.
// The path passed to Init still wins when it is not empty.
func WithSocketConfig(cfg config.SocketConfig) Option {
	return func(s *settings) {
		s.socket = &cfg
	}
}
