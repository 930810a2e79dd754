// Package reporter logs a counter snapshot on a fixed interval.
package reporter

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/hyp3rd/ewrap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/hyp3rd/statsock/pkg/logging"
)

const instrumentationName = "statsock/reporter"

// SnapshotSource yields a copy of the current counters.
type SnapshotSource interface {
	Snapshot() map[string]int64
}

// Option customises a Reporter.
type Option func(*Reporter)

// WithLogger sets where snapshots are written.
func WithLogger(adapter logging.Adapter) Option {
	return func(r *Reporter) {
		r.logger = logging.OrNoop(adapter)
	}
}

// WithTracerProvider traces each report.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Reporter) {
		if tp != nil {
			r.tracerProvider = tp
		}
	}
}

// WithMeterProvider counts reports.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(r *Reporter) {
		if mp != nil {
			r.meterProvider = mp
		}
	}
}

// Reporter periodically logs every counter from its source.
type Reporter struct {
	source         SnapshotSource
	interval       time.Duration
	logger         logging.Adapter
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	tracer         trace.Tracer
	reports        metric.Int64Counter
	newTicker      func(time.Duration) ticker

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

type ticker interface {
	C() <-chan time.Time
	Stop()
}

// New constructs a reporter. It does nothing until Start.
func New(source SnapshotSource, interval time.Duration, opts ...Option) (*Reporter, error) {
	if source == nil {
		return nil, ewrap.New("snapshot source is required")
	}

	if interval <= 0 {
		return nil, ewrap.New("interval must be greater than zero")
	}

	r := &Reporter{
		source:         source,
		interval:       interval,
		logger:         logging.NewNoopAdapter(),
		tracerProvider: tracenoop.NewTracerProvider(),
		meterProvider:  metricnoop.NewMeterProvider(),
		newTicker:      defaultTickerFactory,
	}

	for _, opt := range opts {
		opt(r)
	}

	reports, err := r.meterProvider.Meter(instrumentationName).Int64Counter(
		"statsock.reporter.reports",
		metric.WithDescription("Number of counter snapshots logged"),
	)
	if err != nil {
		return nil, ewrap.Wrap(err, "create report counter")
	}

	r.tracer = r.tracerProvider.Tracer(instrumentationName)
	r.reports = reports

	return r, nil
}

// Start logs a snapshot every interval until ctx is canceled or Stop is called.
func (r *Reporter) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return ewrap.New("reporter already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.wg.Add(1)

	go r.run(runCtx)

	return nil
}

// Stop halts the reporter and waits for an in-flight report.
func (r *Reporter) Stop(ctx context.Context) error {
	r.mu.Lock()
	cancel := r.cancel
	running := r.running
	r.mu.Unlock()

	if !running {
		return nil
	}

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})

	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ewrap.Wrap(ctx.Err(), "stop reporter")
	case <-done:
		return nil
	}
}

// Report logs one snapshot now.
func (r *Reporter) Report(ctx context.Context) error {
	ctx, span := r.tracer.Start(ctx, "statsock.report")
	defer span.End()

	snapshot := r.source.Snapshot()

	body, err := json.Marshal(snapshot)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode snapshot")
		r.reports.Add(ctx, 1, metric.WithAttributes(attribute.String("statsock.result", "error")))

		return ewrap.Wrap(err, "encode snapshot")
	}

	span.SetAttributes(attribute.Int("statsock.counters", len(snapshot)))

	r.logger.Info(ctx, "stats snapshot",
		attribute.String("counters", string(body)),
		attribute.Int("count", len(snapshot)),
	)
	r.reports.Add(ctx, 1, metric.WithAttributes(attribute.String("statsock.result", "ok")))

	return nil
}

func (r *Reporter) run(ctx context.Context) {
	defer r.wg.Done()
	defer r.markStopped()

	t := r.newTicker(r.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			err := r.Report(ctx)
			if err != nil {
				r.logger.Error(ctx, err, "stats report failed")
			}
		}
	}
}

func (r *Reporter) markStopped() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.running = false
	r.cancel = nil
}

func defaultTickerFactory(interval time.Duration) ticker {
	return &stdTicker{inner: time.NewTicker(interval)}
}

type stdTicker struct {
	inner *time.Ticker
}

func (t *stdTicker) C() <-chan time.Time {
	return t.inner.C
}

func (t *stdTicker) Stop() {
	t.inner.Stop()
}
