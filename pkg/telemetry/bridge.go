package telemetry

import (
	"context"
	"sync"

	"github.com/hyp3rd/ewrap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	bridgeMeterName = "statsock/counters"
	// CounterGaugeName is the observable gauge carrying every counter value.
	CounterGaugeName = "statsock.counter.value"
	// CounterKeyAttribute names the counter a gauge point belongs to.
	CounterKeyAttribute = "counter.key"
)

// SnapshotSource yields a copy of the current counters.
type SnapshotSource interface {
	Snapshot() map[string]int64
}

// Bridge publishes a SnapshotSource as gauge points on every collection.
type Bridge struct {
	registration metric.Registration
	once         sync.Once
}

// NewBridge registers the counter gauge on mp.
func NewBridge(mp metric.MeterProvider, source SnapshotSource) (*Bridge, error) {
	if mp == nil || source == nil {
		return nil, ewrap.New("meter provider and snapshot source are required")
	}

	meter := mp.Meter(bridgeMeterName)

	gauge, err := meter.Int64ObservableGauge(
		CounterGaugeName,
		metric.WithDescription("Current value of each stats counter"),
	)
	if err != nil {
		return nil, ewrap.Wrap(err, "create counter gauge")
	}

	reg, err := meter.RegisterCallback(func(_ context.Context, observer metric.Observer) error {
		for key, value := range source.Snapshot() {
			observer.ObserveInt64(gauge, value, metric.WithAttributes(attribute.String(CounterKeyAttribute, key)))
		}

		return nil
	}, gauge)
	if err != nil {
		return nil, ewrap.Wrap(err, "register counter gauge callback")
	}

	return &Bridge{registration: reg}, nil
}

// Close stops observing the source.
func (b *Bridge) Close() error {
	var err error

	b.once.Do(func() {
		err = b.registration.Unregister()
	})

	if err != nil {
		return ewrap.Wrap(err, "unregister counter gauge")
	}

	return nil
}
