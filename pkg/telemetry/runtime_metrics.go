package telemetry

import (
	"context"

	"github.com/hyp3rd/ewrap"
	runtimemetrics "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const runtimeMeterName = "statsock/telemetry"

// runtimeMetrics couples the contrib Go runtime instrumentation with a
// gauge reporting spans lost by the trace exporter.
type runtimeMetrics struct {
	registration metric.Registration
}

func startRuntimeMetrics(mp metric.MeterProvider, exporters *exporterBundle) (*runtimeMetrics, error) {
	err := runtimemetrics.Start(runtimemetrics.WithMeterProvider(mp))
	if err != nil {
		return nil, ewrap.Wrap(err, "start runtime metrics")
	}

	rm := &runtimeMetrics{}

	if exporters == nil || exporters.traceStats == nil {
		return rm, nil
	}

	meter := mp.Meter(runtimeMeterName)

	dropped, err := meter.Int64ObservableCounter(
		"statsock.telemetry.dropped_spans",
		metric.WithDescription("Cumulative number of spans dropped due to exporter failures"),
	)
	if err != nil {
		return nil, ewrap.Wrap(err, "create dropped spans counter")
	}

	stats := exporters.traceStats
	signal := metric.WithAttributes(attribute.String("signal", "traces"))

	reg, err := meter.RegisterCallback(func(_ context.Context, observer metric.Observer) error {
		observer.ObserveInt64(dropped, stats.dropped.Load(), signal)

		return nil
	}, dropped)
	if err != nil {
		return nil, ewrap.Wrap(err, "register runtime metrics callback")
	}

	rm.registration = reg

	return rm, nil
}

func (rm *runtimeMetrics) shutdown() error {
	if rm == nil || rm.registration == nil {
		return nil
	}

	err := rm.registration.Unregister()
	if err != nil {
		return ewrap.Wrap(err, "unregister runtime metrics")
	}

	return nil
}
