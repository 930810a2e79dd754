package telemetry

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hyp3rd/ewrap"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/hyp3rd/statsock/pkg/config"
	"github.com/hyp3rd/statsock/pkg/counters"
)

func TestSamplerFromConfigModes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		cfg          config.SamplingConfig
		wantDecision sdktrace.SamplingDecision
	}{
		{name: "always_on", cfg: config.SamplingConfig{Mode: "always_on"}, wantDecision: sdktrace.RecordAndSample},
		{name: "always_off", cfg: config.SamplingConfig{Mode: "always_off"}, wantDecision: sdktrace.Drop},
		{name: "default", cfg: config.SamplingConfig{}, wantDecision: sdktrace.RecordAndSample},
		{name: "parentbased_always_off", cfg: config.SamplingConfig{Mode: "parentbased_always_off"}, wantDecision: sdktrace.Drop},
		{name: "trace_id_ratio", cfg: config.SamplingConfig{Mode: "trace_id_ratio", Argument: 1}, wantDecision: sdktrace.RecordAndSample},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			sampler, err := samplerFromConfig(tc.cfg)
			if err != nil {
				t.Fatalf("samplerFromConfig returned error: %v", err)
			}

			decision := sampler.ShouldSample(sdktrace.SamplingParameters{
				ParentContext: context.Background(),
				Name:          "test-span",
				Kind:          trace.SpanKindInternal,
			}).Decision
			if decision != tc.wantDecision {
				t.Fatalf("expected decision %v, got %v", tc.wantDecision, decision)
			}
		})
	}
}

func TestSamplerFromConfigRejectsInvalid(t *testing.T) {
	t.Parallel()

	for _, cfg := range []config.SamplingConfig{
		{Mode: "sometimes"},
		{Mode: "trace_id_ratio", Argument: 0},
		{Mode: "trace_id_ratio", Argument: 1.5},
	} {
		_, err := samplerFromConfig(cfg)
		if err == nil {
			t.Fatalf("expected error for %+v", cfg)
		}
	}
}

func TestNewWithoutExporter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	recorder := tracetest.NewSpanRecorder()

	cfg := config.DefaultConfig()

	provider, err := New(ctx, cfg.Telemetry, cfg.Service,
		WithMetricReader(reader),
		WithSpanProcessor(recorder),
		WithoutGlobal(),
	)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	if _, ok := provider.ExporterStatus(); ok {
		t.Fatal("expected no exporter status when exporting is disabled")
	}

	_, span := provider.TracerProvider().Tracer("test").Start(ctx, "unit")
	span.End()

	if got := len(recorder.Ended()); got != 1 {
		t.Fatalf("expected 1 recorded span, got %d", got)
	}

	counter, err := provider.MeterProvider().Meter("test").Int64Counter("unit.requests")
	if err != nil {
		t.Fatalf("create counter: %v", err)
	}

	counter.Add(ctx, 2)

	var rm metricdata.ResourceMetrics

	err = reader.Collect(ctx, &rm)
	if err != nil {
		t.Fatalf("Collect returned error: %v", err)
	}

	if findMetric(rm, "unit.requests") == nil {
		t.Fatal("expected unit.requests to be collected")
	}

	name, ok := rm.Resource.Set().Value("service.name")
	if !ok || name.AsString() != "statsock" {
		t.Fatalf("expected service.name statsock, got %v", name)
	}

	err = provider.Shutdown(ctx)
	if err != nil {
		t.Fatalf("Shutdown returned error: %v", err)
	}

	err = provider.Shutdown(ctx)
	if err != nil {
		t.Fatalf("second Shutdown returned error: %v", err)
	}
}

func TestNewRejectsBadSampling(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Telemetry.Sampling.Mode = "sometimes"

	_, err := New(context.Background(), cfg.Telemetry, cfg.Service, WithoutGlobal())
	if err == nil || !strings.Contains(err.Error(), "build tracer provider") {
		t.Fatalf("expected tracer provider error, got %v", err)
	}
}

func TestBridgeObservesCounters(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	t.Cleanup(func() {
		_ = mp.Shutdown(context.Background())
	})

	store := counters.NewStore()
	store.Set("hits", 4)
	store.Set("misses", 1)

	bridge, err := NewBridge(mp, store)
	if err != nil {
		t.Fatalf("NewBridge returned error: %v", err)
	}

	got := collectGauge(t, reader)
	if got["hits"] != 4 || got["misses"] != 1 || len(got) != 2 {
		t.Fatalf("unexpected gauge points %v", got)
	}

	store.Increment("hits", 6)

	if got := collectGauge(t, reader); got["hits"] != 10 {
		t.Fatalf("expected hits=10 after increment, got %v", got)
	}

	err = bridge.Close()
	if err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	err = bridge.Close()
	if err != nil {
		t.Fatalf("second Close returned error: %v", err)
	}

	if got := collectGauge(t, reader); len(got) != 0 {
		t.Fatalf("expected no points after Close, got %v", got)
	}
}

func TestNewBridgeRequiresArguments(t *testing.T) {
	t.Parallel()

	_, err := NewBridge(nil, counters.NewStore())
	if err == nil {
		t.Fatal("expected error for nil meter provider")
	}
}

func TestCountingSpanExporterRecordsFailures(t *testing.T) {
	t.Parallel()

	exportErr := ewrap.New("export boom")
	stats := &exportStats{protocol: "grpc", endpoint: "collector:4317"}
	exporter := &countingSpanExporter{
		inner: &stubSpanExporter{err: exportErr},
		stats: stats,
	}

	err := exporter.ExportSpans(context.Background(), make([]sdktrace.ReadOnlySpan, 3))
	if !errors.Is(err, exportErr) {
		t.Fatalf("expected wrapped export error, got %v", err)
	}

	status := stats.status()
	if status.DroppedSpans != 3 || status.LastError != exportErr.Error() || status.LastErrorTime.IsZero() {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestTLSConfigFrom(t *testing.T) {
	t.Parallel()

	_, err := tlsConfigFrom(config.TLSConfig{})
	if !errors.Is(err, ErrTLSNotEnabled) {
		t.Fatalf("expected ErrTLSNotEnabled, got %v", err)
	}

	_, err = tlsConfigFrom(config.TLSConfig{CertFile: "client.pem"})
	if err == nil {
		t.Fatal("expected error when key_file is missing")
	}

	cfg, err := tlsConfigFrom(config.TLSConfig{Insecure: true})
	if err != nil {
		t.Fatalf("tlsConfigFrom returned error: %v", err)
	}

	if !cfg.InsecureSkipVerify {
		t.Fatal("expected InsecureSkipVerify")
	}
}

func TestNormalizeProtocol(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]string{"": "grpc", "GRPC": "grpc", "http": "http", "HTTPS": "http"} {
		if got := normalizeProtocol(in); got != want {
			t.Fatalf("normalizeProtocol(%q) = %q, want %q", in, got, want)
		}
	}
}

type stubSpanExporter struct {
	err error
}

func (s *stubSpanExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error {
	return s.err
}

func (*stubSpanExporter) Shutdown(context.Context) error {
	return nil
}

func collectGauge(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics

	err := reader.Collect(context.Background(), &rm)
	if err != nil {
		t.Fatalf("Collect returned error: %v", err)
	}

	points := map[string]int64{}

	m := findMetric(rm, CounterGaugeName)
	if m == nil {
		return points
	}

	gauge, ok := m.Data.(metricdata.Gauge[int64])
	if !ok {
		t.Fatalf("expected int64 gauge, got %T", m.Data)
	}

	for _, dp := range gauge.DataPoints {
		key, _ := dp.Attributes.Value(attribute.Key(CounterKeyAttribute))
		points[key.AsString()] = dp.Value
	}

	return points
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}

	return nil
}
