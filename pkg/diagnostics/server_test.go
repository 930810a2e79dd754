package diagnostics_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/hyp3rd/statsock/pkg/config"
	"github.com/hyp3rd/statsock/pkg/diagnostics"
	"github.com/hyp3rd/statsock/pkg/telemetry"
)

type stubSource struct {
	status   diagnostics.Status
	counters map[string]int64
}

func (s stubSource) Status() diagnostics.Status {
	return s.status
}

func (s stubSource) Snapshot() map[string]int64 {
	return s.counters
}

func newSource() stubSource {
	return stubSource{
		status: diagnostics.Status{
			ServiceName: "test",
			SocketPath:  "/tmp/s.sock",
			Listening:   true,
			Counters:    2,
			Served:      7,
			Failed:      1,
			TraceExporter: &telemetry.ExporterStatus{
				Protocol:  "grpc",
				Endpoint:  "collector:4317",
				LastError: "boom",
			},
		},
		counters: map[string]int64{"hits": 4, "misses": 1},
	}
}

func newServer(t *testing.T, cfg config.DiagnosticsConfig, opts ...diagnostics.Option) *diagnostics.Server {
	t.Helper()

	srv, err := diagnostics.NewServer(cfg, newSource(), opts...)
	if err != nil {
		t.Fatalf("NewServer returned error: %v", err)
	}

	return srv
}

func serve(t *testing.T, handler http.Handler, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	return rr
}

func TestStatusEndpoint(t *testing.T) {
	t.Parallel()

	rr := serve(t, newServer(t, config.DiagnosticsConfig{}).Handler(), http.MethodGet, diagnostics.StatusPath, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d", rr.Code)
	}

	var status diagnostics.Status

	err := json.NewDecoder(rr.Body).Decode(&status)
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if status.SocketPath != "/tmp/s.sock" || status.Served != 7 || status.Counters != 2 {
		t.Fatalf("unexpected status %+v", status)
	}

	if status.TraceExporter == nil || status.TraceExporter.LastError != "boom" {
		t.Fatalf("expected exporter status, got %+v", status.TraceExporter)
	}

	if status.Timestamp.IsZero() {
		t.Fatal("expected timestamp to be set")
	}
}

func TestCountersEndpoint(t *testing.T) {
	t.Parallel()

	handler := newServer(t, config.DiagnosticsConfig{}).Handler()

	rr := serve(t, handler, http.MethodGet, diagnostics.CountersPath, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d", rr.Code)
	}

	var counters map[string]int64

	err := json.NewDecoder(rr.Body).Decode(&counters)
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if counters["hits"] != 4 || counters["misses"] != 1 {
		t.Fatalf("unexpected counters %v", counters)
	}

	rr = serve(t, handler, http.MethodPost, diagnostics.CountersPath, "")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for POST, got %d", rr.Code)
	}
}

func TestAuth(t *testing.T) {
	t.Parallel()

	handler := newServer(t, config.DiagnosticsConfig{AuthToken: "secret"}).Handler()

	if rr := serve(t, handler, http.MethodGet, diagnostics.StatusPath, ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 when missing auth, got %d", rr.Code)
	}

	if rr := serve(t, handler, http.MethodGet, diagnostics.StatusPath, "wrong"); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", rr.Code)
	}

	if rr := serve(t, handler, http.MethodGet, diagnostics.StatusPath, "secret"); rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with auth, got %d", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	enabled := newServer(t, config.DiagnosticsConfig{Prometheus: true}).Handler()

	rr := serve(t, enabled, http.MethodGet, diagnostics.MetricsPath, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d", rr.Code)
	}

	if !strings.Contains(rr.Body.String(), `statsock_counter{key="hits"} 4`) {
		t.Fatalf("expected hits gauge in output:\n%s", rr.Body.String())
	}

	disabled := newServer(t, config.DiagnosticsConfig{}).Handler()
	if rr := serve(t, disabled, http.MethodGet, diagnostics.MetricsPath, ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 with prometheus disabled, got %d", rr.Code)
	}
}

func TestCollector(t *testing.T) {
	t.Parallel()

	collector := diagnostics.NewCollector(newSource())

	if got := testutil.CollectAndCount(collector); got != 4 {
		t.Fatalf("expected 4 series, got %d", got)
	}

	expected := `
# HELP statsock_counter Current value of a stats counter.
# TYPE statsock_counter gauge
statsock_counter{key="hits"} 4
statsock_counter{key="misses"} 1
# HELP statsock_requests_served_total Socket requests answered with error=0.
# TYPE statsock_requests_served_total counter
statsock_requests_served_total 7
`

	err := testutil.CollectAndCompare(collector, strings.NewReader(expected),
		"statsock_counter", "statsock_requests_served_total")
	if err != nil {
		t.Fatalf("unexpected collector output: %v", err)
	}
}

func TestMiddlewareRecordsRequests(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	mw, err := diagnostics.NewMiddleware(tp, mp)
	if err != nil {
		t.Fatalf("NewMiddleware returned error: %v", err)
	}

	handler := newServer(t, config.DiagnosticsConfig{}, diagnostics.WithMiddleware(mw)).Handler()
	serve(t, handler, http.MethodGet, diagnostics.CountersPath, "")

	spans := recorder.Ended()
	if len(spans) != 1 || spans[0].Name() != "GET "+diagnostics.CountersPath {
		t.Fatalf("unexpected spans %v", spans)
	}

	var rm metricdata.ResourceMetrics

	err = reader.Collect(context.Background(), &rm)
	if err != nil {
		t.Fatalf("Collect returned error: %v", err)
	}

	var total int64

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok && m.Name == "statsock.diagnostics.requests" {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}

	if total != 1 {
		t.Fatalf("expected 1 recorded request, got %d", total)
	}
}

func TestStartServesAndShutsDown(t *testing.T) {
	t.Parallel()

	srv := newServer(t, config.DiagnosticsConfig{HTTPAddr: "127.0.0.1:0"})

	ctx := context.Background()

	err := srv.Start(ctx)
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	err = srv.Start(ctx)
	if err == nil {
		t.Fatal("expected error on second Start")
	}

	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(fmt.Sprintf("http://%s%s", srv.Addr(), diagnostics.StatusPath))
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}

	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: got %d", resp.StatusCode)
	}

	err = srv.Shutdown(ctx)
	if err != nil {
		t.Fatalf("Shutdown returned error: %v", err)
	}
}

func TestStartRequiresAddr(t *testing.T) {
	t.Parallel()

	err := newServer(t, config.DiagnosticsConfig{}).Start(context.Background())
	if err == nil {
		t.Fatal("expected error without http_addr")
	}
}
