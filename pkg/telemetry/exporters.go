package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hyp3rd/ewrap"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc/credentials"

	"github.com/hyp3rd/statsock/pkg/config"
)

// ErrTLSNotEnabled is returned when no TLS material is configured.
var ErrTLSNotEnabled = ewrap.New("tls is not enabled").WithContext(
	&ewrap.ErrorContext{
		Severity: ewrap.SeverityError,
		Type:     ewrap.ErrorTypeConfiguration,
	},
)

// ExporterStatus summarises trace export health.
type ExporterStatus struct {
	Protocol      string    `json:"protocol"`
	Endpoint      string    `json:"endpoint"`
	DroppedSpans  int64     `json:"dropped_spans"`
	LastError     string    `json:"last_error,omitempty"`
	LastErrorTime time.Time `json:"last_error_time,omitzero"`
}

type exporterBundle struct {
	traceExporter sdktrace.SpanExporter
	metricReader  *sdkmetric.PeriodicReader
	traceStats    *exportStats
}

type exportStats struct {
	protocol  string
	endpoint  string
	dropped   atomic.Int64
	lastError atomic.Pointer[exportError]
}

type exportError struct {
	message string
	time    time.Time
}

func (s *exportStats) record(n int, err error) {
	s.dropped.Add(int64(n))
	s.lastError.Store(&exportError{
		message: err.Error(),
		time:    time.Now().UTC(),
	})
}

func (s *exportStats) status() ExporterStatus {
	status := ExporterStatus{
		Protocol:     s.protocol,
		Endpoint:     s.endpoint,
		DroppedSpans: s.dropped.Load(),
	}
	if last := s.lastError.Load(); last != nil {
		status.LastError = last.message
		status.LastErrorTime = last.time
	}

	return status
}

func normalizeProtocol(protocol string) string {
	switch strings.ToLower(protocol) {
	case "http", "https":
		return "http"
	default:
		return "grpc"
	}
}

func newExporterBundle(ctx context.Context, cfg config.ExporterConfig) (*exporterBundle, error) {
	if cfg.Endpoint == "" {
		return nil, ewrap.New("otlp exporter endpoint is required")
	}

	traceExp, err := newTraceExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	stats := &exportStats{
		protocol: normalizeProtocol(cfg.Protocol),
		endpoint: cfg.Endpoint,
	}

	metricExp, err := newMetricExporter(ctx, cfg)
	if err != nil {
		//nolint:errcheck // construction error takes precedence.
		_ = traceExp.Shutdown(ctx)

		return nil, err
	}

	interval := cfg.MetricInterval
	if interval <= 0 {
		interval = time.Minute
	}

	return &exporterBundle{
		traceExporter: &countingSpanExporter{inner: traceExp, stats: stats},
		metricReader:  sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(interval)),
		traceStats:    stats,
	}, nil
}

// shutdown releases exporters that were never handed to a provider.
func (b *exporterBundle) shutdown(ctx context.Context) error {
	var errs []error

	err := b.metricReader.Shutdown(ctx)
	if err != nil {
		errs = append(errs, ewrap.Wrap(err, "shutdown metric reader"))
	}

	err = b.traceExporter.Shutdown(ctx)
	if err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func newTraceExporter(ctx context.Context, cfg config.ExporterConfig) (sdktrace.SpanExporter, error) {
	if normalizeProtocol(cfg.Protocol) == "http" {
		opts, err := traceHTTPOptions(cfg)
		if err != nil {
			return nil, err
		}

		exp, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, ewrap.Wrap(err, "create otlp http trace exporter")
		}

		return exp, nil
	}

	opts, err := traceGRPCOptions(cfg)
	if err != nil {
		return nil, err
	}

	exp, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, ewrap.Wrap(err, "create otlp grpc trace exporter")
	}

	return exp, nil
}

func newMetricExporter(ctx context.Context, cfg config.ExporterConfig) (sdkmetric.Exporter, error) {
	if normalizeProtocol(cfg.Protocol) == "http" {
		opts, err := metricHTTPOptions(cfg)
		if err != nil {
			return nil, err
		}

		exp, err := otlpmetrichttp.New(ctx, opts...)
		if err != nil {
			return nil, ewrap.Wrap(err, "create otlp http metric exporter")
		}

		return exp, nil
	}

	opts, err := metricGRPCOptions(cfg)
	if err != nil {
		return nil, err
	}

	exp, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, ewrap.Wrap(err, "create otlp grpc metric exporter")
	}

	return exp, nil
}

// optionSet lists the constructors one OTLP client package offers for the
// settings shared by all four exporters.
type optionSet[T any] struct {
	endpoint    func(string) T
	insecure    func() T
	tls         func(*tls.Config) T
	timeout     func(time.Duration) T
	headers     func(map[string]string) T
	compression func(string) T
	retry       func(config.RetryConfig) T
}

func buildOptions[T any](cfg config.ExporterConfig, set optionSet[T]) ([]T, error) {
	opts := []T{set.endpoint(cfg.Endpoint)}

	if cfg.Insecure {
		opts = append(opts, set.insecure())
	} else {
		tlsCfg, err := tlsConfigFrom(cfg.TLS)
		if err != nil && !errors.Is(err, ErrTLSNotEnabled) {
			return nil, err
		}

		if tlsCfg != nil {
			opts = append(opts, set.tls(tlsCfg))
		}
	}

	if cfg.Timeout > 0 {
		opts = append(opts, set.timeout(cfg.Timeout))
	}

	if len(cfg.Headers) > 0 {
		opts = append(opts, set.headers(cfg.Headers))
	}

	if cmp := strings.ToLower(cfg.Compression); cmp != "" {
		opts = append(opts, set.compression(cmp))
	}

	if cfg.Retry.Enabled {
		opts = append(opts, set.retry(cfg.Retry))
	}

	return opts, nil
}

func traceGRPCOptions(cfg config.ExporterConfig) ([]otlptracegrpc.Option, error) {
	return buildOptions(cfg, optionSet[otlptracegrpc.Option]{
		endpoint: otlptracegrpc.WithEndpoint,
		insecure: otlptracegrpc.WithInsecure,
		tls: func(c *tls.Config) otlptracegrpc.Option {
			return otlptracegrpc.WithTLSCredentials(credentials.NewTLS(c))
		},
		timeout:     otlptracegrpc.WithTimeout,
		headers:     otlptracegrpc.WithHeaders,
		compression: otlptracegrpc.WithCompressor,
		retry: func(r config.RetryConfig) otlptracegrpc.Option {
			return otlptracegrpc.WithRetry(otlptracegrpc.RetryConfig{
				Enabled:         true,
				InitialInterval: r.InitialInterval,
				MaxInterval:     r.MaxInterval,
				MaxElapsedTime:  r.MaxElapsedTime,
			})
		},
	})
}

func metricGRPCOptions(cfg config.ExporterConfig) ([]otlpmetricgrpc.Option, error) {
	return buildOptions(cfg, optionSet[otlpmetricgrpc.Option]{
		endpoint: otlpmetricgrpc.WithEndpoint,
		insecure: otlpmetricgrpc.WithInsecure,
		tls: func(c *tls.Config) otlpmetricgrpc.Option {
			return otlpmetricgrpc.WithTLSCredentials(credentials.NewTLS(c))
		},
		timeout:     otlpmetricgrpc.WithTimeout,
		headers:     otlpmetricgrpc.WithHeaders,
		compression: otlpmetricgrpc.WithCompressor,
		retry: func(r config.RetryConfig) otlpmetricgrpc.Option {
			return otlpmetricgrpc.WithRetry(otlpmetricgrpc.RetryConfig{
				Enabled:         true,
				InitialInterval: r.InitialInterval,
				MaxInterval:     r.MaxInterval,
				MaxElapsedTime:  r.MaxElapsedTime,
			})
		},
	})
}

func traceHTTPOptions(cfg config.ExporterConfig) ([]otlptracehttp.Option, error) {
	return buildOptions(cfg, optionSet[otlptracehttp.Option]{
		endpoint: otlptracehttp.WithEndpoint,
		insecure: otlptracehttp.WithInsecure,
		tls:      otlptracehttp.WithTLSClientConfig,
		timeout:  otlptracehttp.WithTimeout,
		headers:  otlptracehttp.WithHeaders,
		compression: func(value string) otlptracehttp.Option {
			if value == "gzip" {
				return otlptracehttp.WithCompression(otlptracehttp.GzipCompression)
			}

			return otlptracehttp.WithCompression(otlptracehttp.NoCompression)
		},
		retry: func(r config.RetryConfig) otlptracehttp.Option {
			return otlptracehttp.WithRetry(otlptracehttp.RetryConfig{
				Enabled:         true,
				InitialInterval: r.InitialInterval,
				MaxInterval:     r.MaxInterval,
				MaxElapsedTime:  r.MaxElapsedTime,
			})
		},
	})
}

func metricHTTPOptions(cfg config.ExporterConfig) ([]otlpmetrichttp.Option, error) {
	return buildOptions(cfg, optionSet[otlpmetrichttp.Option]{
		endpoint: otlpmetrichttp.WithEndpoint,
		insecure: otlpmetrichttp.WithInsecure,
		tls:      otlpmetrichttp.WithTLSClientConfig,
		timeout:  otlpmetrichttp.WithTimeout,
		headers:  otlpmetrichttp.WithHeaders,
		compression: func(value string) otlpmetrichttp.Option {
			if value == "gzip" {
				return otlpmetrichttp.WithCompression(otlpmetrichttp.GzipCompression)
			}

			return otlpmetrichttp.WithCompression(otlpmetrichttp.NoCompression)
		},
		retry: func(r config.RetryConfig) otlpmetrichttp.Option {
			return otlpmetrichttp.WithRetry(otlpmetrichttp.RetryConfig{
				Enabled:         true,
				InitialInterval: r.InitialInterval,
				MaxInterval:     r.MaxInterval,
				MaxElapsedTime:  r.MaxElapsedTime,
			})
		},
	})
}

// countingSpanExporter records spans lost to export failures.
type countingSpanExporter struct {
	inner sdktrace.SpanExporter
	stats *exportStats
}

func (c *countingSpanExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	err := c.inner.ExportSpans(ctx, spans)
	if err != nil {
		c.stats.record(len(spans), err)

		return ewrap.Wrap(err, "export spans")
	}

	return nil
}

func (c *countingSpanExporter) Shutdown(ctx context.Context) error {
	err := c.inner.Shutdown(ctx)
	if err != nil {
		return ewrap.Wrap(err, "shutdown span exporter")
	}

	return nil
}

func tlsConfigFrom(cfg config.TLSConfig) (*tls.Config, error) {
	if cfg.CAFile == "" && cfg.CertFile == "" && cfg.KeyFile == "" && !cfg.Insecure {
		return nil, ErrTLSNotEnabled
	}

	tlsCfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
		//nolint:gosec // allow insecure skip verify via config.
		InsecureSkipVerify: cfg.Insecure,
	}

	if cfg.CAFile != "" {
		data, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, ewrap.Wrapf(err, "read ca file %s", cfg.CAFile)
		}

		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(data) {
			return nil, ewrap.Newf("failed to parse ca file %s", cfg.CAFile)
		}

		tlsCfg.RootCAs = pool
	}

	if cfg.CertFile != "" || cfg.KeyFile != "" {
		if cfg.CertFile == "" || cfg.KeyFile == "" {
			return nil, ewrap.New("tls cert_file and key_file must both be set")
		}

		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, ewrap.Wrap(err, "load tls client certificate")
		}

		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	return tlsCfg, nil
}
