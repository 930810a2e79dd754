package config

import (
	"time"

	"github.com/hyp3rd/statsock/internal/constants"
)

const (
	defaultMaxElapsedTime = 2 * time.Minute
	defaultInterval       = 500 * time.Millisecond
	defaultMaxInterval    = 5 * time.Second
)

// DefaultConfig returns a Config populated with production-safe defaults.
func DefaultConfig() Config {
	return Config{
		Service: ServiceConfig{
			Name:        "statsock",
			Version:     "0.0.1",
			Environment: "development",
			Attributes:  map[string]string{},
		},
		Socket: DefaultSocketConfig(),
		Logging: LoggingConfig{
			Level:   "info",
			Format:  "json",
			Adapter: "slog",
		},
		Diagnostics: DiagnosticsConfig{
			Enabled:    false,
			HTTPAddr:   "127.0.0.1:14280",
			Prometheus: true,
		},
		Telemetry: TelemetryConfig{
			Exporter: ExporterConfig{
				Enabled:        false,
				Protocol:       "grpc",
				Endpoint:       "localhost:4317",
				Insecure:       true,
				Timeout:        2 * constants.DefaultTimeout,
				MetricInterval: time.Minute,
				Compression:    "gzip",
				Retry: RetryConfig{
					Enabled:         true,
					MaxElapsedTime:  defaultMaxElapsedTime,
					InitialInterval: defaultInterval,
					MaxInterval:     defaultMaxInterval,
				},
			},
			Sampling: SamplingConfig{
				Mode:     "parentbased_always_on",
				Argument: 1.0,
			},
			RuntimeMetrics: RuntimeMetricsConfig{
				Enabled: false,
			},
		},
		Reporter: ReporterConfig{
			Enabled:  false,
			Interval: constants.DefaultReportInterval,
		},
	}
}

// DefaultSocketConfig returns the socket settings used when only a path is known.
func DefaultSocketConfig() SocketConfig {
	return SocketConfig{
		Path:            constants.DefaultSocketPath,
		Permissions:     constants.DefaultSocketPermissions,
		DirPermissions:  constants.DefaultDirPermissions,
		Backlog:         constants.DefaultListenBacklog,
		MaxRequestBytes: constants.DefaultMaxRequestBytes,
	}
}
