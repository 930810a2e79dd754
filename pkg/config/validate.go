package config

import (
	"strings"

	"github.com/hyp3rd/ewrap"

	"github.com/hyp3rd/statsock/internal/constants"
)

// Validate asserts that the config meets baseline expectations.
func Validate(cfg Config) error {
	if cfg.Service.Name == "" {
		return invalidConfigError("service.name is required")
	}

	err := ValidateSocket(cfg.Socket)
	if err != nil {
		return err
	}

	if cfg.Diagnostics.Enabled && cfg.Diagnostics.HTTPAddr == "" {
		return invalidConfigError("diagnostics.http_addr is required when diagnostics are enabled")
	}

	if cfg.Reporter.Enabled && cfg.Reporter.Interval <= 0 {
		return invalidConfigError("reporter.interval must be positive, got %s", cfg.Reporter.Interval)
	}

	exp := cfg.Telemetry.Exporter
	if exp.Enabled {
		switch strings.ToLower(exp.Protocol) {
		case "grpc", "http", "https":
		default:
			return invalidConfigError("unsupported telemetry.exporter.protocol %q", exp.Protocol)
		}

		if exp.Endpoint == "" {
			return invalidConfigError("telemetry.exporter.endpoint is required")
		}
	}

	mode := cfg.Telemetry.Sampling.Mode
	switch mode {
	case "always_on", "always_off", "parentbased_always_on", "parentbased_always_off", "trace_id_ratio":
	default:
		return invalidConfigError("unsupported telemetry.sampling.mode %q", mode)
	}

	return nil
}

// ValidateSocket checks the socket section on its own so callers that only
// build a stats registry can reuse it.
func ValidateSocket(sock SocketConfig) error {
	if strings.TrimSpace(sock.Path) == "" {
		return invalidConfigError("socket.path is required")
	}

	_, err := sock.FileMode()
	if err != nil {
		return invalidConfigError("socket.permissions: %v", err)
	}

	_, err = sock.DirMode()
	if err != nil {
		return invalidConfigError("socket.dir_permissions: %v", err)
	}

	if sock.Backlog <= 0 {
		return invalidConfigError("socket.backlog must be positive, got %d", sock.Backlog)
	}

	if sock.MaxRequestBytes <= 0 || sock.MaxRequestBytes > constants.MaxRequestBytesLimit {
		return invalidConfigError("socket.max_request_bytes must be within [1,%d], got %d",
			constants.MaxRequestBytesLimit, sock.MaxRequestBytes)
	}

	return nil
}

func invalidConfigError(format string, args ...any) error {
	return ewrap.Newf("invalid configuration: "+format, args...)
}
