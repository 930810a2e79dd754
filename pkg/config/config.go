// Package config defines the configuration structures for statsock.
package config

import (
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/hyp3rd/ewrap"
)

// Config is the canonical configuration consumed by the statsock agent.
type Config struct {
	Service     ServiceConfig     `yaml:"service"     json:"service"`
	Socket      SocketConfig      `yaml:"socket"      json:"socket"`
	Logging     LoggingConfig     `yaml:"logging"     json:"logging"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics" json:"diagnostics"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"   json:"telemetry"`
	Reporter    ReporterConfig    `yaml:"reporter"    json:"reporter"`
}

// ServiceConfig identifies the host program embedding the stats registry.
type ServiceConfig struct {
	Name        string            `yaml:"name"        json:"name"`
	Version     string            `yaml:"version"     json:"version"`
	Environment string            `yaml:"environment" json:"environment"`
	Attributes  map[string]string `yaml:"attributes"  json:"attributes"`
}

// SocketConfig describes the Unix socket that serves counter queries.
type SocketConfig struct {
	Path            string `yaml:"path"              json:"path"`
	Permissions     string `yaml:"permissions"       json:"permissions"`
	DirPermissions  string `yaml:"dir_permissions"   json:"dir_permissions"`
	Backlog         int    `yaml:"backlog"           json:"backlog"`
	MaxRequestBytes int    `yaml:"max_request_bytes" json:"max_request_bytes"`
}

// FileMode returns the permission bits applied to the socket file.
func (s SocketConfig) FileMode() (fs.FileMode, error) {
	return parseMode(s.Permissions)
}

// DirMode returns the permission bits used for missing parent directories.
func (s SocketConfig) DirMode() (fs.FileMode, error) {
	return parseMode(s.DirPermissions)
}

func parseMode(raw string) (fs.FileMode, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, ewrap.New("permission string is empty")
	}

	value, err := strconv.ParseUint(raw, 8, 32)
	if err != nil {
		return 0, ewrap.Wrapf(err, "parse permission %q", raw)
	}

	if value > uint64(fs.ModePerm) {
		return 0, ewrap.Newf("permission %q exceeds 0777", raw)
	}

	return fs.FileMode(value), nil
}

// LoggingConfig controls structured log behavior.
type LoggingConfig struct {
	Level   string `yaml:"level"   json:"level"`
	Format  string `yaml:"format"  json:"format"`
	Adapter string `yaml:"adapter" json:"adapter"`
}

// DiagnosticsConfig toggles the HTTP self-observation endpoints.
type DiagnosticsConfig struct {
	Enabled    bool   `yaml:"enabled"    json:"enabled"`
	HTTPAddr   string `yaml:"http_addr"  json:"http_addr"`
	AuthToken  string `yaml:"auth_token" json:"auth_token"`
	Prometheus bool   `yaml:"prometheus" json:"prometheus"`
}

// ReporterConfig controls the periodic snapshot log.
type ReporterConfig struct {
	Enabled  bool          `yaml:"enabled"  json:"enabled"`
	Interval time.Duration `yaml:"interval" json:"interval"`
}

// TelemetryConfig groups OpenTelemetry settings.
type TelemetryConfig struct {
	Exporter       ExporterConfig       `yaml:"exporter"        json:"exporter"`
	Sampling       SamplingConfig       `yaml:"sampling"        json:"sampling"`
	RuntimeMetrics RuntimeMetricsConfig `yaml:"runtime_metrics" json:"runtime_metrics"`
}

// ExporterConfig defines OTLP export settings shared by traces and metrics.
type ExporterConfig struct {
	Enabled        bool              `yaml:"enabled"         json:"enabled"`
	Protocol       string            `yaml:"protocol"        json:"protocol"`
	Endpoint       string            `yaml:"endpoint"        json:"endpoint"`
	Insecure       bool              `yaml:"insecure"        json:"insecure"`
	Headers        map[string]string `yaml:"headers"         json:"headers"`
	Timeout        time.Duration     `yaml:"timeout"         json:"timeout"`
	MetricInterval time.Duration     `yaml:"metric_interval" json:"metric_interval"`
	Compression    string            `yaml:"compression"     json:"compression"`
	Retry          RetryConfig       `yaml:"retry"           json:"retry"`
	TLS            TLSConfig         `yaml:"tls"             json:"tls"`
}

// RetryConfig specifies retry settings for exporters.
type RetryConfig struct {
	Enabled         bool          `yaml:"enabled"          json:"enabled"`
	MaxElapsedTime  time.Duration `yaml:"max_elapsed_time" json:"max_elapsed_time"`
	InitialInterval time.Duration `yaml:"initial_interval" json:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"     json:"max_interval"`
}

// TLSConfig encapsulates TLS dial settings.
type TLSConfig struct {
	CAFile   string `yaml:"ca_file"   json:"ca_file"`
	CertFile string `yaml:"cert_file" json:"cert_file"`
	KeyFile  string `yaml:"key_file"  json:"key_file"`
	Insecure bool   `yaml:"insecure"  json:"insecure"`
}

// SamplingConfig defines tracing sampling strategies.
type SamplingConfig struct {
	Mode     string  `yaml:"mode"     json:"mode"`
	Argument float64 `yaml:"argument" json:"argument"`
}

// RuntimeMetricsConfig toggles Go runtime metrics collection.
type RuntimeMetricsConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}
