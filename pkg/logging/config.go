package logging

import (
	"context"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/hyp3rd/ewrap"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hyp3rd/statsock/pkg/config"
)

// ParseLevel maps a config string onto a Level. Unknown values mean info.
func ParseLevel(level string) Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// FromConfig builds an Adapter writing to stdout from logging configuration.
func FromConfig(cfg config.LoggingConfig) Adapter {
	return FromConfigWriter(cfg, os.Stdout)
}

// FromConfigWriter builds an Adapter writing to out.
func FromConfigWriter(cfg config.LoggingConfig, out io.Writer) Adapter {
	return WithMinLevel(buildBaseAdapter(cfg, out), ParseLevel(cfg.Level))
}

func buildBaseAdapter(cfg config.LoggingConfig, out io.Writer) Adapter {
	switch strings.ToLower(cfg.Adapter) {
	case "std":
		return NewStdAdapter(log.New(out, "", log.LstdFlags))
	case "zap":
		logger, err := newZapLogger(cfg, out)
		if err == nil {
			return NewZapAdapter(logger)
		}
	case "zerolog":
		return NewZerologAdapter(zerolog.New(out).With().Timestamp().Logger())
	}

	return newSlogFromConfig(cfg, out)
}

func newSlogFromConfig(cfg config.LoggingConfig, out io.Writer) Adapter {
	// The level filter runs in front of every backend, so slog itself accepts everything.
	opts := &slog.HandlerOptions{Level: slog.LevelDebug}

	var handler slog.Handler

	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(out, opts)
	default:
		handler = slog.NewJSONHandler(out, opts)
	}

	return NewSlogAdapter(slog.New(handler))
}

func newZapLogger(cfg config.LoggingConfig, out io.Writer) (*zap.Logger, error) {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder

	switch strings.ToLower(cfg.Format) {
	case "text":
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	case "json", "":
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	default:
		return nil, ewrap.Newf("unsupported zap format %q", cfg.Format)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(out), zapcore.DebugLevel)

	return zap.New(core), nil
}

// WithMinLevel drops events below minimum before they reach adapter.
func WithMinLevel(adapter Adapter, minimum Level) Adapter {
	adapter = OrNoop(adapter)
	if minimum <= LevelDebug {
		return adapter
	}

	return levelFilter{inner: adapter, minimum: minimum}
}

type levelFilter struct {
	inner   Adapter
	minimum Level
}

func (f levelFilter) Debug(ctx context.Context, msg string, attrs ...attribute.KeyValue) {
	if f.minimum <= LevelDebug {
		f.inner.Debug(ctx, msg, attrs...)
	}
}

func (f levelFilter) Info(ctx context.Context, msg string, attrs ...attribute.KeyValue) {
	if f.minimum <= LevelInfo {
		f.inner.Info(ctx, msg, attrs...)
	}
}

func (f levelFilter) Warn(ctx context.Context, msg string, attrs ...attribute.KeyValue) {
	if f.minimum <= LevelWarn {
		f.inner.Warn(ctx, msg, attrs...)
	}
}

// Error is never filtered.
func (f levelFilter) Error(ctx context.Context, err error, msg string, attrs ...attribute.KeyValue) {
	f.inner.Error(ctx, err, msg, attrs...)
}
