package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/hyp3rd/ewrap"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace"

	"github.com/hyp3rd/statsock/pkg/config"
)

const attributeCountWithTrace = 3

func TestWithTraceAddsSpanContext(t *testing.T) {
	t.Parallel()

	ctx, span := trace.NewTracerProvider().Tracer("test").Start(context.Background(), "span")
	defer span.End()

	attrs := withTrace(ctx, []attribute.KeyValue{attribute.String("foo", "bar")})
	if len(attrs) < attributeCountWithTrace {
		t.Fatalf("expected trace attributes plus payload, got %d", len(attrs))
	}

	if attrs[0].Key != "trace_id" || attrs[1].Key != "span_id" {
		t.Fatalf("expected trace_id and span_id first, got %s and %s", attrs[0].Key, attrs[1].Key)
	}
}

func TestWithTraceNoSpan(t *testing.T) {
	t.Parallel()

	attrs := withTrace(context.Background(), []attribute.KeyValue{attribute.String("foo", "bar")})
	if len(attrs) != 1 {
		t.Fatalf("expected only original attrs, got %d", len(attrs))
	}
}

func TestSlogAdapterWarnLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	adapter := NewSlogAdapter(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	adapter.Warn(context.Background(), "stats module not initialized", attribute.String("op", "get"))

	var entry map[string]any

	err := json.Unmarshal(buf.Bytes(), &entry)
	if err != nil {
		t.Fatalf("unmarshal slog output: %v", err)
	}

	if entry["level"] != "WARN" {
		t.Fatalf("expected WARN level, got %v", entry["level"])
	}

	if entry["op"] != "get" {
		t.Fatalf("expected op attribute, got %v", entry)
	}
}

func TestFromConfigFiltersBelowMinimum(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	adapter := FromConfigWriter(config.LoggingConfig{Level: "warn", Format: "json", Adapter: "slog"}, &buf)

	ctx := context.Background()
	adapter.Debug(ctx, "debug line")
	adapter.Info(ctx, "info line")
	adapter.Warn(ctx, "warn line")
	adapter.Error(ctx, ewrap.New("boom"), "error line")

	out := buf.String()
	if strings.Contains(out, "debug line") || strings.Contains(out, "info line") {
		t.Fatalf("expected debug and info to be filtered, got %s", out)
	}

	if !strings.Contains(out, "warn line") || !strings.Contains(out, "error line") {
		t.Fatalf("expected warn and error lines, got %s", out)
	}
}

func TestFromConfigBackends(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"std", "zap", "zerolog", "slog"} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer

			adapter := FromConfigWriter(config.LoggingConfig{Level: "debug", Adapter: name}, &buf)
			adapter.Info(context.Background(), "hello", attribute.Int64("count", 2))

			if !strings.Contains(buf.String(), "hello") {
				t.Fatalf("%s adapter did not write message: %q", name, buf.String())
			}
		})
	}
}

func TestBackendsMapLevelsAndErrors(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"std", "zap", "zerolog", "slog"} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer

			adapter := FromConfigWriter(config.LoggingConfig{Level: "debug", Adapter: name}, &buf)
			adapter.Warn(context.Background(), "careful")
			adapter.Error(context.Background(), ewrap.New("boom"), "failed")

			out := buf.String()
			if !strings.Contains(strings.ToLower(out), "warn") {
				t.Fatalf("%s adapter lost the warn level: %q", name, out)
			}

			if !strings.Contains(out, "boom") {
				t.Fatalf("%s adapter dropped the error: %q", name, out)
			}
		})
	}
}

func TestZerologDisabledLevelIsDropped(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	adapter := NewZerologAdapter(zerolog.New(&buf).Level(zerolog.ErrorLevel))
	adapter.Warn(context.Background(), "hidden", attribute.String("k", "v"))

	if buf.Len() != 0 {
		t.Fatalf("expected nothing below error, got %q", buf.String())
	}
}

func TestLevelString(t *testing.T) {
	t.Parallel()

	if got := LevelWarn.String(); got != "WARN" {
		t.Fatalf("unexpected level name %q", got)
	}

	if got := Level(9).String(); got != "LEVEL(9)" {
		t.Fatalf("unexpected unknown level name %q", got)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warning": LevelWarn,
		"error":   LevelError,
		"":        LevelInfo,
	}

	for raw, want := range cases {
		if got := ParseLevel(raw); got != want {
			t.Fatalf("ParseLevel(%q) = %d, want %d", raw, got, want)
		}
	}
}

func TestSwappableFollowsReplacement(t *testing.T) {
	t.Parallel()

	var first, second bytes.Buffer

	swappable := NewSwappable(NewSlogAdapter(slog.New(slog.NewTextHandler(&first, nil))))
	swappable.Info(context.Background(), "one")

	swappable.Swap(NewSlogAdapter(slog.New(slog.NewTextHandler(&second, nil))))
	swappable.Info(context.Background(), "two")

	if !strings.Contains(first.String(), "one") || strings.Contains(first.String(), "two") {
		t.Fatalf("unexpected first output %q", first.String())
	}

	if !strings.Contains(second.String(), "two") {
		t.Fatalf("unexpected second output %q", second.String())
	}

	swappable.Swap(nil)
	swappable.Error(context.Background(), ewrap.New("ignored"), "noop")
}
