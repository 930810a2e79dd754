// Package logging provides the structured logging contract used by statsock
// and adapters onto slog, zap, zerolog and the standard library logger.
package logging

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Adapter describes the logging contract used within statsock.
type Adapter interface {
	Debug(ctx context.Context, msg string, attrs ...attribute.KeyValue)
	Info(ctx context.Context, msg string, attrs ...attribute.KeyValue)
	Warn(ctx context.Context, msg string, attrs ...attribute.KeyValue)
	Error(ctx context.Context, err error, msg string, attrs ...attribute.KeyValue)
}

// Level orders log severities for filtering.
type Level int

// Supported levels, lowest first.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the upper-case level name.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

// OrNoop returns adapter, or a NoopAdapter when adapter is nil.
func OrNoop(adapter Adapter) Adapter {
	if adapter == nil {
		return NoopAdapter{}
	}

	return adapter
}

// NoopAdapter discards all logs.
type NoopAdapter struct{}

// NewNoopAdapter returns a logger that drops every log event.
func NewNoopAdapter() Adapter {
	return NoopAdapter{}
}

// Debug implements Adapter.
func (NoopAdapter) Debug(context.Context, string, ...attribute.KeyValue) {}

// Info implements Adapter.
func (NoopAdapter) Info(context.Context, string, ...attribute.KeyValue) {}

// Warn implements Adapter.
func (NoopAdapter) Warn(context.Context, string, ...attribute.KeyValue) {}

// Error implements Adapter.
func (NoopAdapter) Error(context.Context, error, string, ...attribute.KeyValue) {}

// backend writes a single event. attrs already carry the trace ids.
type backend interface {
	write(ctx context.Context, level Level, msg string, err error, attrs []attribute.KeyValue)
}

// eventLogger turns Adapter calls into backend writes.
type eventLogger struct {
	out backend
}

func (l eventLogger) Debug(ctx context.Context, msg string, attrs ...attribute.KeyValue) {
	l.out.write(ctx, LevelDebug, msg, nil, withTrace(ctx, attrs))
}

func (l eventLogger) Info(ctx context.Context, msg string, attrs ...attribute.KeyValue) {
	l.out.write(ctx, LevelInfo, msg, nil, withTrace(ctx, attrs))
}

func (l eventLogger) Warn(ctx context.Context, msg string, attrs ...attribute.KeyValue) {
	l.out.write(ctx, LevelWarn, msg, nil, withTrace(ctx, attrs))
}

func (l eventLogger) Error(ctx context.Context, err error, msg string, attrs ...attribute.KeyValue) {
	l.out.write(ctx, LevelError, msg, err, withTrace(ctx, attrs))
}

// NewSlogAdapter logs through log/slog. A nil logger means JSON on stdout.
func NewSlogAdapter(logger *slog.Logger) Adapter {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}

	return eventLogger{out: slogBackend{logger: logger}}
}

type slogBackend struct {
	logger *slog.Logger
}

var slogLevels = [...]slog.Level{
	LevelDebug: slog.LevelDebug,
	LevelInfo:  slog.LevelInfo,
	LevelWarn:  slog.LevelWarn,
	LevelError: slog.LevelError,
}

func (b slogBackend) write(ctx context.Context, level Level, msg string, err error, attrs []attribute.KeyValue) {
	out := make([]slog.Attr, 0, len(attrs)+1)
	for _, attr := range attrs {
		out = append(out, slog.Any(string(attr.Key), attrValue(attr)))
	}

	if err != nil {
		out = append(out, slog.String("error", err.Error()))
	}

	b.logger.LogAttrs(ctx, slogLevels[level], msg, out...)
}

// NewZapAdapter logs through zap. A nil logger falls back to zap.NewNop.
func NewZapAdapter(logger *zap.Logger) Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}

	return eventLogger{out: zapBackend{logger: logger}}
}

type zapBackend struct {
	logger *zap.Logger
}

var zapLevels = [...]zapcore.Level{
	LevelDebug: zapcore.DebugLevel,
	LevelInfo:  zapcore.InfoLevel,
	LevelWarn:  zapcore.WarnLevel,
	LevelError: zapcore.ErrorLevel,
}

func (b zapBackend) write(_ context.Context, level Level, msg string, err error, attrs []attribute.KeyValue) {
	entry := b.logger.Check(zapLevels[level], msg)
	if entry == nil {
		return
	}

	fields := make([]zap.Field, 0, len(attrs)+1)
	for _, attr := range attrs {
		fields = append(fields, zap.Any(string(attr.Key), attrValue(attr)))
	}

	if err != nil {
		fields = append(fields, zap.Error(err))
	}

	entry.Write(fields...)
}

// NewZerologAdapter logs through zerolog.
func NewZerologAdapter(logger zerolog.Logger) Adapter {
	return eventLogger{out: zerologBackend{logger: logger}}
}

type zerologBackend struct {
	logger zerolog.Logger
}

var zerologLevels = [...]zerolog.Level{
	LevelDebug: zerolog.DebugLevel,
	LevelInfo:  zerolog.InfoLevel,
	LevelWarn:  zerolog.WarnLevel,
	LevelError: zerolog.ErrorLevel,
}

func (b zerologBackend) write(_ context.Context, level Level, msg string, err error, attrs []attribute.KeyValue) {
	// A disabled level yields a nil event; its methods are no-ops.
	event := b.logger.WithLevel(zerologLevels[level])
	if err != nil {
		event = event.Err(err)
	}

	for _, attr := range attrs {
		event = event.Interface(string(attr.Key), attrValue(attr))
	}

	event.Msg(msg)
}

// NewStdAdapter logs plain key=value lines through log.Logger. A nil logger
// means log.Default.
func NewStdAdapter(logger *log.Logger) Adapter {
	if logger == nil {
		logger = log.Default()
	}

	return eventLogger{out: stdBackend{logger: logger}}
}

type stdBackend struct {
	logger *log.Logger
}

func (b stdBackend) write(_ context.Context, level Level, msg string, err error, attrs []attribute.KeyValue) {
	var line strings.Builder

	line.WriteString(level.String())
	line.WriteByte(' ')
	line.WriteString(msg)

	for _, attr := range attrs {
		fmt.Fprintf(&line, " %s=%v", attr.Key, attrValue(attr))
	}

	if err != nil {
		fmt.Fprintf(&line, " error=%q", err.Error())
	}

	b.logger.Println(line.String())
}

// withTrace prepends trace_id and span_id when ctx carries a valid span.
func withTrace(ctx context.Context, attrs []attribute.KeyValue) []attribute.KeyValue {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return attrs
	}

	return append([]attribute.KeyValue{
		attribute.String("trace_id", spanCtx.TraceID().String()),
		attribute.String("span_id", spanCtx.SpanID().String()),
	}, attrs...)
}

func attrValue(attr attribute.KeyValue) any {
	//nolint:exhaustive // slices and INVALID fall through to AsInterface.
	switch attr.Value.Type() {
	case attribute.BOOL:
		return attr.Value.AsBool()
	case attribute.INT64:
		return attr.Value.AsInt64()
	case attribute.FLOAT64:
		return attr.Value.AsFloat64()
	case attribute.STRING:
		return attr.Value.AsString()
	default:
		return attr.Value.AsInterface()
	}
}
