package logging

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
)

// Swappable forwards to an adapter that can be replaced while in use, so
// components built with it follow a logger rebuilt on config reload.
type Swappable struct {
	current atomic.Pointer[Adapter]
}

// NewSwappable starts out forwarding to initial.
func NewSwappable(initial Adapter) *Swappable {
	s := &Swappable{}
	s.Swap(initial)

	return s
}

// Swap replaces the target adapter.
func (s *Swappable) Swap(adapter Adapter) {
	adapter = OrNoop(adapter)
	s.current.Store(&adapter)
}

func (s *Swappable) load() Adapter {
	return *s.current.Load()
}

// Debug implements Adapter.
func (s *Swappable) Debug(ctx context.Context, msg string, attrs ...attribute.KeyValue) {
	s.load().Debug(ctx, msg, attrs...)
}

// Info implements Adapter.
func (s *Swappable) Info(ctx context.Context, msg string, attrs ...attribute.KeyValue) {
	s.load().Info(ctx, msg, attrs...)
}

// Warn implements Adapter.
func (s *Swappable) Warn(ctx context.Context, msg string, attrs ...attribute.KeyValue) {
	s.load().Warn(ctx, msg, attrs...)
}

// Error implements Adapter.
func (s *Swappable) Error(ctx context.Context, err error, msg string, attrs ...attribute.KeyValue) {
	s.load().Error(ctx, err, msg, attrs...)
}
