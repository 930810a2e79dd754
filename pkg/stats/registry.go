// Package stats ties a counter store to the socket that serves it and keeps
// the process-wide registry behind a small set of free functions.
package stats

import (
	"context"

	"github.com/hyp3rd/ewrap"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hyp3rd/statsock/pkg/config"
	"github.com/hyp3rd/statsock/pkg/counters"
	"github.com/hyp3rd/statsock/pkg/logging"
	"github.com/hyp3rd/statsock/pkg/server"
)

// Registry owns one counter store and the socket server exposing it.
type Registry struct {
	store  *counters.Store
	server *server.Server
	logger logging.Adapter
}

// New builds a registry and starts serving it on cfg.Path. The returned
// registry is independent of the process-wide one; two registries must not
// share a socket path. Cancelling ctx shuts the registry's server down.
func New(ctx context.Context, cfg config.SocketConfig, opts ...Option) (*Registry, error) {
	settings := newSettings(opts)
	store := counters.NewStore()

	srv, err := server.New(cfg, store, settings.serverOpts...)
	if err != nil {
		return nil, ewrap.Wrap(err, "create stats server")
	}

	err = srv.Start(ctx)
	if err != nil {
		return nil, ewrap.Wrapf(err, "start stats server on %q", cfg.Path)
	}

	return &Registry{
		store:  store,
		server: srv,
		logger: settings.logger,
	}, nil
}

// Store returns the underlying counter store.
func (r *Registry) Store() *counters.Store {
	return r.store
}

// Path returns the socket path being served.
func (r *Registry) Path() string {
	return r.server.Path()
}

// ServerStats returns request totals of the socket server.
func (r *Registry) ServerStats() server.Stats {
	return r.server.Stats()
}

// Increment adds delta to key and returns the new value.
func (r *Registry) Increment(key string, delta int64) int64 {
	return r.store.Increment(key, delta)
}

// Set overwrites key with value.
func (r *Registry) Set(key string, value int64) {
	r.store.Set(key, value)
}

// Reset zeroes every counter. Keys are kept.
func (r *Registry) Reset() {
	r.store.Reset()
}

// Snapshot copies every counter.
func (r *Registry) Snapshot() map[string]int64 {
	return r.store.Snapshot()
}

// Shutdown stops the socket server and unlinks its path.
func (r *Registry) Shutdown(ctx context.Context) error {
	err := r.server.Shutdown(ctx)
	if err != nil {
		r.logger.Warn(ctx, "stats registry teardown incomplete",
			attribute.String("path", r.server.Path()),
			attribute.String("error", err.Error()),
		)

		return err
	}

	return nil
}
