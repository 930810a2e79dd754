package stats

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hyp3rd/ewrap"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hyp3rd/statsock/pkg/config"
	"github.com/hyp3rd/statsock/pkg/logging"
)

// ErrNotInitialized is returned by the free functions before Init succeeds.
var ErrNotInitialized = ewrap.New("stats registry not initialized").WithContext(
	&ewrap.ErrorContext{
		Severity: ewrap.SeverityWarning,
		Type:     ewrap.ErrorTypeValidation,
	},
)

var (
	mu      sync.RWMutex
	current *Registry
	logger  = logging.NewSlogAdapter(slog.Default())
)

// SetLogger replaces the adapter used for warnings about uninitialized use.
func SetLogger(adapter logging.Adapter) {
	mu.Lock()
	defer mu.Unlock()

	logger = logging.OrNoop(adapter)
}

// Init brings up the process-wide registry on path. It returns true once a
// registry is serving; later calls are no-ops that return true. A failure is
// logged and reported as false, and a later call may try again.
//
// ctx carries values for startup logging and tracing only. Its cancellation
// does not stop the registry, which serves until Shutdown.
func Init(ctx context.Context, path string, opts ...Option) bool {
	settings := newSettings(opts)

	mu.Lock()
	defer mu.Unlock()

	if settings.hasLogger {
		logger = settings.logger
	}

	if current != nil {
		if path != "" && path != current.Path() {
			logger.Debug(ctx, "stats registry already initialized; ignoring path",
				attribute.String("path", current.Path()),
				attribute.String("requested", path),
			)
		}

		return true
	}

	cfg := config.DefaultSocketConfig()
	if settings.socket != nil {
		cfg = *settings.socket
	}

	if path != "" {
		cfg.Path = path
	}

	reg, err := New(context.WithoutCancel(ctx), cfg, opts...)
	if err != nil {
		logger.Warn(ctx, "stats registry failed to initialize",
			attribute.String("path", cfg.Path),
			attribute.String("error", err.Error()),
		)

		return false
	}

	current = reg

	return true
}

// IsInit reports whether the process-wide registry is serving.
func IsInit() bool {
	mu.RLock()
	defer mu.RUnlock()

	return current != nil
}

// Default returns the process-wide registry, or nil before Init.
func Default() *Registry {
	mu.RLock()
	defer mu.RUnlock()

	return current
}

// GetStats returns a copy of every counter, or an empty map before Init.
func GetStats() map[string]int64 {
	reg, ok := registry("get stats")
	if !ok {
		return map[string]int64{}
	}

	return reg.Snapshot()
}

// IncrementStat adds one to key.
func IncrementStat(key string) error {
	return IncrementStatBy(key, 1)
}

// IncrementStatBy adds delta to key. A missing key starts at zero.
func IncrementStatBy(key string, delta int64) error {
	reg, ok := registry("increment stat")
	if !ok {
		return ErrNotInitialized
	}

	reg.Increment(key, delta)

	return nil
}

// SetStat overwrites key with value.
func SetStat(key string, value int64) error {
	reg, ok := registry("set stat")
	if !ok {
		return ErrNotInitialized
	}

	reg.Set(key, value)

	return nil
}

// ResetStats zeroes every counter.
func ResetStats() error {
	reg, ok := registry("reset stats")
	if !ok {
		return ErrNotInitialized
	}

	reg.Reset()

	return nil
}

// Shutdown tears down the process-wide registry and is the only way to stop
// it. ctx bounds the wait for the accept loop. Init may be called again
// afterwards.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	reg := current
	current = nil
	mu.Unlock()

	if reg == nil {
		return nil
	}

	return reg.Shutdown(ctx)
}

func registry(op string) (*Registry, bool) {
	mu.RLock()
	reg, log := current, logger
	mu.RUnlock()

	if reg == nil {
		log.Warn(context.Background(), "stats registry used before initialization", attribute.String("op", op))

		return nil, false
	}

	return reg, true
}
