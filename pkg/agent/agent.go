// Package agent boots the stats registry inside a host process: it loads
// configuration, builds the logger and telemetry providers, brings up the
// process-wide registry and the optional diagnostics server and reporter.
package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hyp3rd/ewrap"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hyp3rd/statsock/pkg/config"
	"github.com/hyp3rd/statsock/pkg/diagnostics"
	"github.com/hyp3rd/statsock/pkg/logging"
	"github.com/hyp3rd/statsock/pkg/reporter"
	"github.com/hyp3rd/statsock/pkg/stats"
	"github.com/hyp3rd/statsock/pkg/telemetry"
)

// Agent holds every component started by Start.
type Agent struct {
	opts   options
	logger *logging.Swappable

	telemetry    *telemetry.Provider
	registry     *stats.Registry
	ownsRegistry bool
	bridge       *telemetry.Bridge
	diagServer   *diagnostics.Server
	reporter     *reporter.Reporter

	mu         sync.RWMutex
	cfg        config.Config
	digest     string
	startTime  time.Time
	lastReload time.Time
	reloads    atomic.Int64

	watchCancel context.CancelFunc
	watchDone   chan struct{}
	once        sync.Once
}

// Start loads configuration and brings every enabled component up. On
// failure, whatever was already started is torn down again.
func Start(ctx context.Context, opts ...Option) (*Agent, error) {
	settings := defaultOptions()
	for _, opt := range opts {
		opt(&settings)
	}

	cfg, err := settings.loadConfig(ctx)
	if err != nil {
		return nil, ewrap.Wrap(err, "load config")
	}

	digest, err := configDigest(cfg)
	if err != nil {
		return nil, err
	}

	a := &Agent{
		opts:      settings,
		logger:    logging.NewSwappable(settings.buildLogger(cfg)),
		cfg:       cfg,
		digest:    digest,
		startTime: time.Now().UTC(),
	}
	a.lastReload = a.startTime

	err = a.start(ctx, cfg)
	if err != nil {
		shutdownErr := a.Shutdown(context.WithoutCancel(ctx))

		return nil, errors.Join(err, shutdownErr)
	}

	return a, nil
}

func (o options) buildLogger(cfg config.Config) logging.Adapter {
	if o.loggerOverride {
		return logging.OrNoop(o.logger)
	}

	return logging.FromConfig(cfg.Logging)
}

func (a *Agent) start(ctx context.Context, cfg config.Config) error {
	stats.SetLogger(a.logger)

	tel, err := telemetry.New(ctx, cfg.Telemetry, cfg.Service)
	if err != nil {
		return ewrap.Wrap(err, "init telemetry")
	}

	a.telemetry = tel

	a.ownsRegistry = !stats.IsInit()

	ok := stats.Init(ctx, cfg.Socket.Path,
		stats.WithLogger(a.logger),
		stats.WithSocketConfig(cfg.Socket),
		stats.WithTracerProvider(tel.TracerProvider()),
		stats.WithMeterProvider(tel.MeterProvider()),
	)
	if !ok {
		a.ownsRegistry = false

		return ewrap.Newf("initialize stats registry on %q", cfg.Socket.Path)
	}

	a.registry = stats.Default()

	bridge, err := telemetry.NewBridge(tel.MeterProvider(), a.registry)
	if err != nil {
		return err
	}

	a.bridge = bridge

	if cfg.Diagnostics.Enabled {
		err := a.startDiagnostics(ctx, cfg.Diagnostics)
		if err != nil {
			return err
		}
	}

	if cfg.Reporter.Enabled {
		rep, err := reporter.New(a.registry, cfg.Reporter.Interval,
			reporter.WithLogger(a.logger),
			reporter.WithTracerProvider(tel.TracerProvider()),
			reporter.WithMeterProvider(tel.MeterProvider()),
		)
		if err != nil {
			return ewrap.Wrap(err, "create reporter")
		}

		err = rep.Start(ctx)
		if err != nil {
			return ewrap.Wrap(err, "start reporter")
		}

		a.reporter = rep
	}

	err = a.startConfigWatcher(ctx)
	if err != nil {
		a.logger.Error(ctx, err, "config watcher disabled")
	}

	a.logger.Info(ctx, "stats agent started",
		attribute.String("socket", a.registry.Path()),
		attribute.Bool("diagnostics", a.diagServer != nil),
		attribute.Bool("reporter", a.reporter != nil),
	)

	return nil
}

func (a *Agent) startDiagnostics(ctx context.Context, cfg config.DiagnosticsConfig) error {
	mw, err := diagnostics.NewMiddleware(a.telemetry.TracerProvider(), a.telemetry.MeterProvider())
	if err != nil {
		return ewrap.Wrap(err, "create diagnostics middleware")
	}

	server, err := diagnostics.NewServer(cfg, a,
		diagnostics.WithLogger(a.logger),
		diagnostics.WithMiddleware(mw),
	)
	if err != nil {
		return ewrap.Wrap(err, "create diagnostics server")
	}

	err = server.Start(ctx)
	if err != nil {
		return ewrap.Wrap(err, "start diagnostics server")
	}

	a.diagServer = server

	return nil
}

// Shutdown stops components in reverse start order. Errors are joined.
func (a *Agent) Shutdown(ctx context.Context) error {
	var shutdownErr error

	a.once.Do(func() {
		a.stopConfigWatcher()

		var errs []error

		if a.reporter != nil {
			errs = append(errs, a.reporter.Stop(ctx))
		}

		if a.diagServer != nil {
			errs = append(errs, a.diagServer.Shutdown(ctx))
		}

		if a.bridge != nil {
			errs = append(errs, a.bridge.Close())
		}

		if a.ownsRegistry {
			errs = append(errs, stats.Shutdown(ctx))
		}

		if a.telemetry != nil {
			errs = append(errs, a.telemetry.Shutdown(ctx))
		}

		shutdownErr = errors.Join(errs...)
	})

	if shutdownErr != nil {
		return ewrap.Wrap(shutdownErr, "shutdown agent")
	}

	return nil
}

// Config returns the active configuration.
func (a *Agent) Config() config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.cfg
}

// Logger returns the agent's logger. It follows config reloads.
func (a *Agent) Logger() logging.Adapter {
	return a.logger
}

// Registry returns the registry the agent serves.
func (a *Agent) Registry() *stats.Registry {
	return a.registry
}

// DiagnosticsAddr returns the bound diagnostics address, or "" when disabled.
func (a *Agent) DiagnosticsAddr() string {
	if a.diagServer == nil || a.diagServer.Addr() == nil {
		return ""
	}

	return a.diagServer.Addr().String()
}

// Reloads returns how many config changes were applied.
func (a *Agent) Reloads() int64 {
	return a.reloads.Load()
}

// Snapshot implements diagnostics.Source.
func (a *Agent) Snapshot() map[string]int64 {
	return a.registry.Snapshot()
}

// Status implements diagnostics.Source.
func (a *Agent) Status() diagnostics.Status {
	a.mu.RLock()
	cfg := a.cfg
	lastReload := a.lastReload
	a.mu.RUnlock()

	srv := a.registry.ServerStats()

	status := diagnostics.Status{
		ServiceName:    cfg.Service.Name,
		ServiceVersion: cfg.Service.Version,
		Environment:    cfg.Service.Environment,
		SocketPath:     a.registry.Path(),
		Listening:      srv.Listening,
		StartTime:      a.startTime,
		LastReloadTime: lastReload,
		ConfigReloads:  a.reloads.Load(),
		Counters:       a.registry.Store().Len(),
		Served:         srv.Served,
		Failed:         srv.Failed,
	}

	if exp, ok := a.telemetry.ExporterStatus(); ok {
		status.TraceExporter = &exp
	}

	return status
}

// reload applies a changed config. Only logging is rebuilt in place; other
// sections need a restart and are reported as such.
func (a *Agent) reload(ctx context.Context) {
	cfg, err := a.opts.loadConfig(ctx)
	if err != nil {
		a.logger.Error(ctx, err, "reload config failed")

		return
	}

	digest, err := configDigest(cfg)
	if err != nil {
		a.logger.Error(ctx, err, "reload config failed")

		return
	}

	a.mu.Lock()
	if digest == a.digest {
		a.mu.Unlock()

		return
	}

	previous := a.cfg
	a.cfg = cfg
	a.digest = digest
	a.lastReload = time.Now().UTC()
	a.mu.Unlock()

	if !a.opts.loggerOverride {
		a.logger.Swap(logging.FromConfig(cfg.Logging))
	}

	if cfg.Socket != previous.Socket {
		a.logger.Warn(ctx, "socket settings changed; restart to apply",
			attribute.String("path", previous.Socket.Path),
			attribute.String("requested", cfg.Socket.Path),
		)
	}

	a.reloads.Add(1)
	a.logger.Info(ctx, "configuration reloaded", attribute.Int64("reloads", a.reloads.Load()))
}

func configDigest(cfg config.Config) (string, error) {
	body, err := json.Marshal(cfg)
	if err != nil {
		return "", ewrap.Wrap(err, "encode config digest")
	}

	sum := sha256.Sum256(body)

	return hex.EncodeToString(sum[:]), nil
}
