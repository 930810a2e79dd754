// Package diagnostics serves the stats registry's status, counters and
// Prometheus metrics over HTTP.
package diagnostics

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hyp3rd/ewrap"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hyp3rd/statsock/internal/constants"
	"github.com/hyp3rd/statsock/pkg/config"
	"github.com/hyp3rd/statsock/pkg/logging"
	"github.com/hyp3rd/statsock/pkg/telemetry"
)

const (
	// StatusPath serves Status as JSON.
	StatusPath = "/statsock/status"
	// CountersPath serves the counter snapshot as JSON.
	CountersPath = "/statsock/counters"
	// MetricsPath serves Prometheus metrics.
	MetricsPath = "/metrics"
)

// ErrAlreadyStarted is returned by a second Start call.
var ErrAlreadyStarted = ewrap.New("diagnostics server already started")

// Status describes the running registry.
type Status struct {
	ServiceName    string                    `json:"service_name"`
	ServiceVersion string                    `json:"service_version"`
	Environment    string                    `json:"environment"`
	SocketPath     string                    `json:"socket_path"`
	Listening      bool                      `json:"listening"`
	StartTime      time.Time                 `json:"start_time"`
	LastReloadTime time.Time                 `json:"last_reload_time"`
	ConfigReloads  int64                     `json:"config_reloads"`
	Counters       int                       `json:"counters"`
	Served         int64                     `json:"requests_served"`
	Failed         int64                     `json:"requests_failed"`
	TraceExporter  *telemetry.ExporterStatus `json:"trace_exporter,omitempty"`
	Timestamp      time.Time                 `json:"timestamp"`
}

// Source supplies what the endpoints report.
type Source interface {
	Status() Status
	Snapshot() map[string]int64
}

// Option customises a Server.
type Option func(*Server)

// WithLogger sets the adapter used for serve errors.
func WithLogger(adapter logging.Adapter) Option {
	return func(s *Server) {
		s.logger = logging.OrNoop(adapter)
	}
}

// WithMiddleware instruments every endpoint with mw.
func WithMiddleware(mw *Middleware) Option {
	return func(s *Server) {
		s.middleware = mw
	}
}

// Server exposes registry status over HTTP.
type Server struct {
	cfg        config.DiagnosticsConfig
	source     Source
	logger     logging.Adapter
	middleware *Middleware
	registry   *prometheus.Registry

	server   *http.Server
	listener net.Listener
	mu       sync.Mutex
	start    sync.Once
	stop     sync.Once
}

// NewServer constructs a diagnostics server.
func NewServer(cfg config.DiagnosticsConfig, source Source, opts ...Option) (*Server, error) {
	if source == nil {
		return nil, ewrap.New("diagnostics source is required")
	}

	s := &Server{
		cfg:      cfg,
		source:   source,
		logger:   logging.NewNoopAdapter(),
		registry: prometheus.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	err := s.registry.Register(NewCollector(source))
	if err != nil {
		return nil, ewrap.Wrap(err, "register counter collector")
	}

	return s, nil
}

// Handler returns the routed, authenticated and optionally instrumented endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+StatusPath, s.HandleStatus)
	mux.HandleFunc("GET "+CountersPath, s.HandleCounters)

	if s.cfg.Prometheus {
		mux.Handle("GET "+MetricsPath, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	var handler http.Handler = mux
	if s.cfg.AuthToken != "" {
		handler = requireAuth(s.cfg.AuthToken, handler)
	}

	if s.middleware != nil {
		handler = s.middleware.Handler(handler)
	}

	return handler
}

// Start binds the listener and serves until ctx is canceled or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	if s.cfg.HTTPAddr == "" {
		return ewrap.New("diagnostics http_addr is required")
	}

	startErr := ErrAlreadyStarted

	s.start.Do(func() {
		startErr = nil

		lc := net.ListenConfig{}

		ln, err := lc.Listen(ctx, "tcp", s.cfg.HTTPAddr)
		if err != nil {
			startErr = ewrap.Wrap(err, "listen diagnostics")

			return
		}

		srv := &http.Server{
			Handler:           s.Handler(),
			ReadHeaderTimeout: constants.DefaultTimeout,
		}

		s.mu.Lock()
		s.server = srv
		s.listener = ln
		s.mu.Unlock()

		context.AfterFunc(ctx, func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.DefaultShutdownTimeout)
			defer cancel()

			err := s.Shutdown(shutdownCtx)
			if err != nil {
				s.logger.Error(shutdownCtx, err, "shutdown diagnostics server")
			}
		})

		go func() {
			err := srv.Serve(ln)
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error(ctx, err, "diagnostics server stopped")
			}
		}()

		s.logger.Info(ctx, "diagnostics server listening", attribute.String("addr", ln.Addr().String()))
	})

	return startErr
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.stop.Do(func() {
		s.mu.Lock()
		srv := s.server
		s.mu.Unlock()

		if srv == nil {
			return
		}

		shutdownErr = srv.Shutdown(ctx)
	})

	if shutdownErr != nil {
		return ewrap.Wrap(shutdownErr, "shutdown diagnostics server")
	}

	return nil
}

// HandleStatus serves Status as JSON.
func (s *Server) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	status := s.source.Status()
	status.Timestamp = time.Now().UTC()

	writeJSON(w, status)
}

// HandleCounters serves the counter snapshot as JSON.
func (s *Server) HandleCounters(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.source.Snapshot())
}

func writeJSON(w http.ResponseWriter, value any) {
	body, err := json.Marshal(value)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")

	//nolint:errcheck // the client may have gone away.
	_, _ = w.Write(body)
}

func requireAuth(token string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !validAuth(r.Header.Get("Authorization"), token) {
			w.WriteHeader(http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}

func validAuth(header, token string) bool {
	const prefix = "Bearer "

	if !strings.HasPrefix(header, prefix) {
		return false
	}

	return strings.TrimSpace(header[len(prefix):]) == token
}
