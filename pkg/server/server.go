// Package server runs the stats socket: a Unix stream listener whose accept
// loop serves one connection at a time from a counter backend.
package server

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hyp3rd/ewrap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/hyp3rd/statsock/pkg/config"
	"github.com/hyp3rd/statsock/pkg/logging"
	"github.com/hyp3rd/statsock/pkg/protocol"
)

const instrumentationName = "statsock/server"

var (
	// ErrAlreadyStarted is returned by a second Start call.
	ErrAlreadyStarted = ewrap.New("stats server already started")
	// ErrServerClosed is returned by Start after Shutdown.
	ErrServerClosed = ewrap.New("stats server closed")
)

// Stats reports request totals of a running server.
type Stats struct {
	Served    int64     `json:"served"`
	Failed    int64     `json:"failed"`
	Listening bool      `json:"listening"`
	StartTime time.Time `json:"start_time"`
}

// Server owns the listening socket, its path and the accept goroutine.
type Server struct {
	cfg      config.SocketConfig
	backend  protocol.Backend
	logger   logging.Adapter
	tracer   trace.Tracer
	requests metric.Int64Counter

	mu        sync.Mutex
	listener  net.Listener
	done      chan struct{}
	started   bool
	stopping  atomic.Bool
	stopOnce  sync.Once
	stopWatch func() bool
	startTime time.Time

	served atomic.Int64
	failed atomic.Int64
}

// New validates cfg and prepares a server. Nothing is bound until Start.
func New(cfg config.SocketConfig, backend protocol.Backend, opts ...Option) (*Server, error) {
	if backend == nil {
		return nil, ewrap.New("stats backend is required")
	}

	err := config.ValidateSocket(cfg)
	if err != nil {
		return nil, err
	}

	settings := defaultOptions()
	for _, opt := range opts {
		opt(&settings)
	}

	requests, err := settings.meterProvider.Meter(instrumentationName).Int64Counter(
		"statsock.server.requests",
		metric.WithDescription("Number of stats socket requests by mode and result"),
	)
	if err != nil {
		return nil, ewrap.Wrap(err, "create request counter")
	}

	return &Server{
		cfg:      cfg,
		backend:  backend,
		logger:   settings.logger,
		tracer:   settings.tracerProvider.Tracer(instrumentationName),
		requests: requests,
		done:     make(chan struct{}),
	}, nil
}

// Path returns the filesystem path of the socket.
func (s *Server) Path() string {
	return s.cfg.Path
}

// Start creates missing parent directories, binds the socket, applies its
// permissions and launches the accept loop. Any failure leaves nothing bound.
// Cancelling ctx shuts the server down.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopping.Load() {
		return ErrServerClosed
	}

	if s.started {
		return ErrAlreadyStarted
	}

	dirMode, err := s.cfg.DirMode()
	if err != nil {
		return ewrap.Wrap(err, "socket dir permissions")
	}

	fileMode, err := s.cfg.FileMode()
	if err != nil {
		return ewrap.Wrap(err, "socket permissions")
	}

	dir := filepath.Dir(s.cfg.Path)

	err = os.MkdirAll(dir, dirMode)
	if err != nil {
		return ewrap.Wrapf(err, "make socket dir %q", dir)
	}

	ln, err := listenUnix(s.cfg.Path, fileMode, s.cfg.Backlog)
	if err != nil {
		return err
	}

	s.listener = ln
	s.started = true
	s.startTime = time.Now().UTC()

	loopCtx := context.WithoutCancel(ctx)
	s.stopWatch = context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(loopCtx, time.Second)
		defer cancel()

		err := s.Shutdown(shutdownCtx)
		if err != nil {
			s.logger.Error(shutdownCtx, err, "stats server shutdown after context cancel")
		}
	})

	go s.acceptLoop(loopCtx, ln)

	s.logger.Info(ctx, "stats server listening",
		attribute.String("path", s.cfg.Path),
		attribute.Int("backlog", s.cfg.Backlog),
	)

	return nil
}

// Shutdown closes the listener, which unblocks a pending Accept, waits for
// the accept loop to finish the connection it may be serving, and unlinks
// the socket path. The first call closes and unlinks; cleanup failures are
// logged and returned by that call. If ctx ends while a client still holds
// the loop, the path is unlinked anyway and the context error is returned;
// a later call waits for the loop again. Safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	var (
		errs  []error
		first bool
	)

	s.stopOnce.Do(func() {
		first = true
		errs = s.closeListener(ctx)
	})

	s.mu.Lock()
	bound := s.listener != nil
	s.mu.Unlock()

	if !bound {
		return nil
	}

	joined := true

	select {
	case <-s.done:
	case <-ctx.Done():
		joined = false
		errs = append(errs, ewrap.Wrap(ctx.Err(), "wait for accept loop"))
	}

	if first {
		err := os.Remove(s.cfg.Path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Error(ctx, err, "unlinking stats socket path", attribute.String("path", s.cfg.Path))
			errs = append(errs, ewrap.Wrapf(err, "unlink %q", s.cfg.Path))
		}
	}

	switch {
	case !joined:
		s.logger.Warn(ctx, "stats server stopped while serving a connection", attribute.String("path", s.cfg.Path))
	case first:
		s.logger.Info(ctx, "stats server stopped", attribute.String("path", s.cfg.Path))
	}

	shutdownErr := errors.Join(errs...)
	if shutdownErr != nil {
		return ewrap.Wrap(shutdownErr, "shutdown stats server")
	}

	return nil
}

// closeListener marks the server stopping and closes its listener.
func (s *Server) closeListener(ctx context.Context) []error {
	s.mu.Lock()
	s.stopping.Store(true)
	ln := s.listener
	stopWatch := s.stopWatch
	s.mu.Unlock()

	if ln == nil {
		return nil
	}

	if stopWatch != nil {
		stopWatch()
	}

	err := ln.Close()
	if err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Error(ctx, err, "closing stats socket")

		return []error{ewrap.Wrap(err, "close stats socket")}
	}

	return nil
}

// Stats returns request totals.
func (s *Server) Stats() Stats {
	s.mu.Lock()
	listening := s.started && !s.stopping.Load()
	start := s.startTime
	s.mu.Unlock()

	return Stats{
		Served:    s.served.Load(),
		Failed:    s.failed.Load(),
		Listening: listening,
		StartTime: start,
	}
}

// acceptLoop serves connections strictly in accept order until the listener
// is closed.
func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	defer close(s.done)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || s.stopping.Load() {
				return
			}

			s.logger.Error(ctx, err, "stats server error: accepting connection")

			continue
		}

		s.serveConn(ctx, conn)

		if s.stopping.Load() {
			return
		}
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	ctx, span := s.tracer.Start(ctx, "statsock.request", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	defer func() {
		err := conn.Close()
		if err != nil {
			s.logger.Error(ctx, err, "stats server error: closing connection")
		}
	}()

	req, err := protocol.ReadRequest(conn, s.cfg.MaxRequestBytes)
	if err != nil {
		s.logger.Error(ctx, err, "stats server error: reading from socket")
	}

	modeAttr := attribute.String("statsock.mode", req.Mode.String())
	span.SetAttributes(modeAttr, attribute.Int("statsock.request.bytes", req.Read))

	switch {
	case req.Empty():
		s.logger.Warn(ctx, "stats server error: no message received")
	case !req.Mode.Valid():
		s.logger.Warn(ctx, "stats server error: received unknown request", attribute.String("mode", string(rune(req.Mode))))
	}

	resp := protocol.Handle(req.Mode, s.backend)

	err = resp.Encode(conn)
	if err != nil {
		s.logger.Error(ctx, err, "stats server error: writing to socket")
		span.RecordError(err)
		span.SetStatus(codes.Error, "write response")
		s.failed.Add(1)
		s.record(ctx, modeAttr, "write_error")

		return
	}

	if !resp.OK() {
		span.SetStatus(codes.Error, "unknown request")
		s.failed.Add(1)
		s.record(ctx, modeAttr, "error")

		return
	}

	span.SetStatus(codes.Ok, "")
	s.served.Add(1)
	s.record(ctx, modeAttr, "ok")
}

func (s *Server) record(ctx context.Context, modeAttr attribute.KeyValue, result string) {
	s.requests.Add(ctx, 1, metric.WithAttributes(modeAttr, attribute.String("statsock.result", result)))
}
