// Package server accepts sessions on every configured endpoint and runs one
// supervised worker per connection.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sheerbytes/filegate/internal/config"
	"github.com/sheerbytes/filegate/internal/fsroot"
	"github.com/sheerbytes/filegate/internal/inventory"
	"github.com/sheerbytes/filegate/internal/logging"
	"github.com/sheerbytes/filegate/internal/metrics"
	"github.com/sheerbytes/filegate/internal/session"
	"github.com/sheerbytes/filegate/internal/transfer"
	"github.com/sheerbytes/filegate/internal/transport"
)

var (
	// ErrAlreadyRunning is returned by Start on a running server.
	ErrAlreadyRunning = errors.New("server already running")
	// ErrNotRunning is returned by Run and Stop when the server is not running.
	ErrNotRunning = errors.New("server not running")
)

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// Option configures a Server.
type Option func(*Server)

// WithHandler sets the free-text message handler. The default is session.Echo.
func WithHandler(h session.Handler) Option {
	return func(s *Server) {
		if h != nil {
			s.handler = h
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// Server owns the listening endpoints and the workers they spawn.
// Lifecycle: New, Start, Run, then Stop or Shutdown.
type Server struct {
	cfg      config.ServerConfig
	handler  session.Handler
	engine   *transfer.Engine
	logger   *slog.Logger
	registry *session.Registry

	mu         sync.Mutex
	running    bool
	listeners  []transport.Listener
	metricsLn  net.Listener
	metricsSrv *http.Server
	watcher    *inventory.Watcher
	stopAccept context.CancelFunc
	acceptCtx  context.Context

	workerCtx     context.Context
	cancelWorkers context.CancelFunc

	accepting sync.WaitGroup
	workers   sync.WaitGroup
}

// New creates a stopped server for cfg.
func New(cfg config.ServerConfig, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		handler:  session.Echo,
		logger:   logging.Discard(),
		registry: session.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.engine = transfer.NewEngine(cfg.FileRoot, s.logger)
	s.workerCtx, s.cancelWorkers = context.WithCancel(context.Background())
	return s
}

// Start creates the file root if needed and binds every configured endpoint.
// A failure to create the root is logged, not returned; a bind failure is
// returned and leaves the server stopped.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}

	root := s.engine.Root()
	if created, err := fsroot.EnsureRoot(root); err != nil {
		s.logger.Error("failed to create file root", "root", root, "error", err)
	} else if created {
		s.logger.Info("created file root", "root", root)
	}

	listeners, err := s.listen(ctx)
	if err != nil {
		return err
	}

	if s.cfg.MetricsAddr != "" {
		if err := s.startMetrics(ctx); err != nil {
			closeAll(listeners)
			return err
		}
	}

	if s.cfg.WatchRoot {
		w, err := inventory.Watch(root, s.logger, metrics.SetRootFiles)
		if err != nil {
			s.logger.Warn("file root inventory disabled", "root", root, "error", err)
		} else {
			s.watcher = w
		}
	}

	s.listeners = listeners
	s.acceptCtx, s.stopAccept = context.WithCancel(context.Background())
	if s.workerCtx.Err() != nil {
		s.workerCtx, s.cancelWorkers = context.WithCancel(context.Background())
	}
	s.running = true

	for _, ln := range listeners {
		s.logger.Info("server listening", "transport", ln.Name(), "addr", ln.Addr().String())
	}
	s.logger.Info("serving files", "root", root)
	return nil
}

func (s *Server) listen(ctx context.Context) ([]transport.Listener, error) {
	var listeners []transport.Listener

	tcp, err := transport.ListenTCP(ctx, s.cfg.ListenAddr())
	if err != nil {
		return nil, fmt.Errorf("failed to start server: %w", err)
	}
	listeners = append(listeners, tcp)

	if s.cfg.QUICAddr != "" {
		tlsConf, err := transport.ServerTLSConfig(s.cfg.QUICCertFile, s.cfg.QUICKeyFile)
		if err != nil {
			closeAll(listeners)
			return nil, fmt.Errorf("failed to configure QUIC: %w", err)
		}
		q, err := transport.ListenQUIC(s.cfg.QUICAddr, tlsConf)
		if err != nil {
			closeAll(listeners)
			return nil, fmt.Errorf("failed to start QUIC endpoint: %w", err)
		}
		listeners = append(listeners, q)
	}

	if s.cfg.WSAddr != "" {
		ws, err := transport.ListenWebSocket(ctx, s.cfg.WSAddr, s.logger)
		if err != nil {
			closeAll(listeners)
			return nil, fmt.Errorf("failed to start WebSocket endpoint: %w", err)
		}
		listeners = append(listeners, ws)
	}

	return listeners, nil
}

func (s *Server) startMetrics(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.MetricsAddr)
	if err != nil {
		return fmt.Errorf("failed to start metrics endpoint: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Handler:           transport.HTTPMiddleware(mux, s.logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server stopped", "error", err)
		}
	}()

	s.metricsLn = ln
	s.metricsSrv = srv
	s.logger.Info("metrics listening", "addr", ln.Addr().String())
	return nil
}

// Run accepts connections on every endpoint until Stop is called or ctx is
// cancelled. Each connection gets its own worker; Run does not wait for
// workers to finish.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	listeners := append([]transport.Listener(nil), s.listeners...)
	acceptCtx, workerCtx := s.acceptCtx, s.workerCtx
	s.accepting.Add(len(listeners))
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		if err := s.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
			s.logger.Error("stop failed", "error", err)
		}
	})
	defer stop()

	var wg sync.WaitGroup
	for _, ln := range listeners {
		wg.Add(1)
		go func(ln transport.Listener) {
			defer wg.Done()
			defer s.accepting.Done()
			s.acceptLoop(acceptCtx, workerCtx, ln)
		}(ln)
	}
	wg.Wait()
	return nil
}

func (s *Server) acceptLoop(ctx, workerCtx context.Context, ln transport.Listener) {
	var backoff time.Duration
	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if !s.isRunning() || ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}

			metrics.AcceptError()
			backoff = nextBackoff(backoff)
			s.logger.Error("accept failed", "transport", ln.Name(), "error", err, "retry_in", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			continue
		}
		backoff = 0
		s.serve(workerCtx, ln.Name(), conn)
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return minAcceptBackoff
	}
	d *= 2
	if d > maxAcceptBackoff {
		d = maxAcceptBackoff
	}
	return d
}

func (s *Server) serve(ctx context.Context, name string, conn transport.Conn) {
	sess := s.registry.Add(conn, conn.RemoteAddr(), name)
	logger := s.logger.With("session_id", sess.ID, "remote_addr", sess.RemoteAddr, "transport", name)

	metrics.ConnectionOpened(name)
	logger.Info("client connected")

	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		defer metrics.ConnectionClosed(name)
		defer s.registry.Remove(sess.ID)

		peer := session.Peer{ID: sess.ID, RemoteAddr: conn.RemoteAddr(), Transport: name}
		w := session.NewWorker(conn, peer, s.handler, s.engine, logger)
		if err := w.Run(ctx); err != nil {
			logger.Warn("session ended with error", "error", err)
		}
		logger.Info("connection closed")
	}()
}

func (s *Server) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stop closes every endpoint so blocked accepts return and Run exits.
// In-flight sessions keep running.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.running = false
	listeners := s.listeners
	s.listeners = nil
	metricsSrv := s.metricsSrv
	s.metricsSrv, s.metricsLn = nil, nil
	watcher := s.watcher
	s.watcher = nil
	s.stopAccept()
	s.mu.Unlock()

	errs := closeAll(listeners)
	if metricsSrv != nil {
		if err := metricsSrv.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if watcher != nil {
		if err := watcher.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	s.logger.Info("server stopped")
	return errors.Join(errs...)
}

// Shutdown stops accepting and waits for every worker to finish. When ctx
// expires first, the remaining connections are closed, the workers are
// awaited, and ctx's error is returned.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
		return err
	}

	if n := s.registry.Count(); n > 0 {
		s.logger.Info("waiting for sessions", "count", n)
	}
	done := make(chan struct{})
	go func() {
		s.accepting.Wait()
		s.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		s.cancelWorkers()
		s.mu.Unlock()
		n := s.registry.CloseAll()
		s.logger.Warn("closed remaining sessions", "count", n)
		<-done
		return ctx.Err()
	}
}

// Addr is the bound TCP address, or nil when the server is not running.
func (s *Server) Addr() net.Addr {
	return s.AddrOf(transport.NameTCP)
}

// AddrOf is the bound address of the named endpoint, or nil.
func (s *Server) AddrOf(name string) net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ln := range s.listeners {
		if ln.Name() == name {
			return ln.Addr()
		}
	}
	return nil
}

// MetricsAddr is the bound metrics address, or nil.
func (s *Server) MetricsAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.metricsLn == nil {
		return nil
	}
	return s.metricsLn.Addr()
}

// Sessions lists the live sessions.
func (s *Server) Sessions() []session.Session {
	return s.registry.List()
}

func closeAll(listeners []transport.Listener) []error {
	var errs []error
	for _, ln := range listeners {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, fmt.Errorf("close %s listener: %w", ln.Name(), err))
		}
	}
	return errs
}
