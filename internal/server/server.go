package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"instashim/internal/config"
	"instashim/internal/logging"
	"instashim/internal/metrics"
	"instashim/internal/preflight"
	"instashim/internal/shim"
)

const (
	statusPath   = "/_shim/status"
	metricsPath  = "/_shim/metrics"
	healthPath   = "/_shim/healthz"
	installPath  = "/_shim/install"
	workerPath   = "/sw.js"
	readTimeout  = 30 * time.Second
	idleTimeout  = 60 * time.Second
	shutdownWait = 5 * time.Second
)

// ErrAlreadyRunning is returned when another server holds the cache lock.
var ErrAlreadyRunning = errors.New("another instashim server is already using this cache database")

// Server hosts the shim worker and its control endpoints.
type Server struct {
	cfg     *config.Config
	worker  *shim.Worker
	metrics *metrics.Metrics
	logger  *slog.Logger

	lockPath string
	lock     *flock.Flock

	mu       sync.Mutex
	addr     atomic.Value
	listener net.Listener
	server   *http.Server
	serveErr chan error
	running  bool
	bg       sync.WaitGroup
}

// New builds a server for worker. Metrics may be nil.
func New(cfg *config.Config, worker *shim.Worker, m *metrics.Metrics, logger *slog.Logger) (*Server, error) {
	if cfg == nil || worker == nil {
		return nil, errors.New("server requires config and worker")
	}
	lockPath := cfg.LockPath()
	s := &Server{
		cfg:      cfg,
		worker:   worker,
		metrics:  m,
		logger:   logging.NewComponentLogger(logger, "server"),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}

	readHeader := time.Duration(cfg.Server.ReadHeaderTimeoutSeconds) * time.Second
	if readHeader <= 0 {
		readHeader = 5 * time.Second
	}
	write := time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second
	if write <= 0 {
		write = 60 * time.Second
	}
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeader,
		ReadTimeout:       readTimeout,
		WriteTimeout:      write,
		IdleTimeout:       idleTimeout,
	}
	return s, nil
}

// Handler returns the full middleware-wrapped route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+workerPath, s.handleServiceWorker)
	mux.HandleFunc("GET "+statusPath, s.handleStatus)
	mux.HandleFunc("GET "+healthPath, s.handleHealth)
	mux.HandleFunc("POST "+installPath, authMiddleware(s.cfg.Server.APIToken, s.handleInstall))
	if s.metrics != nil {
		mux.Handle("GET "+metricsPath, s.metrics.Handler())
	}
	mux.HandleFunc("/", s.handleFetch)

	var handler http.Handler = mux
	handler = s.metrics.Middleware(metricsPath)(handler)
	handler = requestIDMiddleware(handler)
	return handler
}

// Start acquires the cache lock, begins listening, and installs the precache
// in the background. Requests arriving before activation go to the origin.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("server already running")
	}

	if err := s.cfg.EnsureDirectories(); err != nil {
		return err
	}
	ok, err := s.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w (lock %s)", ErrAlreadyRunning, s.lockPath)
	}

	listener, err := net.Listen("tcp", s.cfg.Bind())
	if err != nil {
		_ = s.lock.Unlock()
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = listener
	s.addr.Store(listener.Addr().String())
	s.serveErr = make(chan error, 1)
	s.running = true

	go func() {
		err := s.server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error",
				logging.String(logging.FieldEventType, "server_failed"),
				logging.Error(err),
			)
			s.serveErr <- err
		}
		close(s.serveErr)
	}()

	s.logger.Info("shim listening",
		logging.String(logging.FieldEventType, "server_started"),
		logging.String("address", listener.Addr().String()),
		logging.String("origin", s.cfg.Server.Origin),
		logging.String("lock", s.lockPath),
	)

	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		s.runPreflight(ctx)
		s.worker.Start(ctx)
	}()
	return nil
}

func (s *Server) runPreflight(ctx context.Context) {
	for _, result := range preflight.Failed(preflight.RunAll(ctx, s.cfg)) {
		logging.WarnWithContext(s.logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldErrorHint, "verify server.origin and the cache directory"),
			logging.String(logging.FieldImpact, "precache install may fail"),
		)
	}
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	addr, _ := s.addr.Load().(string)
	return addr
}

// Stop shuts the HTTP server down, waits for background work and releases
// the cache lock.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	timeout := s.cfg.ShutdownTimeout()
	if timeout <= 0 {
		timeout = shutdownWait
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http shutdown incomplete", logging.Error(err))
	}
	s.bg.Wait()
	if err := s.worker.Wait(shutdownCtx); err != nil {
		s.logger.Warn("background revalidations still running at shutdown", logging.Error(err))
	}
	if err := s.lock.Unlock(); err != nil {
		s.logger.Warn("failed to release lock", logging.Error(err))
	}
	s.listener = nil
	s.addr.Store("")
	s.running = false
	s.logger.Info("shim stopped", logging.String(logging.FieldEventType, "server_stopped"))
}

// Run starts the server and blocks until ctx is cancelled or serving fails.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	defer s.Stop()

	select {
	case <-ctx.Done():
		return nil
	case err, ok := <-s.serveErr:
		if ok && err != nil {
			return err
		}
		return nil
	}
}

func pid() int {
	return os.Getpid()
}
