package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/marcus/assetlock/internal/lockdb"
	"github.com/marcus/assetlock/internal/webhook"
)

// Server is the HTTP Lock Store service.
type Server struct {
	config      Config
	http        *http.Server
	store       *lockdb.LockDB
	hub         *Hub
	metrics     *Metrics
	rateLimiter *RateLimiter
	webhook     *webhook.Dispatcher // nil when no webhook URL is configured
	cancel      context.CancelFunc
	addr        net.Addr
}

// NewServer creates a new Server with the given config and store.
func NewServer(cfg Config, store *lockdb.LockDB) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("lock store is required")
	}
	s := &Server{
		config:      cfg,
		store:       store,
		hub:         NewHub(),
		metrics:     NewMetrics(),
		rateLimiter: NewRateLimiter(),
	}
	if cfg.WebhookURL != "" {
		s.webhook = webhook.NewDispatcher(cfg.WebhookURL, cfg.WebhookSecret, slog.Default())
	}

	s.http = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Addr returns the bound listener address once started.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Start begins listening for HTTP requests (non-blocking).
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.addr = ln.Addr()

	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("http server", "err", err)
		}
	}()

	// Periodically prune lock history past retention
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.cleanupLoop(ctx)

	return nil
}

func (s *Server) cleanupLoop(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("cleanup panic", "panic", r)
		}
	}()
	interval := s.config.CleanupInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pruneHistory()
		}
	}
}

func (s *Server) pruneHistory() {
	if s.config.HistoryRetention <= 0 {
		return
	}
	n, err := s.store.CleanupEvents(s.config.HistoryRetention)
	if err != nil {
		slog.Error("cleanup lock events", "err", err)
	} else if n > 0 {
		slog.Info("cleaned up lock events", "count", n)
	}
}

// Shutdown gracefully stops the server and disconnects event subscribers.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	s.hub.CloseAll()
	err := s.http.Shutdown(ctx)
	s.rateLimiter.Close()
	if s.webhook != nil {
		if werr := s.webhook.Close(ctx); werr != nil {
			slog.Warn("webhook drain", "err", werr)
		}
	}
	return err
}

// routes builds the HTTP handler with all routes and middleware.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Health & metrics
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /metricz", s.handleMetrics)

	// Lock store
	mux.HandleFunc("POST /lock", s.handleLock)
	mux.HandleFunc("POST /unlock", s.handleUnlock)
	mux.HandleFunc("GET /lockedAssets", s.handleLockedAssets)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /history", s.handleHistory)
	mux.HandleFunc("GET /events", s.handleEvents)

	// Admin
	mux.HandleFunc("GET /admin/locks", s.requireAdmin(s.handleAdminListLocks))
	mux.HandleFunc("DELETE /admin/locks", s.requireAdmin(s.handleAdminForceUnlock))

	return chain(mux, recoveryMiddleware, requestIDMiddleware, loggerMiddleware, metricsMiddleware(s.metrics), loggingMiddleware, maxBytesMiddleware(1<<20), ipRateLimitMiddleware(s.rateLimiter, s.config.RateLimit))
}

// handleHealth returns a health check response, pinging the lock DB.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "detail": "db unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleMetrics returns a snapshot of server metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snap := s.metrics.Snapshot()
	snap.EventClients = s.hub.Count()
	writeJSON(w, http.StatusOK, snap)
}
