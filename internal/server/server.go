// Package server provides the ops HTTP endpoint of podwatch.
//
// It serves liveness, Prometheus metrics, the operator-invoked registry
// prune and read-only JSON views over the registry and derived scores.
// The aggregation loop runs independently; the server never drives it.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/xtxerr/podwatch/config"
	"github.com/xtxerr/podwatch/internal/insight"
	"github.com/xtxerr/podwatch/internal/logging"
	"github.com/xtxerr/podwatch/internal/metrics"
	"github.com/xtxerr/podwatch/internal/registry"
	"github.com/xtxerr/podwatch/internal/scheduler"
)

var log = logging.Component("server")

// =============================================================================
// Server Configuration
// =============================================================================

// Config holds server configuration.
type Config struct {
	// Listen is the address to listen on (e.g., "127.0.0.1:9464").
	Listen string

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration

	// PruneRetention is the age used by prune and graveyard requests
	// without ?days. Zero means the registry default.
	PruneRetention time.Duration
}

// HealthChecker reports whether the backing store is usable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// VantageLister reports the cross-cycle health of every vantage point.
type VantageLister interface {
	Vantages() []scheduler.VantageStatus
}

// Deps are the collaborators behind the routes. Metrics, Insight and
// Vantages may be nil; their routes are then not mounted.
type Deps struct {
	Health   HealthChecker
	Registry registry.Store
	Metrics  *metrics.Metrics
	Insight  *insight.Service
	Vantages VantageLister
	Clock    clock.Clock
}

// =============================================================================
// Server
// =============================================================================

// Server is the ops HTTP server.
type Server struct {
	cfg    Config
	deps   Deps
	router chi.Router

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	done       chan struct{}
}

// New creates a server. Routes are built immediately so Handler can be
// used without starting a listener.
func New(cfg Config, deps Deps) *Server {
	if cfg.Listen == "" {
		cfg.Listen = config.DefaultListenAddress
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = time.Duration(config.DefaultShutdownTimeoutSec) * time.Second
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}

	s := &Server{cfg: cfg, deps: deps}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())
	}

	r.Route("/admin", func(r chi.Router) {
		r.Post("/prune", s.handlePrune)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/graveyard", s.handleGraveyard)
		if s.deps.Vantages != nil {
			r.Get("/vantages", s.handleVantages)
		}

		if s.deps.Insight == nil {
			return
		}
		r.Route("/nodes/{address}", func(r chi.Router) {
			r.Get("/scores", s.handleNodeScores)
			r.Get("/alerts", s.handleNodeAlerts)
			r.Get("/consistency", s.handleNodeConsistency)
		})
		r.Route("/network", func(r chi.Router) {
			r.Get("/health", s.handleNetworkHealth)
			r.Get("/alerts", s.handleNetworkAlerts)
			r.Get("/consistency", s.handleConsistencySummary)
		})
	})

	s.router = r
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer != nil {
		return fmt.Errorf("server already started")
	}

	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Listen, err)
	}

	s.listener = ln
	s.done = make(chan struct{})
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info("ops server listening", "address", ln.Addr().String())

	srv, done := s.httpServer, s.done
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error("ops server stopped", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Listen
}

// Shutdown stops the server gracefully within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.httpServer, s.done
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	log.Info("shutting down ops server")
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	err := srv.Shutdown(ctx)
	<-done
	return err
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			log.Debug("request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start).String(),
				"request_id", chimiddleware.GetReqID(r.Context()))
		}()

		next.ServeHTTP(ww, r)
	})
}
