// Package api serves the operational HTTP endpoints of the wallet engine:
// liveness, readiness and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apimiddleware "github.com/0xmhha/tokenwallet-go/pkg/api/middleware"
)

// ReadinessCheck returns nil when the named dependency can serve.
type ReadinessCheck func(ctx context.Context) error

type namedCheck struct {
	name  string
	check ReadinessCheck
}

// Server represents the API server
type Server struct {
	config   *Config
	logger   *zap.Logger
	gatherer prometheus.Gatherer
	router   *chi.Mux
	server   *http.Server
	started  time.Time

	mu     sync.RWMutex
	checks []namedCheck
}

// NewServer creates a server exposing the metrics of gatherer.
func NewServer(config *Config, logger *zap.Logger, gatherer prometheus.Gatherer) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		config:   config,
		logger:   logger,
		gatherer: gatherer,
		router:   chi.NewRouter(),
		started:  time.Now(),
	}
	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         config.Address(),
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s, nil
}

// AddReadinessCheck registers a dependency consulted by /ready.
func (s *Server) AddReadinessCheck(name string, check ReadinessCheck) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks = append(s.checks, namedCheck{name: name, check: check})
}

func (s *Server) setupMiddleware() {
	s.router.Use(apimiddleware.Recovery(s.logger))
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(apimiddleware.Logger(s.logger))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/ready", s.handleReady)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("starting API server", zap.String("address", s.config.Address()))

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping API server")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info("API server stopped gracefully")
	return nil
}

// Router returns the chi router
func (s *Server) Router() *chi.Mux {
	return s.router
}
