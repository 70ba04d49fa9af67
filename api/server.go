// Package api provides the admin HTTP API of manageusers
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/memtensor/manageusers/pkg/config"
	"github.com/memtensor/manageusers/pkg/interfaces"
	"github.com/memtensor/manageusers/pkg/metrics"
	"github.com/memtensor/manageusers/pkg/users"
)

// AccountService is the account functionality the API exposes
type AccountService interface {
	Reconcile(ctx context.Context, id users.Identity, desired users.DesiredState) (*users.Outcome, error)
	GetUserByName(ctx context.Context, username string) (*users.User, error)
	ListUsers(ctx context.Context, limit, offset int) ([]users.User, int64, error)
	CreateGroup(ctx context.Context, name, description string) (*users.Group, error)
	ListGroups(ctx context.Context) ([]users.Group, error)
	HealthCheck(ctx context.Context) error
}

// Server represents the API server instance
type Server struct {
	service   AccountService
	config    config.APIConfig
	logger    interfaces.Logger
	metrics   interfaces.Metrics
	gatherer  prometheus.Gatherer
	tokens    *TokenIssuer
	router    *gin.Engine
	server    *http.Server
	version   string
	startedAt time.Time
}

// ServerOption configures a Server
type ServerOption func(*Server)

// WithPrometheus records request metrics into m and serves them on /metrics
func WithPrometheus(m *metrics.PrometheusMetrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = m.Registry()
	}
}

// WithVersion sets the version reported by /health
func WithVersion(version string) ServerOption {
	return func(s *Server) { s.version = version }
}

// NewServer creates a new API server instance
func NewServer(service AccountService, cfg config.APIConfig, logger interfaces.Logger, opts ...ServerOption) (*Server, error) {
	tokens, err := NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		return nil, err
	}

	s := &Server{
		service:   service,
		config:    cfg,
		logger:    logger.WithFields(map[string]interface{}{"component": "api"}),
		metrics:   metrics.NewNoOpMetrics(),
		tokens:    tokens,
		router:    gin.New(),
		version:   "dev",
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupMiddleware configures middleware for the server
func (s *Server) setupMiddleware() {
	// Recovery middleware
	s.router.Use(gin.Recovery())

	// Request ID middleware
	s.router.Use(s.requestIDMiddleware())

	// Custom logging middleware
	s.router.Use(s.loggingMiddleware())
	s.router.Use(s.metricsMiddleware())

	// CORS middleware
	if len(s.config.AllowedOrigins) > 0 {
		s.router.Use(s.corsMiddleware())
	}

	// Authentication middleware for protected routes
	s.router.Use(s.jwtAuthMiddleware())
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/openapi.json", s.getOpenAPISpec)
	if s.gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	v1 := s.router.Group("/api/v1")

	accounts := v1.Group("/accounts")
	{
		accounts.POST("/reconcile", s.requireScope(ScopeWrite), s.reconcileAccount)
		accounts.GET("", s.listAccounts)
		accounts.GET("/:username", s.getAccount)
	}

	groups := v1.Group("/groups")
	{
		groups.GET("", s.listGroups)
		groups.POST("", s.requireScope(ScopeWrite), s.createGroup)
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting API server", map[string]interface{}{
		"addr": addr,
		"mode": gin.Mode(),
	})

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	// Graceful shutdown
	s.logger.Info("Shutting down API server...")
	return s.Stop()
}

// Stop gracefully stops the API server
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}
