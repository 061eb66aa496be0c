// Package server provides the HTTP host for voicenote.
//
// The host owns the Echo instance, panic recovery, the health and
// Prometheus endpoints, and context-aware graceful shutdown. API routes are
// mounted onto Echo() by the caller.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/fyrsmithlabs/voicenote/internal/config"
	"github.com/fyrsmithlabs/voicenote/internal/logging"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Health status values.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
)

// HealthCheck reports a dependency problem, or nil when healthy.
type HealthCheck func(ctx context.Context) error

// Server represents the HTTP server.
type Server struct {
	config  *config.Config
	echo    *echo.Echo
	logger  *logging.Logger
	checks  map[string]HealthCheck
	order   []string
	metrics http.Handler
}

// HealthResponse is the JSON response for /health endpoint.
type HealthResponse struct {
	Status  string            `json:"status"`
	Service string            `json:"service"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithHealthCheck adds a named check to /health. Any failing check turns
// the response into 503 degraded.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *Server) {
		if _, ok := s.checks[name]; !ok {
			s.order = append(s.order, name)
		}
		s.checks[name] = check
	}
}

// WithMetricsHandler replaces the default Prometheus handler on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// NewServer creates a new HTTP server with the given configuration.
//
// The server includes:
//   - Echo router with panic recovery
//   - Health check endpoint at GET /health
//   - Prometheus metrics at GET /metrics
//   - Graceful shutdown support
//
// Example:
//
//	cfg, _ := config.Load()
//	srv := server.NewServer(cfg, server.WithLogger(logger))
//	if err := srv.Start(ctx); err != nil && err != http.ErrServerClosed {
//	    log.Fatal(err)
//	}
func NewServer(cfg *config.Config, opts ...Option) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		config:  cfg,
		echo:    e,
		logger:  logging.NewNop(),
		checks:  make(map[string]HealthCheck),
		metrics: promhttp.Handler(),
	}
	for _, opt := range opts {
		opt(s)
	}

	e.Use(middleware.Recover())
	s.registerRoutes()

	return s
}

// registerRoutes registers all HTTP routes.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(s.metrics))
}

// handleHealth handles GET /health requests.
func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{
		Status:  StatusOK,
		Service: s.config.Observability.ServiceName,
	}
	status := http.StatusOK

	ctx := c.Request().Context()
	for _, name := range s.order {
		if resp.Checks == nil {
			resp.Checks = make(map[string]string, len(s.order))
		}
		if err := s.checks[name](ctx); err != nil {
			s.logger.Warn(ctx, "health check failed", zap.String("check", name), zap.Error(err))
			resp.Checks[name] = err.Error()
			resp.Status = StatusDegraded
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = StatusOK
	}

	return c.JSON(status, resp)
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Server.Host, strconv.Itoa(s.config.Server.Port))
}

// Start starts the HTTP server and blocks until context is cancelled.
//
// When the context is cancelled, the server performs graceful shutdown
// with the configured timeout. Returns http.ErrServerClosed on graceful
// shutdown, or any other error encountered during startup or shutdown.
func (s *Server) Start(ctx context.Context) error {
	addr := s.Addr()

	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()
	s.logger.Info(ctx, "http server listening", zap.String("addr", addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			s.config.Server.ShutdownTimeout.Duration(),
		)
		defer cancel()

		s.logger.Info(shutdownCtx, "shutting down http server")
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}

		return http.ErrServerClosed
	}
}

// Echo returns the underlying Echo instance for registering additional routes.
//
// Example:
//
//	srv := server.NewServer(cfg)
//	api.Register(srv.Echo())
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
