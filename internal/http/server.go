// Package http provides the status and operator API for signald.
package http

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/signald/internal/breaker"
	"github.com/fyrsmithlabs/signald/internal/consensus"
	"github.com/fyrsmithlabs/signald/internal/discovery"
	"github.com/fyrsmithlabs/signald/internal/governor"
	"github.com/fyrsmithlabs/signald/internal/scheduler"
	"github.com/fyrsmithlabs/signald/internal/store"
	"github.com/fyrsmithlabs/signald/internal/telemetry"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Discovery is the discovery surface the API drives.
type Discovery interface {
	GetSummary(ctx context.Context) (discovery.Summary, error)
	Candidates(ctx context.Context, statuses ...store.Status) ([]store.Candidate, error)
	Approve(ctx context.Context, identity, reason string) (store.Candidate, error)
	Reject(ctx context.Context, identity, reason string) (store.Candidate, error)
}

// Consensus is the consensus surface the API reads.
type Consensus interface {
	Detect(ctx context.Context, topic string, window time.Duration) ([]consensus.Signal, error)
	DetectShift(ctx context.Context, topic string, days int) (*consensus.Shift, error)
}

// QuotaReporter reports quota utilization.
type QuotaReporter interface {
	Status() []governor.ResourceStatus
}

// CircuitReporter reports circuit states.
type CircuitReporter interface {
	Snapshot() []breaker.Snapshot
}

// LoopReporter reports background loop health and runs a loop on demand.
type LoopReporter interface {
	Status() []scheduler.LoopStatus
	RunNow(ctx context.Context, name string) error
}

// TelemetryReporter reports exporter health.
type TelemetryReporter interface {
	Health() telemetry.HealthStatus
}

// Deps are the components behind the API. Any may be nil: the endpoints that
// need it answer 503 and the status section reports it unavailable.
type Deps struct {
	Discovery Discovery
	Consensus Consensus
	Quotas    QuotaReporter
	Circuits  CircuitReporter
	Loops     LoopReporter
	Telemetry TelemetryReporter
}

// Server provides HTTP endpoints for signald.
type Server struct {
	echo    *echo.Echo
	deps    Deps
	logger  *zap.Logger
	config  *Config
	metrics *HTTPMetrics
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, logger *zap.Logger, cfg *Config) (*Server, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9191,
		}
	}

	metrics := NewHTTPMetrics(logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = sonicSerializer{}

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(metrics.MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Debug("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:    e,
		deps:    deps,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/status", s.handleStatus)
	v1.GET("/discovery/summary", s.handleSummary)
	v1.GET("/candidates", s.handleCandidates)
	v1.POST("/candidates/:identity/approve", s.handleApprove)
	v1.POST("/candidates/:identity/reject", s.handleReject)
	v1.GET("/consensus/:topic", s.handleConsensus)
	v1.GET("/consensus/:topic/shift", s.handleShift)
	v1.POST("/loops/:name/run", s.handleRunLoop)
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() *echo.Echo {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
