// Package httpapi provides the HTTP API for vectord.
package httpapi

import (
	"context"
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vectord/internal/engine"
	"github.com/fyrsmithlabs/vectord/internal/logging"
	"github.com/fyrsmithlabs/vectord/internal/tenant"
)

// TenantHeader carries the caller's tenant scope. Requests without it still
// reach the engine, which fails closed on tenant-scoped operations.
const TenantHeader = "X-Tenant-ID"

// Server provides HTTP endpoints for vectord.
type Server struct {
	echo   *echo.Echo
	engine *engine.Engine
	logger *zap.Logger
	config *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server.
func NewServer(eng *engine.Engine, logger *zap.Logger, cfg *Config) (*Server, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8480,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(scopeMiddleware)
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			observeRequest(c.Request().Method, c.Path(), c.Response().Status, duration)

			return err
		}
	})

	s := &Server{
		echo:   e,
		engine: eng,
		logger: logger,
		config: cfg,
	}

	// Register routes
	s.registerRoutes()

	return s, nil
}

// scopeMiddleware moves the tenant header and the request id into the request
// context, where the engine and the logger find them.
func scopeMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		ctx := req.Context()

		if tenantID := req.Header.Get(TenantHeader); tenantID != "" {
			ctx = tenant.NewContext(ctx, &tenant.Info{TenantID: tenantID})
		}
		if requestID := c.Response().Header().Get(echo.HeaderXRequestID); requestID != "" {
			ctx = logging.WithRequestID(ctx, requestID)
		}

		c.SetRequest(req.WithContext(ctx))
		return next(c)
	}
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	s.echo.POST("/collections", s.handleCreateCollection)
	s.echo.GET("/collections", s.handleListCollections)
	s.echo.GET("/collections/:id", s.handleCollectionInfo)
	s.echo.POST("/collections/:id/vectors", s.handleInsert)
	s.echo.DELETE("/collections/:id/vectors/:vector_id", s.handleDelete)
	s.echo.POST("/collections/:id/search", s.handleSearch)
	s.echo.POST("/collections/:id/rebuild", s.handleRebuild)
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
