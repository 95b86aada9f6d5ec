package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"jobmail/internal/auth"
	"jobmail/internal/config"
	"jobmail/internal/handlers"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
)

// Server exposes health checks and run/stats/reset endpoints over HTTP
type Server struct {
	echo      *echo.Echo
	db        *sqlx.DB
	processor handlers.Processor
	provider  string
	config    *config.Config
	logger    zerolog.Logger
	running   sync.Mutex
}

// New creates a new server instance
func New(cfg *config.Config, db *sqlx.DB, p handlers.Processor, provider string, logger zerolog.Logger) *Server {
	return &Server{
		config:    cfg,
		db:        db,
		processor: p,
		provider:  provider,
		logger:    logger,
	}
}

// zerologMiddleware creates a zerolog-based logging middleware for Echo
func (s *Server) zerologMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			s.logger.Info().
				Str("method", req.Method).
				Str("uri", req.RequestURI).
				Str("remote_ip", c.RealIP()).
				Int("status", res.Status).
				Int64("latency_ms", time.Since(start).Milliseconds()).
				Str("user_agent", req.UserAgent()).
				Msg("HTTP request")

			return err
		}
	}
}

// Initialize sets up the Echo framework with middleware and routes
func (s *Server) Initialize() {
	s.echo = echo.New()

	s.echo.Use(s.zerologMiddleware())
	s.echo.Use(middleware.Recover())

	s.echo.HideBanner = true
	s.echo.HidePort = true

	s.setupRoutes()
}

func (s *Server) setupRoutes() {
	// Health endpoints (keep at root level for monitoring)
	s.echo.GET("/healthz", handlers.HealthHandler(s.config.Version, s.provider))
	s.echo.GET("/healthz/db", handlers.DBHealthHandler(s.db))

	// middleware goes on each route; group middleware would turn a wrong
	// method into 404 instead of 405
	requireToken := auth.NewManager(s.config.APIToken, s.logger).Middleware()
	api := s.echo.Group("/api")
	api.GET("/", handlers.RootHandler(s.config.Version), requireToken)
	api.GET("/stats", handlers.StatsHandler(s.processor), requireToken)
	api.POST("/run", handlers.RunHandler(s.processor, &s.running, s.logger), requireToken)
	api.POST("/reset", handlers.ResetHandler(s.processor, &s.running, s.logger), requireToken)
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info().Str("port", s.config.Port).Msg("Server starting")

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.echo.Start(":" + s.config.Port)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Msg("Server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.echo.Shutdown(shutdownCtx)
}
