package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/copilfi/copil-sub001/internal/domain"
	"github.com/copilfi/copil-sub001/internal/observability"
	"github.com/copilfi/copil-sub001/internal/server/handler"
	"github.com/copilfi/copil-sub001/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port int
	// ServiceToken guards the internal execute endpoint; empty disables auth
	// (local development only).
	ServiceToken string
	// RateLimit caps execute calls per client IP per RateWindow; 0 disables
	// the middleware.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Execute *handler.ExecuteHandler
	Health  *handler.HealthHandler
}

// Server is the internal HTTP API: transaction execution for the evaluator
// plus health and metrics for operators.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer registers all routes and builds the middleware chain. Health and
// metrics stay open; the execute endpoint sits behind the service token and,
// when a limiter is supplied, per-client rate limiting. Modes that run no
// execution service pass a nil Execute handler and only expose health and
// metrics.
func NewServer(cfg Config, handlers Handlers, metrics *observability.Metrics, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.Handle("GET /metrics", metrics.Handler())

	if handlers.Execute != nil {
		var execute http.Handler = http.HandlerFunc(handlers.Execute.Execute)
		execute = middleware.Auth(cfg.ServiceToken)(execute)
		if limiter != nil && cfg.RateLimit > 0 {
			window := cfg.RateWindow
			if window <= 0 {
				window = time.Minute
			}
			execute = middleware.RateLimit(limiter, cfg.RateLimit, window)(execute)
		}
		mux.Handle("POST /transaction/execute/internal", execute)
	}

	h := middleware.Logging(logger, metrics)(mux)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		handler:    h,
		logger:     logger,
	}
}

// Handler exposes the full middleware-wrapped handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
