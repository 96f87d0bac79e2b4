// Package server exposes the journal over HTTP and WebSocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/perptools/journal/internal/domain"
	"github.com/perptools/journal/internal/server/handler"
	"github.com/perptools/journal/internal/server/middleware"
	"github.com/perptools/journal/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string             // if empty, authentication is disabled
	Limiter     domain.RateLimiter // if nil, per-client rate limiting is disabled
	RateLimit   int                // requests per minute per client IP
}

// Handlers aggregates all HTTP handlers the server registers.
type Handlers struct {
	Health *handler.HealthHandler
	Trades *handler.TradeHandler
	Stats  *handler.StatsHandler
	Sync   *handler.SyncHandler
}

// Server is the headless HTTP + WebSocket API server for the journal.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered on the ServeMux and
// the middleware chain (logging, CORS, auth) applied.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Trade endpoints.
	mux.HandleFunc("GET /api/trades", handlers.Trades.ListTrades)
	mux.HandleFunc("GET /api/trades/{id}", handlers.Trades.GetTrade)
	mux.HandleFunc("GET /api/trades/{id}/series", handlers.Trades.GetTradeSeries)
	mux.HandleFunc("GET /api/liquidations", handlers.Trades.ListLiquidations)

	// Statistics endpoints.
	mux.HandleFunc("GET /api/stats/summary", handlers.Stats.GetSummary)
	mux.HandleFunc("GET /api/stats/symbols", handlers.Stats.GetSymbolBreakdown)
	mux.HandleFunc("GET /api/stats/distribution", handlers.Stats.GetDistribution)
	mux.HandleFunc("GET /api/stats/time", handlers.Stats.GetTimePerformance)

	// Manual reprocess trigger.
	mux.HandleFunc("POST /api/sync/process", handlers.Sync.TriggerProcess)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	if cfg.Limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(cfg.Limiter, cfg.RateLimit, time.Minute)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
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
