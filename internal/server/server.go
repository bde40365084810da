// Package server exposes the market engine over HTTP and WebSocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/btorressz/milestone-amm/internal/domain"
	"github.com/btorressz/milestone-amm/internal/server/handler"
	"github.com/btorressz/milestone-amm/internal/server/middleware"
	"github.com/btorressz/milestone-amm/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // plain API key; empty disables auth unless a hash is set
	APIKeyHash  string // bcrypt hash of the API key; takes precedence over APIKey

	// RateLimit caps requests per client IP per RateWindow; zero disables.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health     *handler.HealthHandler
	Markets    *handler.MarketHandler
	Trades     *handler.TradeHandler
	Settlement *handler.SettlementHandler
	Positions  *handler.PositionHandler
}

// Server is the HTTP + WebSocket API server for the market engine.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered. limiter may be nil
// to disable rate limiting regardless of config.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Market lifecycle and admin.
	mux.HandleFunc("POST /api/markets", handlers.Markets.InitMarket)
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("PATCH /api/markets/{id}", handlers.Markets.UpdateMarket)
	mux.HandleFunc("POST /api/markets/{id}/pause", handlers.Markets.PauseMarket)
	mux.HandleFunc("POST /api/markets/{id}/seed", handlers.Markets.SeedMarket)

	// Trading.
	mux.HandleFunc("POST /api/markets/{id}/buy", handlers.Trades.Buy)
	mux.HandleFunc("POST /api/markets/{id}/sell", handlers.Trades.Sell)
	mux.HandleFunc("GET /api/markets/{id}/quote", handlers.Trades.QuoteBuy)
	mux.HandleFunc("GET /api/markets/{id}/price", handlers.Trades.GetPrice)
	mux.HandleFunc("GET /api/markets/{id}/fills", handlers.Trades.ListFills)

	// Settlement.
	mux.HandleFunc("POST /api/markets/{id}/resolve", handlers.Settlement.Resolve)
	mux.HandleFunc("POST /api/markets/{id}/redeem", handlers.Settlement.Redeem)

	// Positions.
	mux.HandleFunc("GET /api/markets/{id}/positions", handlers.Positions.ListPositions)
	mux.HandleFunc("GET /api/markets/{id}/positions/{user}", handlers.Positions.GetPosition)
	mux.HandleFunc("GET /api/users/{user}/fills", handlers.Positions.ListUserFills)

	// WebSocket event feed.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Middleware chain, innermost first.
	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, cfg.APIKeyHash)(h)
	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateWindow
		if window <= 0 {
			window = time.Second
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window)(h)
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
