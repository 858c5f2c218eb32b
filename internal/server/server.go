// Package server wires the HTTP API and websocket hub into one http.Server.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/tradefeed/internal/server/handler"
	"github.com/alanyoungcy/tradefeed/internal/server/middleware"
	"github.com/alanyoungcy/tradefeed/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Status    *handler.StatusHandler
	Market    *handler.MarketHandler
	Portfolio *handler.PortfolioHandler
}

// Server is the HTTP + WebSocket API front end for the trade feed service.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS) and attaches the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// --- Register routes ---

	// Health and status.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	// Market data endpoints.
	mux.HandleFunc("GET /api/quotes", handlers.Market.ListQuotes)
	mux.HandleFunc("GET /api/quotes/{symbol}", handlers.Market.GetQuote)
	mux.HandleFunc("GET /api/instruments", handlers.Market.ListInstruments)
	mux.HandleFunc("GET /api/instruments/{symbol}", handlers.Market.GetInstrument)
	mux.HandleFunc("GET /api/instruments/{symbol}/bars", handlers.Market.ListBars)

	// Watchlist endpoints.
	mux.HandleFunc("POST /api/watchlist", handlers.Market.WatchSymbol)
	mux.HandleFunc("DELETE /api/watchlist/{symbol}", handlers.Market.UnwatchSymbol)

	// Portfolio ledger endpoints.
	mux.HandleFunc("GET /api/portfolio", handlers.Portfolio.GetSummary)
	mux.HandleFunc("GET /api/portfolio/holdings/{symbol}", handlers.Portfolio.GetHolding)
	mux.HandleFunc("POST /api/portfolio/buy", handlers.Portfolio.Buy)
	mux.HandleFunc("POST /api/portfolio/sell", handlers.Portfolio.Sell)
	mux.HandleFunc("POST /api/portfolio/deposit", handlers.Portfolio.Deposit)
	mux.HandleFunc("POST /api/portfolio/withdraw", handlers.Portfolio.Withdraw)
	mux.HandleFunc("GET /api/portfolio/transactions", handlers.Portfolio.ListTransactions)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	// Apply request logging middleware.
	h = middleware.Logging(logger)(h)

	// Apply CORS middleware.
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
