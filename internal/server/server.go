// Package server assembles the HTTP API: routes, middleware chain, and
// the WebSocket endpoint.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/percmarket/percolator-markets/internal/domain"
	"github.com/percmarket/percolator-markets/internal/server/handler"
	"github.com/percmarket/percolator-markets/internal/server/middleware"
	"github.com/percmarket/percolator-markets/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health     *handler.HealthHandler
	Markets    *handler.MarketHandler
	Positions  *handler.PositionHandler
	Settlement *handler.SettlementHandler
	Protocol   *handler.ProtocolHandler
	Events     *handler.EventsHandler
}

// Server is the HTTP + WebSocket API server of the settlement engine.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers all routes on a ServeMux and wires the middleware
// chain: CORS, then signature auth, then request logging. A nil verifier
// disables authentication.
func NewServer(cfg Config, handlers Handlers, verifier middleware.Verifier, clock domain.Clock, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Market lifecycle.
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("POST /api/markets", handlers.Markets.CreateMarket)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("POST /api/markets/{id}/bets", handlers.Markets.PlaceBet)
	mux.HandleFunc("POST /api/markets/{id}/resolve", handlers.Markets.ResolveMarket)
	mux.HandleFunc("POST /api/markets/{id}/cancel", handlers.Markets.CancelMarket)

	// Settlement.
	mux.HandleFunc("POST /api/markets/{id}/settle", handlers.Settlement.Settle)
	mux.HandleFunc("POST /api/markets/{id}/refund", handlers.Settlement.ClaimRefund)

	// Positions and tokens.
	mux.HandleFunc("GET /api/markets/{id}/positions", handlers.Markets.ListMarketPositions)
	mux.HandleFunc("GET /api/markets/{id}/tokens", handlers.Positions.TokenBalance)
	mux.HandleFunc("GET /api/positions", handlers.Positions.ListMine)

	// Protocol state and audit trail.
	mux.HandleFunc("GET /api/protocol", handlers.Protocol.GetProtocol)
	mux.HandleFunc("GET /api/audit", handlers.Protocol.ListAudit)

	// Durable event-stream replay.
	mux.HandleFunc("GET /api/events", handlers.Events.Replay)

	// WebSocket event feed.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Logging sits innermost so it sees the verified caller identity.
	var h http.Handler = mux
	h = middleware.Logging(logger)(h)
	h = middleware.Auth(verifier, clock)(h)
	h = corsMiddleware(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
	}
}

// Start begins serving. It blocks until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// corsMiddleware sets CORS headers for allowed origins. No configured
// origins means all origins are allowed.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" {
				allowed := len(allowedOrigins) == 0
				for _, o := range allowedOrigins {
					if strings.EqualFold(o, "*") || strings.EqualFold(o, origin) {
						allowed = true
						break
					}
				}

				if allowed {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers",
						"Content-Type, X-Perc-Address, X-Perc-Timestamp, X-Perc-Signature")
					w.Header().Set("Access-Control-Max-Age", "86400")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
