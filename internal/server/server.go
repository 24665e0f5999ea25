// Package server exposes the engine over HTTP and WebSocket: public event
// and stake endpoints, account endpoints, and operator endpoints behind the
// admin credential.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/quantfold/macropool/internal/crypto"
	"github.com/quantfold/macropool/internal/domain"
	"github.com/quantfold/macropool/internal/server/handler"
	"github.com/quantfold/macropool/internal/server/middleware"
	"github.com/quantfold/macropool/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	AdminCred   *crypto.Credential // nil disables admin authentication
	Limiter     domain.RateLimiter // nil disables API rate limiting
	RateLimit   int                // requests per second per client IP
}

// Handlers aggregates all HTTP handlers the server registers.
type Handlers struct {
	Health *handler.HealthHandler
	Events *handler.EventHandler
	Bets   *handler.BetHandler
	Users  *handler.UserHandler
	Admin  *handler.AdminHandler
}

// Server is the HTTP + WebSocket API server for the prediction pool engine.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered. Admin routes run
// behind the credential check; everything else is public behind the shared
// middleware chain.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Public event reads.
	mux.HandleFunc("GET /api/events", handlers.Events.ListEvents)
	mux.HandleFunc("GET /api/events/{id}", handlers.Events.GetEvent)
	mux.HandleFunc("GET /api/events/{id}/can-bet", handlers.Events.CanBet)

	// Stake lifecycle.
	mux.HandleFunc("POST /api/bets", handlers.Bets.PlaceStake)
	mux.HandleFunc("GET /api/bets", handlers.Bets.ListBets)
	mux.HandleFunc("GET /api/bets/{id}", handlers.Bets.GetBet)
	mux.HandleFunc("POST /api/bets/{id}/confirm", handlers.Bets.ConfirmStake)
	mux.HandleFunc("DELETE /api/bets/{id}", handlers.Bets.CancelStake)

	// Accounts.
	mux.HandleFunc("POST /api/users", handlers.Users.Connect)
	mux.HandleFunc("GET /api/users/me", handlers.Users.GetProfile)
	mux.HandleFunc("PUT /api/users/me", handlers.Users.UpdateProfile)
	mux.HandleFunc("GET /api/users/me/stats", handlers.Users.GetStats)
	mux.HandleFunc("GET /api/users/me/portfolio", handlers.Users.GetPortfolio)
	mux.HandleFunc("GET /api/leaderboard", handlers.Users.Leaderboard)

	// Operator endpoints behind the admin credential.
	admin := http.NewServeMux()
	admin.HandleFunc("POST /api/admin/events", handlers.Admin.CreateEvent)
	admin.HandleFunc("POST /api/admin/events/{id}/ranges", handlers.Admin.MaterializeRanges)
	admin.HandleFunc("POST /api/admin/events/{id}/open", handlers.Admin.OpenBetting)
	admin.HandleFunc("POST /api/admin/events/{id}/lock", handlers.Admin.LockEvent)
	admin.HandleFunc("POST /api/admin/events/{id}/outcome", handlers.Admin.PublishOutcome)
	admin.HandleFunc("POST /api/admin/events/{id}/settle", handlers.Admin.SettleEvent)
	admin.HandleFunc("POST /api/admin/settle-pending", handlers.Admin.SettlePending)
	admin.HandleFunc("GET /api/admin/audit", handlers.Admin.ListAudit)
	mux.Handle("/api/admin/", middleware.AdminAuth(cfg.AdminCred)(admin))

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux
	if cfg.Limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(cfg.Limiter, cfg.RateLimit, time.Second)(h)
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
