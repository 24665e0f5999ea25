// Package app provides the top-level application lifecycle for the macropool
// server. It wires together all dependencies (stores, caches, blob storage,
// the oracle client, services, and notifications) and runs the HTTP server,
// the odds hub, and the settlement sweeper until shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantfold/macropool/internal/config"
	"github.com/quantfold/macropool/internal/crypto"
	"github.com/quantfold/macropool/internal/odds"
	"github.com/quantfold/macropool/internal/server"
	"github.com/quantfold/macropool/internal/server/handler"
	"github.com/quantfold/macropool/internal/server/ws"
	"github.com/quantfold/macropool/internal/service"
)

const shutdownTimeout = 15 * time.Second

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, assembles the services and the API server, and
// blocks until the context is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.Int("port", a.cfg.Server.Port),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	calc := odds.NewCalculator(a.cfg.Market.FeeRate)

	var adminCred *crypto.Credential
	if a.cfg.Server.AdminKeyHash != "" {
		adminCred, err = crypto.NewCredential(a.cfg.Server.AdminKeyHash, a.cfg.Server.AdminKeySalt)
		if err != nil {
			return fmt.Errorf("app: admin credential: %w", err)
		}
	} else {
		a.logger.Warn("admin credential not configured, admin endpoints are unauthenticated")
	}

	eventSvc := service.NewEventService(
		deps.EventStore, deps.ViewCache, deps.Invalidator, deps.SignalBus, calc, a.logger,
	)
	betSvc := service.NewBetService(
		deps.EventStore, deps.OrderStore, deps.AuditStore,
		deps.LockManager, deps.RateLimiter, deps.Invalidator, deps.SignalBus,
		calc,
		service.BetPolicy{
			MinStake:         a.cfg.Market.MinStake,
			MaxStake:         a.cfg.Market.MaxStake,
			MaxEventExposure: a.cfg.Market.MaxEventExposure,
			PlaceRatePerSec:  a.cfg.Market.PlaceRatePerSec,
		},
		a.logger,
	)

	// Interface fields stay nil unless a concrete implementation exists, so
	// the settlement service can nil-check them.
	var archiver service.Archiver
	if deps.Archiver != nil {
		archiver = deps.Archiver
	}
	var notifier service.Notifier
	if deps.Notifier.Enabled() {
		notifier = deps.Notifier
	}
	settlementSvc := service.NewSettlementService(
		deps.EventStore, deps.OrderStore, deps.AuditStore,
		deps.Invalidator, deps.SignalBus,
		deps.Oracle, archiver, notifier,
		calc, a.logger,
	)
	userSvc := service.NewUserService(deps.UserStore, deps.OrderStore, deps.EventStore,
		deps.ViewCache, calc, a.logger)

	hub := ws.NewHub(deps.SignalBus, a.logger)

	srv := server.NewServer(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			AdminCred:   adminCred,
			Limiter:     deps.RateLimiter,
			RateLimit:   a.cfg.Server.RateLimit,
		},
		server.Handlers{
			Health: handler.NewHealthHandler(a.logger),
			Events: handler.NewEventHandler(eventSvc, a.logger),
			Bets:   handler.NewBetHandler(betSvc, a.logger),
			Users:  handler.NewUserHandler(userSvc, a.logger),
			Admin:  handler.NewAdminHandler(eventSvc, settlementSvc, deps.AuditStore, a.logger),
		},
		hub,
		a.logger,
	)

	sweeper := service.NewSweeper(eventSvc, settlementSvc, a.cfg.Market.SweepInterval.Std(), a.logger)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})
	g.Go(func() error {
		return sweeper.Run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Close tears down all resources in reverse registration order. It is safe
// to call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
