package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/btorressz/milestone-amm/internal/domain"
	"github.com/btorressz/milestone-amm/internal/server"
	"github.com/btorressz/milestone-amm/internal/server/handler"
	"github.com/btorressz/milestone-amm/internal/server/ws"
	"github.com/btorressz/milestone-amm/internal/service"
)

// services bundles the constructed service layer for a running mode.
type services struct {
	markets    *service.MarketService
	trades     *service.TradeService
	settlement *service.SettlementService
	positions  *service.PositionService
	prices     *service.PriceService
}

// buildServices constructs the service layer on top of the wired
// dependencies. Optional dependencies (price cache, signal bus, audit,
// archiver) pass through as nil and the services degrade gracefully.
func (a *App) buildServices(deps *Dependencies) *services {
	clock := domain.RealClock{}

	return &services{
		markets: service.NewMarketService(
			deps.Transactor, deps.Markets, deps.Locks, clock,
			deps.Bus, deps.Audit, a.logger,
		),
		trades: service.NewTradeService(
			deps.Transactor, deps.Markets, deps.Locks, clock,
			deps.Prices, deps.Bus, deps.Audit, a.logger,
		),
		settlement: service.NewSettlementService(
			deps.Transactor, deps.Markets, deps.Locks, clock,
			deps.Bus, deps.Audit, deps.Archiver, a.logger,
		),
		positions: service.NewPositionService(deps.Positions, deps.Fills, a.logger),
		prices:    service.NewPriceService(deps.Markets, deps.Prices, clock, a.logger),
	}
}

// buildHandlers wraps the service layer in HTTP handlers.
func (a *App) buildHandlers(deps *Dependencies, svcs *services) server.Handlers {
	return server.Handlers{
		Health:     handler.NewHealthHandler(deps.Pingers, a.logger),
		Markets:    handler.NewMarketHandler(svcs.markets, a.logger),
		Trades:     handler.NewTradeHandler(svcs.trades, svcs.prices, a.logger),
		Settlement: handler.NewSettlementHandler(svcs.settlement, a.logger),
		Positions:  handler.NewPositionHandler(svcs.positions, a.logger),
	}
}

// ServerMode runs the HTTP and WebSocket API backed by Postgres, Redis, and
// optional S3 archival, alongside the deadline expiry sweeper.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "server mode: persistent stores, distributed locks")
	return a.serve(ctx, deps)
}

// EphemeralMode serves the same API entirely from process memory. State is
// lost on exit; useful for local development and integration tests.
func (a *App) EphemeralMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "ephemeral mode: in-memory stores, state is not persisted")
	return a.serve(ctx, deps)
}

// serve starts the API server, the WebSocket hub (when a signal bus is
// wired), and the expiry sweeper, then blocks until the context is
// cancelled or a component fails.
func (a *App) serve(ctx context.Context, deps *Dependencies) error {
	svcs := a.buildServices(deps)

	g, ctx := errgroup.WithContext(ctx)

	// WebSocket hub bridges bus events to connected clients. Without a bus
	// there is nothing to fan out, so the /ws route is not registered.
	var hub *ws.Hub
	if deps.Bus != nil {
		hub = ws.NewHub(deps.Bus, a.logger, ws.Config{
			Mode:      a.cfg.Mode,
			StartedAt: time.Now().UTC(),
		})
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		APIKeyHash:  a.cfg.Server.APIKeyHash,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, a.buildHandlers(deps, svcs), hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	// Expiry sweeper flags and archives markets whose grace window lapsed
	// without a resolution.
	g.Go(func() error {
		a.logger.InfoContext(ctx, "starting expiry sweeper",
			slog.Duration("interval", a.cfg.Engine.SweepInterval.Duration),
		)
		return svcs.settlement.RunSweeper(ctx, a.cfg.Engine.SweepInterval.Duration)
	})

	return g.Wait()
}
