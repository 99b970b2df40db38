package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/ideapool/internal/futarchy"
	"github.com/alanyoungcy/ideapool/internal/server"
	"github.com/alanyoungcy/ideapool/internal/server/handler"
	"github.com/alanyoungcy/ideapool/internal/server/ws"
	"github.com/alanyoungcy/ideapool/internal/service"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// services are the request-scoped operations exposed over HTTP.
type services struct {
	pools    *service.PoolService
	trades   *service.TradeService
	finalize *service.FinalizeService
}

func (a *App) buildServices(deps *Dependencies) (services, error) {
	out := service.Outputs{
		Bus:      deps.SignalBus,
		Audit:    deps.Audit,
		Receipts: deps.Receipts,
		Notifier: deps.Notifier,
	}

	epsilon, err := decimal.NewFromString(a.cfg.Trading.AmountEpsilon)
	if err != nil {
		return services{}, err
	}

	pools := service.NewPoolService(
		deps.IdeaStore, deps.Ledger, deps.Protocol, deps.Permissionless,
		deps.Journal, deps.LockManager, out,
		service.PoolConfig{
			SponsorVoteThreshold: a.cfg.Pool.SponsorVoteThreshold,
			LockTTL:              a.cfg.Pool.LockTTL.Duration,
			ResumeEnabled:        a.cfg.Pool.ResumeEnabled,
			BaseMint:             deps.BaseMint,
			QuoteMint:            deps.QuoteMint,
			DaoParams:            deps.DaoParams,
		}, a.logger,
	)
	trades := service.NewTradeService(
		deps.IdeaStore, deps.StatsCache, deps.RateLimiter, deps.Ledger, deps.Protocol, out,
		service.TradeConfig{
			QuoteDecimals:      int32(a.cfg.Futarchy.QuoteDecimals),
			BaseDecimals:       int32(a.cfg.Futarchy.BaseDecimals),
			AmountEpsilon:      epsilon,
			DefaultSlippageBps: a.cfg.Trading.DefaultSlippageBps,
			MaxTradesPerMinute: a.cfg.Trading.MaxTradesPerMinute,
		}, a.logger,
	)
	finalize := service.NewFinalizeService(deps.IdeaStore, deps.StatsCache, deps.Ledger, deps.Protocol, out, a.logger)

	return services{pools: pools, trades: trades, finalize: finalize}, nil
}

// ServeMode runs the full HTTP surface: pool creation, trading and
// finalization signed with the operator wallet, plus the step stream.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	svcs, err := a.buildServices(deps)
	if err != nil {
		return err
	}
	return a.serve(ctx, deps, svcs, svcs.pools)
}

// ReadOnlyMode serves ideas, statistics, receipts and the audit log. Pool
// creation is disabled; trades and finalization fail their signer
// precondition unless a wallet is configured.
func (a *App) ReadOnlyMode(ctx context.Context, deps *Dependencies) error {
	svcs, err := a.buildServices(deps)
	if err != nil {
		return err
	}
	return a.serve(ctx, deps, svcs, nil)
}

func (a *App) serve(ctx context.Context, deps *Dependencies, svcs services, pools handler.PoolCreator) error {
	a.logger.InfoContext(ctx, "protocol programs",
		slog.String("futarchy", deps.Protocol.Futarchy.String()),
		slog.String("conditional_vault", deps.Protocol.ConditionalVault.String()),
		slog.String("squads", deps.Protocol.Squads.String()),
		slog.Bool("mainnet_defaults", deps.Protocol.Programs == futarchy.DefaultPrograms()),
	)

	if !a.cfg.Server.Enabled {
		a.logger.WarnContext(ctx, "HTTP server disabled; nothing to serve")
		<-ctx.Done()
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)

	hub := ws.NewHub(deps.SignalBus, a.cfg.Server.CORSOrigins, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	checks := make(map[string]handler.Check, len(deps.Checks))
	for name, fn := range deps.Checks {
		checks[name] = fn
	}

	srv := server.NewServer(server.Config{
		Port:           a.cfg.Server.Port,
		CORSOrigins:    a.cfg.Server.CORSOrigins,
		APIKey:         a.cfg.Server.APIKey,
		AdminAPIKey:    a.cfg.Server.AdminAPIKey,
		Limiter:        deps.RateLimiter,
		RequestsPerMin: a.cfg.Server.RequestsPerMinute,
	}, server.Handlers{
		Health:   handler.NewHealthHandler(checks, deps.Ledger.Connected, a.logger),
		Ideas:    handler.NewIdeaHandler(deps.IdeaStore, pools, a.logger),
		Trades:   handler.NewTradeHandler(svcs.trades, a.logger),
		Finalize: handler.NewFinalizeHandler(svcs.finalize, a.logger),
		Receipts: handler.NewReceiptHandler(deps.Receipts, a.logger),
		Audit:    handler.NewAuditHandler(deps.Audit, a.logger),
	}, hub, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	return g.Wait()
}
