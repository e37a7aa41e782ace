package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ethereum/go-ethereum/common"

	"github.com/omenlabs/omend/internal/orchestrator"
	"github.com/omenlabs/omend/internal/server"
	"github.com/omenlabs/omend/internal/server/handler"
	"github.com/omenlabs/omend/internal/server/ws"
)

// ServeMode runs the full daemon: the orchestrator accepting operations over
// HTTP, the WebSocket transition stream, and the background reconciler and
// archiver when enabled.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode",
		slog.String("wallet", deps.Wallet.Hex()),
	)

	g, ctx := errgroup.WithContext(ctx)

	if err := deps.Orchestrator.Start(ctx); err != nil {
		return err
	}

	hub := ws.NewHub(deps.Bus, orchestrator.StatusChannel, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	if a.cfg.Server.Enabled {
		handlers := server.Handlers{
			Health: handler.NewHealthHandler(a.logger),
			Operations: handler.NewOperationHandler(
				deps.Orchestrator,
				deps.Wallet,
				common.HexToAddress(a.cfg.Ledger.FaucetContract),
				common.HexToAddress(a.cfg.Ledger.FactoryContract),
				a.logger,
			),
		}
		srv := server.NewServer(server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
		}, handlers, hub, a.logger)

		g.Go(func() error {
			return srv.Start()
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if deps.Reconciler != nil {
		g.Go(func() error {
			return deps.Reconciler.Run(ctx)
		})
	}

	if deps.Archiver != nil {
		g.Go(func() error {
			return deps.Archiver.Run(ctx, a.cfg.Archive.Interval.Duration)
		})
	}

	return g.Wait()
}

// MonitorMode runs without a signing key: it re-attaches watchers and syncers
// to persisted in-flight records and streams transitions, but accepts no new
// operations.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	if err := deps.Orchestrator.Start(ctx); err != nil {
		return err
	}

	hub := ws.NewHub(deps.Bus, orchestrator.StatusChannel, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	if deps.Reconciler != nil {
		g.Go(func() error {
			return deps.Reconciler.Run(ctx)
		})
	}

	return g.Wait()
}

// ReconcileMode runs a single reconciliation sweep cycle as a long-lived
// worker, repairing records whose backend sync exhausted its retries.
func (a *App) ReconcileMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting reconcile mode")

	if deps.Reconciler == nil {
		a.logger.WarnContext(ctx, "reconcile mode with reconcile.enabled=false, nothing to do")
		<-ctx.Done()
		return ctx.Err()
	}
	return deps.Reconciler.Run(ctx)
}
