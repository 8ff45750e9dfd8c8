package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/bidengine/internal/notify"
	"github.com/alanyoungcy/bidengine/internal/server"
	"github.com/alanyoungcy/bidengine/internal/server/handler"
	"github.com/alanyoungcy/bidengine/internal/server/ws"
)

// ServeMode runs the HTTP API, the WebSocket hub (when Redis is wired) and
// every background worker.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies, svcs *Services) error {
	a.logger.InfoContext(ctx, "starting serve mode")
	g, ctx := errgroup.WithContext(ctx)

	a.startWorkers(ctx, g, svcs)

	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.logger)
		g.Go(func() error {
			return ignoreCanceled(hub.Run(ctx))
		})
	}

	notifications := handler.NewNotificationHandler(svcs.Bids, a.logger)
	if deps.SignalBus != nil {
		notifications.WithInbox(notify.NewInbox(deps.SignalBus))
	}

	handlers := server.Handlers{
		Health:        handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Items:         handler.NewItemHandler(svcs.Bids, svcs.Closing, svcs.Bids.Schedule().MinimumNext, a.logger),
		Bids:          handler.NewBidHandler(svcs.Bids, a.logger),
		Auctions:      handler.NewAuctionHandler(svcs.Closing, a.logger),
		Notifications: notifications,
	}
	if svcs.Archive != nil {
		handlers.Archive = handler.NewArchiveHandler(svcs.Archive, a.logger)
	}
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	return g.Wait()
}

// WorkerMode runs the background workers without the HTTP API.
func (a *App) WorkerMode(ctx context.Context, svcs *Services) error {
	a.logger.InfoContext(ctx, "starting worker mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startWorkers(ctx, g, svcs)
	return g.Wait()
}

// CloseMode runs one activation and closing pass, then relays the
// notifications it produced. Intended for an external scheduler.
func (a *App) CloseMode(ctx context.Context, svcs *Services) error {
	a.logger.InfoContext(ctx, "running single closing pass")
	if err := svcs.Closing.RunOnce(ctx); err != nil {
		return fmt.Errorf("app: closing pass: %w", err)
	}
	sent, err := svcs.Relay.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("app: relay: %w", err)
	}
	if svcs.Archive != nil {
		if _, err := svcs.Archive.RunOnce(ctx); err != nil {
			return fmt.Errorf("app: archive: %w", err)
		}
	}
	a.logger.InfoContext(ctx, "closing pass complete", slog.Int("notifications_sent", sent))
	return nil
}

// MigrateMode applies the postgres schema and exits.
func (a *App) MigrateMode(ctx context.Context, deps *Dependencies) error {
	if deps.migrate == nil {
		return errors.New("app: migrate requires storage driver postgres")
	}
	if err := deps.migrate(ctx); err != nil {
		return fmt.Errorf("app: migrate: %w", err)
	}
	a.logger.InfoContext(ctx, "migrations applied")
	return nil
}

// startWorkers adds the closer, outbox relay and, when enabled, the archiver
// to g.
func (a *App) startWorkers(ctx context.Context, g *errgroup.Group, svcs *Services) {
	g.Go(func() error {
		return ignoreCanceled(svcs.Closing.Run(ctx))
	})
	g.Go(func() error {
		return ignoreCanceled(svcs.Relay.Run(ctx))
	})
	if svcs.Archive != nil {
		g.Go(func() error {
			return ignoreCanceled(svcs.Archive.Run(ctx))
		})
	}
}

// ignoreCanceled treats a context cancellation as a clean exit.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
