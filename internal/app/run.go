package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"

	"fieldsync/internal/connectivity"
	"fieldsync/internal/fieldsync"
)

const shutdownTimeout = 5 * time.Second

// Run drives background synchronization until ctx is canceled: the drain loop,
// the reachability poller when configured, and the metrics endpoint when configured.
func (a *FieldsyncApp) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	var monitor fieldsync.ConnectivityMonitor
	if interval := a.cfg.Connectivity.PollInterval.Duration; interval > 0 {
		poller := connectivity.NewPoller(a.gateway, interval, &slogAdapter{l: a.logger})
		monitor = poller
		g.Go(func() error {
			return poller.Run(ctx)
		})
	}

	g.Go(func() error {
		return a.engine.Run(ctx, monitor)
	})

	if addr := a.cfg.Metrics.Listen; addr != "" {
		e := echo.New()
		e.HideBanner = true
		e.HidePort = true
		a.metrics.Register(e)

		g.Go(func() error {
			a.logger.Info("serving metrics", "addr", addr)
			if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serving metrics: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return e.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}
