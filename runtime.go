package bookwright

import (
	"context"
	"errors"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aixgo-dev/bookwright/internal/api"
	"github.com/aixgo-dev/bookwright/internal/retention"
	metrics "github.com/aixgo-dev/bookwright/pkg/observability"
)

// ShutdownTimeout bounds the graceful shutdown of the HTTP servers.
const ShutdownTimeout = 10 * time.Second

// Pruner returns the retention pruner for the app's store.
func (a *App) Pruner() (*retention.Pruner, error) {
	return retention.New(a.Store, a.Config.Retention)
}

// Serve runs the session API, the metrics server and the retention
// schedule until ctx is done or one of them fails.
func (a *App) Serve(ctx context.Context) error {
	metrics.GetHealthChecker().RegisterCheck(metrics.StoreCheck(a.Store.Ping))

	g, gctx := errgroup.WithContext(ctx)

	apiServer := api.NewServer(a.Config.API, a.Controller)
	g.Go(apiServer.Start)

	var metricsServer *metrics.Server
	if a.Config.Metrics.Addr != "" {
		metricsServer = metrics.NewServer(a.Config.Metrics.Addr)
		g.Go(func() error {
			log.Printf("[serve] metrics listening on %s", a.Config.Metrics.Addr)
			return metricsServer.Start()
		})
	}

	if a.Config.Retention.MaxAge > 0 {
		pruner, err := a.Pruner()
		if err != nil {
			return err
		}
		g.Go(func() error { return pruner.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Printf("[serve] shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
		defer cancel()
		var errs []error
		errs = append(errs, apiServer.Shutdown(shutdownCtx))
		if metricsServer != nil {
			errs = append(errs, metricsServer.Shutdown(shutdownCtx))
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}
