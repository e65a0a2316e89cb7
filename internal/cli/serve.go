package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	api "github.com/aretw0/turnpike/pkg/adapters/http"
	"golang.org/x/sync/errgroup"
)

// ShutdownTimeout bounds how long in-flight requests may run after a stop signal.
const ShutdownTimeout = 5 * time.Second

// Serve runs the HTTP API on ln until ctx is canceled. When catalog
// watching is enabled the watcher runs alongside and a watcher failure
// stops the server.
func Serve(ctx context.Context, rt *Runtime, ln net.Listener) error {
	srv := &http.Server{
		Handler: api.NewHandler(rt.Engine,
			api.WithGatherer(rt.Metrics),
			api.WithLogger(rt.logger.With("component", "http")),
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		rt.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		rt.logger.Info("Shutting down HTTP server")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
			return err
		}
		return nil
	})

	if rt.Config != nil && rt.Config.Catalog.Watch {
		g.Go(func() error {
			return rt.Catalog.Watch(gctx)
		})
	}

	return g.Wait()
}
