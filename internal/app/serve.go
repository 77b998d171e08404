package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

const janitorInterval = 5 * time.Second

// Serve runs the HTTP server and the session janitor until ctx is done, then
// shuts the server down within the configured budget.
func (b *BuildResult) Serve(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              b.Config.BindAddr,
		Handler:           b.API.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	b.Sessions.StartJanitor(gctx, janitorInterval)
	g.Go(func() error {
		slog.Info("server listening", "addr", b.Config.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), b.Config.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("graceful shutdown failed", "error", err)
			_ = httpServer.Close()
		}
		return nil
	})
	return g.Wait()
}
