package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/edutech1596/Final-AI-tutor-with-Videos/internal/app"
	"github.com/edutech1596/Final-AI-tutor-with-Videos/internal/config"
	"github.com/edutech1596/Final-AI-tutor-with-Videos/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	observability.NewLogger(os.Stderr, cfg.Debug, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	built, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	slog.Info("tutor starting", "provider", built.Provider.Detail, "history_sink", built.History)

	serveErr := built.Serve(ctx)
	if err := built.Cleanup(); err != nil {
		slog.Warn("cleanup failed", "error", err)
	}
	if serveErr != nil {
		log.Fatalf("server error: %v", serveErr)
	}
	slog.Info("shutdown complete")
}
