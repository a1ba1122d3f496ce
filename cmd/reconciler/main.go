package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"continuity/internal/app"
	"continuity/internal/infra"
	"continuity/internal/jobs"
)

func main() {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv).With().Str("cmd", "reconciler").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("reconciler: failed to build job pipeline")
	}
	defer components.Close()

	if err := run(ctx, components.Jobs, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("reconciler: stopped with error")
		return
	}
	logger.Info().Msg("reconciler: stopped")
}

// run sweeps unfinished ledger rows on every tick until ctx ends.
func run(ctx context.Context, svc *jobs.Service, cfg *infra.Config, logger infra.Logger) error {
	interval := cfg.ReconcileInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info().Dur("interval", interval).Int("batch", cfg.ReconcileBatchSize).Msg("reconciler: started")
	for {
		report, err := svc.Reconcile(ctx, cfg.ReconcileBatchSize)
		if err != nil {
			logger.Error().Err(err).Msg("reconciler: sweep failed")
		} else if report.Checked > 0 {
			logger.Info().
				Int("checked", report.Checked).
				Int("completed", report.Completed).
				Int("pending", report.Pending).
				Int("failed", report.Failed).
				Int("errors", report.Errors).
				Msg("reconciler: sweep finished")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
