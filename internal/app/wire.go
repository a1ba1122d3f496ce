// Package app assembles the job pipeline from configuration. Both the API
// and the reconciler start from Build.
package app

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"continuity/internal/adapter/repo"
	"continuity/internal/entitlement"
	"continuity/internal/infra"
	"continuity/internal/infra/credentials"
	"continuity/internal/jobs"
	"continuity/internal/lock"
	"continuity/internal/media/watermark"
	"continuity/internal/providers/sora"
	"continuity/internal/storage"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Components are the long-lived collaborators built at startup.
type Components struct {
	Pool        *pgxpool.Pool
	Redis       *redis.Client
	Store       storage.ArtifactStore
	Resolver    *entitlement.Resolver
	Jobs        *jobs.Service
	Credentials *credentials.Store

	closers []io.Closer
}

// StaticDir returns the local artifact root when the filesystem backend is in use.
func (c *Components) StaticDir() string {
	if fs, ok := c.Store.(*storage.FileStore); ok {
		return fs.BasePath()
	}
	return ""
}

// Close releases connections in reverse order of acquisition.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		_ = c.closers[i].Close()
	}
	if c.Pool != nil {
		c.Pool.Close()
	}
}

// Build connects to Postgres and, when configured, Redis, then wires the
// generation client, watermark, artifact store and entitlement resolver into
// a jobs.Service.
func Build(ctx context.Context, cfg *infra.Config, logger infra.Logger) (*Components, error) {
	c := &Components{}

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	c.Pool = pool
	runner := infra.NewSQLRunner(pool, logger)
	c.Credentials = credentials.NewStore(runner)

	apiKey, err := credentials.ResolveOpenAIKey(ctx, cfg, c.Credentials)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to load openai api key from store")
	}
	if apiKey == "" {
		logger.Warn().Msg("openai api key missing; submissions and status checks will fail with a configuration error")
	}

	client := sora.NewClient(sora.Options{
		APIKey:         apiKey,
		BaseURL:        cfg.OpenAIBaseURL,
		Model:          cfg.OpenAIVideoModel,
		Logger:         &logger,
		RequestTimeout: cfg.UpstreamTimeout,
	})

	if !filepath.IsAbs(cfg.StoragePath) {
		if abs, err := filepath.Abs(cfg.StoragePath); err == nil {
			cfg.StoragePath = abs
		}
	}
	store, err := storage.NewArtifactStore(ctx, cfg)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("configure storage: %w", err)
	}
	c.Store = store

	var flight lock.Flight = lock.NewLocalFlight()
	rdb, err := infra.NewRedisClient(ctx, cfg)
	switch {
	case err != nil:
		logger.Warn().Err(err).Msg("redis unavailable; materialization is guarded in-process only")
	case rdb != nil:
		c.Redis = rdb
		c.closers = append(c.closers, rdb)
		flight = lock.Chain{flight, lock.NewRedisLocker(rdb, cfg.MaterializeLockTTL, &logger)}
	}

	c.Resolver = entitlement.NewResolver(repo.NewSubscriptionRepository(runner))

	svc, err := jobs.NewService(jobs.Options{
		Ledger:    repo.NewJobLedger(runner),
		Generator: client,
		Watermark: watermark.New(watermark.Options{
			Binary:    cfg.FFmpegPath,
			Text:      cfg.WatermarkText,
			ImagePath: cfg.WatermarkImagePath,
			Timeout:   cfg.TransformTimeout,
			Logger:    &logger,
		}),
		Store:            store,
		Entitlements:     c.Resolver,
		Flight:           flight,
		ScratchDir:       cfg.ScratchDir,
		UpstreamTimeout:  cfg.UpstreamTimeout,
		TransformTimeout: cfg.TransformTimeout,
		StorageTimeout:   cfg.StorageTimeout,
		Logger:           &logger,
	})
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Jobs = svc

	logger.Info().
		Str("storage", store.Backend()).
		Str("model", client.Model()).
		Bool("redis_lock", c.Redis != nil).
		Msg("job pipeline ready")
	return c, nil
}
