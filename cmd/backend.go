package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/wipfli/immich/internal/ai"
	"github.com/wipfli/immich/internal/config"
	"github.com/wipfli/immich/internal/database"
	"github.com/wipfli/immich/internal/database/postgres"
	"github.com/wipfli/immich/internal/ml"
	"github.com/wipfli/immich/internal/search"
)

// initDatabase connects to PostgreSQL, applies migrations and registers the repositories.
func initDatabase(ctx context.Context, cfg *config.Config) error {
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}
	if err := postgres.Initialize(ctx, &cfg.Database, cfg.Search); err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	return nil
}

// closeDatabase releases the global pool, if any.
func closeDatabase() {
	if pool := postgres.GetGlobalPool(); pool != nil {
		pool.Close()
	}
}

// newEncoderCache returns a Redis cache when REDIS_HOST is set, otherwise an
// in-memory one. The returned func releases the cache.
func newEncoderCache(ctx context.Context, cfg *config.Config) (ml.Cache, func(), error) {
	ttl := cfg.MachineLearning.CacheTTL
	if addr := cfg.Redis.Addr(); addr != "" {
		cache, err := ml.NewRedisCache(ctx, addr, cfg.Redis.Password, cfg.Redis.DB, ttl)
		if err != nil {
			return nil, nil, err
		}
		fmt.Printf("Encoder cache: Redis at %s\n", addr)
		return cache, func() { cache.Close() }, nil
	}
	fmt.Printf("Encoder cache: in-memory (%d entries)\n", cfg.MachineLearning.CacheSize)
	return ml.NewMemoryCache(cfg.MachineLearning.CacheSize, ttl), func() {}, nil
}

// newSearchService wires the search service to the registered PostgreSQL
// backend. initDatabase must have run.
func newSearchService(ctx context.Context, cfg *config.Config) (*search.Service, func(), error) {
	smartInfo, err := database.GetSmartInfoStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	assets, err := database.GetAssetReader(ctx)
	if err != nil {
		return nil, nil, err
	}

	system, err := config.NewSystemConfigStore(cfg.SystemConfigPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading system config: %w", err)
	}

	translator, err := ai.NewTranslator(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating query translator: %w", err)
	}
	if translator != nil {
		fmt.Printf("Query translation: %s\n", translator.Name())
	}

	cache, closeCache, err := newEncoderCache(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to encoder cache: %w", err)
	}

	svc := search.NewService(search.Deps{
		SmartInfo:  smartInfo,
		Assets:     assets,
		Encoder:    ml.NewClient(cfg.MachineLearning.Timeout, cache),
		Translator: translator,
		System:     system,
	}, cfg.Search)
	return svc, closeCache, nil
}
