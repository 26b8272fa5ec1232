package db

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/patrickwarner/dcoserve/internal/analytics"
	"github.com/patrickwarner/dcoserve/internal/config"
	"github.com/patrickwarner/dcoserve/internal/models"
	"github.com/patrickwarner/dcoserve/internal/observability"
)

// Open builds the storage stack selected by cfg.StorageBackend: "postgres"
// wires Postgres, ClickHouse and, when enabled, the Redis cache; "memory"
// keeps everything in process. The returned func releases every connection
// and is safe to call when err is non-nil.
func Open(cfg config.Config, metrics observability.MetricsRegistry, logger *zap.Logger) (*Store, func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	switch cfg.StorageBackend {
	case "memory":
		logger.Warn("using in-memory storage, data is lost on restart")
		return NewStore(models.NewInMemoryStore(), nil, analytics.NewMockAnalytics(), cfg.CacheTTL, metrics, logger), closeAll, nil
	case "postgres":
	default:
		return nil, closeAll, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}

	pg, err := InitPostgres(cfg.PostgresDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
	if err != nil {
		return nil, closeAll, fmt.Errorf("failed to connect postgres: %w", err)
	}
	closers = append(closers, pg.Close)

	ch, err := analytics.InitClickHouse(cfg.ClickHouseDSN, cfg.CHMaxOpenConns, cfg.CHMaxIdleConns, cfg.CHConnMaxLifetime, cfg.CHConnMaxIdleTime)
	if err != nil {
		return nil, closeAll, fmt.Errorf("failed to connect clickhouse: %w", err)
	}
	closers = append(closers, ch.Close)

	var cache *RedisStore
	if cfg.CacheEnabled {
		cache, err = InitRedis(cfg.RedisAddr)
		if err != nil {
			return nil, closeAll, fmt.Errorf("failed to connect redis: %w", err)
		}
		closers = append(closers, cache.Close)
	}
	logger.Info("storage connected", zap.Bool("cache_enabled", cache != nil))

	return NewStore(pg, cache, ch, cfg.CacheTTL, metrics, logger), closeAll, nil
}
