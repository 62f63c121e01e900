package storage

import (
	"context"
	"fmt"

	"github.com/hyperjump/docvec/internal/config"
)

// New opens the backend named by cfg.Backend. dimensions sizes the RediSearch vector index.
func New(ctx context.Context, cfg config.StorageConfig, dimensions int) (Storage, error) {
	switch cfg.Backend {
	case BackendSQLite, "":
		return NewSQLiteStorage(cfg.DatabasePath)
	case BackendRedis:
		return NewRedisStorage(ctx, RedisOptions{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			SearchMode: cfg.Redis.SearchMode,
			Index:      cfg.Redis.Index,
			Dimensions: dimensions,
		})
	case BackendMemory:
		return NewMemoryStorage(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
