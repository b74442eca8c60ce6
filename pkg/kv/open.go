package kv

import (
	"context"
	"fmt"
)

// Config selects a storage backend.
type Config struct {
	Backend string // sqlite | redis | memory
	Path    string // sqlite database file
	Redis   RedisOptions
}

// Open returns the configured Store.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", "sqlite":
		return OpenSQLite(cfg.Path)
	case "redis":
		return OpenRedis(ctx, cfg.Redis)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("kv: unknown backend %q", cfg.Backend)
	}
}
