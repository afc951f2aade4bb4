package storage

import (
	"context"
	"fmt"
	"strings"

	"metal-price-alerts/internal/config"
)

// Open returns the repository selected by cfg.Driver. The returned handle is
// meant to live for the whole process; callers close it on shutdown.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Repository, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "sqlite", "sqlite3":
		return NewSQLiteStore(cfg.Path)
	case "postgres", "postgresql", "pgx":
		pool, err := NewPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		store, err := NewPostgresStore(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, cfg.Driver)
	}
}
