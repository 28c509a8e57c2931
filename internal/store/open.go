package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/cipherroom/internal/config"
)

// Open connects the backend selected by cfg.Backend.
func Open(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (Backend, error) {
	switch cfg.Backend {
	case config.BackendFile:
		return NewFileStore(cfg.DataDir, logger)
	case config.BackendSQLite:
		return NewSQLiteStore(ctx, cfg.SQLitePath, logger)
	case config.BackendPostgres:
		return NewPostgresStore(ctx, cfg.DatabaseURL, logger)
	case config.BackendRedis:
		rs, err := NewRedisStore(ctx, cfg.RedisURL, logger)
		if err != nil {
			return nil, err
		}
		rs.SetSequenceTTL(cfg.Retention)
		return rs, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}
