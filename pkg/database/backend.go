package database

import (
	"context"
	"fmt"
)

// Backend loads and saves the whole dataset at once. Implementations need
// not be safe for concurrent use; Store serialises access.
type Backend interface {
	Load(ctx context.Context) (Dataset, error)
	Save(ctx context.Context, d Dataset) error
	Close() error
}

// BackendConfig selects and configures a Backend.
type BackendConfig struct {
	Kind string // file, memory, redis or sqlite

	Path string // data file for "file", database file for "sqlite"

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisKey      string
}

// OpenBackend creates the backend named by cfg.Kind. An empty kind means "file".
func OpenBackend(cfg BackendConfig) (Backend, error) {
	switch cfg.Kind {
	case "", "file":
		if cfg.Path == "" {
			return nil, fmt.Errorf("file backend: path is required")
		}
		return NewFileBackend(cfg.Path), nil
	case "memory":
		return NewMemoryBackend(nil), nil
	case "redis":
		return NewRedisBackend(context.Background(), RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Key:      cfg.RedisKey,
		})
	case "sqlite":
		if cfg.Path == "" {
			return nil, fmt.Errorf("sqlite backend: path is required")
		}
		return NewSQLBackend("sqlite3", cfg.Path)
	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Kind)
	}
}
