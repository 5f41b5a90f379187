package session

import (
	"context"
	"fmt"
	"strings"
)

// StoreConfig selects and configures a Store backend.
type StoreConfig struct {
	Backend     string
	Dir         string
	SQLitePath  string
	DatabaseURL string
}

// NewStore builds the configured backend. An empty backend means "file".
func NewStore(ctx context.Context, cfg StoreConfig) (Store, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	switch backend {
	case "", "file":
		return NewFileStore(cfg.Dir)
	case "sqlite":
		return NewSQLiteStore(ctx, cfg.SQLitePath)
	case "postgres":
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
		return NewPostgresStore(ctx, cfg.DatabaseURL)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported store backend %q (expected file|sqlite|postgres|memory)", cfg.Backend)
	}
}

// Pinger is implemented by stores backed by a database connection.
type Pinger interface {
	Ping(ctx context.Context) error
}
