package store

import (
	"context"
	"fmt"

	"github.com/agentflow/orchestrator/pkg/config"
)

// New opens the ResultStore selected by cfg.Driver ("memory" or "postgres").
func New(ctx context.Context, cfg config.StoreConfig) (ResultStore, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "postgres":
		return NewPostgresStore(ctx, PostgresConfig{DSN: cfg.DSN, MaxPoolConns: cfg.MaxPoolConns})
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
