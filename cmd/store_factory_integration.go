//go:build integration

package main

import (
	"context"
	"fmt"

	"github.com/sells-group/taplist-enrich/internal/config"
	"github.com/sells-group/taplist-enrich/internal/store"
)

func newStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return store.NewSQLite(cfg.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
