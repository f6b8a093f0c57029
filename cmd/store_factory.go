//go:build !integration

package main

import (
	"context"
	"fmt"

	"github.com/sells-group/taplist-enrich/internal/config"
	"github.com/sells-group/taplist-enrich/internal/store"
)

// newStore opens the configured backend. The default build is pure-Go and
// only links modernc.org/sqlite; postgres requires the integration tag.
func newStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return store.NewSQLite(cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("store driver %q requires building with -tags integration", cfg.Driver)
	}
}
