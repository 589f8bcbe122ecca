package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/suggest-data/sanitizer-cli/internal/store"
)

// openStore builds the configured store backend.
func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		poolCfg := &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		}
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, poolCfg)
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("store: unknown driver %q (expected postgres or sqlite)", cfg.Store.Driver)
	}
}

// parseDay parses a --date flag value. An empty value means yesterday (the
// nightly job always sanitizes the previous day's partition). A malformed
// date fails before any data is touched.
func parseDay(value string) (time.Time, error) {
	if value == "" {
		return time.Now().UTC().AddDate(0, 0, -1), nil
	}
	day, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "parse date %q (expected YYYY-MM-DD)", value)
	}
	return day, nil
}
