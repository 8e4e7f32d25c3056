package database

import (
	"context"
	"fmt"

	"github.com/greencredits/report-server/internal/config"
	"github.com/greencredits/report-server/internal/store"
)

// OpenStore connects to the configured backend and applies the schema.
// The returned close function releases the store and its pool.
func OpenStore(ctx context.Context, cfg *config.Config) (*store.SQLStore, func(), error) {
	switch cfg.DBDriver {
	case "postgres":
		pool, err := NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		st := store.NewPostgres(pool)
		if err := st.Migrate(ctx); err != nil {
			st.Close()
			pool.Close()
			return nil, nil, err
		}
		return st, func() { st.Close(); pool.Close() }, nil

	case "sqlite":
		db, err := OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		st := store.NewSQLite(db)
		if err := st.Migrate(ctx); err != nil {
			st.Close()
			return nil, nil, err
		}
		return st, func() { st.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown DB_DRIVER %q", cfg.DBDriver)
	}
}
