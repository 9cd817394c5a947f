package storage

import (
	"context"
	"fmt"
)

// Open connects to the configured backend and creates its tables.
func Open(ctx context.Context, driver, url string) (DocumentStore, error) {
	var (
		store DocumentStore
		err   error
	)
	switch driver {
	case "sqlite", "sqlite3":
		store, err = NewSQLiteStore(url)
	case "postgres", "postgresql":
		store, err = NewPostgresStore(url)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", driver, err)
	}

	if err := store.Initialize(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize %s store: %w", driver, err)
	}
	return store, nil
}
