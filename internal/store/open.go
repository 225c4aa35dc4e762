package store

import (
	"context"
	"strings"
)

// Store is a job store that also records usage.
type Store interface {
	JobStore
	UsageStore
}

// Open returns a Postgres store for a non-empty DSN and an in-memory store
// otherwise. The returned func releases the connection.
func Open(ctx context.Context, dsn string) (Store, func() error, error) {
	if strings.TrimSpace(dsn) == "" {
		return NewMemoryJobStore(), func() error { return nil }, nil
	}

	pg, err := NewPostgresJobStore(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	return pg, pg.Close, nil
}
