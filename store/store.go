package store

import (
	"context"

	"github.com/xraph/cadence/catalog"
	"github.com/xraph/cadence/cluster"
)

// Store is the aggregate persistence interface implemented by backends
// that hold both the catalog and the lease store (memory, postgres).
type Store interface {
	catalog.Catalog
	catalog.Admin
	cluster.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
