package store

import (
	"context"

	"github.com/xraph/pkgledger/entry"
)

// Store is the storage interface the package ledger runs on.
type Store interface {
	entry.Store

	// Migrate prepares tables, collections or indexes.
	Migrate(ctx context.Context) error
	// Ping checks backend connectivity.
	Ping(ctx context.Context) error
	// Close releases the backend connection.
	Close() error
}
