// Package sqlite opens a pure-Go SQLite database for the package ledger.
package sqlite

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/xraph/pkgledger/store/sqlstore"
)

// MemoryDSN opens a private in-memory database.
const MemoryDSN = ":memory:"

// Open opens the SQLite database at dsn. SQLite allows one writer at a time,
// so the pool is limited to a single connection; this also keeps an
// in-memory database alive for the store's lifetime.
func Open(dsn string) (*sqlstore.Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("pkgledger/sqlite: open %q: %w", dsn, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("pkgledger/sqlite: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	return sqlstore.New(db), nil
}
