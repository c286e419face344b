// Package backend opens a store.Store from a driver name and DSN, so the
// Forge extension and the operator CLI select backends the same way.
package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/xraph/pkgledger/store"
	"github.com/xraph/pkgledger/store/memory"
	"github.com/xraph/pkgledger/store/mongo"
	"github.com/xraph/pkgledger/store/postgres"
	"github.com/xraph/pkgledger/store/redis"
	"github.com/xraph/pkgledger/store/sqlite"
)

// Supported driver names.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverRedis    = "redis"
)

// DefaultMongoDatabase is used when Config.Database is empty.
const DefaultMongoDatabase = "pkgledger"

// Config selects and addresses a storage backend.
type Config struct {
	// Driver is one of memory, sqlite, postgres, mongo or redis.
	Driver string `json:"driver" mapstructure:"driver" yaml:"driver"`

	// DSN is the connection string: a file path or ":memory:" for sqlite,
	// a libpq DSN or URL for postgres, a mongodb:// URI or a redis:// URL.
	DSN string `json:"dsn" mapstructure:"dsn" yaml:"dsn"`

	// Database names the MongoDB database.
	Database string `json:"database" mapstructure:"database" yaml:"database"`

	// Prefix namespaces Redis keys.
	Prefix string `json:"prefix" mapstructure:"prefix" yaml:"prefix"`
}

// Open connects to the configured backend. An empty driver selects the
// in-memory store.
func Open(ctx context.Context, cfg Config) (store.Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver != "" && driver != DriverMemory && cfg.DSN == "" {
		return nil, fmt.Errorf("pkgledger/backend: %s requires a dsn", driver)
	}

	switch driver {
	case "", DriverMemory:
		return memory.New(), nil
	case DriverSQLite:
		s, err := sqlite.Open(cfg.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverPostgres, "pg":
		s, err := postgres.Open(cfg.DSN, postgres.DefaultConfig())
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverMongo, "mongodb":
		name := cfg.Database
		if name == "" {
			name = DefaultMongoDatabase
		}
		s, err := mongo.Open(ctx, cfg.DSN, name)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverRedis:
		var opts []redis.Option
		if cfg.Prefix != "" {
			opts = append(opts, redis.WithPrefix(cfg.Prefix))
		}
		s, err := redis.Open(ctx, cfg.DSN, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("pkgledger/backend: unknown driver %q", cfg.Driver)
	}
}
