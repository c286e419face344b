package extension

import (
	"time"

	"github.com/xraph/pkgledger/store/backend"
)

// Config holds the package ledger extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.pkgledger" or "pkgledger" keys).
type Config struct {
	// Store selects the storage backend. It is ignored when a store was
	// supplied with WithStore.
	Store backend.Config `json:"store" mapstructure:"store" yaml:"store"`

	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// PluginTimeout bounds each plugin hook call (default: 5s).
	PluginTimeout time.Duration `json:"plugin_timeout" mapstructure:"plugin_timeout" yaml:"plugin_timeout"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Store:         backend.Config{Driver: backend.DriverMemory},
		PluginTimeout: 5 * time.Second,
	}
}
