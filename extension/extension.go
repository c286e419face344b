// Package extension provides the Forge extension adapter for the package
// ledger.
//
// It implements the forge.Extension interface to integrate the ledger
// into a Forge application with DI registration and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.pkgledger" or
// "pkgledger" keys.
package extension

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/pkgledger"
	"github.com/xraph/pkgledger/store"
	"github.com/xraph/pkgledger/store/backend"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "pkgledger"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Prepaid treatment package ledger"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts the package ledger as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *pkgledger.Ledger
	store      store.Store
	ledgerOpts []pkgledger.Option
}

// New creates a new package ledger Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying Ledger instance.
// This is nil until Register is called.
func (e *Extension) Engine() *pkgledger.Ledger { return e.engine }

// LedgerConfig returns the resolved configuration.
func (e *Extension) LedgerConfig() Config { return e.config }

// Register implements [forge.Extension]. It loads configuration, opens the
// configured store, builds the ledger and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	if e.store == nil {
		s, err := backend.Open(context.Background(), e.config.Store)
		if err != nil {
			return fmt.Errorf("pkgledger: open store: %w", err)
		}
		e.store = s
	}

	e.engine = pkgledger.New(e.store, e.buildLedgerOpts()...)

	return vessel.Provide(fapp.Container(), func() (*pkgledger.Ledger, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("pkgledger: extension not initialized")
	}

	if !e.config.DisableMigrate {
		if err := e.engine.Start(ctx); err != nil {
			return err
		}
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	defer e.MarkStopped()
	if e.engine != nil {
		return e.engine.Stop()
	}
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("pkgledger: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildLedgerOpts constructs pkgledger.Option values from the resolved config.
func (e *Extension) buildLedgerOpts() []pkgledger.Option {
	opts := make([]pkgledger.Option, 0, len(e.ledgerOpts)+1)
	if e.config.PluginTimeout > 0 {
		opts = append(opts, pkgledger.WithPluginTimeout(e.config.PluginTimeout))
	}
	return append(opts, e.ledgerOpts...)
}

// --- Config Loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("pkgledger: configuration is required but not found in config files; " +
				"ensure 'extensions.pkgledger' or 'pkgledger' key exists in your config")
		}
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("pkgledger: configuration loaded",
		forge.F("store_driver", e.config.Store.Driver),
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("plugin_timeout", e.config.PluginTimeout),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()

	for _, key := range []string{"extensions.pkgledger", "pkgledger"} {
		if !cm.IsSet(key) {
			continue
		}
		var cfg Config
		if err := cm.Bind(key, &cfg); err != nil {
			e.Logger().Warn("pkgledger: failed to bind config",
				forge.F("key", key),
				forge.F("error", err.Error()),
			)
			continue
		}
		e.Logger().Debug("pkgledger: loaded config from file", forge.F("key", key))
		return cfg, true
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = defaults.Store.Driver
	}
	if cfg.PluginTimeout == 0 {
		cfg.PluginTimeout = defaults.PluginTimeout
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence; programmatic values fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}

	if yamlConfig.Store.Driver == "" {
		yamlConfig.Store = programmaticConfig.Store
	}
	if yamlConfig.PluginTimeout == 0 {
		yamlConfig.PluginTimeout = programmaticConfig.PluginTimeout
	}

	return mergeWithDefaults(yamlConfig)
}
