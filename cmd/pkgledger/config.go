package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/xraph/pkgledger/store/backend"
)

// config is the CLI configuration. Values come from, in increasing
// precedence: defaults, a pkgledger.yaml file, a .env file and PKGLEDGER_*
// environment variables (PKGLEDGER_STORE_DRIVER, PKGLEDGER_STORE_DSN, ...).
type config struct {
	Store    backend.Config `mapstructure:"store"`
	LogLevel string         `mapstructure:"log_level"`
	// Currency is applied to lines parsed from billing descriptions.
	Currency string `mapstructure:"currency"`
}

func loadConfig(path string) (config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetDefault("store.driver", backend.DriverSQLite)
	v.SetDefault("store.dsn", "pkgledger.db")
	v.SetDefault("store.database", backend.DefaultMongoDatabase)
	v.SetDefault("store.prefix", "pkgledger:")
	v.SetDefault("log_level", "info")
	v.SetDefault("currency", "hkd")

	v.SetEnvPrefix("PKGLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("pkgledger")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/pkgledger")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg config
	if err := v.Unmarshal(&cfg); err != nil {
		return config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
