// Package config loads savepipe settings from savepipe.yaml, SAVEPIPE_*
// environment variables, and defaults, in increasing order of precedence
// below command-line flags.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	"github.com/roach88/savepipe/internal/engine"
)

const (
	configFileName = "savepipe"
	configFileType = "yaml"
	envPrefix      = "SAVEPIPE"

	KeyBackend           = "backend"
	KeyDatabase          = "database"
	KeySpannerDatabase   = "spanner_database"
	KeyLogLevel          = "log_level"
	KeyLogFormat         = "log_format"
	KeyReplacementPolicy = "replacement_policy"
	KeyAutoDetectChanges = "auto_detect_changes"
)

// Backends.
const (
	BackendSQLite  = "sqlite"
	BackendSpanner = "spanner"
)

// Config is the resolved configuration.
type Config struct {
	Backend           string
	Database          string
	SpannerDatabase   string
	LogLevel          slog.Level
	LogFormat         string
	ReplacementPolicy engine.ReplacementPolicy
	AutoDetectChanges bool

	// File is the config file that was read, empty when none was found.
	File string
}

// New returns a viper instance carrying defaults and environment bindings.
// Callers bind flags onto it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyBackend, BackendSQLite)
	v.SetDefault(KeyDatabase, ":memory:")
	v.SetDefault(KeyLogLevel, "warn")
	v.SetDefault(KeyLogFormat, "text")
	v.SetDefault(KeyReplacementPolicy, engine.ReplaceDeleteInsert.String())
	v.SetDefault(KeyAutoDetectChanges, true)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file into v and resolves the result.
//
// An explicit path must exist. Without one, savepipe.yaml is looked up in
// dirs; a missing file is not an error.
func Load(v *viper.Viper, path string, dirs ...string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configFileName)
		v.SetConfigType(configFileType)
		for _, dir := range dirs {
			v.AddConfigPath(dir)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return resolve(v)
}

func resolve(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Backend:           strings.ToLower(v.GetString(KeyBackend)),
		Database:          v.GetString(KeyDatabase),
		SpannerDatabase:   v.GetString(KeySpannerDatabase),
		LogFormat:         strings.ToLower(v.GetString(KeyLogFormat)),
		AutoDetectChanges: v.GetBool(KeyAutoDetectChanges),
		File:              v.ConfigFileUsed(),
	}

	switch cfg.Backend {
	case BackendSQLite:
	case BackendSpanner:
		if cfg.SpannerDatabase == "" {
			return nil, fmt.Errorf("config: %s backend needs %s", BackendSpanner, KeySpannerDatabase)
		}
	default:
		return nil, fmt.Errorf("config: unknown backend %q (want %s or %s)", cfg.Backend, BackendSQLite, BackendSpanner)
	}

	switch cfg.LogFormat {
	case "text", "json":
	default:
		return nil, fmt.Errorf("config: unknown log format %q (want text or json)", cfg.LogFormat)
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(v.GetString(KeyLogLevel))); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	policy, err := engine.ParseReplacementPolicy(v.GetString(KeyReplacementPolicy))
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.ReplacementPolicy = policy

	return cfg, nil
}

// SessionOptions returns the engine options the config selects.
func (c *Config) SessionOptions() []engine.Option {
	return []engine.Option{
		engine.WithReplacementPolicy(c.ReplacementPolicy),
		engine.WithAutoDetectChanges(c.AutoDetectChanges),
	}
}
