// Package config loads mailvault configuration from a YAML file with
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mailvault/mailvault/internal/core"
)

// Config holds the runtime configuration for the cache and CLI.
type Config struct {
	CacheDir      string        `yaml:"cache_dir"`
	SchemaVersion string        `yaml:"schema_version"`
	MaxAgeDays    int           `yaml:"max_age_days"`
	LockTimeout   time.Duration `yaml:"lock_timeout"`
	EnableCache   bool          `yaml:"enable_cache"`
	Parallelism   int           `yaml:"parallelism"`
	LogLevel      string        `yaml:"log_level"`
}

// Default returns the configuration used when no config file is present.
func Default() Config {
	return Config{
		CacheDir:      core.DefaultCacheRoot(),
		SchemaVersion: core.DefaultSchemaVersion,
		MaxAgeDays:    core.DefaultMaxAgeDays,
		LockTimeout:   core.DefaultLockTimeout,
		EnableCache:   true,
		Parallelism:   core.DefaultParallelism,
		LogLevel:      "info",
	}
}

// Load reads a YAML config file over the defaults. A missing file is not an
// error; the defaults (plus env overrides) are returned.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = core.DefaultMaxAgeDays
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = core.DefaultLockTimeout
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = core.DefaultParallelism
	}
	return cfg, nil
}

// applyEnv overrides config values from the environment.
func applyEnv(cfg *Config) {
	if dir := os.Getenv(core.CacheDirEnvVar); dir != "" {
		cfg.CacheDir = dir
	}
	if v := os.Getenv("MAILVAULT_SCHEMA_VERSION"); v != "" {
		cfg.SchemaVersion = v
	}
	if v := os.Getenv("MAILVAULT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("MAILVAULT_DISABLE_CACHE"); v == "true" || v == "1" {
		cfg.EnableCache = false
	}
}
