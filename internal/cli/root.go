// Package cli implements the command-line interface for mailvault.
package cli

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mailvault/mailvault/internal/cache"
	"github.com/mailvault/mailvault/internal/config"
	"github.com/mailvault/mailvault/internal/core"
	"github.com/mailvault/mailvault/internal/source"
)

// Global flags
var (
	configPath string
	cacheDir   string
	verbose    bool
	quiet      bool
	noCache    bool
	rawJSON    bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "mailvault",
	Short:   "mailvault - local crash-safe message cache",
	Long:    `A command-line utility for fetching messages through a local, crash-safe, date-partitioned cache.`,
	Version: core.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", "", "Cache root directory (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose debug output to stderr")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Only log errors")
	rootCmd.PersistentFlags().BoolVar(&noCache, "no-cache", false, "Bypass the cache and fetch directly")
	rootCmd.PersistentFlags().BoolVar(&rawJSON, "raw", false, "Emit raw JSON instead of text output")
}

// loadConfig resolves the effective configuration and root logger for a
// command invocation.
func loadConfig() (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, zerolog.Nop(), err
	}
	if cacheDir != "" {
		cfg.CacheDir = cacheDir
	}
	if noCache {
		cfg.EnableCache = false
	}
	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	if quiet {
		level = "error"
	}
	return cfg, config.InitLogger(level), nil
}

// newManager builds a cache manager from the resolved config, wiring the
// HTTP source when API credentials are present.
func newManager(cfg config.Config, logger zerolog.Logger, needSource bool) (*cache.Manager, error) {
	var src cache.Source
	if needSource {
		baseURL := os.Getenv(core.APIURLEnvVar)
		apiKey := os.Getenv(core.APIKeyEnvVar)
		if baseURL == "" || apiKey == "" {
			return nil, fmt.Errorf("missing %s or %s", core.APIURLEnvVar, core.APIKeyEnvVar)
		}
		src = source.NewClient(baseURL, apiKey, logger)
	}

	return cache.NewManager(cache.Options{
		Root:          cfg.CacheDir,
		SchemaVersion: cfg.SchemaVersion,
		EnableCache:   cfg.EnableCache,
		MaxAgeDays:    cfg.MaxAgeDays,
		LockTimeout:   cfg.LockTimeout,
		Parallelism:   cfg.Parallelism,
		Logger:        logger,
		Source:        src,
	})
}
