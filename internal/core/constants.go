// Package core provides shared constants and date helpers for mailvault.
package core

import (
	"os"
	"path/filepath"
	"time"
)

// Date formats
const (
	DateFmt      = "2006-01-02"
	TimestampFmt = time.RFC3339
)

// Environment variables
const (
	APIKeyEnvVar   = "MAILVAULT_API_KEY"
	APIURLEnvVar   = "MAILVAULT_API_URL"
	CacheDirEnvVar = "MAILVAULT_CACHE_DIR"
)

// Cache defaults
const (
	DefaultSchemaVersion = "1.0"
	DefaultMaxAgeDays    = 30
	DefaultLockTimeout   = 10 * time.Second
	DefaultParallelism   = 5
)

// DefaultCacheRoot returns the default cache directory path.
func DefaultCacheRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".mailvault", "cache")
}

// Version is the current mailvault version.
const Version = "0.3.0"
