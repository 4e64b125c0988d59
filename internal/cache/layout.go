package cache

import (
	"fmt"
	"os"
	"path/filepath"
)

// Layout maps identifiers and dates to paths under the cache root.
// All path math lives here; nothing else in the package builds paths.
type Layout struct {
	root string
}

// NewLayout creates a layout rooted at dir.
func NewLayout(dir string) Layout {
	return Layout{root: dir}
}

// Root returns the cache root directory.
func (l Layout) Root() string {
	return l.root
}

// RecordsDir returns the directory holding per-day record sub-directories.
func (l Layout) RecordsDir() string {
	return filepath.Join(l.root, "records")
}

// MetadataDir returns the directory holding index and lock files.
func (l Layout) MetadataDir() string {
	return filepath.Join(l.root, "metadata")
}

// DayDir returns the sub-directory for a YYYY-MM-DD partition.
func (l Layout) DayDir(date string) string {
	return filepath.Join(l.RecordsDir(), date)
}

// RecordPath returns the file path for a cached message.
func (l Layout) RecordPath(id, date string) string {
	return filepath.Join(l.DayDir(date), id+".json")
}

// IndexPath returns the file path for a named index.
func (l Layout) IndexPath(name string) string {
	return filepath.Join(l.MetadataDir(), name+".json")
}

// LockPath returns the lock-marker path for a named index.
func (l Layout) LockPath(name string) string {
	return filepath.Join(l.MetadataDir(), name+".lock")
}

// EnsureDirs creates the records and metadata directories. This is the one
// setup step whose failure makes the whole cache unusable.
func (l Layout) EnsureDirs() error {
	for _, dir := range []string{l.RecordsDir(), l.MetadataDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create cache directory %s: %w", dir, err)
		}
	}
	return nil
}
