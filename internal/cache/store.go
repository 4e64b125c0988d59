package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mailvault/mailvault/internal/core"
)

// RecordStore persists one JSON file per cached message under the per-day
// record directories. It is the source of truth the indexes are derived
// from. All failures are logged and reported as boolean/nil returns; the
// store never panics on bad input or bad disk state.
type RecordStore struct {
	layout Layout
	log    zerolog.Logger
}

// StoreStats summarizes the record area of the cache.
type StoreStats struct {
	TotalRecords   int            `json:"total_records"`
	DayCounts      map[string]int `json:"day_counts"`
	TotalSizeBytes int64          `json:"total_size_bytes"`
}

// NewRecordStore creates a store over the given layout.
func NewRecordStore(layout Layout, logger zerolog.Logger) *RecordStore {
	return &RecordStore{
		layout: layout,
		log:    logger.With().Str("component", "store").Logger(),
	}
}

// Save writes a record to its partition file, creating the day directory on
// demand. cached_at and file_path metadata are stamped when absent. The
// file is written via temp + rename so readers never see a partial record.
func (s *RecordStore) Save(rec *Record, id, date string) bool {
	if rec.MessageID == "" {
		rec.MessageID = id
	}

	path := s.layout.RecordPath(id, date)

	rec.ensureMetadata()
	if _, ok := rec.Metadata[MetaCachedAt]; !ok {
		rec.Metadata[MetaCachedAt] = time.Now().Format(core.TimestampFmt)
	}
	rec.Metadata[MetaFilePath] = path

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		s.log.Error().Err(err).Str("id", id).Msg("failed to serialize record")
		return false
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		s.log.Error().Err(err).Str("id", id).Msg("failed to create partition directory")
		return false
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		s.log.Error().Err(err).Str("id", id).Msg("failed to write record")
		return false
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		s.log.Error().Err(err).Str("id", id).Msg("failed to replace record")
		return false
	}

	s.log.Debug().Str("id", id).Str("date", date).Msg("saved record")
	return true
}

// Load reads a record from its partition file. A missing or unreadable
// file is a cache miss, never an error to the caller.
func (s *RecordStore) Load(id, date string) *Record {
	path := s.layout.RecordPath(id, date)

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn().Err(err).Str("id", id).Msg("failed to read record")
		}
		return nil
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		s.log.Warn().Err(err).Str("id", id).Str("path", path).Msg("corrupt record, treating as miss")
		return nil
	}
	return &rec
}

// Delete removes a record file. Deleting an absent record succeeds.
func (s *RecordStore) Delete(id, date string) bool {
	path := s.layout.RecordPath(id, date)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.log.Error().Err(err).Str("id", id).Msg("failed to delete record")
		return false
	}
	return true
}

// DeleteByID removes a record when its partition is unknown, scanning every
// day directory. Returns false when no file was found. O(partitions).
func (s *RecordStore) DeleteByID(id string) bool {
	for _, date := range s.days() {
		path := s.layout.RecordPath(id, date)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := os.Remove(path); err != nil {
			s.log.Error().Err(err).Str("id", id).Msg("failed to delete record")
			return false
		}
		return true
	}
	return false
}

// List returns the ids cached under one day, or all ids when date is empty.
// The directory is re-scanned on every call.
func (s *RecordStore) List(date string) []string {
	if date != "" {
		return s.idsInDay(date)
	}
	var ids []string
	for _, d := range s.days() {
		ids = append(ids, s.idsInDay(d)...)
	}
	return ids
}

// Stats walks the whole record area and returns aggregate counts and size.
func (s *RecordStore) Stats() StoreStats {
	stats := StoreStats{DayCounts: make(map[string]int)}

	for _, date := range s.days() {
		entries, err := os.ReadDir(s.layout.DayDir(date))
		if err != nil {
			s.log.Warn().Err(err).Str("date", date).Msg("failed to scan partition")
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			stats.DayCounts[date]++
			stats.TotalRecords++
			if info, err := entry.Info(); err == nil {
				stats.TotalSizeBytes += info.Size()
			}
		}
	}
	return stats
}

// CleanupOlderThan deletes every partition whose date is strictly older
// than today minus maxAgeDays, whole day directories at a time. Partitions
// exactly at the boundary are retained. Directories whose names are not
// dates are skipped. Returns the number of records deleted.
func (s *RecordStore) CleanupOlderThan(maxAgeDays int) int {
	cutoff := core.DateOnly(time.Now()).AddDate(0, 0, -maxAgeDays)
	deleted := 0

	for _, date := range s.days() {
		day, err := time.Parse(core.DateFmt, date)
		if err != nil {
			continue
		}
		if !day.Before(cutoff) {
			continue
		}

		dir := s.layout.DayDir(date)
		count := len(s.idsInDay(date))
		if err := os.RemoveAll(dir); err != nil {
			s.log.Error().Err(err).Str("date", date).Msg("failed to remove expired partition")
			continue
		}
		deleted += count
		s.log.Debug().Str("date", date).Int("records", count).Msg("removed expired partition")
	}

	if deleted > 0 {
		s.log.Info().Int("deleted", deleted).Msg("cleaned up expired records")
	}
	return deleted
}

// days lists the partition sub-directory names currently on disk.
func (s *RecordStore) days() []string {
	entries, err := os.ReadDir(s.layout.RecordsDir())
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn().Err(err).Msg("failed to scan records directory")
		}
		return nil
	}
	var days []string
	for _, entry := range entries {
		if entry.IsDir() {
			days = append(days, entry.Name())
		}
	}
	return days
}

// idsInDay lists the record ids in one partition directory.
func (s *RecordStore) idsInDay(date string) []string {
	entries, err := os.ReadDir(s.layout.DayDir(date))
	if err != nil {
		return nil
	}
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids
}
