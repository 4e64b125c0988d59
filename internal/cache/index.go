package cache

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mailvault/mailvault/internal/core"
)

// Index file basenames under <root>/metadata/.
const (
	messageIndexName = "message_index"
	dateIndexName    = "date_index"
)

// MessageIndexEntry is the authoritative pointer from a message id to its
// storage location.
type MessageIndexEntry struct {
	FilePath    string `json:"file_path"`
	Date        string `json:"date"`
	LastUpdated string `json:"last_updated"`
}

type messageIndex map[string]MessageIndexEntry

type dateIndex map[string][]string

// IndexManager maintains the message index (id -> location) and the date
// index (day -> id set). Both are JSON files guarded by advisory flocks on
// sibling .lock markers and replaced atomically on write.
//
// The two files are independent lock domains: a reader can observe one
// updated before the other. RebuildIndexes is the only operation that
// yields a jointly consistent pair, and since both indexes are derivable
// from the records directory it is always a safe recovery path.
type IndexManager struct {
	layout      Layout
	lockTimeout time.Duration
	log         zerolog.Logger
}

// IndexStats summarizes the metadata area of the cache.
type IndexStats struct {
	TotalMessages     int   `json:"total_messages"`
	TotalDates        int   `json:"total_dates"`
	MessageIndexBytes int64 `json:"message_index_bytes"`
	DateIndexBytes    int64 `json:"date_index_bytes"`
}

// NewIndexManager creates an index manager over the given layout.
func NewIndexManager(layout Layout, lockTimeout time.Duration, logger zerolog.Logger) *IndexManager {
	if lockTimeout <= 0 {
		lockTimeout = core.DefaultLockTimeout
	}
	return &IndexManager{
		layout:      layout,
		lockTimeout: lockTimeout,
		log:         logger.With().Str("component", "index").Logger(),
	}
}

// RebuildIndexes rebuilds both indexes from a full scan of the records
// directory and persists them. Prior index state is never consulted, which
// makes this the canonical disaster-recovery operation. Orphaned lock
// markers from crashed processes are purged first.
func (m *IndexManager) RebuildIndexes() bool {
	m.purgeLockMarkers()

	msgIdx := make(messageIndex)
	dateIdx := make(dateIndex)
	now := time.Now().Format(core.TimestampFmt)

	dayDirs, err := os.ReadDir(m.layout.RecordsDir())
	if err != nil && !os.IsNotExist(err) {
		m.log.Error().Err(err).Msg("failed to scan records directory")
		return false
	}

	for _, dayDir := range dayDirs {
		if !dayDir.IsDir() {
			continue
		}
		date := dayDir.Name()
		dateIdx[date] = []string{}

		files, err := os.ReadDir(m.layout.DayDir(date))
		if err != nil {
			m.log.Warn().Err(err).Str("date", date).Msg("failed to scan partition")
			continue
		}
		for _, file := range files {
			name := file.Name()
			if file.IsDir() || !strings.HasSuffix(name, ".json") {
				continue
			}
			id := strings.TrimSuffix(name, ".json")
			msgIdx[id] = MessageIndexEntry{
				FilePath:    m.layout.RecordPath(id, date),
				Date:        date,
				LastUpdated: now,
			}
			dateIdx[date] = append(dateIdx[date], id)
		}
	}

	if !m.saveIndex(messageIndexName, msgIdx) || !m.saveIndex(dateIndexName, dateIdx) {
		return false
	}

	m.log.Info().Int("messages", len(msgIdx)).Int("dates", len(dateIdx)).Msg("rebuilt indexes")
	return true
}

// IDsInRange returns the union of the date index's id sets for every day in
// [start, end], at day granularity.
func (m *IndexManager) IDsInRange(start, end time.Time) map[string]struct{} {
	ids := make(map[string]struct{})

	var idx dateIndex
	if !m.loadIndex(dateIndexName, &idx) {
		return ids
	}

	for _, day := range core.DaysBetween(start, end) {
		for _, id := range idx[core.FormatDate(day)] {
			ids[id] = struct{}{}
		}
	}
	return ids
}

// Location returns the index entry for a message id.
func (m *IndexManager) Location(id string) (MessageIndexEntry, bool) {
	var idx messageIndex
	if !m.loadIndex(messageIndexName, &idx) {
		return MessageIndexEntry{}, false
	}
	entry, ok := idx[id]
	return entry, ok
}

// Contains reports whether a message id is present in the message index.
func (m *IndexManager) Contains(id string) bool {
	_, ok := m.Location(id)
	return ok
}

// Add records a message in both indexes via read-modify-write. Re-adding
// the same id with the same date is observationally a no-op.
func (m *IndexManager) Add(id, date, filePath string) bool {
	msgIdx := make(messageIndex)
	m.loadIndex(messageIndexName, &msgIdx)
	msgIdx[id] = MessageIndexEntry{
		FilePath:    filePath,
		Date:        date,
		LastUpdated: time.Now().Format(core.TimestampFmt),
	}
	if !m.saveIndex(messageIndexName, msgIdx) {
		return false
	}

	dateIdx := make(dateIndex)
	m.loadIndex(dateIndexName, &dateIdx)
	if !slices.Contains(dateIdx[date], id) {
		dateIdx[date] = append(dateIdx[date], id)
	}
	return m.saveIndex(dateIndexName, dateIdx)
}

// Remove deletes a message from both indexes, resolving its partition via
// the message index so the caller need not track it. Removing an absent id
// is a successful no-op.
func (m *IndexManager) Remove(id string) bool {
	entry, ok := m.Location(id)
	if !ok {
		return true
	}

	msgIdx := make(messageIndex)
	m.loadIndex(messageIndexName, &msgIdx)
	delete(msgIdx, id)
	if !m.saveIndex(messageIndexName, msgIdx) {
		return false
	}

	dateIdx := make(dateIndex)
	m.loadIndex(dateIndexName, &dateIdx)
	if ids, exists := dateIdx[entry.Date]; exists {
		ids = slices.DeleteFunc(ids, func(s string) bool { return s == id })
		if len(ids) == 0 {
			delete(dateIdx, entry.Date)
		} else {
			dateIdx[entry.Date] = ids
		}
	}
	return m.saveIndex(dateIndexName, dateIdx)
}

// Stats returns index entry counts and on-disk index sizes.
func (m *IndexManager) Stats() IndexStats {
	var stats IndexStats

	var msgIdx messageIndex
	if m.loadIndex(messageIndexName, &msgIdx) {
		stats.TotalMessages = len(msgIdx)
	}
	var dateIdx dateIndex
	if m.loadIndex(dateIndexName, &dateIdx) {
		stats.TotalDates = len(dateIdx)
	}

	if info, err := os.Stat(m.layout.IndexPath(messageIndexName)); err == nil {
		stats.MessageIndexBytes = info.Size()
	}
	if info, err := os.Stat(m.layout.IndexPath(dateIndexName)); err == nil {
		stats.DateIndexBytes = info.Size()
	}
	return stats
}

// loadIndex reads an index file under a shared lock into out. Returns false
// when the file is missing or unrecoverable; both degrade to "empty index",
// never to a hard failure.
func (m *IndexManager) loadIndex(name string, out any) bool {
	path := m.layout.IndexPath(name)
	if _, err := os.Stat(path); err != nil {
		return false
	}

	lock, err := acquireLock(m.layout.LockPath(name), false, m.lockTimeout)
	if err != nil {
		m.log.Warn().Err(err).Str("index", name).Msg("could not lock index for read")
		return false
	}
	defer lock.release()

	content, err := os.ReadFile(path)
	if err != nil {
		m.log.Error().Err(err).Str("index", name).Msg("failed to read index")
		return false
	}
	content = bytes.TrimSpace(content)
	if len(content) == 0 {
		m.log.Warn().Str("index", name).Msg("index file is empty")
		return false
	}

	if err := json.Unmarshal(content, out); err == nil {
		return true
	}

	// Bounded recovery: parse the first balanced top-level object found in
	// the corrupted content. A wrong-but-parseable recovery is acceptable
	// here because the index is derived state; RebuildIndexes corrects it.
	if recovered := firstBalancedObject(content); recovered != nil {
		if err := json.Unmarshal(recovered, out); err == nil {
			m.log.Warn().Str("index", name).Msg("recovered partial index from corrupted file")
			return true
		}
	}

	m.log.Error().Str("index", name).Msg("index unrecoverable, treating as empty")
	return false
}

// saveIndex writes an index file under an exclusive lock, to a temp file in
// the same directory followed by an atomic rename. A crash mid-write leaves
// the previous index file untouched.
func (m *IndexManager) saveIndex(name string, v any) bool {
	if err := os.MkdirAll(m.layout.MetadataDir(), 0o755); err != nil {
		m.log.Error().Err(err).Str("index", name).Msg("failed to create metadata directory")
		return false
	}

	lock, err := acquireLock(m.layout.LockPath(name), true, m.lockTimeout)
	if err != nil {
		m.log.Warn().Err(err).Str("index", name).Msg("could not lock index for write")
		return false
	}
	defer lock.release()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		m.log.Error().Err(err).Str("index", name).Msg("failed to serialize index")
		return false
	}

	path := m.layout.IndexPath(name)
	tmp, err := os.CreateTemp(m.layout.MetadataDir(), name+"_*.tmp")
	if err != nil {
		m.log.Error().Err(err).Str("index", name).Msg("failed to create temp index file")
		return false
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		m.log.Error().Err(err).Str("index", name).Msg("failed to write index")
		return false
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		m.log.Error().Err(err).Str("index", name).Msg("failed to close temp index file")
		return false
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		m.log.Error().Err(err).Str("index", name).Msg("failed to replace index")
		return false
	}
	return true
}

// purgeLockMarkers deletes leftover .lock files from crashed processes.
func (m *IndexManager) purgeLockMarkers() {
	matches, err := filepath.Glob(filepath.Join(m.layout.MetadataDir(), "*.lock"))
	if err != nil {
		return
	}
	for _, path := range matches {
		os.Remove(path)
	}
}

// firstBalancedObject returns the first balanced top-level JSON object in
// content, or nil when none exists. Brace counting ignores braces inside
// string literals.
func firstBalancedObject(content []byte) []byte {
	start := bytes.IndexByte(content, '{')
	if start == -1 {
		return nil
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		c := content[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return content[start : i+1]
			}
		}
	}
	return nil
}
