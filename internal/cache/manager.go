package cache

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mailvault/mailvault/internal/core"
)

// Query carries the caller's filters for a ranged message request. Pointer
// fields are tri-state: nil means "don't filter".
type Query struct {
	FromSender      string
	SubjectContains string
	SubjectExcludes string
	HasAttachment   *bool
	IsUnread        *bool
	IsImportant     *bool
	IsStarred       *bool
	InFolder        string
	MaxResults      int

	// IncludeText makes text_content a required field for this request:
	// cached records without a body are re-fetched rather than served.
	IncludeText bool
}

// Source is the external collaborator that owns the remote search and fetch
// protocol. Fetch may return fewer records than asked for.
type Source interface {
	Search(ctx context.Context, start, end time.Time, q Query) ([]string, error)
	Fetch(ctx context.Context, ids []string) ([]*Record, error)
}

// Options configures a Manager.
type Options struct {
	Root          string
	SchemaVersion string
	EnableCache   bool
	MaxAgeDays    int
	LockTimeout   time.Duration
	Parallelism   int
	Logger        zerolog.Logger
	Source        Source
}

// Counters are the cache access counters, owned exclusively by one Manager
// instance and mutated only through its methods.
type Counters struct {
	Hits    int `json:"hits"`
	Misses  int `json:"misses"`
	Writes  int `json:"writes"`
	Updates int `json:"updates"`
}

// CacheStats is the combined statistics snapshot returned by Stats.
type CacheStats struct {
	Counters      Counters   `json:"counters"`
	TotalRequests int        `json:"total_requests"`
	HitRatePct    float64    `json:"hit_rate_percent"`
	Store         StoreStats `json:"store"`
	Index         IndexStats `json:"index"`
	CacheDir      string     `json:"cache_dir"`
	SchemaVersion string     `json:"schema_version"`
	Enabled       bool       `json:"enabled"`
}

// Manager orchestrates the record store, schema manager, and index manager
// behind the single public entry point external callers use.
//
// GetRecords computes a fetch plan from the set difference between the
// source's currently valid ids and the cached ids in range, serves what the
// cache can satisfy, delegates the rest to the source, and writes fetched
// results through store and indexes.
type Manager struct {
	opts   Options
	layout Layout
	store  *RecordStore
	schema *SchemaManager
	index  *IndexManager
	log    zerolog.Logger

	mu       sync.Mutex
	counters Counters
}

// NewManager creates a cache manager rooted at opts.Root. Directory
// creation failure is the one fatal setup error. When caching is enabled
// the indexes are rebuilt up front so lookups start from a consistent pair.
func NewManager(opts Options) (*Manager, error) {
	if opts.Root == "" {
		opts.Root = core.DefaultCacheRoot()
	}
	if opts.SchemaVersion == "" {
		opts.SchemaVersion = core.DefaultSchemaVersion
	}
	if opts.MaxAgeDays <= 0 {
		opts.MaxAgeDays = core.DefaultMaxAgeDays
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = core.DefaultParallelism
	}

	layout := NewLayout(opts.Root)
	if err := layout.EnsureDirs(); err != nil {
		return nil, err
	}

	logger := opts.Logger.With().Str("component", "cache").Logger()
	m := &Manager{
		opts:   opts,
		layout: layout,
		store:  NewRecordStore(layout, opts.Logger),
		schema: NewSchemaManager(opts.SchemaVersion),
		index:  NewIndexManager(layout, opts.LockTimeout, opts.Logger),
		log:    logger,
	}

	if opts.EnableCache {
		m.index.RebuildIndexes()
	}
	return m, nil
}

// Layout returns the manager's path layout.
func (m *Manager) Layout() Layout { return m.layout }

// Store returns the underlying record store.
func (m *Manager) Store() *RecordStore { return m.store }

// Index returns the underlying index manager.
func (m *Manager) Index() *IndexManager { return m.index }

// GetRecords returns the messages in [start, end] matching q, serving from
// the cache where possible and fetching the rest from the source.
//
// A cached record is demoted to the fetch plan when its file is missing,
// when it fails validation beyond repair, or when it lacks a field this
// request requires. Per-record load/save failures are logged and degrade
// that one record; they never abort the batch.
func (m *Manager) GetRecords(ctx context.Context, start, end time.Time, q Query) ([]*Record, error) {
	if m.opts.Source == nil {
		return nil, fmt.Errorf("cache: no source configured")
	}
	if !m.opts.EnableCache {
		return m.getDirect(ctx, start, end, q)
	}

	sourceIDs, err := m.opts.Source.Search(ctx, start, end, q)
	if err != nil {
		return nil, fmt.Errorf("source search: %w", err)
	}
	m.log.Debug().Int("source_ids", len(sourceIDs)).Msg("source search complete")

	cachedIDs := m.index.IDsInRange(start, end)
	m.log.Debug().Int("cached_ids", len(cachedIDs)).Msg("index range lookup complete")

	// New ids the cache has never seen.
	toFetch := make(map[string]struct{})
	for _, id := range sourceIDs {
		if _, ok := cachedIDs[id]; !ok {
			toFetch[id] = struct{}{}
		}
	}

	cached, stale := m.loadCached(ctx, cachedIDs, q)
	for id := range stale {
		toFetch[id] = struct{}{}
	}

	records := cached
	fetchedCount := 0
	if len(cached) > 0 {
		m.bump(func(c *Counters) { c.Hits++ })
	}

	if len(toFetch) > 0 {
		m.bump(func(c *Counters) { c.Misses++ })

		plan := make([]string, 0, len(toFetch))
		for id := range toFetch {
			plan = append(plan, id)
		}
		sort.Strings(plan)

		fetched, err := m.opts.Source.Fetch(ctx, plan)
		if err != nil {
			// Partial results are still cached and served.
			m.log.Warn().Err(err).Int("requested", len(plan)).Msg("source fetch incomplete")
		}
		for _, rec := range fetched {
			if rec == nil || rec.MessageID == "" {
				continue
			}
			if stored := m.writeThrough(rec); stored != nil {
				records = append(records, stored)
				fetchedCount++
			}
		}
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})
	if q.MaxResults > 0 && len(records) > q.MaxResults {
		records = records[:q.MaxResults]
	}

	m.log.Info().
		Int("total", len(records)).
		Int("from_cache", len(cached)).
		Int("fetched", fetchedCount).
		Msg("request complete")
	return records, nil
}

// loadCached materializes the cached records for a request in parallel,
// returning the servable records and the ids that must be re-fetched.
func (m *Manager) loadCached(ctx context.Context, ids map[string]struct{}, q Query) ([]*Record, map[string]struct{}) {
	var mu sync.Mutex
	records := make([]*Record, 0, len(ids))
	stale := make(map[string]struct{})

	markStale := func(id string) {
		mu.Lock()
		stale[id] = struct{}{}
		mu.Unlock()
	}

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.Parallelism)

	for id := range ids {
		g.Go(func() error {
			entry, ok := m.index.Location(id)
			if !ok {
				markStale(id)
				return nil
			}
			rec := m.store.Load(id, entry.Date)
			if rec == nil {
				markStale(id)
				return nil
			}

			if !m.schema.IsValid(rec) {
				rec = m.schema.Upgrade(rec)
				if m.store.Save(rec, id, entry.Date) {
					m.bump(func(c *Counters) { c.Updates++ })
				}
			}

			if missing := m.missingForQuery(rec, q); len(missing) > 0 {
				m.log.Debug().Str("id", id).Strs("missing", missing).Msg("cached record lacks requested fields, re-fetching")
				markStale(id)
				return nil
			}

			mu.Lock()
			records = append(records, rec)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	m.log.Debug().Int("served", len(records)).Int("stale", len(stale)).Msg("cached load complete")
	return records, stale
}

// missingForQuery returns the fields a cached record lacks for this
// specific request: the base required set, plus the text body when the
// caller asked for it.
func (m *Manager) missingForQuery(rec *Record, q Query) []string {
	missing := m.schema.MissingFields(rec)
	if q.IncludeText && rec.TextContent == nil {
		missing = append(missing, "text_content")
	}
	return missing
}

// writeThrough merges-or-stamps a fetched record, persists it, and updates
// the indexes. Returns the stored record, or nil when persisting failed.
func (m *Manager) writeThrough(rec *Record) *Record {
	id := rec.MessageID
	date := rec.Day()

	var out *Record
	updated := false
	if entry, ok := m.index.Location(id); ok {
		if cached := m.store.Load(id, entry.Date); cached != nil {
			out = m.schema.Merge(cached, rec)
			updated = true
		}
		// The effective partition moved: retire the old file and index
		// entries before filing under the new day.
		if entry.Date != date {
			m.store.Delete(id, entry.Date)
			m.index.Remove(id)
		}
	}
	if out == nil {
		out = m.schema.Stamp(rec.Clone())
	}

	if !m.store.Save(out, id, date) {
		m.log.Warn().Str("id", id).Msg("dropping record that failed to persist")
		return nil
	}
	if !m.index.Add(id, date, m.layout.RecordPath(id, date)) {
		m.log.Warn().Str("id", id).Msg("record saved but index update failed")
	}

	if updated {
		m.bump(func(c *Counters) { c.Updates++ })
	} else {
		m.bump(func(c *Counters) { c.Writes++ })
	}
	return out
}

// getDirect bypasses the cache entirely when caching is disabled.
func (m *Manager) getDirect(ctx context.Context, start, end time.Time, q Query) ([]*Record, error) {
	ids, err := m.opts.Source.Search(ctx, start, end, q)
	if err != nil {
		return nil, fmt.Errorf("source search: %w", err)
	}
	records, err := m.opts.Source.Fetch(ctx, ids)
	if err != nil {
		m.log.Warn().Err(err).Msg("source fetch incomplete")
	}
	if q.MaxResults > 0 && len(records) > q.MaxResults {
		records = records[:q.MaxResults]
	}
	return records, nil
}

// Invalidate removes cached records. With ids nil the entire cache root is
// deleted and recreated empty; with ids given, each record is deleted
// wherever it is filed and the indexes are fully rebuilt. Reports success
// explicitly since invalidation is an operator-triggered action.
func (m *Manager) Invalidate(ids []string) bool {
	if ids == nil {
		if err := os.RemoveAll(m.layout.Root()); err != nil {
			m.log.Error().Err(err).Msg("failed to remove cache root")
			return false
		}
		if err := m.layout.EnsureDirs(); err != nil {
			m.log.Error().Err(err).Msg("failed to recreate cache skeleton")
			return false
		}
		m.log.Info().Msg("cache invalidated")
		return true
	}

	removed := 0
	for _, id := range ids {
		if m.store.DeleteByID(id) {
			removed++
		}
	}
	// Full rebuild rather than incremental index edits: partial removal is
	// where incremental updates go wrong, and rebuild is always correct.
	if removed > 0 && !m.index.RebuildIndexes() {
		return false
	}
	m.log.Info().Int("removed", removed).Int("requested", len(ids)).Msg("invalidated records")
	return true
}

// Cleanup deletes records older than maxAgeDays (the configured default
// when maxAgeDays <= 0) and rebuilds the indexes when anything was removed.
// Returns the number of records deleted.
func (m *Manager) Cleanup(maxAgeDays int) int {
	if maxAgeDays <= 0 {
		maxAgeDays = m.opts.MaxAgeDays
	}
	deleted := m.store.CleanupOlderThan(maxAgeDays)
	if deleted > 0 {
		m.index.RebuildIndexes()
	}
	return deleted
}

// RebuildIndexes rebuilds both indexes from the record files.
func (m *Manager) RebuildIndexes() bool {
	return m.index.RebuildIndexes()
}

// Stats returns a combined snapshot of counters, store, and index state.
func (m *Manager) Stats() CacheStats {
	m.mu.Lock()
	counters := m.counters
	m.mu.Unlock()

	total := counters.Hits + counters.Misses
	rate := 0.0
	if total > 0 {
		rate = float64(counters.Hits) / float64(total) * 100
	}

	return CacheStats{
		Counters:      counters,
		TotalRequests: total,
		HitRatePct:    rate,
		Store:         m.store.Stats(),
		Index:         m.index.Stats(),
		CacheDir:      m.layout.Root(),
		SchemaVersion: m.schema.Version(),
		Enabled:       m.opts.EnableCache,
	}
}

func (m *Manager) bump(f func(*Counters)) {
	m.mu.Lock()
	f(&m.counters)
	m.mu.Unlock()
}
