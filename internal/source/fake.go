package source

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mailvault/mailvault/internal/cache"
	"github.com/mailvault/mailvault/internal/core"
)

// Fake is an in-memory Source suitable for deterministic unit tests. It
// records every call so tests can assert on what was requested.
type Fake struct {
	mu      sync.Mutex
	records map[string]*cache.Record

	// FailIDs simulates per-message fetch failures: ids present here are
	// silently omitted from Fetch results.
	FailIDs map[string]bool

	SearchCalls []SearchCall
	FetchCalls  [][]string
}

// SearchCall records one Search invocation.
type SearchCall struct {
	Start time.Time
	End   time.Time
	Query cache.Query
}

// NewFake creates an empty fake source.
func NewFake() *Fake {
	return &Fake{
		records: make(map[string]*cache.Record),
		FailIDs: make(map[string]bool),
	}
}

// Seed adds records to the fake's remote store.
func (f *Fake) Seed(records ...*cache.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range records {
		f.records[rec.MessageID] = rec
	}
}

// Search returns the seeded ids whose timestamp falls in [start, end] and
// that match the query filters. Results are newest first, like the real
// server, so a MaxResults limit keeps the most recent messages.
func (f *Fake) Search(_ context.Context, start, end time.Time, q cache.Query) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SearchCalls = append(f.SearchCalls, SearchCall{Start: start, End: end, Query: q})

	s := core.FormatDate(start)
	e := core.FormatDate(end)

	var matched []*cache.Record
	for _, rec := range f.records {
		day := rec.Day()
		if day < s || day > e {
			continue
		}
		if q.FromSender != "" && rec.SenderEmail != q.FromSender {
			continue
		}
		if q.SubjectContains != "" && !strings.Contains(rec.Subject, q.SubjectContains) {
			continue
		}
		if q.HasAttachment != nil && rec.HasAttachments != *q.HasAttachment {
			continue
		}
		matched = append(matched, rec)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].Timestamp.After(matched[j].Timestamp)
		}
		return matched[i].MessageID < matched[j].MessageID
	})

	if q.MaxResults > 0 && len(matched) > q.MaxResults {
		matched = matched[:q.MaxResults]
	}
	ids := make([]string, len(matched))
	for i, rec := range matched {
		ids[i] = rec.MessageID
	}
	return ids, nil
}

// Fetch returns copies of the seeded records for ids, omitting unknown ids
// and ids listed in FailIDs.
func (f *Fake) Fetch(_ context.Context, ids []string) ([]*cache.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.FetchCalls = append(f.FetchCalls, append([]string(nil), ids...))

	records := make([]*cache.Record, 0, len(ids))
	for _, id := range ids {
		if f.FailIDs[id] {
			continue
		}
		if rec, ok := f.records[id]; ok {
			records = append(records, rec.Clone())
		}
	}
	return records, nil
}

// FetchedIDs returns every id requested across all Fetch calls.
func (f *Fake) FetchedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for _, call := range f.FetchCalls {
		ids = append(ids, call...)
	}
	sort.Strings(ids)
	return ids
}
