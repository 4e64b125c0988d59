package source

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailvault/mailvault/internal/cache"
)

func fakeRecord(id, sender, subject string, ts time.Time) *cache.Record {
	return &cache.Record{
		MessageID:   id,
		SenderEmail: sender,
		Subject:     subject,
		Timestamp:   ts,
		Labels:      []string{"INBOX"},
	}
}

func TestFakeSearchFilters(t *testing.T) {
	f := NewFake()
	jan1 := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	jan5 := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)
	f.Seed(
		fakeRecord("a", "alice@example.com", "invoice due", jan1),
		fakeRecord("b", "bob@example.com", "lunch", jan1),
		fakeRecord("c", "alice@example.com", "invoice paid", jan5),
	)

	ctx := context.Background()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)

	ids, err := f.Search(ctx, start, end, cache.Query{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids, "date range filter at day granularity, ties broken by id")

	ids, err = f.Search(ctx, start, jan5, cache.Query{FromSender: "alice@example.com"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a"}, ids, "newest first")

	ids, err = f.Search(ctx, start, jan5, cache.Query{SubjectContains: "invoice", MaxResults: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, ids, "a limit keeps the most recent matches")

	require.Len(t, f.SearchCalls, 3)
	assert.Equal(t, "invoice", f.SearchCalls[2].Query.SubjectContains)
}

func TestFakeFetch(t *testing.T) {
	f := NewFake()
	ts := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	f.Seed(fakeRecord("a", "alice@example.com", "hi", ts))
	f.FailIDs["b"] = true

	records, err := f.Fetch(context.Background(), []string{"a", "b", "unknown"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "a", records[0].MessageID)

	// Returned records are copies; mutating them must not leak back.
	records[0].Subject = "mutated"
	again, err := f.Fetch(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, "hi", again[0].Subject)

	assert.Equal(t, []string{"a", "a", "b", "unknown"}, f.FetchedIDs())
}
