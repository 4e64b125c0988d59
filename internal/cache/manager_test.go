package cache_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailvault/mailvault/internal/cache"
	"github.com/mailvault/mailvault/internal/core"
	"github.com/mailvault/mailvault/internal/source"
)

func seedRecord(id, date string) *cache.Record {
	day, _ := time.Parse(core.DateFmt, date)
	return &cache.Record{
		MessageID:            id,
		SenderEmail:          "alice@example.com",
		SenderName:           "Alice",
		RecipientEmail:       "bob@example.com",
		RecipientName:        "Bob",
		Subject:              "subject " + id,
		Timestamp:            day.Add(12 * time.Hour),
		SenderLocalTimestamp: day.Add(12 * time.Hour),
		SizeBytes:            2048,
		Labels:               []string{"INBOX"},
		ThreadID:             "t-" + id,
		Snippet:              "snippet " + id,
		IsRead:               true,
	}
}

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := core.ParseDate(s)
	require.NoError(t, err)
	return d
}

func newTestManager(t *testing.T, fake *source.Fake) *cache.Manager {
	t.Helper()
	m, err := cache.NewManager(cache.Options{
		Root:        t.TempDir(),
		EnableCache: true,
		LockTimeout: time.Second,
		Logger:      zerolog.Nop(),
		Source:      fake,
	})
	require.NoError(t, err)
	return m
}

func TestGetRecordsFetchThenHit(t *testing.T) {
	fake := source.NewFake()
	fake.Seed(seedRecord("m1", "2024-01-01"), seedRecord("m2", "2024-01-02"))
	m := newTestManager(t, fake)

	ctx := context.Background()
	start, end := day(t, "2024-01-01"), day(t, "2024-01-02")

	records, err := m.GetRecords(ctx, start, end, cache.Query{})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []string{"m1", "m2"}, fake.FetchedIDs())

	// Newest first.
	assert.Equal(t, "m2", records[0].MessageID)
	assert.Equal(t, "m1", records[1].MessageID)

	// Write-through stamps cache metadata on the served copies.
	for _, rec := range records {
		require.NotNil(t, rec.Metadata)
		assert.NotEmpty(t, rec.MetaString(cache.MetaCachedAt))
	}

	// Second request is served from the cache without fetching.
	records, err = m.GetRecords(ctx, start, end, cache.Query{})
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Len(t, fake.FetchCalls, 1, "no fetch when the cache covers the range")

	stats := m.Stats()
	assert.Equal(t, 2, stats.Counters.Writes)
	assert.Equal(t, 1, stats.Counters.Hits)
	assert.Equal(t, 1, stats.Counters.Misses)
	assert.InDelta(t, 50.0, stats.HitRatePct, 0.01)
}

func TestGetRecordsFetchesOnlyMissing(t *testing.T) {
	fake := source.NewFake()
	fake.Seed(seedRecord("m1", "2024-01-01"))
	m := newTestManager(t, fake)

	ctx := context.Background()
	start, end := day(t, "2024-01-01"), day(t, "2024-01-02")

	_, err := m.GetRecords(ctx, start, end, cache.Query{})
	require.NoError(t, err)

	// A new message appears at the source; only it is in the fetch plan.
	fake.Seed(seedRecord("m2", "2024-01-02"))
	records, err := m.GetRecords(ctx, start, end, cache.Query{})
	require.NoError(t, err)
	assert.Len(t, records, 2)
	require.Len(t, fake.FetchCalls, 2)
	assert.Equal(t, []string{"m2"}, fake.FetchCalls[1])
}

func TestGetRecordsIncludeTextRefetch(t *testing.T) {
	fake := source.NewFake()
	fake.Seed(seedRecord("m1", "2024-01-01"))
	m := newTestManager(t, fake)

	ctx := context.Background()
	d := day(t, "2024-01-01")

	_, err := m.GetRecords(ctx, d, d, cache.Query{})
	require.NoError(t, err)

	// The cached copy has no body, so a text request re-fetches it. The
	// source now serves the full record.
	withText := seedRecord("m1", "2024-01-01")
	body := "full message body"
	withText.TextContent = &body
	fake.Seed(withText)

	records, err := m.GetRecords(ctx, d, d, cache.Query{IncludeText: true})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.NotNil(t, records[0].TextContent)
	assert.Equal(t, "full message body", *records[0].TextContent)

	assert.Len(t, fake.FetchCalls, 2, "body-less cached record is re-fetched")
	assert.GreaterOrEqual(t, m.Stats().Counters.Updates, 1)

	// The upgraded copy now satisfies text requests from the cache.
	_, err = m.GetRecords(ctx, d, d, cache.Query{IncludeText: true})
	require.NoError(t, err)
	assert.Len(t, fake.FetchCalls, 2)
}

func TestGetRecordsPartialFetchFailure(t *testing.T) {
	fake := source.NewFake()
	fake.Seed(seedRecord("m1", "2024-01-01"), seedRecord("m2", "2024-01-01"))
	fake.FailIDs["m2"] = true
	m := newTestManager(t, fake)

	d := day(t, "2024-01-01")
	records, err := m.GetRecords(context.Background(), d, d, cache.Query{})
	require.NoError(t, err, "per-record failures degrade, not abort")
	require.Len(t, records, 1)
	assert.Equal(t, "m1", records[0].MessageID)
}

func TestGetRecordsMaxResults(t *testing.T) {
	fake := source.NewFake()
	fake.Seed(
		seedRecord("m1", "2024-01-01"),
		seedRecord("m2", "2024-01-02"),
		seedRecord("m3", "2024-01-03"),
	)
	m := newTestManager(t, fake)

	records, err := m.GetRecords(context.Background(), day(t, "2024-01-01"), day(t, "2024-01-03"), cache.Query{MaxResults: 2})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "m3", records[0].MessageID, "truncation keeps the newest records")
	assert.Equal(t, "m2", records[1].MessageID)
	assert.Equal(t, []string{"m2", "m3"}, fake.FetchedIDs(), "the oldest id is never fetched")
}

func TestGetRecordsFetchedCountLogged(t *testing.T) {
	fake := source.NewFake()
	fake.Seed(
		seedRecord("m1", "2024-01-01"),
		seedRecord("m2", "2024-01-02"),
		seedRecord("m3", "2024-01-03"),
	)

	var buf bytes.Buffer
	m, err := cache.NewManager(cache.Options{
		Root:        t.TempDir(),
		EnableCache: true,
		LockTimeout: time.Second,
		Logger:      zerolog.New(&buf),
		Source:      fake,
	})
	require.NoError(t, err)

	ctx := context.Background()
	start, end := day(t, "2024-01-01"), day(t, "2024-01-03")

	_, err = m.GetRecords(ctx, start, end, cache.Query{})
	require.NoError(t, err)

	// Truncating cached results must not skew the fetched count.
	buf.Reset()
	_, err = m.GetRecords(ctx, start, end, cache.Query{MaxResults: 1})
	require.NoError(t, err)

	assert.Contains(t, buf.String(), `"fetched":0`)
	assert.NotContains(t, buf.String(), `"fetched":-`)
}

func TestGetRecordsNoSource(t *testing.T) {
	m, err := cache.NewManager(cache.Options{
		Root:        t.TempDir(),
		EnableCache: true,
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, err)

	d := day(t, "2024-01-01")
	_, err = m.GetRecords(context.Background(), d, d, cache.Query{})
	assert.Error(t, err)
}

func TestGetRecordsCacheDisabled(t *testing.T) {
	fake := source.NewFake()
	fake.Seed(seedRecord("m1", "2024-01-01"))

	m, err := cache.NewManager(cache.Options{
		Root:        t.TempDir(),
		EnableCache: false,
		Logger:      zerolog.Nop(),
		Source:      fake,
	})
	require.NoError(t, err)

	d := day(t, "2024-01-01")
	records, err := m.GetRecords(context.Background(), d, d, cache.Query{})
	require.NoError(t, err)
	require.Len(t, records, 1)

	// Nothing was written through.
	assert.Empty(t, m.Store().List(""))
	assert.Equal(t, 0, m.Stats().Counters.Writes)
}

func TestInvalidateSelective(t *testing.T) {
	fake := source.NewFake()
	fake.Seed(seedRecord("m1", "2024-01-01"), seedRecord("m2", "2024-01-02"))
	m := newTestManager(t, fake)

	ctx := context.Background()
	_, err := m.GetRecords(ctx, day(t, "2024-01-01"), day(t, "2024-01-02"), cache.Query{})
	require.NoError(t, err)

	require.True(t, m.Invalidate([]string{"m1", "ghost"}))

	_, ok := m.Index().Location("m1")
	assert.False(t, ok)
	assert.Nil(t, m.Store().Load("m1", "2024-01-01"))

	// m2 survives and is still indexed.
	_, ok = m.Index().Location("m2")
	assert.True(t, ok)
	assert.NotNil(t, m.Store().Load("m2", "2024-01-02"))
}

func TestInvalidateAll(t *testing.T) {
	fake := source.NewFake()
	fake.Seed(seedRecord("m1", "2024-01-01"))
	m := newTestManager(t, fake)

	d := day(t, "2024-01-01")
	_, err := m.GetRecords(context.Background(), d, d, cache.Query{})
	require.NoError(t, err)

	require.True(t, m.Invalidate(nil))

	assert.Empty(t, m.Store().List(""))
	assert.Empty(t, m.Index().IDsInRange(d, d))

	// The skeleton is recreated: the cache is immediately usable again.
	records, err := m.GetRecords(context.Background(), d, d, cache.Query{})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestCleanup(t *testing.T) {
	fake := source.NewFake()
	oldDay := core.FormatDate(time.Now().AddDate(0, 0, -20))
	newDay := core.FormatDate(time.Now().AddDate(0, 0, -1))
	fake.Seed(seedRecord("old", oldDay), seedRecord("new", newDay))
	m := newTestManager(t, fake)

	start, _ := core.ParseDate(oldDay)
	end, _ := core.ParseDate(newDay)
	_, err := m.GetRecords(context.Background(), start, end, cache.Query{})
	require.NoError(t, err)

	assert.Equal(t, 1, m.Cleanup(7))

	// Indexes are rebuilt: the expired id is gone from both views.
	_, ok := m.Index().Location("old")
	assert.False(t, ok)
	_, ok = m.Index().Location("new")
	assert.True(t, ok)

	assert.Equal(t, 0, m.Cleanup(7), "second pass has nothing to delete")
}

func TestStatsSnapshot(t *testing.T) {
	fake := source.NewFake()
	fake.Seed(seedRecord("m1", "2024-01-01"))
	m := newTestManager(t, fake)

	stats := m.Stats()
	assert.Equal(t, 0, stats.TotalRequests)
	assert.Equal(t, 0.0, stats.HitRatePct)
	assert.True(t, stats.Enabled)
	assert.NotEmpty(t, stats.CacheDir)
	assert.Equal(t, core.DefaultSchemaVersion, stats.SchemaVersion)

	d := day(t, "2024-01-01")
	_, err := m.GetRecords(context.Background(), d, d, cache.Query{})
	require.NoError(t, err)

	stats = m.Stats()
	assert.Equal(t, 1, stats.Store.TotalRecords)
	assert.Equal(t, 1, stats.Index.TotalMessages)
	assert.Equal(t, 1, stats.Counters.Misses)
}
