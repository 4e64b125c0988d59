package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailvault/mailvault/internal/core"
)

func TestStoreRoundTrip(t *testing.T) {
	layout := newTestLayout(t)
	store := NewRecordStore(layout, testLogger())

	rec := testRecord("m1", "2024-01-01")
	text := "full body"
	rec.TextContent = &text

	require.True(t, store.Save(rec, "m1", "2024-01-01"))

	loaded := store.Load("m1", "2024-01-01")
	require.NotNil(t, loaded)
	assert.Equal(t, rec.MessageID, loaded.MessageID)
	assert.Equal(t, rec.SenderEmail, loaded.SenderEmail)
	assert.Equal(t, rec.Subject, loaded.Subject)
	assert.True(t, rec.Timestamp.Equal(loaded.Timestamp))
	assert.Equal(t, rec.SizeBytes, loaded.SizeBytes)
	assert.Equal(t, rec.Labels, loaded.Labels)
	require.NotNil(t, loaded.TextContent)
	assert.Equal(t, "full body", *loaded.TextContent)

	// Save stamps cache metadata.
	require.NotNil(t, loaded.Metadata)
	assert.NotEmpty(t, loaded.MetaString(MetaCachedAt))
	assert.Equal(t, layout.RecordPath("m1", "2024-01-01"), loaded.MetaString(MetaFilePath))
}

func TestStoreSaveIsAtomic(t *testing.T) {
	layout := newTestLayout(t)
	store := NewRecordStore(layout, testLogger())

	require.True(t, store.Save(testRecord("m1", "2024-01-01"), "m1", "2024-01-01"))

	path := layout.RecordPath("m1", "2024-01-01")
	_, err := os.Stat(path)
	require.NoError(t, err)
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "no temp file may remain after save")
}

func TestStoreLoadMissing(t *testing.T) {
	store := NewRecordStore(newTestLayout(t), testLogger())
	assert.Nil(t, store.Load("nope", "2024-01-01"))
}

func TestStoreLoadCorrupt(t *testing.T) {
	layout := newTestLayout(t)
	store := NewRecordStore(layout, testLogger())

	path := layout.RecordPath("bad", "2024-01-01")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(`{"message_id": "bad", truncated`), 0o644))

	assert.Nil(t, store.Load("bad", "2024-01-01"), "corrupt record is a miss, not a failure")
}

func TestStoreDelete(t *testing.T) {
	layout := newTestLayout(t)
	store := NewRecordStore(layout, testLogger())

	require.True(t, store.Save(testRecord("m1", "2024-01-01"), "m1", "2024-01-01"))
	assert.True(t, store.Delete("m1", "2024-01-01"))
	assert.Nil(t, store.Load("m1", "2024-01-01"))

	// Deleting an absent record succeeds.
	assert.True(t, store.Delete("m1", "2024-01-01"))
}

func TestStoreDeleteByID(t *testing.T) {
	layout := newTestLayout(t)
	store := NewRecordStore(layout, testLogger())

	require.True(t, store.Save(testRecord("m1", "2024-01-01"), "m1", "2024-01-01"))
	require.True(t, store.Save(testRecord("m2", "2024-01-02"), "m2", "2024-01-02"))

	assert.True(t, store.DeleteByID("m2"), "found without knowing the partition")
	assert.Nil(t, store.Load("m2", "2024-01-02"))
	assert.NotNil(t, store.Load("m1", "2024-01-01"))

	assert.False(t, store.DeleteByID("m2"), "already gone")
}

func TestStoreList(t *testing.T) {
	layout := newTestLayout(t)
	store := NewRecordStore(layout, testLogger())

	require.True(t, store.Save(testRecord("m1", "2024-01-01"), "m1", "2024-01-01"))
	require.True(t, store.Save(testRecord("m2", "2024-01-01"), "m2", "2024-01-01"))
	require.True(t, store.Save(testRecord("m3", "2024-01-02"), "m3", "2024-01-02"))

	assert.ElementsMatch(t, []string{"m1", "m2"}, store.List("2024-01-01"))
	assert.ElementsMatch(t, []string{"m3"}, store.List("2024-01-02"))
	assert.ElementsMatch(t, []string{"m1", "m2", "m3"}, store.List(""))
	assert.Empty(t, store.List("2024-01-03"))
}

func TestStoreStats(t *testing.T) {
	layout := newTestLayout(t)
	store := NewRecordStore(layout, testLogger())

	require.True(t, store.Save(testRecord("m1", "2024-01-01"), "m1", "2024-01-01"))
	require.True(t, store.Save(testRecord("m2", "2024-01-01"), "m2", "2024-01-01"))
	require.True(t, store.Save(testRecord("m3", "2024-01-02"), "m3", "2024-01-02"))

	stats := store.Stats()
	assert.Equal(t, 3, stats.TotalRecords)
	assert.Equal(t, 2, stats.DayCounts["2024-01-01"])
	assert.Equal(t, 1, stats.DayCounts["2024-01-02"])
	assert.Greater(t, stats.TotalSizeBytes, int64(0))
}

func TestStoreCleanupBoundary(t *testing.T) {
	layout := newTestLayout(t)
	store := NewRecordStore(layout, testLogger())

	old := core.FormatDate(time.Now().AddDate(0, 0, -10))
	boundary := core.FormatDate(time.Now().AddDate(0, 0, -7))
	recent := core.FormatDate(time.Now().AddDate(0, 0, -1))

	require.True(t, store.Save(testRecord("old1", old), "old1", old))
	require.True(t, store.Save(testRecord("old2", old), "old2", old))
	require.True(t, store.Save(testRecord("edge", boundary), "edge", boundary))
	require.True(t, store.Save(testRecord("new", recent), "new", recent))

	deleted := store.CleanupOlderThan(7)
	assert.Equal(t, 2, deleted)

	// Strictly-older partitions are gone, directory included.
	_, err := os.Stat(layout.DayDir(old))
	assert.True(t, os.IsNotExist(err))

	// The boundary day and newer are retained.
	assert.NotNil(t, store.Load("edge", boundary))
	assert.NotNil(t, store.Load("new", recent))
}

func TestStoreCleanupSkipsNonDateDirs(t *testing.T) {
	layout := newTestLayout(t)
	store := NewRecordStore(layout, testLogger())

	junk := filepath.Join(layout.RecordsDir(), "not-a-date")
	require.NoError(t, os.MkdirAll(junk, 0o755))

	assert.Equal(t, 0, store.CleanupOlderThan(1))
	_, err := os.Stat(junk)
	assert.NoError(t, err, "non-date directories are skipped, not deleted")
}
