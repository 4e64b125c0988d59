package cache

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/mailvault/mailvault/internal/core"
)

// newTestLayout returns a layout over a fresh temp dir with dirs created.
func newTestLayout(t *testing.T) Layout {
	t.Helper()
	l := NewLayout(t.TempDir())
	require.NoError(t, l.EnsureDirs())
	return l
}

// testRecord builds a valid record filed under the given day.
func testRecord(id, date string) *Record {
	day, _ := time.Parse(core.DateFmt, date)
	ts := day.Add(12 * time.Hour)
	return &Record{
		MessageID:            id,
		SenderEmail:          "alice@example.com",
		SenderName:           "Alice",
		RecipientEmail:       "bob@example.com",
		RecipientName:        "Bob",
		Subject:              "hello",
		Timestamp:            ts,
		SenderLocalTimestamp: ts,
		SizeBytes:            1024,
		Labels:               []string{"INBOX"},
		ThreadID:             "t-" + id,
		Snippet:              "hey there",
		HasAttachments:       false,
		IsRead:               true,
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
