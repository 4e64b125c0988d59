package cache

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/mailvault/mailvault/internal/core"
)

// Metadata keys stamped by the cache. The metadata block is a plain map so
// that fields added by newer versions survive a load/save round trip.
const (
	MetaCachedAt      = "cached_at"
	MetaLastUpdated   = "last_updated"
	MetaSchemaVersion = "schema_version"
	MetaFieldsHash    = "fields_hash"
	MetaFilePath      = "file_path"
	MetaUpgradedAt    = "upgraded_at"
)

// Record is one cached message. Required fields are plain typed members;
// optional fields are pointers so absence is distinguishable from a zero
// value in the serialized form.
type Record struct {
	MessageID            string         `json:"message_id"`
	SenderEmail          string         `json:"sender_email"`
	SenderName           string         `json:"sender_name"`
	RecipientEmail       string         `json:"recipient_email"`
	RecipientName        string         `json:"recipient_name"`
	Subject              string         `json:"subject"`
	Timestamp            time.Time      `json:"timestamp"`
	SenderLocalTimestamp time.Time      `json:"sender_local_timestamp"`
	SizeBytes            int64          `json:"size_bytes"`
	Labels               []string       `json:"labels"`
	ThreadID             string         `json:"thread_id"`
	Snippet              string         `json:"snippet"`
	HasAttachments       bool           `json:"has_attachments"`
	IsRead               bool           `json:"is_read"`
	IsImportant          bool           `json:"is_important"`
	TextContent          *string        `json:"text_content,omitempty"`
	Metadata             map[string]any `json:"metadata,omitempty"`
}

// Day returns the partition key (YYYY-MM-DD) derived from the message
// timestamp.
func (r *Record) Day() string {
	return r.Timestamp.Format(core.DateFmt)
}

// FieldNames returns the sorted names of the payload fields present in the
// serialized form. The metadata block is excluded: the hash built from
// these names detects structural drift of the message shape itself, and
// freshly mapped records have no metadata yet.
func (r *Record) FieldNames() []string {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	delete(m, "metadata")

	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MetaString returns the named metadata value when it is a string.
func (r *Record) MetaString(key string) string {
	if r.Metadata == nil {
		return ""
	}
	if s, ok := r.Metadata[key].(string); ok {
		return s
	}
	return ""
}

// ensureMetadata initializes the metadata map when absent.
func (r *Record) ensureMetadata() {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
}

// Clone returns a deep-enough copy: labels and metadata are copied, the
// optional text body is re-pointed at a copied string.
func (r *Record) Clone() *Record {
	out := *r
	if r.Labels != nil {
		out.Labels = append([]string(nil), r.Labels...)
	}
	if r.TextContent != nil {
		text := *r.TextContent
		out.TextContent = &text
	}
	if r.Metadata != nil {
		out.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}
