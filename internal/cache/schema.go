package cache

import (
	"crypto/md5"
	"encoding/hex"
	"slices"
	"strings"
	"time"

	"github.com/mailvault/mailvault/internal/core"
)

// requiredFields are the fields every servable record must carry.
var requiredFields = []string{
	"message_id",
	"sender_email",
	"subject",
	"timestamp",
	"labels",
	"size_bytes",
	"has_attachments",
}

// SchemaManager owns record validation, structural-drift detection, the
// merge policy for refreshed records, and the upgrade path for legacy cache
// entries.
type SchemaManager struct {
	version string
}

// NewSchemaManager creates a schema manager stamping the given version.
func NewSchemaManager(version string) *SchemaManager {
	if version == "" {
		version = core.DefaultSchemaVersion
	}
	return &SchemaManager{version: version}
}

// Version returns the schema version this manager stamps.
func (s *SchemaManager) Version() string {
	return s.version
}

// RequiredFields returns the required field names.
func (s *SchemaManager) RequiredFields() []string {
	return slices.Clone(requiredFields)
}

// FieldsHash returns a hash of the sorted payload field names. Field names
// only, never values: two records with the same shape hash identically
// regardless of content.
func (s *SchemaManager) FieldsHash(r *Record) string {
	sum := md5.Sum([]byte(strings.Join(r.FieldNames(), ",")))
	return hex.EncodeToString(sum[:])
}

// IsValid reports whether every required field is populated and the
// metadata block is present. size_bytes and has_attachments are plain typed
// members and cannot be absent; the remaining required fields are checked
// for their zero values.
func (s *SchemaManager) IsValid(r *Record) bool {
	return len(s.MissingFields(r)) == 0 && r.Metadata != nil
}

// MissingFields returns the required fields not populated on r.
func (s *SchemaManager) MissingFields(r *Record) []string {
	var missing []string
	for _, field := range requiredFields {
		if !fieldPopulated(r, field) {
			missing = append(missing, field)
		}
	}
	return missing
}

func fieldPopulated(r *Record, field string) bool {
	switch field {
	case "message_id":
		return r.MessageID != ""
	case "sender_email":
		return r.SenderEmail != ""
	case "subject":
		return r.Subject != ""
	case "timestamp":
		return !r.Timestamp.IsZero()
	case "labels":
		return r.Labels != nil
	case "text_content":
		return r.TextContent != nil
	default:
		// size_bytes, has_attachments: typed members, always present.
		return true
	}
}

// Merge combines a cached record with its freshly fetched version.
//
// When the two have different field shapes (schema drift) the cached copy
// is discarded and fresh is stamped as a brand-new cache entry. Otherwise
// the merge starts from cached, copies the mutable fields from fresh where
// they differ, always takes a fresh text body when one is provided, and
// bumps last_updated and schema_version.
func (s *SchemaManager) Merge(cached, fresh *Record) *Record {
	if s.FieldsHash(cached) != s.FieldsHash(fresh) {
		return s.Stamp(fresh.Clone())
	}

	merged := cached.Clone()

	if !slices.Equal(cached.Labels, fresh.Labels) {
		merged.Labels = slices.Clone(fresh.Labels)
	}
	if cached.IsRead != fresh.IsRead {
		merged.IsRead = fresh.IsRead
	}
	if cached.IsImportant != fresh.IsImportant {
		merged.IsImportant = fresh.IsImportant
	}
	if cached.HasAttachments != fresh.HasAttachments {
		merged.HasAttachments = fresh.HasAttachments
	}
	if cached.SizeBytes != fresh.SizeBytes {
		merged.SizeBytes = fresh.SizeBytes
	}
	if cached.Snippet != fresh.Snippet {
		merged.Snippet = fresh.Snippet
	}
	if fresh.TextContent != nil {
		text := *fresh.TextContent
		merged.TextContent = &text
	}

	merged.ensureMetadata()
	merged.Metadata[MetaLastUpdated] = time.Now().Format(core.TimestampFmt)
	merged.Metadata[MetaSchemaVersion] = s.version

	return merged
}

// Stamp attaches a fresh metadata block to a record entering the cache.
func (s *SchemaManager) Stamp(r *Record) *Record {
	now := time.Now().Format(core.TimestampFmt)
	r.Metadata = map[string]any{
		MetaCachedAt:      now,
		MetaLastUpdated:   now,
		MetaSchemaVersion: s.version,
		MetaFieldsHash:    s.FieldsHash(r),
	}
	return r
}

// Upgrade brings a legacy record up to the current schema. Missing optional
// collections get empty defaults, the metadata block is created when
// absent, and the record is stamped with the current version and an
// upgraded_at marker. Upgrade never fails; it is the fallback that keeps
// old cache entries usable after a schema change.
func (s *SchemaManager) Upgrade(r *Record) *Record {
	if r.Labels == nil {
		r.Labels = []string{}
	}
	r.ensureMetadata()
	r.Metadata[MetaSchemaVersion] = s.version
	r.Metadata[MetaUpgradedAt] = time.Now().Format(core.TimestampFmt)
	return r
}
