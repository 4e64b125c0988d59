// Package cache implements a local, crash-safe message cache with secondary
// indexes.
//
// # Overview
//
// Each cached message is stored as one JSON file under
// <root>/records/YYYY-MM-DD/<message_id>.json, partitioned by the calendar
// day of the message timestamp. Two JSON indexes under <root>/metadata/
// provide fast lookups:
//
//   - message_index.json: message_id -> {file_path, date, last_updated}
//   - date_index.json:    date -> [message_id, ...]
//
// Both indexes are derived state. They can always be rebuilt from a full
// scan of the records directory, which is what makes RebuildIndexes a safe
// recovery path after any corruption.
//
// # Crash safety
//
// Record and index files are written to a temporary file in the target
// directory and atomically renamed into place, so a reader never observes a
// partially written file. Index reads and writes additionally take an
// advisory flock on a sibling .lock marker file, deleted on release. Lock
// acquisition is bounded: a caller that cannot get the lock within the
// configured timeout receives ErrLockBusy instead of blocking forever on a
// crashed holder.
//
// # Consistency
//
// The two index files are independent lock domains. Within one process a
// mutation updates both, but a concurrent reader can observe the message
// index updated while the date index write is still in flight. Callers must
// treat the two as eventually consistent; RebuildIndexes is the only
// operation that produces a jointly consistent snapshot.
//
// # Failure model
//
// Cache failures are silent and self-healing: a record or index that cannot
// be read degrades to a cache miss and is re-fetched from the source. Only
// directory creation at cache-root setup is fatal.
package cache
