// Package storage persists session state across process restarts and UI
// reloads.
//
// A Store is a flat, last-writer-wins key/value space. Three backends are
// provided: MemoryStore, FileStore (one file per key, atomic rename) and
// SQLiteStore (modernc.org/sqlite, pure Go). Snapshots layers typed access
// for message cache snapshots, UI interaction state and the reload flag on
// top of any Store, using the per-uuid key layout from internal/shared/paths.
//
// Values written by Snapshots go through Codec: JSON via sonic, zstd
// compressed once they pass a size threshold.
package storage
