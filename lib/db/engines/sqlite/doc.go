// Package sqlite implements the db.PolicyDB interface on top of
// modernc.org/sqlite, a pure-Go build of SQLite. It is the default backing
// medium of the policy store and works either against a database file or
// against an ephemeral in-memory database.
//
// Key Features:
//   - Idempotent schema bootstrap on every open (table "policy", unique index on key)
//   - Single-statement upserts (INSERT ... ON CONFLICT(key) DO UPDATE)
//   - Stamp range queries and evictions with optional LIMIT/OFFSET paging
//   - Snapshot Save/Load in the shared db snapshot format
//
// Schema:
//
//	CREATE TABLE policy (
//		id      INTEGER PRIMARY KEY,
//		stamp   INTEGER NOT NULL DEFAULT 0,
//		key     TEXT    NOT NULL,
//		version TEXT    NOT NULL,
//		policy  TEXT    NOT NULL
//	);
//	CREATE UNIQUE INDEX policy_key_idx ON policy (key);
//	CREATE INDEX policy_stamp_idx ON policy (stamp);
//
// Connection Handling:
//
//	The *sql.DB pool is pinned to exactly one connection. An in-memory sqlite
//	database exists only as long as the connection that created it, so the pool
//	must never open a second connection or recycle the first one. The single
//	connection also matches the store's model of one shared, serialized
//	connection per store instance.
//
// Usage Example:
//
//	// file backed
//	database, err := sqlite.NewSQLiteDB(sqlite.FileOptions("policies.db"))
//
//	// in-memory
//	database, err := sqlite.NewSQLiteDB(nil)
package sqlite
