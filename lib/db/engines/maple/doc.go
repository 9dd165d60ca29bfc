// Package maple implements an in-memory policy database that satisfies the
// db.PolicyDB interface. It keeps records in sharded concurrent maps and is
// used where an ephemeral backing medium without SQL is wanted, for example
// in tests or as a scratch store that is later exported to sqlite.
//
// Key Components:
//
//   - mapleImpl: The central database structure implementing db.PolicyDB. It owns
//     the shards and assigns every new key a monotonically increasing insertion
//     sequence. The sequence survives updates of the same key, which gives range
//     queries the same first-insertion order that the sqlite engine derives from
//     its row id.
//
//   - Shard: A partition of the key space backed by an xsync.MapOf. Keys are
//     hashed with a per-database seed (xxhash) and the hash selects the shard.
//
//   - Entry: Value, version label, stamp and insertion sequence of one key.
//
// Range Operations:
//
//	Keys and Evict scan every shard. A scan is linear in the number of records,
//	which is fine for the sizes a policy store holds. Evict re-checks each
//	candidate atomically before removing it.
//
// Persistence Format:
//
//	Save and Load use the shared db snapshot format, so snapshots can move
//	between maple and sqlite. Save does not block writers and produces a fuzzy
//	snapshot under concurrent writes; the store prevents this by serializing
//	every call.
//
// Usage Example:
//
//	database := maple.NewMapleDB(nil)
//	_, _ = database.Upsert(db.Record{Key: "authz", Value: "package authz", Version: "v1", Stamp: 1})
//	keys, _ := database.Keys(db.AtLeast, 0, nil)
package maple
