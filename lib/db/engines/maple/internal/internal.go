package internal

import (
	"github.com/datasafe/papl/lib/db"
	"github.com/datasafe/papl/lib/db/util"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Entry Type (policy record with metadata)
// --------------------------------------------------------------------------

// Entry stores one policy record
type Entry struct {
	Value   string // Policy document
	Version string // Caller supplied version label
	Stamp   int64  // Caller supplied ordering stamp
	Seq     uint64 // Insertion sequence, kept across updates of the same key
}

// Record converts the entry back to a db.Record for key
func (e Entry) Record(key string) db.Record {
	return db.Record{
		Key:     key,
		Value:   e.Value,
		Version: e.Version,
		Stamp:   e.Stamp,
	}
}

// --------------------------------------------------------------------------
// Shard Type (partition of the database)
// --------------------------------------------------------------------------

// Shard represents a partition of the key space
type Shard struct {
	Data *xsync.MapOf[string, Entry]
}

// NewShard creates a new, empty shard
func NewShard() *Shard {
	return &Shard{
		Data: xsync.NewMapOf[string, Entry](),
	}
}

// GetShard returns the appropriate shard for a hashed key
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func GetShard[T any](key util.UintKey, shards []*T) *T {
	return shards[util.ShardIndex(key, len(shards))]
}

// --------------------------------------------------------------------------
// Match Type (result of a scan)
// --------------------------------------------------------------------------

// Match is a key found by a scan together with its insertion sequence
type Match struct {
	Key string
	Seq uint64
}
