package util

import (
	"crypto/rand"
	"encoding/binary"
	"time"

	"github.com/cespare/xxhash/v2"
)

// --------------------------------------------------------------------------
// General Utility Functions
// --------------------------------------------------------------------------

// GenerateSeed returns a random seed used to salt shard hashing per database.
// Falls back to the clock if the system random source fails.
func GenerateSeed() uint64 {
	var seed [8]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(seed[:])
}

// --------------------------------------------------------------------------
// Hash Functions
// --------------------------------------------------------------------------

// UintKey is the hashed form of a string key
type UintKey uint64

// HashString hashes s with xxhash and folds in seed with a splitmix64 finalizer,
// so two databases with different seeds place the same key on different shards.
func HashString(s string, seed uint64) UintKey {
	h := xxhash.Sum64String(s) ^ seed
	h ^= h >> 30
	h *= 0xbf58476d1ce4e5b9
	h ^= h >> 27
	h *= 0x94d049bb133111eb
	h ^= h >> 31
	return UintKey(h)
}

// ShardIndex maps a hashed key onto one of n shards.
func ShardIndex(key UintKey, n int) int {
	return int(uint64(key) % uint64(n))
}
