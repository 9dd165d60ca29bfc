package maple

import (
	"io"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/datasafe/papl/lib/db"
	"github.com/datasafe/papl/lib/db/engines/maple/internal"
	"github.com/datasafe/papl/lib/db/util"
)

// --------------------------------------------------------------------------
// Core Maple database structure
// --------------------------------------------------------------------------

// mapleImpl implements an in-memory policy database with sharded data
type mapleImpl struct {
	numShards int               // Number of shards
	seed      uint64            // Seed for hash function
	shards    []*internal.Shard // Array of shards
	seq       atomic.Uint64     // Last assigned insertion sequence
}

// DBOptions configures the mapleImpl behavior during initialization
type DBOptions struct {
	NumShards int // Number of shards (0 = auto)
}

// DefaultOptions returns the default mapleImpl options
func DefaultOptions() *DBOptions {
	return &DBOptions{
		NumShards: runtime.NumCPU(), // Auto-determine based on CPU count
	}
}

// --------------------------------------------------------------------------
// Initialization and Setup
// --------------------------------------------------------------------------

// NewMapleDB creates a new MapleDB instance with the specified options (optional)
//
// Thread-safety: This function is not thread-safe and should only be called once
// during initialization.
func NewMapleDB(opts *DBOptions) db.PolicyDB {
	if opts == nil {
		opts = DefaultOptions()
	}
	numShards := opts.NumShards
	if numShards <= 0 {
		numShards = runtime.NumCPU()
	}

	shards := make([]*internal.Shard, numShards)
	for i := range shards {
		shards[i] = internal.NewShard()
	}

	return &mapleImpl{
		numShards: numShards,
		seed:      util.GenerateSeed(),
		shards:    shards,
	}
}

// shardFor returns the shard responsible for key
func (maple *mapleImpl) shardFor(key string) *internal.Shard {
	return internal.GetShard(util.HashString(key, maple.seed), maple.shards)
}

// --------------------------------------------------------------------------
// PolicyDB Interface Methods - Write Operations
// --------------------------------------------------------------------------

// Upsert inserts or replaces an entry. A replaced entry keeps its insertion sequence.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Upsert(rec db.Record) (int64, error) {
	maple.shardFor(rec.Key).Data.Compute(rec.Key, func(old internal.Entry, loaded bool) (internal.Entry, bool) {
		seq := old.Seq
		if !loaded {
			seq = maple.seq.Add(1)
		}
		return internal.Entry{
			Value:   rec.Value,
			Version: rec.Version,
			Stamp:   rec.Stamp,
			Seq:     seq,
		}, false
	})
	return 1, nil
}

// Delete removes an entry with the specified key.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Delete(key string) (int64, error) {
	if _, loaded := maple.shardFor(key).Data.LoadAndDelete(key); loaded {
		return 1, nil
	}
	return 0, nil
}

// Evict removes every entry matching the bound.
// Each candidate is re-checked when it is removed, so an entry updated to a
// non-matching stamp in the meantime survives.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Evict(bound db.Bound, stamp int64) (int64, error) {
	var deleted int64
	for _, match := range maple.scan(bound, stamp) {
		maple.shardFor(match.Key).Data.Compute(match.Key, func(e internal.Entry, loaded bool) (internal.Entry, bool) {
			if !loaded {
				return e, true
			}
			if !bound.Match(e.Stamp, stamp) {
				return e, false
			}
			deleted++
			return e, true
		})
	}
	return deleted, nil
}

// --------------------------------------------------------------------------
// PolicyDB Interface Methods - Read Operations
// --------------------------------------------------------------------------

// Get retrieves an entry for a key.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Get(key string) (db.Record, bool, error) {
	e, ok := maple.shardFor(key).Data.Load(key)
	if !ok {
		return db.Record{}, false, nil
	}
	return e.Record(key), true, nil
}

// Keys returns the matching keys in insertion order.
//
// Thread-safety: This method is thread-safe but does not return a consistent
// cut if writes happen concurrently.
func (maple *mapleImpl) Keys(bound db.Bound, stamp int64, page *db.Page) ([]string, error) {
	matches := maple.scan(bound, stamp)

	if page != nil {
		if page.Offset >= int64(len(matches)) {
			matches = nil
		} else {
			matches = matches[page.Offset:]
			if page.Limit < int64(len(matches)) {
				matches = matches[:page.Limit]
			}
		}
	}

	keys := make([]string, len(matches))
	for i, m := range matches {
		keys[i] = m.Key
	}
	return keys, nil
}

// Count returns the number of entries over all shards.
func (maple *mapleImpl) Count() (int64, error) {
	var n int64
	for _, shard := range maple.shards {
		n += int64(shard.Data.Size())
	}
	return n, nil
}

// scan collects every matching key over all shards, sorted by insertion sequence
func (maple *mapleImpl) scan(bound db.Bound, stamp int64) []internal.Match {
	var matches []internal.Match
	for _, shard := range maple.shards {
		shard.Data.Range(func(key string, e internal.Entry) bool {
			if bound.Match(e.Stamp, stamp) {
				matches = append(matches, internal.Match{Key: key, Seq: e.Seq})
			}
			return true
		})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Seq < matches[j].Seq })
	return matches
}

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

// Save persists all entries in insertion order to the writer.
// Concurrent writes during Save produce a fuzzy snapshot.
func (maple *mapleImpl) Save(w io.Writer) error {
	type entryToSave struct {
		key   string
		entry internal.Entry
	}

	var entries []entryToSave
	for _, shard := range maple.shards {
		shard.Data.Range(func(key string, e internal.Entry) bool {
			entries = append(entries, entryToSave{key, e})
			return true
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].entry.Seq < entries[j].entry.Seq })

	recs := make([]db.Record, len(entries))
	for i, item := range entries {
		recs[i] = item.entry.Record(item.key)
	}
	return db.WriteSnapshot(w, recs)
}

// Load upserts every record of the snapshot, in snapshot order.
// Records applied before a decoding error stay in place.
func (maple *mapleImpl) Load(r io.Reader) error {
	return db.ReadSnapshot(r, func(rec db.Record) error {
		_, err := maple.Upsert(rec)
		return err
	})
}

// --------------------------------------------------------------------------
// Features and Metadata
// --------------------------------------------------------------------------

// GetInfo returns statistics about the database
func (maple *mapleImpl) GetInfo() db.DatabaseInfo {

	// create a size histogram for the info
	histogram := util.NewSizeHistogram()
	samplesPerShard := 100
	shardSizes := make([]float64, len(maple.shards))

	var wg sync.WaitGroup
	wg.Add(len(maple.shards))

	// concurrently collect samples from all shards
	for i, shard := range maple.shards {
		go func(i int, s *internal.Shard) {
			defer wg.Done()
			count := 0
			s.Data.Range(func(key string, e internal.Entry) bool {
				histogram.AddSample(len(key) + len(e.Value) + len(e.Version))
				count++
				return count < samplesPerShard
			})
			shardSizes[i] = float64(s.Data.Size())
		}(i, shard)
	}
	wg.Wait()

	var total float64
	for _, n := range shardSizes {
		total += n
	}

	// weighted estimate (60% median, 40% average) per entry plus stamp and sequence
	entryOverhead := 16
	perEntry := (histogram.MedianEstimate()*60+histogram.AverageSize()*40)/100 + entryOverhead

	meta := &struct {
		Records           int64                  `json:"records"`
		LastSequence      uint64                 `json:"last_sequence"`
		ShardCount        int                    `json:"shard_count"`
		ShardDistribution util.DistributionStats `json:"shard_distribution"`
		Info              string                 `json:"info"`
	}{
		Records:           int64(total),
		LastSequence:      maple.seq.Load(),
		ShardCount:        len(maple.shards),
		ShardDistribution: util.NewDistributionStats(shardSizes),
		Info:              "SizeBytes is an estimate based on sampled entries.",
	}

	return db.DatabaseInfo{
		SizeBytes:         perEntry * int(total),
		DbType:            db.ImplMaple,
		SupportedFeatures: supportedFeatures,
		Metadata:          meta,
	}
}

var supportedFeatures = []db.Feature{
	db.FeatureUpsert, db.FeatureGet, db.FeatureDelete,
	db.FeatureRange, db.FeaturePaging, db.FeatureEvict,
	db.FeatureSave, db.FeatureLoad,
}

// SupportsFeature checks whether all given features are supported
func (maple *mapleImpl) SupportsFeature(feature db.Feature) bool {
	var supported db.Feature
	for _, f := range supportedFeatures {
		supported |= f
	}
	return feature&supported == feature
}

// Close drops all entries.
func (maple *mapleImpl) Close() error {
	for _, shard := range maple.shards {
		shard.Data.Clear()
	}
	return nil
}
