package testing

import (
	"bytes"
	"fmt"
	"math/rand"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/datasafe/papl/lib/db"
)

// RunPolicyDBBenchmarks runs all benchmarks for a policy database implementation
func RunPolicyDBBenchmarks(b *testing.B, name string, factory DBFactory) {
	b.Run(name, func(b *testing.B) {

		b.Run("Upsert", func(b *testing.B) {
			benchmarkUpsert(b, factory(b))
		})

		b.Run("UpsertExisting", func(b *testing.B) {
			benchmarkUpsertExisting(b, factory(b))
		})

		b.Run("UpsertLargePolicy", func(b *testing.B) {
			benchmarkUpsertLargePolicy(b, factory(b))
		})

		b.Run("Get", func(b *testing.B) {
			benchmarkGet(b, factory(b))
		})

		b.Run("Delete", func(b *testing.B) {
			benchmarkDelete(b, factory(b))
		})

		b.Run("KeysPaged", func(b *testing.B) {
			benchmarkKeysPaged(b, factory(b))
		})

		b.Run("SaveLoad", func(b *testing.B) {
			benchmarkSaveLoad(b, factory)
		})

		b.Run("MixedUsage", func(b *testing.B) {
			benchmarkMixedUsage(b, factory(b))
		})
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

// Benchmark for Upsert of new keys
func benchmarkUpsert(b *testing.B, database db.PolicyDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureUpsert)

	var worker atomic.Int64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		id := worker.Add(1)
		counter := 0
		for pb.Next() {
			key := fmt.Sprintf("bench-key-%d-%d", id, counter)
			if _, err := database.Upsert(db.Record{Key: key, Value: "package bench", Version: "v1", Stamp: int64(counter)}); err != nil {
				b.Fatalf("Upsert failed: %v", err)
			}
			counter++
		}
	})
}

// Benchmark for overwriting a fixed set of keys
func benchmarkUpsertExisting(b *testing.B, database db.PolicyDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureUpsert)

	const numKeys = 1000
	for i := 0; i < numKeys; i++ {
		database.Upsert(db.Record{Key: fmt.Sprintf("existing-%d", i), Value: "p", Version: "v0", Stamp: 0})
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			key := fmt.Sprintf("existing-%d", counter%numKeys)
			if _, err := database.Upsert(db.Record{Key: key, Value: "p", Version: "v1", Stamp: int64(counter)}); err != nil {
				b.Fatalf("Upsert failed: %v", err)
			}
			counter++
		}
	})
}

// Benchmark for Upsert with a policy document of 64KB
func benchmarkUpsertLargePolicy(b *testing.B, database db.PolicyDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureUpsert)

	policy := strings.Repeat("allow { input.user == \"admin\" }\n", 64*1024/33)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := fmt.Sprintf("large-%d", i%100)
		if _, err := database.Upsert(db.Record{Key: key, Value: policy, Version: "v", Stamp: int64(i)}); err != nil {
			b.Fatalf("Upsert failed: %v", err)
		}
	}
}

// Benchmark for Get of existing keys
func benchmarkGet(b *testing.B, database db.PolicyDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureUpsert|db.FeatureGet)

	const numKeys = 1000
	keys := make([]string, numKeys)
	for i := range keys {
		keys[i] = fmt.Sprintf("get-key-%d", i)
		database.Upsert(db.Record{Key: keys[i], Value: "package get", Version: "v", Stamp: int64(i)})
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			if _, _, err := database.Get(keys[counter%numKeys]); err != nil {
				b.Fatalf("Get failed: %v", err)
			}
			counter++
		}
	})
}

// Benchmark for Delete (setup of each key is excluded from the timing)
func benchmarkDelete(b *testing.B, database db.PolicyDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureUpsert|db.FeatureDelete)

	for i := 0; i < b.N; i++ {
		database.Upsert(db.Record{Key: fmt.Sprintf("delete-%d", i), Value: "p", Version: "v", Stamp: 0})
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := database.Delete(fmt.Sprintf("delete-%d", i)); err != nil {
			b.Fatalf("Delete failed: %v", err)
		}
	}
}

// Benchmark for paged stamp range queries
func benchmarkKeysPaged(b *testing.B, database db.PolicyDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureUpsert|db.FeatureRange|db.FeaturePaging)

	const numKeys = 5000
	for i := 0; i < numKeys; i++ {
		database.Upsert(db.Record{Key: fmt.Sprintf("range-%d", i), Value: "p", Version: "v", Stamp: int64(i)})
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		page := &db.Page{Limit: 100, Offset: int64(i%20) * 100}
		if _, err := database.Keys(db.AtLeast, numKeys/2, page); err != nil {
			b.Fatalf("Keys failed: %v", err)
		}
	}
}

// Benchmark for a full Save followed by a Load into a fresh instance
func benchmarkSaveLoad(b *testing.B, factory DBFactory) {
	source := factory(b)
	b.Cleanup(func() {
		source.Close()
	})

	requireFeature(b, source, db.FeatureUpsert|db.FeatureSave|db.FeatureLoad)

	for i := 0; i < 1000; i++ {
		source.Upsert(db.Record{Key: fmt.Sprintf("snap-%d", i), Value: "package snap", Version: "v", Stamp: int64(i)})
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var buf bytes.Buffer
		if err := source.Save(&buf); err != nil {
			b.Fatalf("Save failed: %v", err)
		}

		b.StopTimer()
		target := factory(b)
		b.StartTimer()

		if err := target.Load(&buf); err != nil {
			b.Fatalf("Load failed: %v", err)
		}

		b.StopTimer()
		target.Close()
		b.StartTimer()
	}
}

// Benchmark for a read-heavy mix of operations (70% get, 20% upsert, 10% delete)
func benchmarkMixedUsage(b *testing.B, database db.PolicyDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureUpsert|db.FeatureGet|db.FeatureDelete)

	const numKeys = 1000
	for i := 0; i < numKeys; i++ {
		database.Upsert(db.Record{Key: fmt.Sprintf("mixed-%d", i), Value: "p", Version: "v", Stamp: int64(i)})
	}

	var seed atomic.Int64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		rng := rand.New(rand.NewSource(seed.Add(1)))
		for pb.Next() {
			key := fmt.Sprintf("mixed-%d", rng.Intn(numKeys))
			switch op := rng.Intn(10); {
			case op < 7:
				database.Get(key)
			case op < 9:
				database.Upsert(db.Record{Key: key, Value: "p", Version: "v", Stamp: rng.Int63()})
			default:
				database.Delete(key)
			}
		}
	})
}
