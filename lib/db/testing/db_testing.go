package testing

import (
	"bytes"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"testing"

	"github.com/datasafe/papl/lib/db"
)

// DBFactory is a function that creates a new, empty instance of a PolicyDB implementation
type DBFactory func(t testing.TB) db.PolicyDB

// RunPolicyDBTests runs a comprehensive test suite for a PolicyDB implementation.
func RunPolicyDBTests(t *testing.T, name string, factory DBFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Upsert&Get", func(t *testing.T) {
			testUpsertGet(t, factory(t))
		})

		t.Run("UniqueOverwrite", func(t *testing.T) {
			testUniqueOverwrite(t, factory(t))
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory(t))
		})

		t.Run("RangeQueries", func(t *testing.T) {
			testRangeQueries(t, factory(t))
		})

		t.Run("Paging", func(t *testing.T) {
			testPaging(t, factory(t))
		})

		t.Run("Evict", func(t *testing.T) {
			testEvict(t, factory(t))
		})

		t.Run("SaveLoad", func(t *testing.T) {
			testSaveLoad(t, factory)
		})

		t.Run("EdgeCases", func(t *testing.T) {
			testEdgeCases(t, factory(t))
		})

		t.Run("RealisticUsage", func(t *testing.T) {
			testRealisticUsage(t, factory(t))
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Checks if the database supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, database db.PolicyDB, feature db.Feature) {
	if !database.SupportsFeature(feature) {
		t.Skip()
	}
}

func mustUpsert(t testing.TB, database db.PolicyDB, rec db.Record) {
	t.Helper()
	n, err := database.Upsert(rec)
	if err != nil {
		t.Fatalf("Upsert(%q) failed: %v", rec.Key, err)
	}
	if n <= 0 {
		t.Fatalf("Upsert(%q) reported %d affected records", rec.Key, n)
	}
}

func mustKeys(t testing.TB, database db.PolicyDB, bound db.Bound, stamp int64, page *db.Page) []string {
	t.Helper()
	keys, err := database.Keys(bound, stamp, page)
	if err != nil {
		t.Fatalf("Keys(%s %d) failed: %v", bound, stamp, err)
	}
	return keys
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x := append([]string(nil), a...)
	y := append([]string(nil), b...)
	sort.Strings(x)
	sort.Strings(y)
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}

func seedStamps(t testing.TB, database db.PolicyDB) {
	mustUpsert(t, database, db.Record{Key: "k1", Value: "p1", Version: "v1", Stamp: 100})
	mustUpsert(t, database, db.Record{Key: "k2", Value: "p2", Version: "v1", Stamp: 150})
	mustUpsert(t, database, db.Record{Key: "k3", Value: "p3", Version: "v1", Stamp: 200})
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testUpsertGet(t *testing.T, database db.PolicyDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureUpsert|db.FeatureGet)

	rec := db.Record{Key: "authz", Value: "package authz\ndefault allow := false", Version: "1.0.0", Stamp: 42}
	mustUpsert(t, database, rec)

	got, ok, err := database.Get(rec.Key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok {
		t.Fatalf("Expected key %s to exist after Upsert", rec.Key)
	}
	if got != rec {
		t.Errorf("Expected %+v, got %+v", rec, got)
	}

	_, ok, err = database.Get("nonexistent-key")
	if err != nil {
		t.Fatalf("Get of a missing key should not fail: %v", err)
	}
	if ok {
		t.Errorf("Expected nonexistent key to return loaded=false")
	}
}

func testUniqueOverwrite(t *testing.T, database db.PolicyDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureUpsert|db.FeatureGet)

	mustUpsert(t, database, db.Record{Key: "k", Value: "v1", Version: "ver1", Stamp: 1})
	mustUpsert(t, database, db.Record{Key: "k", Value: "v2", Version: "ver2", Stamp: 2})

	got, ok, err := database.Get("k")
	if err != nil || !ok {
		t.Fatalf("Expected k to exist, ok=%v err=%v", ok, err)
	}
	want := db.Record{Key: "k", Value: "v2", Version: "ver2", Stamp: 2}
	if got != want {
		t.Errorf("Overwrite must replace value, version and stamp: expected %+v, got %+v", want, got)
	}

	n, err := database.Count()
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected exactly 1 record after overwrite, got %d", n)
	}

	// the old stamp must not match any more
	if keys := mustKeys(t, database, db.AtMost, 1, nil); len(keys) != 0 {
		t.Errorf("Expected no key with stamp <= 1 after overwrite, got %v", keys)
	}
}

func testDelete(t *testing.T, database db.PolicyDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureUpsert|db.FeatureGet|db.FeatureDelete)

	mustUpsert(t, database, db.Record{Key: "delete-test-key", Value: "p", Version: "v", Stamp: 1})

	n, err := database.Delete("delete-test-key")
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 deleted record, got %d", n)
	}

	if _, ok, _ := database.Get("delete-test-key"); ok {
		t.Errorf("Expected key to not exist after Delete")
	}

	n, err = database.Delete("delete-test-key")
	if err != nil {
		t.Fatalf("Deleting an absent key should not fail: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected 0 deleted records for an absent key, got %d", n)
	}
}

func testRangeQueries(t *testing.T, database db.PolicyDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureUpsert|db.FeatureRange)

	seedStamps(t, database)

	if keys := mustKeys(t, database, db.AtLeast, 150, nil); !sameSet(keys, []string{"k2", "k3"}) {
		t.Errorf("Expected {k2, k3} for stamp >= 150, got %v", keys)
	}
	if keys := mustKeys(t, database, db.AtMost, 150, nil); !sameSet(keys, []string{"k1", "k2"}) {
		t.Errorf("Expected {k1, k2} for stamp <= 150, got %v", keys)
	}
	if keys := mustKeys(t, database, db.AtLeast, 201, nil); len(keys) != 0 {
		t.Errorf("Expected no keys for stamp >= 201, got %v", keys)
	}
	if keys := mustKeys(t, database, db.AtMost, math.MaxInt64, nil); !sameSet(keys, []string{"k1", "k2", "k3"}) {
		t.Errorf("Expected all keys for stamp <= MaxInt64, got %v", keys)
	}
	if keys := mustKeys(t, database, db.AtLeast, math.MinInt64, nil); keys == nil {
		t.Errorf("Keys should return an empty, non-nil slice or the matches, got nil")
	}
}

func testPaging(t *testing.T, database db.PolicyDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureUpsert|db.FeatureRange|db.FeaturePaging)

	for i := 0; i < 25; i++ {
		mustUpsert(t, database, db.Record{
			Key:     fmt.Sprintf("page-key-%02d", i),
			Value:   "p",
			Version: "v",
			Stamp:   int64(i % 5),
		})
	}

	all := mustKeys(t, database, db.AtLeast, 1, nil)
	if len(all) != 20 {
		t.Fatalf("Expected 20 keys with stamp >= 1, got %d", len(all))
	}

	var paged []string
	for offset := int64(0); ; offset += 6 {
		page := mustKeys(t, database, db.AtLeast, 1, &db.Page{Limit: 6, Offset: offset})
		if len(page) > 6 {
			t.Fatalf("Page at offset %d has %d keys, limit is 6", offset, len(page))
		}
		if len(page) == 0 {
			break
		}
		paged = append(paged, page...)
	}

	if len(paged) != len(all) {
		t.Fatalf("Pages should concatenate to %d keys, got %d", len(all), len(paged))
	}
	for i := range all {
		if paged[i] != all[i] {
			t.Fatalf("Pages should concatenate to the unpaged result in order: %v vs %v", paged, all)
		}
	}

	if keys := mustKeys(t, database, db.AtLeast, 1, &db.Page{Limit: 0, Offset: 0}); len(keys) != 0 {
		t.Errorf("Expected no keys for limit 0, got %v", keys)
	}
	if keys := mustKeys(t, database, db.AtLeast, 1, &db.Page{Limit: 10, Offset: 1000}); len(keys) != 0 {
		t.Errorf("Expected no keys past the end, got %v", keys)
	}
}

func testEvict(t *testing.T, database db.PolicyDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureUpsert|db.FeatureGet|db.FeatureEvict)

	seedStamps(t, database)

	n, err := database.Evict(db.AtMost, 150)
	if err != nil {
		t.Fatalf("Evict failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 evicted records, got %d", n)
	}

	for _, k := range []string{"k1", "k2"} {
		if _, ok, _ := database.Get(k); ok {
			t.Errorf("Expected %s to be evicted", k)
		}
	}
	if rec, ok, _ := database.Get("k3"); !ok || rec.Value != "p3" {
		t.Errorf("Expected k3 to survive the eviction, got %+v (ok=%v)", rec, ok)
	}

	n, err = database.Evict(db.AtMost, 150)
	if err != nil {
		t.Fatalf("Evict without matches should not fail: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected 0 evicted records on the second run, got %d", n)
	}

	n, err = database.Evict(db.AtLeast, 200)
	if err != nil {
		t.Fatalf("Evict failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 evicted record for stamp >= 200, got %d", n)
	}
	if count, _ := database.Count(); count != 0 {
		t.Errorf("Expected an empty database, got %d records", count)
	}
}

func testSaveLoad(t *testing.T, factory DBFactory) {
	source := factory(t)
	defer source.Close()

	requireFeature(t, source, db.FeatureUpsert|db.FeatureGet|db.FeatureSave|db.FeatureLoad)

	var want []db.Record
	for i := 0; i < 50; i++ {
		rec := db.Record{
			Key:     fmt.Sprintf("save-key-%d", i),
			Value:   fmt.Sprintf("package p%d", i),
			Version: fmt.Sprintf("v%d", i%3),
			Stamp:   int64(i * 10),
		}
		mustUpsert(t, source, rec)
		want = append(want, rec)
	}

	var buf bytes.Buffer
	if err := source.Save(&buf); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	target := factory(t)
	defer target.Close()

	// pre-existing keys are overwritten, unrelated keys survive
	mustUpsert(t, target, db.Record{Key: "save-key-0", Value: "stale", Version: "old", Stamp: -1})
	mustUpsert(t, target, db.Record{Key: "unrelated", Value: "x", Version: "y", Stamp: 1})

	if err := target.Load(&buf); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	for _, rec := range want {
		got, ok, err := target.Get(rec.Key)
		if err != nil || !ok {
			t.Fatalf("Expected %s after Load, ok=%v err=%v", rec.Key, ok, err)
		}
		if got != rec {
			t.Errorf("Expected %+v after Load, got %+v", rec, got)
		}
	}
	if n, _ := target.Count(); n != int64(len(want))+1 {
		t.Errorf("Expected %d records after Load, got %d", len(want)+1, n)
	}

	if err := target.Load(strings.NewReader("garbage")); err == nil {
		t.Errorf("Expected Load to reject a malformed snapshot")
	}
}

func testEdgeCases(t *testing.T, database db.PolicyDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureUpsert|db.FeatureGet|db.FeatureRange)

	cases := []db.Record{
		{Key: "", Value: "empty key", Version: "v", Stamp: 0},
		{Key: "empty-fields", Value: "", Version: "", Stamp: 0},
		{Key: "unicode-ключ-🔑", Value: "política ✓", Version: "β", Stamp: 1},
		{Key: "large", Value: strings.Repeat("x", 1<<20), Version: "v", Stamp: 2},
		{Key: "min", Value: "p", Version: "v", Stamp: math.MinInt64},
		{Key: "max", Value: "p", Version: "v", Stamp: math.MaxInt64},
		{Key: "sql'; DROP TABLE policy; --", Value: "p", Version: "v", Stamp: -3},
	}

	for _, rec := range cases {
		mustUpsert(t, database, rec)
	}
	for _, rec := range cases {
		got, ok, err := database.Get(rec.Key)
		if err != nil || !ok {
			t.Errorf("Expected key %q to exist, ok=%v err=%v", rec.Key, ok, err)
			continue
		}
		if got != rec {
			t.Errorf("Round trip mismatch for key %q", rec.Key)
		}
	}

	if keys := mustKeys(t, database, db.AtLeast, math.MaxInt64, nil); !sameSet(keys, []string{"max"}) {
		t.Errorf("Expected only max for stamp >= MaxInt64, got %v", keys)
	}
	if keys := mustKeys(t, database, db.AtMost, math.MinInt64, nil); !sameSet(keys, []string{"min"}) {
		t.Errorf("Expected only min for stamp <= MinInt64, got %v", keys)
	}
	if keys := mustKeys(t, database, db.AtMost, -1, nil); !sameSet(keys, []string{"min", "sql'; DROP TABLE policy; --"}) {
		t.Errorf("Expected negative stamps for stamp <= -1, got %v", keys)
	}
}

func testRealisticUsage(t *testing.T, database db.PolicyDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureUpsert|db.FeatureGet|db.FeatureDelete|db.FeatureRange|db.FeatureEvict)

	rng := rand.New(rand.NewSource(7))
	model := make(map[string]db.Record)

	for i := 0; i < 2000; i++ {
		key := fmt.Sprintf("policy-%d", rng.Intn(200))
		switch op := rng.Intn(10); {
		case op < 6:
			rec := db.Record{
				Key:     key,
				Value:   fmt.Sprintf("value-%d", i),
				Version: fmt.Sprintf("v%d", i),
				Stamp:   int64(rng.Intn(1000)),
			}
			mustUpsert(t, database, rec)
			model[key] = rec
		case op < 8:
			n, err := database.Delete(key)
			if err != nil {
				t.Fatalf("Delete failed: %v", err)
			}
			_, existed := model[key]
			if existed != (n == 1) {
				t.Fatalf("Delete(%s) returned %d but model existence was %v", key, n, existed)
			}
			delete(model, key)
		default:
			got, ok, err := database.Get(key)
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			want, existed := model[key]
			if ok != existed || (ok && got != want) {
				t.Fatalf("Get(%s) = %+v/%v, model has %+v/%v", key, got, ok, want, existed)
			}
		}
	}

	pivot := int64(500)
	var wantAtLeast []string
	for k, rec := range model {
		if rec.Stamp >= pivot {
			wantAtLeast = append(wantAtLeast, k)
		}
	}
	if keys := mustKeys(t, database, db.AtLeast, pivot, nil); !sameSet(keys, wantAtLeast) {
		t.Errorf("Range query disagrees with model: got %d keys, want %d", len(keys), len(wantAtLeast))
	}

	n, err := database.Evict(db.AtLeast, pivot)
	if err != nil {
		t.Fatalf("Evict failed: %v", err)
	}
	if n != int64(len(wantAtLeast)) {
		t.Errorf("Expected %d evicted records, got %d", len(wantAtLeast), n)
	}
	if count, _ := database.Count(); count != int64(len(model)-len(wantAtLeast)) {
		t.Errorf("Expected %d remaining records, got %d", len(model)-len(wantAtLeast), count)
	}
}
