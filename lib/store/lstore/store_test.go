package lstore

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/datasafe/papl/lib/db"
	"github.com/datasafe/papl/lib/db/engines/maple"
	"github.com/datasafe/papl/lib/store"
	"go.uber.org/goleak"
	"pgregory.net/rapid"
)

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func newMapleStore(t testing.TB) store.IStore {
	t.Helper()
	s, err := NewLocalStore(func() (db.PolicyDB, error) {
		return maple.NewMapleDB(nil), nil
	})
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	return s
}

func newSQLiteStore(t testing.TB) store.IStore {
	t.Helper()
	s, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	return s
}

// forEachEngine runs fn against a fresh store for every engine
func forEachEngine(t *testing.T, fn func(t *testing.T, s store.IStore)) {
	for name, factory := range map[string]func(testing.TB) store.IStore{
		"SQLite": newSQLiteStore,
		"Maple":  newMapleStore,
	} {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			defer s.Close()
			fn(t, s)
		})
	}
}

func mustSave(t testing.TB, s store.IStore, key, value, version string, stamp int64) {
	t.Helper()
	n, err := s.Save(key, value, version, stamp)
	if err != nil {
		t.Fatalf("Save(%q): %v", key, err)
	}
	if n <= 0 {
		t.Fatalf("Save(%q) affected %d records", key, n)
	}
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, k := range a {
		seen[k]++
	}
	for _, k := range b {
		seen[k]--
		if seen[k] < 0 {
			return false
		}
	}
	return true
}

// faultyDB wraps a PolicyDB and injects panics and errors
type faultyDB struct {
	db.PolicyDB
	panicOn     string
	upsertErr   error
	zeroUpserts bool
	noEvict     bool
	closed      int
}

func (f *faultyDB) Get(key string) (db.Record, bool, error) {
	if key == f.panicOn {
		panic("boom")
	}
	return f.PolicyDB.Get(key)
}

func (f *faultyDB) Upsert(rec db.Record) (int64, error) {
	if f.upsertErr != nil {
		return 0, f.upsertErr
	}
	if f.zeroUpserts {
		return 0, nil
	}
	return f.PolicyDB.Upsert(rec)
}

func (f *faultyDB) SupportsFeature(feature db.Feature) bool {
	if f.noEvict && feature&db.FeatureEvict != 0 {
		return false
	}
	return f.PolicyDB.SupportsFeature(feature)
}

func (f *faultyDB) Close() error {
	f.closed++
	return f.PolicyDB.Close()
}

func newFaultyStore(t testing.TB, f *faultyDB) store.IStore {
	t.Helper()
	f.PolicyDB = maple.NewMapleDB(nil)
	s, err := NewLocalStore(func() (db.PolicyDB, error) { return f, nil })
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	return s
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestRoundTrip(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s store.IStore) {
		mustSave(t, s, "authz", "package authz", "1.2.0", 10)

		value, err := s.Get("authz")
		if err != nil || value != "package authz" {
			t.Errorf("Get = %q, %v", value, err)
		}
		version, err := s.Version("authz")
		if err != nil || version != "1.2.0" {
			t.Errorf("Version = %q, %v", version, err)
		}
		value, version, err = s.VersionAndValue("authz")
		if err != nil || value != "package authz" || version != "1.2.0" {
			t.Errorf("VersionAndValue = (%q, %q), %v", value, version, err)
		}
	})
}

func TestRoundTripProperty(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s store.IStore) {
		text := rapid.String().Filter(func(v string) bool { return !strings.ContainsRune(v, 0) })

		rapid.Check(t, func(rt *rapid.T) {
			key := text.Draw(rt, "key")
			value := text.Draw(rt, "value")
			version := text.Draw(rt, "version")
			stamp := rapid.Int64().Draw(rt, "stamp")

			before, err := s.Count()
			if err != nil {
				rt.Fatalf("Count: %v", err)
			}
			_, lookupErr := s.Get(key)

			if n, err := s.Save(key, value, version, stamp); err != nil || n <= 0 {
				rt.Fatalf("Save = %d, %v", n, err)
			}

			gotValue, gotVersion, err := s.VersionAndValue(key)
			if err != nil {
				rt.Fatalf("VersionAndValue: %v", err)
			}
			if gotValue != value || gotVersion != version {
				rt.Fatalf("VersionAndValue = (%q, %q), want (%q, %q)", gotValue, gotVersion, value, version)
			}

			after, err := s.Count()
			if err != nil {
				rt.Fatalf("Count: %v", err)
			}
			want := before + 1
			if lookupErr == nil {
				want = before
			}
			if after != want {
				rt.Fatalf("Count after save = %d, want %d", after, want)
			}
		})
	})
}

func TestUniqueOverwrite(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s store.IStore) {
		mustSave(t, s, "k", "v1", "ver1", 1)
		mustSave(t, s, "k", "v2", "ver2", 2)

		if value, _ := s.Get("k"); value != "v2" {
			t.Errorf("Get = %q, want v2", value)
		}
		if n, _ := s.Count(); n != 1 {
			t.Errorf("Count = %d, want 1", n)
		}
	})
}

func TestDeleteIdempotence(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s store.IStore) {
		n, err := s.Delete("absent")
		if err != nil || n != 0 {
			t.Errorf("Delete(absent) = %d, %v", n, err)
		}

		mustSave(t, s, "k", "v", "ver", 1)
		if n, err := s.Delete("k"); err != nil || n != 1 {
			t.Errorf("Delete(k) = %d, %v", n, err)
		}

		_, err = s.Get("k")
		if !errors.Is(err, store.ErrNotFound) {
			t.Errorf("Get after Delete should fail with ErrNotFound, got %v", err)
		}
		_, err = s.Version("k")
		if !errors.Is(err, store.ErrNotFound) {
			t.Errorf("Version after Delete should fail with ErrNotFound, got %v", err)
		}
		_, _, err = s.VersionAndValue("k")
		if !errors.Is(err, store.ErrNotFound) {
			t.Errorf("VersionAndValue after Delete should fail with ErrNotFound, got %v", err)
		}
	})
}

func TestRangeAndEviction(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s store.IStore) {
		mustSave(t, s, "k1", "p1", "v", 100)
		mustSave(t, s, "k2", "p2", "v", 150)
		mustSave(t, s, "k3", "p3", "v", 200)

		keys, err := s.KeysWithStampAtLeast(150)
		if err != nil || !sameSet(keys, []string{"k2", "k3"}) {
			t.Errorf("KeysWithStampAtLeast(150) = %v, %v", keys, err)
		}
		keys, err = s.KeysWithStampAtMost(150)
		if err != nil || !sameSet(keys, []string{"k1", "k2"}) {
			t.Errorf("KeysWithStampAtMost(150) = %v, %v", keys, err)
		}

		n, err := s.EvictAtMost(150)
		if err != nil || n != 2 {
			t.Fatalf("EvictAtMost(150) = %d, %v", n, err)
		}
		for _, k := range []string{"k1", "k2"} {
			if _, err := s.Get(k); !errors.Is(err, store.ErrNotFound) {
				t.Errorf("Get(%s) after eviction should fail with ErrNotFound, got %v", k, err)
			}
		}
		if value, err := s.Get("k3"); err != nil || value != "p3" {
			t.Errorf("Get(k3) = %q, %v", value, err)
		}

		if n, err := s.EvictAtLeast(1000); err != nil || n != 0 {
			t.Errorf("EvictAtLeast(1000) = %d, %v", n, err)
		}
		if n, err := s.EvictAtLeast(200); err != nil || n != 1 {
			t.Errorf("EvictAtLeast(200) = %d, %v", n, err)
		}
	})
}

func TestPagination(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s store.IStore) {
		for i := 0; i < 10; i++ {
			mustSave(t, s, fmt.Sprintf("key-%d", i), "p", "v", int64(i))
		}

		keys, err := s.KeysWithStampAtLeastPageable(0, 1, 0)
		if err != nil || len(keys) != 0 {
			t.Errorf("size 0 must return an empty result, got %v, %v", keys, err)
		}

		for _, pageable := range []struct {
			name  string
			all   func(int64) ([]string, error)
			paged func(int64, int64, int64) ([]string, error)
			pivot int64
		}{
			{"AtLeast", s.KeysWithStampAtLeast, s.KeysWithStampAtLeastPageable, 3},
			{"AtMost", s.KeysWithStampAtMost, s.KeysWithStampAtMostPageable, 7},
		} {
			all, err := pageable.all(pageable.pivot)
			if err != nil {
				t.Fatalf("%s: %v", pageable.name, err)
			}

			var concatenated []string
			for page := int64(1); ; page++ {
				keys, err := pageable.paged(pageable.pivot, page, 3)
				if err != nil {
					t.Fatalf("%s page %d: %v", pageable.name, page, err)
				}
				if len(keys) == 0 {
					break
				}
				concatenated = append(concatenated, keys...)
			}

			if strings.Join(concatenated, ",") != strings.Join(all, ",") {
				t.Errorf("%s: pages %v do not concatenate to %v", pageable.name, concatenated, all)
			}
		}
	})
}

func TestPaginationRejectsInvalidArguments(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s store.IStore) {
		mustSave(t, s, "k", "p", "v", 1)

		for _, tc := range []struct {
			page, size int64
		}{
			{page: 0, size: 10},
			{page: -1, size: 10},
			{page: 1, size: -1},
			{page: math.MaxInt64, size: 2},
		} {
			_, err := s.KeysWithStampAtLeastPageable(0, tc.page, tc.size)
			if !errors.Is(err, store.ErrInvalidArgument) {
				t.Errorf("page=%d size=%d: expected ErrInvalidArgument, got %v", tc.page, tc.size, err)
			}
			_, err = s.KeysWithStampAtMostPageable(0, tc.page, tc.size)
			if !errors.Is(err, store.ErrInvalidArgument) {
				t.Errorf("page=%d size=%d: expected ErrInvalidArgument, got %v", tc.page, tc.size, err)
			}
		}

		if keys, err := s.KeysWithStampAtLeastPageable(0, 0, 0); err != nil || len(keys) != 0 {
			t.Errorf("size 0 must win over an invalid page, got %v, %v", keys, err)
		}
	})
}

func TestClosedStoreGuard(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s store.IStore) {
		mustSave(t, s, "k", "v", "ver", 1)

		if err := s.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}

		checks := map[string]error{}
		_, checks["Save"] = s.Save("k", "v", "ver", 1)
		_, checks["Get"] = s.Get("k")
		_, checks["Version"] = s.Version("k")
		_, _, checks["VersionAndValue"] = s.VersionAndValue("k")
		_, checks["Delete"] = s.Delete("k")
		_, checks["KeysWithStampAtLeast"] = s.KeysWithStampAtLeast(0)
		_, checks["KeysWithStampAtMost"] = s.KeysWithStampAtMost(0)
		_, checks["KeysWithStampAtLeastPageable"] = s.KeysWithStampAtLeastPageable(0, 0, -1)
		_, checks["KeysWithStampAtMostPageable"] = s.KeysWithStampAtMostPageable(0, 1, 0)
		_, checks["EvictAtLeast"] = s.EvictAtLeast(0)
		_, checks["EvictAtMost"] = s.EvictAtMost(0)
		_, checks["Count"] = s.Count()
		checks["Export"] = s.Export(&bytes.Buffer{})
		checks["Import"] = s.Import(&bytes.Buffer{})
		_, checks["GetDBInfo"] = s.GetDBInfo()
		checks["Close"] = s.Close()

		for name, err := range checks {
			if !errors.Is(err, store.ErrClosed) {
				t.Errorf("%s after Close: expected ErrClosed, got %v", name, err)
			}
		}
	})
}

func TestPanicPoisonsStore(t *testing.T) {
	f := &faultyDB{panicOn: "boom"}
	s := newFaultyStore(t, f)

	mustSave(t, s, "k", "v", "ver", 1)

	_, err := s.Get("boom")
	if !errors.Is(err, store.ErrLockPoisoned) {
		t.Fatalf("panicking Get should fail with ErrLockPoisoned, got %v", err)
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("LockError should carry the panic value, got %q", err.Error())
	}

	_, err = s.Get("k")
	if !errors.Is(err, store.ErrLockPoisoned) {
		t.Errorf("Get after poisoning should fail with ErrLockPoisoned, got %v", err)
	}
	_, err = s.Save("k2", "v", "ver", 1)
	if !errors.Is(err, store.ErrLockPoisoned) {
		t.Errorf("Save after poisoning should fail with ErrLockPoisoned, got %v", err)
	}

	// a poisoned store still releases its database
	if err := s.Close(); err != nil {
		t.Errorf("Close of a poisoned store: %v", err)
	}
	if f.closed != 1 {
		t.Errorf("database closed %d times, want 1", f.closed)
	}
	if _, err := s.Get("k"); !errors.Is(err, store.ErrClosed) {
		t.Errorf("Get after Close should fail with ErrClosed, got %v", err)
	}
}

func TestBackingStoreErrors(t *testing.T) {
	cause := errors.New("disk on fire")
	f := &faultyDB{upsertErr: cause}
	s := newFaultyStore(t, f)
	defer s.Close()

	_, err := s.Save("k", "v", "ver", 1)
	if !errors.Is(err, store.ErrBackingStore) {
		t.Errorf("expected ErrBackingStore, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("expected the cause to be wrapped, got %v", err)
	}
	var storeErr *store.Error
	if !errors.As(err, &storeErr) || storeErr.Code != store.RetCInternalError {
		t.Errorf("expected a *store.Error with RetCInternalError, got %v", err)
	}

	f.upsertErr = nil
	f.zeroUpserts = true
	if _, err := s.Save("k", "v", "ver", 1); !errors.Is(err, store.ErrBackingStore) {
		t.Errorf("save without affected records should fail with ErrBackingStore, got %v", err)
	}
}

func TestUnsupportedOperation(t *testing.T) {
	f := &faultyDB{noEvict: true}
	s := newFaultyStore(t, f)
	defer s.Close()

	if _, err := s.EvictAtMost(1); !errors.Is(err, store.ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
	if _, err := s.Count(); err != nil {
		t.Errorf("Count should still work: %v", err)
	}
}

func TestFactoryError(t *testing.T) {
	cause := errors.New("no database for you")
	_, err := NewLocalStore(func() (db.PolicyDB, error) { return nil, cause })
	if !errors.Is(err, store.ErrBackingStore) || !errors.Is(err, cause) {
		t.Errorf("expected a wrapped ErrBackingStore, got %v", err)
	}

	_, err = Open(filepath.Join(t.TempDir(), "missing", "policy.db"))
	if !errors.Is(err, store.ErrBackingStore) {
		t.Errorf("Open of an inaccessible location should fail with ErrBackingStore, got %v", err)
	}
}

func TestConcurrentUpsertRace(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s store.IStore) {
		const writers = 32

		values := make(map[string]bool, writers)
		for i := 0; i < writers; i++ {
			values[fmt.Sprintf("value-%d", i)] = true
		}

		var wg sync.WaitGroup
		wg.Add(writers)
		for i := 0; i < writers; i++ {
			go func(i int) {
				defer wg.Done()
				if _, err := s.Save("contended", fmt.Sprintf("value-%d", i), fmt.Sprintf("v%d", i), int64(i)); err != nil {
					t.Errorf("Save: %v", err)
				}
			}(i)
		}
		wg.Wait()

		if n, _ := s.Count(); n != 1 {
			t.Errorf("expected exactly one record, got %d", n)
		}
		value, version, err := s.VersionAndValue("contended")
		if err != nil {
			t.Fatalf("VersionAndValue: %v", err)
		}
		if !values[value] {
			t.Errorf("value %q is not one of the inputs", value)
		}
		if "value-"+strings.TrimPrefix(version, "v") != value {
			t.Errorf("value %q and version %q come from different writes", value, version)
		}
	})
}

func TestSaveThenGetUnderConcurrency(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s store.IStore) {
		var wg sync.WaitGroup
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < 50; i++ {
					key := fmt.Sprintf("w%d-k%d", w, i)
					value := fmt.Sprintf("value-%d-%d", w, i)
					if _, err := s.Save(key, value, "v", int64(i)); err != nil {
						t.Errorf("Save: %v", err)
						return
					}
					if got, err := s.Get(key); err != nil || got != value {
						t.Errorf("Get(%s) = %q, %v", key, got, err)
						return
					}
				}
			}(w)
		}
		wg.Wait()

		if n, _ := s.Count(); n != 400 {
			t.Errorf("Count = %d, want 400", n)
		}
	})
}

func TestExportImportAcrossEngines(t *testing.T) {
	source := newMapleStore(t)
	defer source.Close()

	for i := 0; i < 20; i++ {
		mustSave(t, source, fmt.Sprintf("key-%d", i), fmt.Sprintf("package p%d", i), "v1", int64(i))
	}

	var buf bytes.Buffer
	if err := source.Export(&buf); err != nil {
		t.Fatalf("Export: %v", err)
	}

	target := newSQLiteStore(t)
	defer target.Close()

	if err := target.Import(&buf); err != nil {
		t.Fatalf("Import: %v", err)
	}

	if n, _ := target.Count(); n != 20 {
		t.Errorf("Count after import = %d, want 20", n)
	}
	want, _ := source.KeysWithStampAtLeast(0)
	got, _ := target.KeysWithStampAtLeast(0)
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("import should keep the record order, got %v want %v", got, want)
	}
	if value, err := target.Get("key-7"); err != nil || value != "package p7" {
		t.Errorf("Get(key-7) = %q, %v", value, err)
	}

	if err := target.Import(strings.NewReader("not a snapshot")); !errors.Is(err, store.ErrBackingStore) {
		t.Errorf("Import of garbage should fail with ErrBackingStore, got %v", err)
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	mustSave(t, s, "k", "package k", "v3", 33)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	value, version, err := s.VersionAndValue("k")
	if err != nil || value != "package k" || version != "v3" {
		t.Errorf("VersionAndValue after reopen = (%q, %q), %v", value, version, err)
	}
	info, err := s.GetDBInfo()
	if err != nil {
		t.Fatalf("GetDBInfo: %v", err)
	}
	if info.DbType != db.ImplSQLite {
		t.Errorf("DbType = %s, want %s", info.DbType, db.ImplSQLite)
	}
}

func TestMetricsAreRecorded(t *testing.T) {
	s := newMapleStore(t)
	defer s.Close()

	mustSave(t, s, "k", "v", "ver", 1)
	s.Get("absent")

	var buf bytes.Buffer
	WriteMetrics(&buf, false)
	out := buf.String()

	for _, want := range []string{
		`papl_store_ops_total{op="save"}`,
		`papl_store_errors_total{op="get",code="NotFound"}`,
		`papl_store_op_duration_seconds_bucket{op="save"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output does not contain %s", want)
		}
	}
}

func TestNoGoroutineLeak(t *testing.T) {
	defer goleak.VerifyNone(t)

	for _, open := range []func(testing.TB) store.IStore{newSQLiteStore, newMapleStore} {
		s := open(t)
		mustSave(t, s, "k", "v", "ver", 1)
		if _, err := s.GetDBInfo(); err != nil {
			t.Fatalf("GetDBInfo: %v", err)
		}
		if err := s.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
}
