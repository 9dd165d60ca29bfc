package lstore

import (
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/datasafe/papl/lib/db"
	"github.com/datasafe/papl/lib/db/engines/sqlite"
	"github.com/datasafe/papl/lib/store"
	"github.com/lni/dragonboat/v4/logger"
)

var plog = logger.GetLogger("store")

// storeImpl owns exactly one database. The mutex guards the database handle
// and the state tags, every public method holds it for its whole duration.
type storeImpl struct {
	mu       sync.Mutex
	db       db.PolicyDB // nil once closed
	closed   bool
	poisoned any // panic value of a failed critical section, nil while healthy
}

// NewLocalStore creates a new local store instance around the database created by factory.
// The store takes ownership of the database and closes it on Close.
func NewLocalStore(factory store.DBFactory) (store.IStore, error) {
	database, err := factory()
	if err != nil {
		return nil, store.WrapError(store.RetCInternalError, "failed to open database", err)
	}
	if database == nil {
		return nil, store.NewError(store.RetCInternalError, "database factory returned no database")
	}
	plog.Infof("opened policy store on %s database", database.GetInfo().DbType)
	return &storeImpl{db: database}, nil
}

// Open opens (or creates) a sqlite backed store at path.
// The schema is created on first use.
func Open(path string) (store.IStore, error) {
	return NewLocalStore(func() (db.PolicyDB, error) {
		return sqlite.NewSQLiteDB(sqlite.FileOptions(path))
	})
}

// OpenInMemory creates a store on an ephemeral sqlite database.
// The data lives exactly as long as the store.
func OpenInMemory() (store.IStore, error) {
	return NewLocalStore(func() (db.PolicyDB, error) {
		return sqlite.NewSQLiteDB(sqlite.DefaultOptions())
	})
}

// --------------------------------------------------------------------------
// Critical section handling
// --------------------------------------------------------------------------

// run executes fn inside the critical section after checking the store state
// and the required database features. A panic inside fn poisons the store.
func (s *storeImpl) run(op string, features db.Feature, fn func(database db.PolicyDB) error) (err error) {
	start := time.Now()
	s.mu.Lock()
	defer func() {
		if r := recover(); r != nil {
			s.poisoned = r
			plog.Errorf("store poisoned by panic during %s: %v", op, r)
			err = poisonedError(r)
		}
		s.mu.Unlock()
		observe(op, start, err)
	}()

	if err := s.checkState(); err != nil {
		return err
	}
	if !s.db.SupportsFeature(features) {
		return store.NewError(store.RetCUnsupportedOperation, fmt.Sprintf("%s operation is not supported", op))
	}
	return fn(s.db)
}

// checkState must be called with the mutex held.
func (s *storeImpl) checkState() error {
	if s.closed {
		return store.NewError(store.RetCClosed, "store is closed")
	}
	if s.poisoned != nil {
		return poisonedError(s.poisoned)
	}
	return nil
}

func poisonedError(cause any) error {
	return store.WrapError(store.RetCLockPoisoned, "store lock is poisoned", fmt.Errorf("panic: %v", cause))
}

func backingError(msg string, err error) error {
	return store.WrapError(store.RetCInternalError, msg, err)
}

func notFoundError(key string) error {
	return store.NewError(store.RetCNotFound, fmt.Sprintf("no policy for key %q", key))
}

// pageOf converts a 1-indexed page and a page size into a db.Page.
// A nil page with nil error means the result is empty without querying.
func pageOf(page, size int64) (*db.Page, error) {
	if size == 0 {
		return nil, nil
	}
	if size < 0 {
		return nil, store.NewError(store.RetCInvalidOperation, fmt.Sprintf("page size must not be negative, got %d", size))
	}
	if page < 1 {
		return nil, store.NewError(store.RetCInvalidOperation, fmt.Sprintf("page must be at least 1, got %d", page))
	}
	if page-1 > math.MaxInt64/size {
		return nil, store.NewError(store.RetCInvalidOperation, fmt.Sprintf("offset of page %d with size %d overflows", page, size))
	}
	return &db.Page{Limit: size, Offset: (page - 1) * size}, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Save(key, value, version string, stamp int64) (affected int64, err error) {
	err = s.run(opSave, db.FeatureUpsert, func(database db.PolicyDB) error {
		n, err := database.Upsert(db.Record{Key: key, Value: value, Version: version, Stamp: stamp})
		if err != nil {
			return backingError(fmt.Sprintf("failed to save %q", key), err)
		}
		if n <= 0 {
			return store.NewError(store.RetCInternalError, fmt.Sprintf("save of %q affected no records", key))
		}
		affected = n
		return nil
	})
	return affected, err
}

// lookup reads the full record of a key inside a critical section
func (s *storeImpl) lookup(op, key string) (rec db.Record, err error) {
	err = s.run(op, db.FeatureGet, func(database db.PolicyDB) error {
		r, ok, err := database.Get(key)
		if err != nil {
			return backingError(fmt.Sprintf("failed to read %q", key), err)
		}
		if !ok {
			return notFoundError(key)
		}
		rec = r
		return nil
	})
	return rec, err
}

func (s *storeImpl) Get(key string) (string, error) {
	rec, err := s.lookup(opGet, key)
	if err != nil {
		return "", err
	}
	return rec.Value, nil
}

func (s *storeImpl) Version(key string) (string, error) {
	rec, err := s.lookup(opVersion, key)
	if err != nil {
		return "", err
	}
	return rec.Version, nil
}

func (s *storeImpl) VersionAndValue(key string) (string, string, error) {
	rec, err := s.lookup(opVersionAndValue, key)
	if err != nil {
		return "", "", err
	}
	return rec.Value, rec.Version, nil
}

func (s *storeImpl) Delete(key string) (affected int64, err error) {
	err = s.run(opDelete, db.FeatureDelete, func(database db.PolicyDB) error {
		n, err := database.Delete(key)
		if err != nil {
			return backingError(fmt.Sprintf("failed to delete %q", key), err)
		}
		affected = n
		return nil
	})
	return affected, err
}

// keys runs a (optionally paged) range query inside a critical section
func (s *storeImpl) keys(bound db.Bound, stamp int64, page *db.Page) (keys []string, err error) {
	op := opKeys
	features := db.FeatureRange
	if page != nil {
		op = opKeysPageable
		features |= db.FeaturePaging
	}
	err = s.run(op, features, func(database db.PolicyDB) error {
		k, err := database.Keys(bound, stamp, page)
		if err != nil {
			return backingError(fmt.Sprintf("failed to list keys with stamp %s %d", bound, stamp), err)
		}
		keys = k
		return nil
	})
	return keys, err
}

// keysPageable validates the paging arguments after the state checks,
// so a closed store reports ErrClosed even for invalid arguments.
func (s *storeImpl) keysPageable(bound db.Bound, stamp, page, size int64) (keys []string, err error) {
	p, perr := pageOf(page, size)
	if perr != nil || p == nil {
		err = s.run(opKeysPageable, db.FeatureRange|db.FeaturePaging, func(db.PolicyDB) error {
			keys = []string{}
			return perr
		})
		if err != nil {
			return nil, err
		}
		return keys, nil
	}
	return s.keys(bound, stamp, p)
}

func (s *storeImpl) KeysWithStampAtLeast(stamp int64) ([]string, error) {
	return s.keys(db.AtLeast, stamp, nil)
}

func (s *storeImpl) KeysWithStampAtMost(stamp int64) ([]string, error) {
	return s.keys(db.AtMost, stamp, nil)
}

func (s *storeImpl) KeysWithStampAtLeastPageable(stamp, page, size int64) ([]string, error) {
	return s.keysPageable(db.AtLeast, stamp, page, size)
}

func (s *storeImpl) KeysWithStampAtMostPageable(stamp, page, size int64) ([]string, error) {
	return s.keysPageable(db.AtMost, stamp, page, size)
}

// evict deletes all records matching the bound inside a critical section
func (s *storeImpl) evict(bound db.Bound, stamp int64) (deleted int64, err error) {
	err = s.run(opEvict, db.FeatureEvict, func(database db.PolicyDB) error {
		n, err := database.Evict(bound, stamp)
		if err != nil {
			return backingError(fmt.Sprintf("failed to evict stamp %s %d", bound, stamp), err)
		}
		deleted = n
		return nil
	})
	if err == nil && deleted > 0 {
		plog.Debugf("evicted %d policies with stamp %s %d", deleted, bound, stamp)
	}
	return deleted, err
}

func (s *storeImpl) EvictAtLeast(stamp int64) (int64, error) {
	return s.evict(db.AtLeast, stamp)
}

func (s *storeImpl) EvictAtMost(stamp int64) (int64, error) {
	return s.evict(db.AtMost, stamp)
}

func (s *storeImpl) Count() (n int64, err error) {
	err = s.run(opCount, 0, func(database db.PolicyDB) error {
		c, err := database.Count()
		if err != nil {
			return backingError("failed to count policies", err)
		}
		n = c
		return nil
	})
	return n, err
}

func (s *storeImpl) Export(w io.Writer) error {
	return s.run(opExport, db.FeatureSave, func(database db.PolicyDB) error {
		if err := database.Save(w); err != nil {
			return backingError("failed to export policies", err)
		}
		return nil
	})
}

func (s *storeImpl) Import(r io.Reader) error {
	return s.run(opImport, db.FeatureLoad, func(database db.PolicyDB) error {
		if err := database.Load(r); err != nil {
			return backingError("failed to import policies", err)
		}
		return nil
	})
}

func (s *storeImpl) GetDBInfo() (info db.DatabaseInfo, err error) {
	err = s.run(opInfo, 0, func(database db.PolicyDB) error {
		info = database.GetInfo()
		return nil
	})
	return info, err
}

// Close releases the database exactly once. A poisoned store still releases
// its database, a second Close fails with ErrClosed.
func (s *storeImpl) Close() (err error) {
	start := time.Now()
	s.mu.Lock()
	defer func() {
		if r := recover(); r != nil {
			plog.Errorf("panic while closing store: %v", r)
			err = poisonedError(r)
		}
		s.mu.Unlock()
		observe(opClose, start, err)
	}()

	if s.closed {
		return store.NewError(store.RetCClosed, "store is already closed")
	}

	database := s.db
	s.db = nil
	s.closed = true

	if err := database.Close(); err != nil {
		return backingError("failed to close database", err)
	}
	plog.Infof("closed policy store")
	return nil
}
