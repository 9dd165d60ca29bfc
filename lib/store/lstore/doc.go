// Package lstore implements the versioned policy store, a local, in-process
// implementation of the store.IStore interface. It owns exactly one db.PolicyDB
// and serializes every operation on it.
//
// Key Features:
//   - File backed (Open) or ephemeral (OpenInMemory) sqlite storage, or any other
//     db.PolicyDB through NewLocalStore
//   - Exclusive access for the whole duration of every operation
//   - Tagged lifecycle: Open until Close, every later call fails with store.ErrClosed
//   - Lock poisoning: a panic inside an operation is recovered and turns the store
//     into a poisoned state where every call fails with store.ErrLockPoisoned
//   - Validated pagination (1-indexed pages, size 0 yields an empty page)
//   - Per operation counters, error counters and latency histograms (VictoriaMetrics)
//
// Implementation Details:
//
//   - Critical Sections: Every public method locks the store mutex, checks the state
//     (closed first, then poisoned), checks the database features and only then calls
//     into the database. No method calls another public method while holding the lock.
//
//   - Feature Detection: Before executing operations, the store checks if the underlying
//     db.PolicyDB implementation supports the requested feature through the SupportsFeature
//     method. Unsupported operations fail with store.ErrUnsupported.
//
//   - Error Classification: Database errors are wrapped into a *store.Error with
//     RetCInternalError, so errors.Is(err, store.ErrBackingStore) matches them while
//     errors.Is(err, cause) still finds the original error.
//
// Usage Example:
//
//	s, err := lstore.Open("policies.db")
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//
//	_, err = s.Save("authz", policyText, "1.4.0", time.Now().Unix())
//
//	value, version, err := s.VersionAndValue("authz")
//	if errors.Is(err, store.ErrNotFound) {
//		// no such policy
//	}
//
//	// drop everything older than a day
//	evicted, err := s.EvictAtMost(time.Now().Add(-24 * time.Hour).Unix())
package lstore
