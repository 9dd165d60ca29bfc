// Package store provides the high-level interface of the versioned policy store
// together with its unified error handling.
// It serves as an abstraction layer over the lower-level db.PolicyDB implementations,
// adding lifecycle management, serialized access and standardized error reporting.
//
// Key Components:
//
//   - IStore Interface: The core abstraction defining the operations on named policy
//     documents. Each document carries a version label and an ordering stamp chosen by
//     the caller. Documents can be looked up by key, listed or evicted by stamp ranges
//     and listed page by page.
//
//   - Error System: A structured error reporting mechanism using typed return codes.
//     Every code has a sentinel error, so callers classify failures with errors.Is:
//
//     if errors.Is(err, store.ErrNotFound) {
//     // key is absent
//     }
//
//     ErrNotFound is returned by point lookups on absent keys, ErrBackingStore wraps
//     failures of the database, ErrClosed is returned after Close and ErrLockPoisoned
//     after a panic inside the store left it in an unknown state.
//
//   - DBFactory: A function type that abstracts the creation of the underlying
//     db.PolicyDB instance.
//
// Implementations:
//
//	- Local Store (lstore): An in-process implementation that owns exactly one
//	  db.PolicyDB and serializes every operation with a mutex.
//	  Available in the "github.com/datasafe/papl/lib/store/lstore" package.
package store
