package store

import (
	"fmt"
	"io"

	"github.com/datasafe/papl/lib/db"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// DBFactory is a function type that creates a new db used by the store.
// This is used to abstract the creation of the db from the store implementation.
type DBFactory func() (db.PolicyDB, error)

// IStore is the interface for interacting with a versioned policy store.
// Every method returns a *Error on failure (nil on success).
type IStore interface {
	// Save inserts a policy or replaces value, version and stamp of an existing one.
	// Returns the number of affected records, which is positive on success.
	Save(key, value, version string, stamp int64) (affected int64, err error)
	// Get returns the policy document for a key. Fails with ErrNotFound if the key is absent.
	Get(key string) (value string, err error)
	// Version returns the version label for a key. Fails with ErrNotFound if the key is absent.
	Version(key string) (version string, err error)
	// VersionAndValue returns value and version of a key read at the same point in time.
	VersionAndValue(key string) (value, version string, err error)
	// Delete removes a key. Deleting an absent key returns 0 and no error.
	Delete(key string) (affected int64, err error)
	// KeysWithStampAtLeast returns all keys with stamp >= the given stamp.
	KeysWithStampAtLeast(stamp int64) (keys []string, err error)
	// KeysWithStampAtMost returns all keys with stamp <= the given stamp.
	KeysWithStampAtMost(stamp int64) (keys []string, err error)
	// KeysWithStampAtLeastPageable returns one page of the keys with stamp >= the given stamp.
	// Pages are 1-indexed. A size of 0 always returns an empty result.
	KeysWithStampAtLeastPageable(stamp, page, size int64) (keys []string, err error)
	// KeysWithStampAtMostPageable returns one page of the keys with stamp <= the given stamp.
	KeysWithStampAtMostPageable(stamp, page, size int64) (keys []string, err error)
	// EvictAtLeast deletes every record with stamp >= the given stamp and returns how many were deleted.
	EvictAtLeast(stamp int64) (deleted int64, err error)
	// EvictAtMost deletes every record with stamp <= the given stamp and returns how many were deleted.
	EvictAtMost(stamp int64) (deleted int64, err error)
	// Count returns the number of records in the store.
	Count() (n int64, err error)
	// Export writes a snapshot of all records to w.
	Export(w io.Writer) (err error)
	// Import upserts every record of a snapshot read from r.
	Import(r io.Reader) (err error)
	// GetDBInfo returns metadata about the database underlying the store.
	// It is not guaranteed that all fields are filled in or that the information is up-to-date!
	GetDBInfo() (info db.DatabaseInfo, err error)
	// Close releases the underlying database. Every later call fails with ErrClosed.
	Close() (err error)
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode),
// an error message and optionally the underlying cause.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
	Err  error   // The underlying cause (may be nil)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("PolicyStoreError (code %s): %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("PolicyStoreError (code %s): %s", e.Code, e.Msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a *Error with the same code, so that
// errors.Is(err, store.ErrNotFound) matches every not found error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError creates a new Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// WrapError creates a new Error with the given code and message wrapping cause.
func WrapError(code RetCode, msg string, cause error) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
		Err:  cause,
	}
}

// Sentinel errors for use with errors.Is
var (
	ErrNotFound        = NewError(RetCNotFound, "not found")
	ErrBackingStore    = NewError(RetCInternalError, "backing store failure")
	ErrClosed          = NewError(RetCClosed, "store is closed")
	ErrLockPoisoned    = NewError(RetCLockPoisoned, "store lock is poisoned")
	ErrInvalidArgument = NewError(RetCInvalidOperation, "invalid argument")
	ErrUnsupported     = NewError(RetCUnsupportedOperation, "operation not supported")
)

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Command executed successfully.
	RetCInternalError                       // 1: Command failed due to an internal or backing store error.
	RetCUnsupportedOperation                // 2: Operation is not supported by underlying database.
	RetCInvalidOperation                    // 3: Invalid operation or argument.
	RetCNotFound                            // 4: No record for the key.
	RetCClosed                              // 5: The store was closed.
	RetCLockPoisoned                        // 6: The store lock was poisoned by a panic.
)

// String returns the name of the return code
func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCNotFound:
		return "NotFound"
	case RetCClosed:
		return "Closed"
	case RetCLockPoisoned:
		return "LockPoisoned"
	default:
		return "Unknown"
	}
}
