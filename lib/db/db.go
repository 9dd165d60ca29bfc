package db

import "io"

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplSQLite Implementation = "sqlite"
	ImplMaple  Implementation = "maple"
)

// Feature represents database features as bit flags
type Feature uint64

const (
	FeatureUpsert   Feature = 1 << iota // Support for Upsert operations
	FeatureGet                          // Support for Get operations
	FeatureDelete                       // Support for Delete operations
	FeatureRange                        // Support for stamp range key queries
	FeaturePaging                       // Support for paged stamp range key queries
	FeatureEvict                        // Support for stamp range eviction
	FeatureSave                         // Support for Save operations
	FeatureLoad                         // Support for Load operations
	FeaturePersistent                   // Data survives process exit
)

func (f Feature) String() string {
	switch f {
	case FeatureUpsert:
		return "Upsert"
	case FeatureGet:
		return "Get"
	case FeatureDelete:
		return "Delete"
	case FeatureRange:
		return "Range"
	case FeaturePaging:
		return "Paging"
	case FeatureEvict:
		return "Evict"
	case FeatureSave:
		return "Save"
	case FeatureLoad:
		return "Load"
	case FeaturePersistent:
		return "Persistent"
	default:
		return "Unknown"
	}
}

type DatabaseInfo struct {
	SizeBytes         int            `json:"size_bytes"`
	DbType            Implementation `json:"db_type"`
	SupportedFeatures []Feature      `json:"supported_features"`
	Metadata          interface{}    `json:"metadata"`
}

// Record is a single policy document with its version label and stamp.
type Record struct {
	Key     string `json:"key"`
	Value   string `json:"value"`
	Version string `json:"version"`
	Stamp   int64  `json:"stamp"`
}

// Bound selects which side of a stamp a range query or eviction matches.
type Bound int

const (
	AtLeast Bound = iota // stamp >= argument
	AtMost               // stamp <= argument
)

func (b Bound) String() string {
	switch b {
	case AtLeast:
		return ">="
	case AtMost:
		return "<="
	default:
		return "?"
	}
}

// Match reports whether stamp satisfies the bound against pivot.
func (b Bound) Match(stamp, pivot int64) bool {
	if b == AtMost {
		return stamp <= pivot
	}
	return stamp >= pivot
}

// Page is a zero-indexed window over a key sequence.
type Page struct {
	Limit  int64
	Offset int64
}

// --------------------------------------------------------------------------
// Database Interface
// --------------------------------------------------------------------------

// PolicyDB defines the contract of a backing medium for policy records.
// Implementations are not required to be safe for concurrent use: the store
// serializes every call. Any implementation of this interface must keep keys
// unique and must report failures as errors instead of panicking.
type PolicyDB interface {

	// --------------------------------------------------------------------------
	// Write Operations
	// --------------------------------------------------------------------------

	// Upsert inserts rec or, if a record with rec.Key exists, replaces its
	// value, version and stamp in a single atomic step.
	// It returns the number of affected records (1 on success).
	Upsert(rec Record) (affected int64, err error)

	// Delete removes the record with the given key.
	// Deleting an absent key is not an error and returns 0.
	Delete(key string) (affected int64, err error)

	// Evict removes every record whose stamp matches bound against stamp
	// and returns how many were removed.
	Evict(bound Bound, stamp int64) (deleted int64, err error)

	// --------------------------------------------------------------------------
	// Query Operations
	// --------------------------------------------------------------------------

	// Get retrieves the record for an exact key in one read.
	// The boolean return value indicates whether a record was found.
	Get(key string) (rec Record, loaded bool, err error)

	// Keys returns the keys of all records whose stamp matches bound against
	// stamp, in first-insertion order. A nil page returns every match.
	Keys(bound Bound, stamp int64, page *Page) (keys []string, err error)

	// Count returns the number of live records.
	Count() (n int64, err error)

	// --------------------------------------------------------------------------
	// Persistence Operations
	// --------------------------------------------------------------------------

	// Save writes a snapshot of all records to the provided io.Writer.
	Save(w io.Writer) (err error)

	// Load upserts every record of a snapshot read from r.
	Load(r io.Reader) (err error)

	// --------------------------------------------------------------------------
	// Feature Support
	// --------------------------------------------------------------------------

	// SupportsFeature checks if the database implementation supports the specified feature.
	// Multiple features can be checked at once using bitwise OR (|) operator.
	SupportsFeature(feature Feature) (ok bool)

	// GetInfo returns information about the database.
	GetInfo() (info DatabaseInfo)

	// Close releases every resource held by the database.
	Close() (err error)
}
