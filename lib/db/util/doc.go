// Package util provides utility components for database implementations that
// satisfy the db.PolicyDB interface.
//
// The package contains:
//   - statistics: summary statistics, shard distribution quality and a SizeHistogram
//     for estimating value sizes from samples
//   - functions: seeded xxhash key hashing and shard selection
//
// These helpers are used by the engines to build the metadata returned from
// GetInfo. They carry no policy semantics of their own.
package util
