// Package db provides a standardized interface for the backing medium of the
// policy store. It defines the PolicyDB interface that allows for consistent
// interaction with various database backends while abstracting implementation
// details.
//
// The package focuses on:
//   - A unified interface for policy record operations
//   - Feature discovery through capability flags
//   - A shared snapshot format for persistence operations
//   - Metadata reporting
//
// Key Components:
//
//   - PolicyDB Interface: The core interface that all database implementations must satisfy.
//     It provides methods for point operations (Upsert, Get, Delete), stamp range
//     operations (Keys, Evict), metadata retrieval (GetInfo, Count) and persistence
//     operations (Save, Load).
//
//   - Record: The single entity stored by every engine: a unique key, an opaque
//     policy document, an opaque version label and a caller assigned int64 stamp.
//     Engines never interpret the stamp beyond comparing it in range predicates.
//
//   - Bound and Page: Range predicates (stamp >= x, stamp <= x) and zero-indexed
//     windows (limit, offset) used by Keys and Evict.
//
//   - Feature Flags: The Feature type defines capability flags that implementations
//     can advertise through the SupportsFeature method.
//
//   - Snapshots: WriteSnapshot and ReadSnapshot implement a binary format that
//     every engine uses for Save and Load, so a snapshot taken from one engine can
//     be loaded into another.
//
// Note on Ordering:
//   - Keys returns matches in first-insertion order. Replacing a record through
//     Upsert keeps its original position. This keeps pages stable between calls
//     but callers should not attach any further meaning to the order.
//
// Note on Concurrency:
//   - Implementations are driven by the store, which serializes every call. An
//     implementation may still be safe for concurrent use but is not required to be.
//
// Related Packages:
//
// The engines/sqlite package provides the default, relational implementation on
// top of modernc.org/sqlite (file backed or in-memory). The engines/maple package
// provides a sharded in-memory implementation. The testing package provides a
// conformance suite (RunPolicyDBTests) and benchmarks (RunPolicyDBBenchmarks)
// that every implementation runs.
package db
