// Package testing provides standardised tests and benchmarks for
// database implementations that satisfy the db.PolicyDB interface.
//
// The package contains:
//   - testing: A conformance suite for the PolicyDB contract (upsert, stamp ranges,
//     paging, eviction, snapshots and edge cases like empty keys or extreme stamps)
//   - benchmark: Performance tests for measuring throughput of common database operations
//
// Example usage:
//
//	// Creating a factory function for your implementation
//	factory := func(t testing.TB) db.PolicyDB {
//		return NewMyDatabase()
//	}
//
//	// Running the standard test suite
//	dbtesting.RunPolicyDBTests(t, "MyDatabase", factory)
//
//	// Running performance benchmarks
//	dbtesting.RunPolicyDBBenchmarks(b, "MyDatabase", factory)
package testing
