// Package cmd implements the command-line interface for the papl policy store.
// It provides a hierarchical command structure for managing stored policies and
// evaluating Rego queries against them.
//
// The package is organized into several subpackages:
//
//   - policy: Commands for store operations (save, get, keys, evict, export, perf, etc.)
//   - eval: Command for evaluating Rego queries with stored policies
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See papl -help for a list of all commands.
package cmd
