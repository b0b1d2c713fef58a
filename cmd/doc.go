// Package cmd implements the command-line interface of dColl. It runs the
// collections against the in-memory object store, either to measure them or to
// create and inspect store snapshots.
//
// The package is organized into several subpackages:
//
//   - bench: Throughput benchmarks of map, set and deque operations
//   - snapshot: Commands to create and inspect memstore snapshot files
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// All flags can also be set through environment variables of the form
// DCOLL_<flag> (e.g. DCOLL_SPLIT_THRESHOLD=64) or in a .env file.
//
// See dcoll -help for a list of all commands.
package cmd
