// Package testing provides a standardised conformance suite and benchmarks for
// implementations of the objstore.Store interface.
//
// The suite checks the contract the scalable collections rely on: identity within a
// transaction, isolation of uncommitted changes, ErrObjectNotFound for removed objects,
// bindings, task scheduling, storability checks and conflict retries under concurrent
// updates. Stores that can drain their task queue (Drainer) or write snapshots
// (Snapshotter) are tested for those capabilities as well; for other stores these
// tests are skipped.
//
// Example usage:
//
//	func TestMyStore(t *testing.T) {
//		objtesting.RunStoreTests(t, "MyStore", func() objstore.Store {
//			return NewMyStore()
//		})
//	}
package testing
