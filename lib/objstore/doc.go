// Package objstore defines the boundary between the scalable collections and the
// transactional object store they are persisted in.
//
// The store manages objects, not bytes: a ManagedObject is a pointer to a struct that
// the store encodes when the transaction commits and decodes again, as a fresh working
// copy, the next time a transaction reads it. Objects refer to each other only through
// Ref values, never through Go pointers, so each object can be loaded, locked and written
// independently of every other object. This is what allows the collections to spread a
// large data structure over many small objects and lets independent transactions modify
// disjoint parts of the same collection.
//
// Key Components:
//
//   - Store: runs a function inside a transaction. Implementations retry the function
//     when the transaction loses a conflict, so the function must not have side effects
//     outside the transaction.
//
//   - Txn: the per-transaction view of the store. It creates references for new
//     objects (CreateReference), dereferences them (Get, GetForUpdate), removes them
//     (RemoveObject), manages named bindings (SetBinding, GetBinding, RemoveBinding) and
//     schedules Task values that the store runs later in their own transactions.
//
//   - Ref: an opaque, identity-stable reference. Dereferencing a Ref whose object was
//     removed fails with ErrObjectNotFound. The collections call such a reference "stale"
//     and decide per operation how to recover from it.
//
//   - Codec: turns managed objects and tasks into bytes. The default codec uses
//     encoding/gob, so every concrete type stored behind an interface must be registered
//     with Register before it is used.
//
//   - CheckStorable: verifies that a value can be stored at all (no functions, channels
//     or unsafe pointers anywhere in it).
//
// Objects obtained from a Txn are valid only inside that transaction. Keeping them
// around and using them in a later transaction reads stale data and loses writes.
//
// Implementations live in sub packages (memstore) and are verified by the conformance
// suite in objstore/testing.
package objstore
