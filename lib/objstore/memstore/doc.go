// Package memstore provides an in-memory implementation of the objstore boundary
// with real transactional semantics. It is used by the tests and the CLI of this
// module and documents, by example, what the scalable collections expect from a
// store.
//
// Transactions:
//
//   - Each transaction works on private copies: Get decodes the committed bytes
//     into a new object, so changes are invisible to other transactions until commit.
//   - Reads are snapshot consistent. A transaction remembers the commit index it
//     started at; reading an object (or binding) written or removed after that index
//     fails with ErrConflict, the transaction is aborted and Transact runs the
//     function again.
//   - Commit re-encodes every object the transaction touched and writes those whose
//     bytes changed. Under the commit lock it validates that nothing read by the
//     transaction was written since, applies all writes with a new commit index and
//     queues the scheduled tasks. Read-only transactions commit without validation.
//   - Conflicts are retried up to Options.MaxRetries times.
//
// Tasks:
//
//   - Tasks are encoded with the store codec when scheduled and queued at commit, in
//     commit order (a util.MapHeap keyed by sequence number).
//   - DrainTasks runs queued tasks, each in its own transaction, until the queue is
//     empty; tasks scheduled by tasks are run by the same call.
//   - With a TaskInterval > 0 a background runner drains the queue whenever a commit
//     queued tasks (notified through a util.LockFreeMPSC) and on every interval.
//   - A failing task is retried up to MaxTaskAttempts times, then dropped and logged.
//
// Persistence: Save and Load write and read a binary snapshot (records, bindings,
// pending tasks and counters). Load must not run concurrently with transactions.
//
// Statistics: Stats reports object counts per type, record sizes and transaction
// counters; WritePrometheus exposes the counters in Prometheus text format.
package memstore
