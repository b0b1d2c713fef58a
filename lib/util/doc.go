// Package util contains small building blocks shared by the object store and the
// scalable collections:
//
//   - Key hashing: deterministic 64-bit hashes for arbitrary keys. Keys are turned into
//     bytes (strings and integers directly, everything else through canonical CBOR) and
//     hashed with one of the supported HashFunc implementations (xxhash, murmur3, siphash).
//     Hashes are persisted inside the collections, so they must never depend on the
//     process they were computed in.
//   - MapHeap: a priority queue with key-based access, used by the memstore as its
//     deferred task queue.
//   - LockFreeMPSC: an unbounded multi-producer single-consumer queue, used to wake the
//     background task runner of the memstore after commits that queued tasks.
//   - Statistics: Stats, DistributionStats and SizeHistogram, used for collection
//     diagnostics (leaf depth distribution) and store statistics (record sizes).
//   - GenerateSeed: random seeds for keyed hash functions.
package util
