// Package scalable provides persistent collections that spread their content over
// many small objects of an objstore.Store: HashMap, HashSet and Deque.
//
// HashMap is an extendible hash trie. A directory indexed by the top bits of the key
// hash references leaves holding at most SplitThreshold entries. An oversized leaf is
// split by the next hash bit, growing the directory when the leaf is already as deep as
// the directory. Two buddy leaves whose entries fit into MergeThreshold are merged
// again, but never above the minimum depth derived from the requested minimum
// concurrency, and the directory never shrinks.
//
// Example:
//
//	err := store.Transact(ctx, func(tx objstore.Txn) error {
//		m, err := scalable.NewHashMap[string, int](tx)
//		if err != nil {
//			return err
//		}
//		if _, _, err := m.Put("answer", 42); err != nil {
//			return err
//		}
//		return m.Bind("answers")
//	})
//
// Staleness:
//
// Managed objects used as keys or values are stored by reference. When such an
// object is removed from the store, the reference becomes stale. For a stale key the
// entry is considered gone: operations drop it silently. For a stale value the
// operation fails with ErrStaleValue and leaves the entry in place, so the caller can
// decide what to do with it. Managed keys must implement Hashable.
//
// Iterators:
//
// Iterators hold no objects, only a position. They can be serialized, stored and
// resumed in a later transaction, after any modification of the collection.
//
// Clearing:
//
// Clear replaces the content with a new empty tree immediately and schedules tasks
// that release the old objects in batches.
package scalable
