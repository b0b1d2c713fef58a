package scalable

import (
	"iter"

	"github.com/ValentinKolb/dColl/lib/common"
	"github.com/ValentinKolb/dColl/lib/objstore"
	"github.com/ValentinKolb/dColl/lib/util"
	"github.com/lni/dragonboat/v4/logger"
)

// HashMap is a persistent hash map stored as an extendible hash trie: a directory
// indexed by the top bits of the key hash points to leaves of bounded size. Leaves
// split when they grow beyond the split threshold and merge with their buddy when
// both together fall to the merge threshold, so an operation reads and writes only
// the header, the directory and one leaf (two when splitting or merging).
//
// Keys and values are stored by value, managed objects by reference. A stored key
// object that was removed from the store is treated as absent and its entry dropped.
// A stored value object that was removed fails the operation with ErrStaleValue and
// leaves the entry untouched.
//
// A HashMap value is a handle bound to one transaction. To use the map in another
// transaction, keep Ref() and reopen it with OpenHashMap.
//
// Thread-safety: Not safe for concurrent use, like the transaction it is bound to
type HashMap[K, V any] struct {
	tx  objstore.Txn
	ref objstore.Ref
}

func plog() logger.ILogger {
	return common.Logger(common.LoggerScalable)
}

// --------------------------------------------------------------------------
// Constructors
// --------------------------------------------------------------------------

// NewHashMap creates an empty map. Without options the directory starts at depth 6
// (minimum concurrency 32).
func NewHashMap[K, V any](tx objstore.Txn, opts ...Option) (*HashMap[K, V], error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}
	return createHashMap[K, V](tx, cfg)
}

// NewHashMapWithConcurrency creates an empty map providing at least minConcurrency
// independently writable leaves
func NewHashMapWithConcurrency[K, V any](tx objstore.Txn, minConcurrency int) (*HashMap[K, V], error) {
	return NewHashMap[K, V](tx, WithMinConcurrency(minConcurrency))
}

// NewHashMapFrom creates a map holding the entries of src. src is read once and its
// plain keys and values are checked for storability before anything is created. If an
// entry fails (e.g. a managed key or value that was already removed), the error is
// returned and the caller must abort the transaction.
func NewHashMapFrom[K, V any](tx objstore.Txn, src iter.Seq2[K, V], opts ...Option) (*HashMap[K, V], error) {
	if src == nil {
		return nil, invalidArgument("source collection is nil")
	}
	type pair struct {
		k K
		v V
	}
	var pairs []pair
	for k, v := range src {
		if err := checkPlain(k); err != nil {
			return nil, err
		}
		if err := checkPlain(v); err != nil {
			return nil, err
		}
		pairs = append(pairs, pair{k, v})
	}
	m, err := NewHashMap[K, V](tx, opts...)
	if err != nil {
		return nil, err
	}
	for _, p := range pairs {
		if _, _, err := m.Put(p.k, p.v); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// newHashMap is the tuning constructor used by tests and benchmarks
func newHashMap[K, V any](tx objstore.Txn, minConcurrency, splitThreshold, directorySize, leafCapacity int) (*HashMap[K, V], error) {
	return NewHashMap[K, V](tx,
		WithMinConcurrency(minConcurrency),
		WithSplitThreshold(splitThreshold),
		WithDirectorySize(directorySize),
		WithLeafCapacity(leafCapacity))
}

func createHashMap[K, V any](tx objstore.Txn, cfg config) (*HashMap[K, V], error) {
	RegisterHashMap[K, V]()

	minDepth, err := FindMinDepthFor(cfg.minConcurrency)
	if err != nil {
		return nil, err
	}
	h := &mapHeader{
		KeyType:        typeName[K](),
		ValueType:      typeName[V](),
		MinDepth:       uint32(minDepth),
		SplitThreshold: uint32(cfg.splitThreshold),
		MergeThreshold: uint32(cfg.mergeThreshold),
		GrowBits:       cfg.growBits(),
		LeafCapacity:   uint32(cfg.leafCapacity),
		NoMerge:        cfg.noMerge,
		HashFunc:       cfg.hashFunc,
		ClearBatch:     uint32(cfg.clearBatchSize),
	}
	if cfg.hashFunc.Keyed() {
		h.HashSeed = util.GenerateSeedPair()
	}
	if h.Dir, err = createTree[K, V](tx, h); err != nil {
		return nil, err
	}
	ref, err := tx.CreateReference(h)
	if err != nil {
		return nil, err
	}
	plog().Debugf("created hash map %s (min depth %d, split %d, merge %d)", ref, h.MinDepth, h.SplitThreshold, h.MergeThreshold)
	return &HashMap[K, V]{tx: tx, ref: ref}, nil
}

// createTree creates a directory at the minimum depth with one empty leaf per slot
func createTree[K, V any](tx objstore.Txn, h *mapHeader) (objstore.Ref, error) {
	dir := newDirectory(h.MinDepth)
	for i := range dir.Slots {
		ref, err := tx.CreateReference(newLeaf[K, V](h.MinDepth, uint64(i), int(h.LeafCapacity)))
		if err != nil {
			return objstore.Ref{}, err
		}
		dir.Slots[i] = ref
	}
	return tx.CreateReference(dir)
}

// OpenHashMap attaches to an existing map in the transaction tx
func OpenHashMap[K, V any](tx objstore.Txn, ref objstore.Ref) (*HashMap[K, V], error) {
	h, err := objstore.Deref[*mapHeader](tx, ref)
	if err != nil {
		return nil, err
	}
	if err := checkTypes[K, V](h); err != nil {
		return nil, err
	}
	RegisterHashMap[K, V]()
	return &HashMap[K, V]{tx: tx, ref: ref}, nil
}

// LookupHashMap opens the map bound to name
func LookupHashMap[K, V any](tx objstore.Txn, name string) (*HashMap[K, V], error) {
	h, err := objstore.Lookup[*mapHeader](tx, name)
	if err != nil {
		return nil, err
	}
	ref, err := tx.CreateReference(h)
	if err != nil {
		return nil, err
	}
	return OpenHashMap[K, V](tx, ref)
}

func checkTypes[K, V any](h *mapHeader) error {
	if k, v := typeName[K](), typeName[V](); h.KeyType != k || h.ValueType != v {
		return objstore.NewError(objstore.RetCTypeMismatch, "map holds %s -> %s, not %s -> %s", h.KeyType, h.ValueType, k, v)
	}
	return nil
}

// checkPlain checks the storability of a value that is not a managed object
func checkPlain(v any) error {
	if _, ok := managed(v); ok {
		return nil
	}
	return notStorable(objstore.CheckStorable(v))
}

// --------------------------------------------------------------------------
// Navigation
// --------------------------------------------------------------------------

func (m *HashMap[K, V]) header() (*mapHeader, error) {
	return objstore.Deref[*mapHeader](m.tx, m.ref)
}

// tree returns the header and the current directory
func (m *HashMap[K, V]) tree() (*mapHeader, *directory, error) {
	h, err := m.header()
	if err != nil {
		return nil, nil, err
	}
	dir, err := objstore.Deref[*directory](m.tx, h.Dir)
	if err != nil {
		return nil, nil, err
	}
	return h, dir, nil
}

func (m *HashMap[K, V]) hash(h *mapHeader, key K) (uint64, error) {
	return keyHash(h.HashFunc, h.HashSeed, key)
}

// leafAt returns the leaf referenced by a slot
func (m *HashMap[K, V]) leafAt(dir *directory, slot uint64) (objstore.Ref, *leafNode[K, V], error) {
	ref := dir.Slots[slot]
	leaf, err := objstore.Deref[*leafNode[K, V]](m.tx, ref)
	return ref, leaf, err
}

// position is the result of a key lookup
type position[K, V any] struct {
	h       *mapHeader
	dir     *directory
	leafRef objstore.Ref
	leaf    *leafNode[K, V]
	hash    uint64
	index   int  // entry index if found, else the insert position
	found   bool // whether the key is present
}

func (p *position[K, V]) entry() *entry[K, V] {
	return &p.leaf.Entries[p.index]
}

// find looks up key. Entries with the same hash whose key object is gone are
// dropped on the way.
func (m *HashMap[K, V]) find(key K) (*position[K, V], error) {
	h, dir, err := m.tree()
	if err != nil {
		return nil, err
	}
	hash, err := m.hash(h, key)
	if err != nil {
		return nil, err
	}

search:
	for {
		leafRef, leaf, err := m.leafAt(dir, dir.index(hash))
		if err != nil {
			return nil, err
		}
		i := leaf.search(hash)
		for ; i < len(leaf.Entries) && leaf.Entries[i].Hash == hash; i++ {
			k, err := leaf.Entries[i].Key.resolve(m.tx)
			if objstore.IsObjectNotFound(err) {
				if err := m.drop(h, dir, leafRef, leaf, i); err != nil {
					return nil, err
				}
				continue search
			}
			if err != nil {
				return nil, err
			}
			if equal(key, k) {
				return &position[K, V]{h: h, dir: dir, leafRef: leafRef, leaf: leaf, hash: hash, index: i, found: true}, nil
			}
		}
		return &position[K, V]{h: h, dir: dir, leafRef: leafRef, leaf: leaf, hash: hash, index: i}, nil
	}
}

// forEachLeaf calls fn for every leaf in hash order until fn returns false
func (m *HashMap[K, V]) forEachLeaf(dir *directory, fn func(ref objstore.Ref, leaf *leafNode[K, V]) (bool, error)) error {
	for slot := uint64(0); slot < uint64(len(dir.Slots)); {
		ref, leaf, err := m.leafAt(dir, slot)
		if err != nil {
			return err
		}
		cont, err := fn(ref, leaf)
		if err != nil || !cont {
			return err
		}
		slot = dir.first(leaf.Depth, leaf.Prefix) + dir.span(leaf.Depth)
	}
	return nil
}

// isStale reports whether the key object of e is gone
func (m *HashMap[K, V]) isStale(e *entry[K, V]) (bool, error) {
	if !e.Key.isRef() {
		return false, nil
	}
	_, err := m.tx.Get(e.Key.Ref)
	if objstore.IsObjectNotFound(err) {
		return true, nil
	}
	return false, err
}

// repair removes all entries of leaf whose key object is gone and returns their number
func (m *HashMap[K, V]) repair(leaf *leafNode[K, V]) (int, error) {
	var stale []int
	for i := range leaf.Entries {
		gone, err := m.isStale(&leaf.Entries[i])
		if err != nil {
			return 0, err
		}
		if gone {
			stale = append(stale, i)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if err := m.tx.MarkForUpdate(leaf); err != nil {
		return 0, err
	}
	for j := len(stale) - 1; j >= 0; j-- {
		leaf.removeAt(stale[j])
	}
	plog().Debugf("dropped %d entries with removed keys from map %s", len(stale), m.ref)
	return len(stale), nil
}

// --------------------------------------------------------------------------
// Split and merge
// --------------------------------------------------------------------------

// insertAt adds an entry and splits the leaf while it is too large
func (m *HashMap[K, V]) insertAt(p *position[K, V], e entry[K, V]) error {
	if err := m.tx.MarkForUpdate(p.leaf); err != nil {
		return err
	}
	p.leaf.insert(p.index, e)

	leaf, dir := p.leaf, p.dir
	for len(leaf.Entries) > int(p.h.SplitThreshold) && leaf.separable() {
		if leaf.Depth >= dir.Depth {
			if !dir.grow(p.h.GrowBits) {
				plog().Warningf("map %s: directory reached maximum depth %d, leaf keeps %d entries", m.ref, dir.Depth, len(leaf.Entries))
				return nil
			}
			if err := m.tx.MarkForUpdate(dir); err != nil {
				return err
			}
			plog().Debugf("map %s: directory grew to depth %d", m.ref, dir.Depth)
		}

		upper := leaf.split(int(p.h.LeafCapacity))
		upperRef, err := m.tx.CreateReference(upper)
		if err != nil {
			return err
		}
		if err := m.tx.MarkForUpdate(dir); err != nil {
			return err
		}
		dir.point(upper.Depth, upper.Prefix, upperRef)

		if len(upper.Entries) > len(leaf.Entries) {
			leaf = upper
		}
	}
	return nil
}

// drop removes the entry at index i and merges the leaf with its buddy while possible
func (m *HashMap[K, V]) drop(h *mapHeader, dir *directory, leafRef objstore.Ref, leaf *leafNode[K, V], i int) error {
	if err := m.tx.MarkForUpdate(leaf); err != nil {
		return err
	}
	leaf.removeAt(i)
	if h.NoMerge {
		return nil
	}

	for leaf.Depth > h.MinDepth && len(leaf.Entries) <= int(h.MergeThreshold) {
		_, buddy, err := m.leafAt(dir, dir.first(leaf.Depth, leaf.Prefix^1))
		if err != nil {
			return err
		}
		if buddy.Depth != leaf.Depth || len(leaf.Entries)+len(buddy.Entries) > int(h.MergeThreshold) {
			return nil
		}
		if err := m.tx.MarkForUpdate(dir); err != nil {
			return err
		}
		leaf.absorb(buddy)
		dir.point(leaf.Depth, leaf.Prefix, leafRef)
		if err := m.tx.RemoveObject(buddy); err != nil {
			return err
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Map Operations
// --------------------------------------------------------------------------

// Ref returns the reference of the map, use it to reopen the map in another transaction
func (m *HashMap[K, V]) Ref() objstore.Ref {
	return m.ref
}

// Bind binds the map to name, see LookupHashMap
func (m *HashMap[K, V]) Bind(name string) error {
	h, err := m.header()
	if err != nil {
		return err
	}
	return m.tx.SetBinding(name, h)
}

// Get returns the value of key and whether the key is present
func (m *HashMap[K, V]) Get(key K) (V, bool, error) {
	var zero V
	p, err := m.find(key)
	if err != nil || !p.found {
		return zero, false, err
	}
	v, err := p.entry().Value.resolve(m.tx)
	if err != nil {
		return zero, false, staleValue(err)
	}
	return v, true, nil
}

// ContainsKey reports whether key is present. Like Get, it fails with ErrStaleValue
// if the value object of the key is gone.
func (m *HashMap[K, V]) ContainsKey(key K) (bool, error) {
	_, ok, err := m.Get(key)
	return ok, err
}

// Put associates value with key and returns the previous value if there was one.
// If the previous value object is gone, it fails with ErrStaleValue and changes nothing.
func (m *HashMap[K, V]) Put(key K, value V) (V, bool, error) {
	var zero V
	p, err := m.find(key)
	if err != nil {
		return zero, false, err
	}

	if p.found {
		e := p.entry()
		old, err := e.Value.resolve(m.tx)
		if err != nil {
			return zero, false, staleValue(err)
		}
		sv, err := toStored(m.tx, value)
		if err != nil {
			return zero, false, staleValue(err)
		}
		if err := m.tx.MarkForUpdate(p.leaf); err != nil {
			return zero, false, err
		}
		e.Value = sv
		return old, true, nil
	}

	sk, err := toStored(m.tx, key)
	if err != nil {
		return zero, false, staleKey(err)
	}
	sv, err := toStored(m.tx, value)
	if err != nil {
		return zero, false, staleValue(err)
	}
	return zero, false, m.insertAt(p, entry[K, V]{Hash: p.hash, Key: sk, Value: sv})
}

// PutAll puts all entries of src
func (m *HashMap[K, V]) PutAll(src iter.Seq2[K, V]) error {
	if src == nil {
		return invalidArgument("source collection is nil")
	}
	for k, v := range src {
		if _, _, err := m.Put(k, v); err != nil {
			return err
		}
	}
	return nil
}

// Remove removes key and returns its value if it was present. If the value object
// is gone, it fails with ErrStaleValue and the entry stays.
func (m *HashMap[K, V]) Remove(key K) (V, bool, error) {
	var zero V
	p, err := m.find(key)
	if err != nil || !p.found {
		return zero, false, err
	}
	v, err := p.entry().Value.resolve(m.tx)
	if err != nil {
		return zero, false, staleValue(err)
	}
	if err := m.drop(p.h, p.dir, p.leafRef, p.leaf, p.index); err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// removeStored removes the entry with the given hash and stored key, if present.
// The iterator uses it, its key may be gone already.
func (m *HashMap[K, V]) removeStored(hash uint64, key stored[K]) (bool, error) {
	h, dir, err := m.tree()
	if err != nil {
		return false, err
	}
	leafRef, leaf, err := m.leafAt(dir, dir.index(hash))
	if err != nil {
		return false, err
	}
	for i := leaf.search(hash); i < len(leaf.Entries) && leaf.Entries[i].Hash == hash; i++ {
		if sameStored(leaf.Entries[i].Key, key) {
			return true, m.drop(h, dir, leafRef, leaf, i)
		}
	}
	return false, nil
}

// Size returns the number of entries. Entries whose key object is gone are dropped
// and not counted.
func (m *HashMap[K, V]) Size() (int, error) {
	_, dir, err := m.tree()
	if err != nil {
		return 0, err
	}
	n := 0
	err = m.forEachLeaf(dir, func(_ objstore.Ref, leaf *leafNode[K, V]) (bool, error) {
		if _, err := m.repair(leaf); err != nil {
			return false, err
		}
		n += len(leaf.Entries)
		return true, nil
	})
	return n, err
}

// IsEmpty reports whether the map has no entries
func (m *HashMap[K, V]) IsEmpty() (bool, error) {
	_, dir, err := m.tree()
	if err != nil {
		return false, err
	}
	empty := true
	err = m.forEachLeaf(dir, func(_ objstore.Ref, leaf *leafNode[K, V]) (bool, error) {
		for i := range leaf.Entries {
			gone, err := m.isStale(&leaf.Entries[i])
			if err != nil {
				return false, err
			}
			if !gone {
				empty = false
				return false, nil
			}
		}
		return true, nil
	})
	return empty, err
}

// ContainsValue reports whether some key maps to value. It fails with ErrStaleValue
// if it meets a value object that is gone before finding a match.
func (m *HashMap[K, V]) ContainsValue(value V) (bool, error) {
	_, dir, err := m.tree()
	if err != nil {
		return false, err
	}
	found := false
	err = m.forEachLeaf(dir, func(_ objstore.Ref, leaf *leafNode[K, V]) (bool, error) {
		if _, err := m.repair(leaf); err != nil {
			return false, err
		}
		for i := range leaf.Entries {
			v, err := leaf.Entries[i].Value.resolve(m.tx)
			if err != nil {
				return false, staleValue(err)
			}
			if equal(value, v) {
				found = true
				return false, nil
			}
		}
		return true, nil
	})
	return found, err
}

// Range calls fn for every entry in hash order until fn returns false.
// Entries whose key object is gone are skipped, a value object that is gone
// fails with ErrStaleValue.
func (m *HashMap[K, V]) Range(fn func(key K, value V) bool) error {
	_, dir, err := m.tree()
	if err != nil {
		return err
	}
	return m.forEachLeaf(dir, func(_ objstore.Ref, leaf *leafNode[K, V]) (bool, error) {
		for i := range leaf.Entries {
			k, err := leaf.Entries[i].Key.resolve(m.tx)
			if objstore.IsObjectNotFound(err) {
				continue
			}
			if err != nil {
				return false, err
			}
			v, err := leaf.Entries[i].Value.resolve(m.tx)
			if err != nil {
				return false, staleValue(err)
			}
			if !fn(k, v) {
				return false, nil
			}
		}
		return true, nil
	})
}

// Clear removes all entries. The map switches to a new empty tree at once, the old
// leaves are released by background tasks in batches.
func (m *HashMap[K, V]) Clear() error {
	h, err := m.header()
	if err != nil {
		return err
	}
	old := h.Dir
	if h.Dir, err = createTree[K, V](m.tx, h); err != nil {
		return err
	}
	h.Clears++
	if err := m.tx.MarkForUpdate(h); err != nil {
		return err
	}
	return m.tx.ScheduleTask(&clearTask{Dir: old, Batch: h.ClearBatch})
}

// Delete removes the map from the store. The leaves are released in the background.
// The handle must not be used afterwards.
func (m *HashMap[K, V]) Delete() error {
	h, err := m.header()
	if err != nil {
		return err
	}
	if err := m.tx.ScheduleTask(&clearTask{Dir: h.Dir, Batch: h.ClearBatch}); err != nil {
		return err
	}
	return m.tx.RemoveObject(h)
}

// Equals reports whether both maps hold the same entries
func (m *HashMap[K, V]) Equals(other *HashMap[K, V]) (bool, error) {
	if other == nil {
		return false, nil
	}
	if m.ref == other.ref {
		return true, nil
	}
	n, err := m.Size()
	if err != nil {
		return false, err
	}
	on, err := other.Size()
	if err != nil || n != on {
		return false, err
	}
	same := true
	var innerErr error
	err = m.Range(func(k K, v V) bool {
		ov, ok, err := other.Get(k)
		if err != nil {
			innerErr = err
			return false
		}
		same = ok && equal(v, ov)
		return same
	})
	if err == nil {
		err = innerErr
	}
	return same && err == nil, err
}

// ContentHash returns the sum of hash(key) ^ hash(value) over all entries. It does
// not depend on the configuration of the map, equal maps have equal content hashes.
func (m *HashMap[K, V]) ContentHash() (uint64, error) {
	var sum uint64
	var innerErr error
	err := m.Range(func(k K, v V) bool {
		kh, err := contentHash(k)
		if err != nil {
			innerErr = err
			return false
		}
		vh, err := contentHash(v)
		if err != nil {
			innerErr = err
			return false
		}
		sum += kh ^ vh
		return true
	})
	if err == nil {
		err = innerErr
	}
	return sum, err
}
