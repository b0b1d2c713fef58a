package scalable

import (
	"bytes"
	"encoding/gob"

	"github.com/ValentinKolb/dColl/lib/objstore"
)

// iterState is the serializable position of a map iterator. The position is a hash
// plus the keys with that hash already returned, the iterator finds its place again
// by navigating the current tree from that hash.
type iterState[K any] struct {
	Map       objstore.Ref
	Started   bool
	Exhausted bool
	LastHash  uint64
	Seen      []stored[K] // keys with hash LastHash already returned
	Last      stored[K]   // key returned by the last Next
	CanRemove bool
}

// MapIterator iterates over the entries of a HashMap in hash order. It tolerates any
// modification of the map between calls: entries added after its position are
// returned, removed entries are skipped. An iterator can be serialized with
// MarshalBinary and continued in another transaction after UnmarshalBinary and Resume.
//
// Thread-safety: Not safe for concurrent use
type MapIterator[K, V any] struct {
	m     *HashMap[K, V]
	state iterState[K]
}

// Iterator returns a new iterator positioned before the first entry
func (m *HashMap[K, V]) Iterator() *MapIterator[K, V] {
	return &MapIterator[K, V]{m: m, state: iterState[K]{Map: m.ref}}
}

// ResumeIterator restores a serialized iterator in the transaction tx
func ResumeIterator[K, V any](tx objstore.Txn, data []byte) (*MapIterator[K, V], error) {
	it := &MapIterator[K, V]{}
	if err := it.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	if err := it.Resume(tx); err != nil {
		return nil, err
	}
	return it, nil
}

// Resume attaches the iterator to the transaction tx
func (it *MapIterator[K, V]) Resume(tx objstore.Txn) error {
	m, err := OpenHashMap[K, V](tx, it.state.Map)
	if err != nil {
		return err
	}
	it.m = m
	return nil
}

// MarshalBinary encodes the position of the iterator
func (it *MapIterator[K, V]) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&it.state); err != nil {
		return nil, newError(RetCInvalidArgument, err, "cannot encode iterator")
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary restores a position encoded by MarshalBinary. The iterator must be
// resumed before use.
func (it *MapIterator[K, V]) UnmarshalBinary(data []byte) error {
	var state iterState[K]
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&state); err != nil {
		return newError(RetCInvalidArgument, err, "cannot decode iterator")
	}
	it.m, it.state = nil, state
	return nil
}

func (it *MapIterator[K, V]) attached() error {
	if it.m == nil {
		return newError(RetCIllegalState, nil, "iterator is not attached to a transaction")
	}
	return nil
}

// seen reports whether key was returned at hash LastHash
func (it *MapIterator[K, V]) seen(key stored[K]) bool {
	for _, s := range it.state.Seen {
		if sameStored(s, key) {
			return true
		}
	}
	return false
}

// ahead reports whether e comes after the position of the iterator
func (it *MapIterator[K, V]) ahead(e *entry[K, V]) bool {
	if !it.state.Started || e.Hash > it.state.LastHash {
		return true
	}
	return e.Hash == it.state.LastHash && !it.seen(e.Key)
}

// peek finds the next entry after the position, skipping entries whose key object is gone
func (it *MapIterator[K, V]) peek() (*entry[K, V], K, error) {
	var zero K
	_, dir, err := it.m.tree()
	if err != nil {
		return nil, zero, err
	}

	slot := dir.index(it.state.LastHash)
	for slot < uint64(len(dir.Slots)) {
		_, leaf, err := it.m.leafAt(dir, slot)
		if err != nil {
			return nil, zero, err
		}
		i := 0
		if it.state.Started {
			i = leaf.search(it.state.LastHash)
		}
		for ; i < len(leaf.Entries); i++ {
			e := &leaf.Entries[i]
			if !it.ahead(e) {
				continue
			}
			k, err := e.Key.resolve(it.m.tx)
			if objstore.IsObjectNotFound(err) {
				continue
			}
			if err != nil {
				return nil, zero, err
			}
			return e, k, nil
		}
		slot = dir.first(leaf.Depth, leaf.Prefix) + dir.span(leaf.Depth)
	}
	return nil, zero, nil
}

// HasNext reports whether another entry follows
func (it *MapIterator[K, V]) HasNext() (bool, error) {
	if err := it.attached(); err != nil {
		return false, err
	}
	if it.state.Exhausted {
		return false, nil
	}
	e, _, err := it.peek()
	return e != nil, err
}

// Next returns the next entry. It fails with ErrNoSuchElement at the end. If the value
// object of the entry is gone, the iterator still moves past the entry and returns
// ErrStaleValue.
func (it *MapIterator[K, V]) Next() (K, V, error) {
	var zk K
	var zv V
	if err := it.attached(); err != nil {
		return zk, zv, err
	}
	if it.state.Exhausted {
		return zk, zv, ErrNoSuchElement
	}
	e, k, err := it.peek()
	if err != nil {
		return zk, zv, err
	}
	if e == nil {
		it.state.Exhausted = true
		it.state.CanRemove = false
		return zk, zv, ErrNoSuchElement
	}

	if it.state.Started && e.Hash == it.state.LastHash {
		it.state.Seen = append(it.state.Seen, e.Key)
	} else {
		it.state.LastHash = e.Hash
		it.state.Seen = []stored[K]{e.Key}
	}
	it.state.Started = true
	it.state.Last = e.Key
	it.state.CanRemove = true

	v, err := e.Value.resolve(it.m.tx)
	if err != nil {
		return zk, zv, staleValue(err)
	}
	return k, v, nil
}

// Remove removes the entry returned by the last Next. It is a no-op if the entry is
// gone already and fails with ErrIllegalState if Next was not called or the entry
// was removed through this iterator before.
func (it *MapIterator[K, V]) Remove() error {
	if err := it.attached(); err != nil {
		return err
	}
	if !it.state.CanRemove {
		return newError(RetCIllegalState, nil, "remove without a preceding next")
	}
	it.state.CanRemove = false
	_, err := it.m.removeStored(it.state.LastHash, it.state.Last)
	return err
}

// --------------------------------------------------------------------------
// Views
// --------------------------------------------------------------------------

// KeySet is a view of the keys of a HashMap
type KeySet[K, V any] struct{ m *HashMap[K, V] }

// Values is a view of the values of a HashMap
type Values[K, V any] struct{ m *HashMap[K, V] }

// EntrySet is a view of the entries of a HashMap
type EntrySet[K, V any] struct{ m *HashMap[K, V] }

// KeySet returns a view of the keys backed by the map
func (m *HashMap[K, V]) KeySet() KeySet[K, V] { return KeySet[K, V]{m: m} }

// Values returns a view of the values backed by the map
func (m *HashMap[K, V]) Values() Values[K, V] { return Values[K, V]{m: m} }

// EntrySet returns a view of the entries backed by the map
func (m *HashMap[K, V]) EntrySet() EntrySet[K, V] { return EntrySet[K, V]{m: m} }

func (s KeySet[K, V]) Size() (int, error) { return s.m.Size() }
func (s KeySet[K, V]) IsEmpty() (bool, error) { return s.m.IsEmpty() }
func (s KeySet[K, V]) Contains(key K) (bool, error) { return s.m.ContainsKey(key) }
func (s KeySet[K, V]) Clear() error { return s.m.Clear() }
func (s KeySet[K, V]) Iterator() *MapIterator[K, V] { return s.m.Iterator() }

// Remove removes key from the map
func (s KeySet[K, V]) Remove(key K) (bool, error) {
	_, ok, err := s.m.Remove(key)
	return ok, err
}

// Range calls fn for every key until fn returns false
func (s KeySet[K, V]) Range(fn func(key K) bool) error {
	return s.m.Range(func(k K, _ V) bool { return fn(k) })
}

func (s Values[K, V]) Size() (int, error) { return s.m.Size() }
func (s Values[K, V]) IsEmpty() (bool, error) { return s.m.IsEmpty() }
func (s Values[K, V]) Contains(value V) (bool, error) { return s.m.ContainsValue(value) }
func (s Values[K, V]) Clear() error { return s.m.Clear() }
func (s Values[K, V]) Iterator() *MapIterator[K, V] { return s.m.Iterator() }

// Range calls fn for every value until fn returns false
func (s Values[K, V]) Range(fn func(value V) bool) error {
	return s.m.Range(func(_ K, v V) bool { return fn(v) })
}

func (s EntrySet[K, V]) Size() (int, error) { return s.m.Size() }
func (s EntrySet[K, V]) IsEmpty() (bool, error) { return s.m.IsEmpty() }
func (s EntrySet[K, V]) Clear() error { return s.m.Clear() }
func (s EntrySet[K, V]) Iterator() *MapIterator[K, V] { return s.m.Iterator() }

// Range calls fn for every entry until fn returns false
func (s EntrySet[K, V]) Range(fn func(key K, value V) bool) error { return s.m.Range(fn) }

// Contains reports whether the map maps key to value
func (s EntrySet[K, V]) Contains(key K, value V) (bool, error) {
	v, ok, err := s.m.Get(key)
	if err != nil || !ok {
		return false, err
	}
	return equal(v, value), nil
}

// Remove removes key if it maps to value
func (s EntrySet[K, V]) Remove(key K, value V) (bool, error) {
	ok, err := s.Contains(key, value)
	if err != nil || !ok {
		return false, err
	}
	_, ok, err = s.m.Remove(key)
	return ok, err
}
