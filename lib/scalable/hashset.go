package scalable

import (
	"iter"

	"github.com/ValentinKolb/dColl/lib/objstore"
)

// HashSet is a persistent set backed by a HashMap from element to a present marker.
// It shares the staleness rules and the iterator of the map: an element object that
// was removed from the store counts as absent.
//
// Thread-safety: Not safe for concurrent use
type HashSet[T any] struct {
	m *HashMap[T, bool]
}

// NewHashSet creates an empty set, it accepts the options of NewHashMap
func NewHashSet[T any](tx objstore.Txn, opts ...Option) (*HashSet[T], error) {
	m, err := NewHashMap[T, bool](tx, opts...)
	if err != nil {
		return nil, err
	}
	return &HashSet[T]{m: m}, nil
}

// NewHashSetFrom creates a set holding the elements of src. It fails if an element
// cannot be stored, e.g. because it is a managed object that was already removed.
// The caller must abort the transaction in that case.
func NewHashSetFrom[T any](tx objstore.Txn, src iter.Seq[T], opts ...Option) (*HashSet[T], error) {
	if src == nil {
		return nil, invalidArgument("source collection is nil")
	}
	m, err := NewHashMapFrom(tx, present(src), opts...)
	if err != nil {
		return nil, err
	}
	return &HashSet[T]{m: m}, nil
}

// OpenHashSet attaches to an existing set in the transaction tx
func OpenHashSet[T any](tx objstore.Txn, ref objstore.Ref) (*HashSet[T], error) {
	m, err := OpenHashMap[T, bool](tx, ref)
	if err != nil {
		return nil, err
	}
	return &HashSet[T]{m: m}, nil
}

// LookupHashSet opens the set bound to name
func LookupHashSet[T any](tx objstore.Txn, name string) (*HashSet[T], error) {
	m, err := LookupHashMap[T, bool](tx, name)
	if err != nil {
		return nil, err
	}
	return &HashSet[T]{m: m}, nil
}

func present[T any](src iter.Seq[T]) iter.Seq2[T, bool] {
	return func(yield func(T, bool) bool) {
		for e := range src {
			if !yield(e, true) {
				return
			}
		}
	}
}

// Ref returns the reference of the set
func (s *HashSet[T]) Ref() objstore.Ref { return s.m.Ref() }

// Bind binds the set to name, see LookupHashSet
func (s *HashSet[T]) Bind(name string) error { return s.m.Bind(name) }

// Add adds e and reports whether it was not present before
func (s *HashSet[T]) Add(e T) (bool, error) {
	_, existed, err := s.m.Put(e, true)
	return err == nil && !existed, err
}

// AddAll adds all elements of src
func (s *HashSet[T]) AddAll(src iter.Seq[T]) error {
	if src == nil {
		return invalidArgument("source collection is nil")
	}
	return s.m.PutAll(present(src))
}

// Remove removes e and reports whether it was present
func (s *HashSet[T]) Remove(e T) (bool, error) {
	_, ok, err := s.m.Remove(e)
	return ok, err
}

// Contains reports whether e is present
func (s *HashSet[T]) Contains(e T) (bool, error) { return s.m.ContainsKey(e) }

// Size returns the number of elements
func (s *HashSet[T]) Size() (int, error) { return s.m.Size() }

// IsEmpty reports whether the set has no elements
func (s *HashSet[T]) IsEmpty() (bool, error) { return s.m.IsEmpty() }

// Clear removes all elements, see HashMap.Clear
func (s *HashSet[T]) Clear() error { return s.m.Clear() }

// Delete removes the set from the store
func (s *HashSet[T]) Delete() error { return s.m.Delete() }

// Range calls fn for every element until fn returns false
func (s *HashSet[T]) Range(fn func(e T) bool) error {
	return s.m.Range(func(e T, _ bool) bool { return fn(e) })
}

// Equals reports whether both sets hold the same elements
func (s *HashSet[T]) Equals(other *HashSet[T]) (bool, error) {
	if other == nil {
		return false, nil
	}
	return s.m.Equals(other.m)
}

// ContentHash returns the sum of the element hashes
func (s *HashSet[T]) ContentHash() (uint64, error) {
	var sum uint64
	var innerErr error
	err := s.Range(func(e T) bool {
		h, err := contentHash(e)
		if err != nil {
			innerErr = err
			return false
		}
		sum += h
		return true
	})
	if err == nil {
		err = innerErr
	}
	return sum, err
}

// Diagnostics reports the shape of the underlying trie
func (s *HashSet[T]) Diagnostics() (Diagnostics, error) { return s.m.Diagnostics() }

// SetIterator iterates over the elements of a HashSet, see MapIterator
type SetIterator[T any] struct {
	it *MapIterator[T, bool]
}

// Iterator returns a new iterator positioned before the first element
func (s *HashSet[T]) Iterator() *SetIterator[T] {
	return &SetIterator[T]{it: s.m.Iterator()}
}

// ResumeSetIterator restores a serialized set iterator in the transaction tx
func ResumeSetIterator[T any](tx objstore.Txn, data []byte) (*SetIterator[T], error) {
	it, err := ResumeIterator[T, bool](tx, data)
	if err != nil {
		return nil, err
	}
	return &SetIterator[T]{it: it}, nil
}

func (it *SetIterator[T]) HasNext() (bool, error) { return it.it.HasNext() }

func (it *SetIterator[T]) Next() (T, error) {
	e, _, err := it.it.Next()
	return e, err
}

func (it *SetIterator[T]) Remove() error { return it.it.Remove() }
func (it *SetIterator[T]) Resume(tx objstore.Txn) error { return it.it.Resume(tx) }
func (it *SetIterator[T]) MarshalBinary() ([]byte, error) { return it.it.MarshalBinary() }

func (it *SetIterator[T]) UnmarshalBinary(data []byte) error {
	if it.it == nil {
		it.it = &MapIterator[T, bool]{}
	}
	return it.it.UnmarshalBinary(data)
}
