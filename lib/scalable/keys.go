package scalable

import (
	"bytes"
	"reflect"

	"github.com/ValentinKolb/dColl/lib/objstore"
	"github.com/ValentinKolb/dColl/lib/util"
	"github.com/cespare/xxhash/v2"
)

// Hashable lets key and value types define their own hash and equality.
// Keys that are managed objects must implement it: their identity is not stable
// across transactions, so the collections compare them by content.
// Equal values must return equal hashes.
type Hashable interface {
	Hash64() uint64
	Equals(other any) bool
}

// --------------------------------------------------------------------------
// Stored form of keys and values
// --------------------------------------------------------------------------

// stored is a key or value as kept inside a collection node: embedded as CBOR bytes,
// or, for managed objects, as a reference that may go stale. Elements of interface
// type keep their dynamic type only through the store codec, they are embedded as Value.
type stored[T any] struct {
	Data  []byte
	Value T
	Ref   objstore.Ref
}

// isNil reports whether v is nil or a nil pointer, map, slice or interface
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// managed returns v as a managed object if it is a non-nil one
func managed(v any) (objstore.ManagedObject, bool) {
	mo, ok := v.(objstore.ManagedObject)
	if !ok || isNil(v) {
		return nil, false
	}
	return mo, true
}

// toStored converts v into its stored form. Managed objects are referenced (which
// fails with ErrObjectNotFound if v was removed), everything else must be storable.
func toStored[T any](tx objstore.Txn, v T) (stored[T], error) {
	if mo, ok := managed(any(v)); ok {
		ref, err := tx.CreateReference(mo)
		if err != nil {
			return stored[T]{}, err
		}
		return stored[T]{Ref: ref}, nil
	}
	if err := objstore.CheckStorable(v); err != nil {
		return stored[T]{}, err
	}
	if reflect.TypeFor[T]().Kind() == reflect.Interface {
		return stored[T]{Value: v}, nil
	}
	data, err := util.EncodeValue(v)
	if err != nil {
		return stored[T]{}, objstore.NewError(objstore.RetCNotStorable, "%v", err)
	}
	return stored[T]{Data: data}, nil
}

// plain decodes an embedded value
func (s stored[T]) plain() (T, error) {
	if s.Data == nil {
		return s.Value, nil
	}
	var v T
	if err := util.DecodeValue(s.Data, &v); err != nil {
		return v, objstore.NewError(objstore.RetCInternalError, "%v", err)
	}
	return v, nil
}

// resolve returns the value, dereferencing managed objects
func (s stored[T]) resolve(tx objstore.Txn) (T, error) {
	if s.Ref.IsNil() {
		return s.plain()
	}
	return objstore.Deref[T](tx, s.Ref)
}

// isRef reports whether the value is held by reference
func (s stored[T]) isRef() bool {
	return !s.Ref.IsNil()
}

// sameStored compares two stored keys without dereferencing
func sameStored[T any](a, b stored[T]) bool {
	if a.isRef() || b.isRef() {
		return a.Ref == b.Ref
	}
	av, aerr := a.plain()
	bv, berr := b.plain()
	if aerr != nil || berr != nil {
		return bytes.Equal(a.Data, b.Data)
	}
	return equal(av, bv)
}

// --------------------------------------------------------------------------
// Equality and Hashing
// --------------------------------------------------------------------------

// equal compares keys or values: Hashable.Equals if implemented, identity for
// other managed objects, deep equality for everything else
func equal[T any](a, b T) bool {
	av, bv := any(a), any(b)
	if isNil(av) || isNil(bv) {
		return isNil(av) && isNil(bv)
	}
	if h, ok := av.(Hashable); ok {
		return h.Equals(bv)
	}
	if _, ok := av.(objstore.ManagedObject); ok {
		return av == bv
	}
	return reflect.DeepEqual(a, b)
}

// mix64 is the murmur3 finalizer, it spreads user supplied hashes over all 64 bits
// (the trie indexes by the top bits)
func mix64(h uint64) uint64 {
	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33
	h *= 0xc4ceb9fe1a85ec53
	h ^= h >> 33
	return h
}

// keyHash computes the trie hash of a key with the hash function of the collection
func keyHash[K any](fn util.HashFunc, seed [2]uint64, key K) (uint64, error) {
	k := any(key)
	if isNil(k) {
		return 0, nil
	}
	if h, ok := k.(Hashable); ok {
		return mix64(h.Hash64()), nil
	}
	if _, ok := k.(objstore.ManagedObject); ok {
		return 0, invalidArgument("managed key %T must implement Hashable", key)
	}
	b, err := util.CanonicalBytes(k)
	if err != nil {
		return 0, newError(RetCInvalidArgument, err, "cannot hash key %T", key)
	}
	return fn.Sum64(b, seed), nil
}

// contentHash is a configuration independent hash of a key or value, used for
// ContentHash (two maps with equal content have equal content hashes)
func contentHash(v any) (uint64, error) {
	if isNil(v) {
		return 0, nil
	}
	if h, ok := v.(Hashable); ok {
		return mix64(h.Hash64()), nil
	}
	b, err := util.CanonicalBytes(v)
	if err != nil {
		return 0, newError(RetCInvalidArgument, err, "cannot hash %T", v)
	}
	return xxhash.Sum64(b), nil
}
