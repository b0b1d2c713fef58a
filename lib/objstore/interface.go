package objstore

import (
	"context"
	"strconv"
)

// --------------------------------------------------------------------------
// References
// --------------------------------------------------------------------------

// ObjectID identifies a managed object inside a store. IDs are never reused.
type ObjectID uint64

// Ref is an opaque reference to a managed object. The zero Ref is the nil reference.
type Ref struct {
	ID ObjectID
}

// IsNil reports whether the reference points nowhere
func (r Ref) IsNil() bool { return r.ID == 0 }

func (r Ref) String() string {
	if r.IsNil() {
		return "Ref(nil)"
	}
	return "Ref(" + strconv.FormatUint(uint64(r.ID), 10) + ")"
}

// ManagedObject marks a type whose values are stored as independent objects.
// Managed objects must be pointers to structs with exported fields.
type ManagedObject interface {
	ManagedObject()
}

// Task is deferred work scheduled by a transaction. The store runs it after the
// scheduling transaction committed, in a transaction of its own. Tasks are encoded
// with the store codec, so they must be registered like any other stored type.
type Task interface {
	Run(ctx context.Context, tx Txn) error
}

// --------------------------------------------------------------------------
// Transaction Interface
// --------------------------------------------------------------------------

// Txn is the view of the store inside one transaction.
// A Txn must only be used by the goroutine running the transaction function.
type Txn interface {
	// Context returns the context the transaction runs in.
	Context() context.Context

	// CreateReference returns the reference for obj. If obj is not managed yet it
	// becomes a new object, which is written when the transaction commits. Calling it
	// again for the same object returns the same reference.
	CreateReference(obj ManagedObject) (Ref, error)

	// Get returns the object ref points to. It fails with ErrObjectNotFound if the
	// object was removed. Repeated calls within one transaction return the same value.
	Get(ref Ref) (ManagedObject, error)

	// GetForUpdate is Get, additionally announcing that the object will be modified.
	GetForUpdate(ref Ref) (ManagedObject, error)

	// MarkForUpdate announces that obj (obtained from this transaction) will be modified.
	MarkForUpdate(obj ManagedObject) error

	// RemoveObject removes obj from the store. Later dereferences of its reference fail
	// with ErrObjectNotFound, in this and in every later transaction.
	RemoveObject(obj ManagedObject) error

	// SetBinding binds name to obj, replacing an existing binding.
	SetBinding(name string, obj ManagedObject) error

	// GetBinding returns the object bound to name or ErrNameNotBound.
	GetBinding(name string) (ManagedObject, error)

	// RemoveBinding removes the binding (not the object) or fails with ErrNameNotBound.
	RemoveBinding(name string) error

	// ScheduleTask queues task to run after this transaction commits. If the
	// transaction aborts, the task is discarded.
	ScheduleTask(task Task) error
}

// Store runs transactions.
type Store interface {
	// Transact runs fn in a new transaction and commits it if fn returns nil.
	// If fn returns an error the transaction is aborted and the error returned.
	// Implementations may run fn more than once when the commit loses a conflict.
	Transact(ctx context.Context, fn func(tx Txn) error) error

	// Close releases the store. Running transactions fail with ErrTxnDone.
	Close() error
}

// --------------------------------------------------------------------------
// Typed Helpers
// --------------------------------------------------------------------------

// Deref dereferences ref and asserts the object type
func Deref[T any](tx Txn, ref Ref) (T, error) {
	var zero T
	obj, err := tx.Get(ref)
	if err != nil {
		return zero, err
	}
	v, ok := obj.(T)
	if !ok {
		return zero, NewError(RetCTypeMismatch, "%s holds %T, not %T", ref, obj, zero)
	}
	return v, nil
}

// DerefForUpdate dereferences ref for update and asserts the object type
func DerefForUpdate[T any](tx Txn, ref Ref) (T, error) {
	var zero T
	obj, err := tx.GetForUpdate(ref)
	if err != nil {
		return zero, err
	}
	v, ok := obj.(T)
	if !ok {
		return zero, NewError(RetCTypeMismatch, "%s holds %T, not %T", ref, obj, zero)
	}
	return v, nil
}

// Lookup returns the object bound to name, asserted to type T
func Lookup[T any](tx Txn, name string) (T, error) {
	var zero T
	obj, err := tx.GetBinding(name)
	if err != nil {
		return zero, err
	}
	v, ok := obj.(T)
	if !ok {
		return zero, NewError(RetCTypeMismatch, "binding %q holds %T, not %T", name, obj, zero)
	}
	return v, nil
}
