package testing

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/ValentinKolb/dColl/lib/objstore"
	"github.com/stretchr/testify/require"
)

// StoreFactory is a function that creates a new, empty store
type StoreFactory func() objstore.Store

// Drainer is implemented by stores that can run their queued tasks on demand
type Drainer interface {
	DrainTasks(ctx context.Context) (int, error)
}

// Snapshotter is implemented by stores that can save and load their content
type Snapshotter interface {
	Save(w io.Writer) error
	Load(r io.Reader) error
}

// --------------------------------------------------------------------------
// Test types
// --------------------------------------------------------------------------

// Counter is a managed object used by the suite
type Counter struct {
	Name  string
	Count int
	Next  objstore.Ref
}

func (*Counter) ManagedObject() {}

// Other is a second managed type, for type assertion tests
type Other struct {
	Label string
}

func (*Other) ManagedObject() {}

// Unstorable contains a function and must be rejected
type Unstorable struct {
	Name string
	Fn   func()
}

func (*Unstorable) ManagedObject() {}

// IncrementTask increments the counter bound to Binding
type IncrementTask struct {
	Binding string
	By      int
}

func (t *IncrementTask) Run(_ context.Context, tx objstore.Txn) error {
	c, err := objstore.Lookup[*Counter](tx, t.Binding)
	if err != nil {
		return err
	}
	if err := tx.MarkForUpdate(c); err != nil {
		return err
	}
	c.Count += t.By
	return nil
}

// ChainTask schedules Remaining further IncrementTasks, one per run
type ChainTask struct {
	Binding   string
	Remaining int
}

func (t *ChainTask) Run(ctx context.Context, tx objstore.Txn) error {
	inc := &IncrementTask{Binding: t.Binding, By: 1}
	if err := inc.Run(ctx, tx); err != nil {
		return err
	}
	if t.Remaining > 1 {
		return tx.ScheduleTask(&ChainTask{Binding: t.Binding, Remaining: t.Remaining - 1})
	}
	return nil
}

func init() {
	objstore.Register(&Counter{})
	objstore.Register(&Other{})
	objstore.Register(&IncrementTask{})
	objstore.Register(&ChainTask{})
}

// --------------------------------------------------------------------------
// Suite
// --------------------------------------------------------------------------

// RunStoreTests runs the conformance suite for a store implementation
func RunStoreTests(t *testing.T, name string, factory StoreFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("CreateAndGet", func(t *testing.T) {
			testCreateAndGet(t, factory())
		})

		t.Run("Identity", func(t *testing.T) {
			testIdentity(t, factory())
		})

		t.Run("Abort", func(t *testing.T) {
			testAbort(t, factory())
		})

		t.Run("RemoveObject", func(t *testing.T) {
			testRemoveObject(t, factory())
		})

		t.Run("Bindings", func(t *testing.T) {
			testBindings(t, factory())
		})

		t.Run("TypeMismatch", func(t *testing.T) {
			testTypeMismatch(t, factory())
		})

		t.Run("NotStorable", func(t *testing.T) {
			testNotStorable(t, factory())
		})

		t.Run("TxnDone", func(t *testing.T) {
			testTxnDone(t, factory())
		})

		t.Run("ConcurrentUpdates", func(t *testing.T) {
			testConcurrentUpdates(t, factory())
		})

		t.Run("Tasks", func(t *testing.T) {
			testTasks(t, factory())
		})

		t.Run("SaveLoad", func(t *testing.T) {
			testSaveLoad(t, factory)
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func transact(t *testing.T, store objstore.Store, fn func(tx objstore.Txn) error) {
	t.Helper()
	require.NoError(t, store.Transact(context.Background(), fn))
}

func readCount(t *testing.T, store objstore.Store, name string) int {
	t.Helper()
	var count int
	transact(t, store, func(tx objstore.Txn) error {
		c, err := objstore.Lookup[*Counter](tx, name)
		if err != nil {
			return err
		}
		count = c.Count
		return nil
	})
	return count
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testCreateAndGet(t *testing.T, store objstore.Store) {
	defer store.Close()

	var ref objstore.Ref
	transact(t, store, func(tx objstore.Txn) error {
		var err error
		ref, err = tx.CreateReference(&Counter{Name: "a", Count: 1})
		return err
	})
	require.False(t, ref.IsNil())

	// modification through GetForUpdate is persisted
	transact(t, store, func(tx objstore.Txn) error {
		c, err := objstore.DerefForUpdate[*Counter](tx, ref)
		if err != nil {
			return err
		}
		require.Equal(t, "a", c.Name)
		c.Count = 42
		return nil
	})

	transact(t, store, func(tx objstore.Txn) error {
		c, err := objstore.Deref[*Counter](tx, ref)
		if err != nil {
			return err
		}
		require.Equal(t, 42, c.Count)
		return nil
	})
}

func testIdentity(t *testing.T, store objstore.Store) {
	defer store.Close()

	transact(t, store, func(tx objstore.Txn) error {
		c := &Counter{Name: "same"}
		r1, err := tx.CreateReference(c)
		require.NoError(t, err)
		r2, err := tx.CreateReference(c)
		require.NoError(t, err)
		require.Equal(t, r1, r2, "same object, same reference")

		got, err := tx.Get(r1)
		require.NoError(t, err)
		require.Same(t, c, got.(*Counter), "created object is returned as is")

		other, err := tx.CreateReference(&Counter{Name: "same"})
		require.NoError(t, err)
		require.NotEqual(t, r1, other, "equal content, different identity")
		return nil
	})
}

func testAbort(t *testing.T, store objstore.Store) {
	defer store.Close()

	var ref objstore.Ref
	transact(t, store, func(tx objstore.Txn) error {
		var err error
		ref, err = tx.CreateReference(&Counter{Name: "kept", Count: 1})
		return err
	})

	boom := errors.New("boom")
	var created objstore.Ref
	err := store.Transact(context.Background(), func(tx objstore.Txn) error {
		c, err := objstore.DerefForUpdate[*Counter](tx, ref)
		if err != nil {
			return err
		}
		c.Count = 100
		created, err = tx.CreateReference(&Counter{Name: "lost"})
		if err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	transact(t, store, func(tx objstore.Txn) error {
		c, err := objstore.Deref[*Counter](tx, ref)
		require.NoError(t, err)
		require.Equal(t, 1, c.Count, "aborted change must not be visible")

		_, err = tx.Get(created)
		require.True(t, objstore.IsObjectNotFound(err), "object of an aborted transaction must not exist")
		return nil
	})
}

func testRemoveObject(t *testing.T, store objstore.Store) {
	defer store.Close()

	var ref objstore.Ref
	transact(t, store, func(tx objstore.Txn) error {
		var err error
		ref, err = tx.CreateReference(&Counter{Name: "doomed"})
		return err
	})

	transact(t, store, func(tx objstore.Txn) error {
		c, err := objstore.Deref[*Counter](tx, ref)
		require.NoError(t, err)
		require.NoError(t, tx.RemoveObject(c))

		_, err = tx.Get(ref)
		require.True(t, objstore.IsObjectNotFound(err), "removed in this transaction")

		_, err = tx.CreateReference(c)
		require.True(t, objstore.IsObjectNotFound(err), "no reference to a removed object")
		return nil
	})

	transact(t, store, func(tx objstore.Txn) error {
		_, err := tx.Get(ref)
		require.True(t, objstore.IsObjectNotFound(err), "removed in an earlier transaction")
		return nil
	})

	// created and removed within the same transaction
	transact(t, store, func(tx objstore.Txn) error {
		c := &Counter{Name: "ephemeral"}
		r, err := tx.CreateReference(c)
		require.NoError(t, err)
		require.NoError(t, tx.RemoveObject(c))
		_, err = tx.Get(r)
		require.True(t, objstore.IsObjectNotFound(err))
		return nil
	})
}

func testBindings(t *testing.T, store objstore.Store) {
	defer store.Close()

	transact(t, store, func(tx objstore.Txn) error {
		_, err := tx.GetBinding("counter")
		require.ErrorIs(t, err, objstore.ErrNameNotBound)
		require.ErrorIs(t, tx.RemoveBinding("counter"), objstore.ErrNameNotBound)
		return tx.SetBinding("counter", &Counter{Name: "bound", Count: 7})
	})

	require.Equal(t, 7, readCount(t, store, "counter"))

	// rebinding replaces, removal unbinds without removing the object
	var ref objstore.Ref
	transact(t, store, func(tx objstore.Txn) error {
		c, err := objstore.Lookup[*Counter](tx, "counter")
		require.NoError(t, err)
		ref, err = tx.CreateReference(c)
		require.NoError(t, err)
		require.NoError(t, tx.SetBinding("counter", &Counter{Name: "second", Count: 8}))
		return nil
	})
	require.Equal(t, 8, readCount(t, store, "counter"))

	transact(t, store, func(tx objstore.Txn) error {
		require.NoError(t, tx.RemoveBinding("counter"))
		_, err := tx.GetBinding("counter")
		require.ErrorIs(t, err, objstore.ErrNameNotBound)
		return nil
	})
	transact(t, store, func(tx objstore.Txn) error {
		_, err := tx.GetBinding("counter")
		require.ErrorIs(t, err, objstore.ErrNameNotBound)

		c, err := objstore.Deref[*Counter](tx, ref)
		require.NoError(t, err, "unbinding does not remove the object")
		require.Equal(t, "bound", c.Name)
		return nil
	})
}

func testTypeMismatch(t *testing.T, store objstore.Store) {
	defer store.Close()

	var ref objstore.Ref
	transact(t, store, func(tx objstore.Txn) error {
		var err error
		ref, err = tx.CreateReference(&Other{Label: "x"})
		return err
	})
	transact(t, store, func(tx objstore.Txn) error {
		_, err := objstore.Deref[*Counter](tx, ref)
		require.ErrorIs(t, err, objstore.ErrTypeMismatch)
		o, err := objstore.Deref[*Other](tx, ref)
		require.NoError(t, err)
		require.Equal(t, "x", o.Label)
		return nil
	})
}

func testNotStorable(t *testing.T, store objstore.Store) {
	defer store.Close()

	transact(t, store, func(tx objstore.Txn) error {
		_, err := tx.CreateReference(&Unstorable{Name: "f", Fn: func() {}})
		require.ErrorIs(t, err, objstore.ErrNotStorable)

		var nilCounter *Counter
		_, err = tx.CreateReference(nilCounter)
		require.ErrorIs(t, err, objstore.ErrNotStorable)
		return nil
	})
}

func testTxnDone(t *testing.T, store objstore.Store) {
	var leaked objstore.Txn
	transact(t, store, func(tx objstore.Txn) error {
		leaked = tx
		return nil
	})
	_, err := leaked.CreateReference(&Counter{})
	require.ErrorIs(t, err, objstore.ErrTxnDone)

	require.NoError(t, store.Close())
	err = store.Transact(context.Background(), func(tx objstore.Txn) error { return nil })
	require.ErrorIs(t, err, objstore.ErrTxnDone)
}

func testConcurrentUpdates(t *testing.T, store objstore.Store) {
	defer store.Close()

	transact(t, store, func(tx objstore.Txn) error {
		return tx.SetBinding("shared", &Counter{Name: "shared"})
	})

	const workers = 4
	const increments = 25
	var wg sync.WaitGroup
	errs := make(chan error, workers*increments)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < increments; i++ {
				err := store.Transact(context.Background(), func(tx objstore.Txn) error {
					c, err := objstore.Lookup[*Counter](tx, "shared")
					if err != nil {
						return err
					}
					if err := tx.MarkForUpdate(c); err != nil {
						return err
					}
					c.Count++
					return nil
				})
				if err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	// a store may give up after its retry limit, but must never lose an update
	failed := 0
	for err := range errs {
		require.ErrorIs(t, err, objstore.ErrConflict)
		failed++
	}
	require.Equal(t, workers*increments-failed, readCount(t, store, "shared"))
}

func testTasks(t *testing.T, store objstore.Store) {
	defer store.Close()
	drainer, ok := store.(Drainer)
	if !ok {
		t.Skip("store cannot drain tasks")
	}
	ctx := context.Background()

	transact(t, store, func(tx objstore.Txn) error {
		if err := tx.SetBinding("tasks", &Counter{Name: "tasks"}); err != nil {
			return err
		}
		return tx.ScheduleTask(&IncrementTask{Binding: "tasks", By: 5})
	})
	require.Equal(t, 0, readCount(t, store, "tasks"), "tasks run after commit, not during")

	n, err := drainer.DrainTasks(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 5, readCount(t, store, "tasks"))

	// tasks of aborted transactions are discarded
	boom := errors.New("boom")
	err = store.Transact(ctx, func(tx objstore.Txn) error {
		if err := tx.ScheduleTask(&IncrementTask{Binding: "tasks", By: 100}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	// tasks scheduled by tasks are drained by the same call
	transact(t, store, func(tx objstore.Txn) error {
		return tx.ScheduleTask(&ChainTask{Binding: "tasks", Remaining: 3})
	})
	n, err = drainer.DrainTasks(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, 8, readCount(t, store, "tasks"))
}

func testSaveLoad(t *testing.T, factory StoreFactory) {
	store := factory()
	defer store.Close()
	snap, ok := store.(Snapshotter)
	if !ok {
		t.Skip("store cannot save snapshots")
	}

	var ref objstore.Ref
	transact(t, store, func(tx objstore.Txn) error {
		head := &Counter{Name: "head", Count: 1}
		tail := &Counter{Name: "tail", Count: 2}
		tailRef, err := tx.CreateReference(tail)
		if err != nil {
			return err
		}
		head.Next = tailRef
		ref, err = tx.CreateReference(head)
		if err != nil {
			return err
		}
		return tx.SetBinding("head", head)
	})

	var buf bytes.Buffer
	require.NoError(t, snap.Save(&buf))

	restored := factory()
	defer restored.Close()
	require.NoError(t, restored.(Snapshotter).Load(&buf))

	transact(t, restored, func(tx objstore.Txn) error {
		head, err := objstore.Lookup[*Counter](tx, "head")
		require.NoError(t, err)
		require.Equal(t, "head", head.Name)

		byRef, err := objstore.Deref[*Counter](tx, ref)
		require.NoError(t, err)
		require.Same(t, head, byRef, "binding and reference resolve to the same object")

		tail, err := objstore.Deref[*Counter](tx, head.Next)
		require.NoError(t, err)
		require.Equal(t, 2, tail.Count)

		// new objects get fresh ids
		r, err := tx.CreateReference(&Counter{Name: "new"})
		require.NoError(t, err)
		require.NotEqual(t, ref, r)
		require.NotEqual(t, head.Next, r)
		return nil
	})
}
