package memstore

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dColl/lib/objstore"
	objtesting "github.com/ValentinKolb/dColl/lib/objstore/testing"
	"github.com/stretchr/testify/require"
)

type failingTask struct {
	Reason string
}

func (t *failingTask) Run(context.Context, objstore.Txn) error {
	return errors.New(t.Reason)
}

func init() {
	objstore.Register(&failingTask{})
}

func counterRef(t *testing.T, s *Store, name string, count int) objstore.Ref {
	var ref objstore.Ref
	require.NoError(t, s.Transact(context.Background(), func(tx objstore.Txn) error {
		c := &objtesting.Counter{Name: name, Count: count}
		var err error
		if ref, err = tx.CreateReference(c); err != nil {
			return err
		}
		return tx.SetBinding(name, c)
	}))
	return ref
}

func TestReadOnlyTransactionsDoNotWrite(t *testing.T) {
	s := New(nil)
	defer s.Close()
	ref := counterRef(t, s, "c", 1)

	before := s.Stats().CommitIndex
	require.NoError(t, s.Transact(context.Background(), func(tx objstore.Txn) error {
		_, err := objstore.Deref[*objtesting.Counter](tx, ref)
		return err
	}))
	require.Equal(t, before, s.Stats().CommitIndex, "reading must not create a commit")
}

func TestSnapshotReadConflict(t *testing.T) {
	s := New(&Options{MaxRetries: 0})
	defer s.Close()
	ref := counterRef(t, s, "c", 1)
	ctx := context.Background()

	// a transaction that started before a concurrent commit must not observe it
	started := make(chan struct{})
	proceed := make(chan struct{})
	result := make(chan error, 1)
	go func() {
		result <- s.Transact(ctx, func(tx objstore.Txn) error {
			close(started)
			<-proceed
			_, err := tx.Get(ref)
			return err
		})
	}()

	<-started
	require.NoError(t, s.Transact(ctx, func(tx objstore.Txn) error {
		c, err := objstore.DerefForUpdate[*objtesting.Counter](tx, ref)
		if err != nil {
			return err
		}
		c.Count = 2
		return nil
	}))
	close(proceed)

	err := <-result
	require.ErrorIs(t, err, objstore.ErrConflict)
	require.EqualValues(t, 1, s.Stats().Aborts)
}

func TestRemovedAfterStartIsConflict(t *testing.T) {
	s := New(&Options{MaxRetries: 0})
	defer s.Close()
	ref := counterRef(t, s, "c", 1)
	ctx := context.Background()

	started := make(chan struct{})
	proceed := make(chan struct{})
	result := make(chan error, 1)
	go func() {
		result <- s.Transact(ctx, func(tx objstore.Txn) error {
			close(started)
			<-proceed
			_, err := tx.Get(ref)
			return err
		})
	}()

	<-started
	require.NoError(t, s.Transact(ctx, func(tx objstore.Txn) error {
		c, err := objstore.Deref[*objtesting.Counter](tx, ref)
		if err != nil {
			return err
		}
		return tx.RemoveObject(c)
	}))
	close(proceed)

	require.ErrorIs(t, <-result, objstore.ErrConflict, "removal after start is a conflict, not a missing object")

	// once no transaction can observe the removal anymore the object is simply gone
	err := s.Transact(ctx, func(tx objstore.Txn) error {
		_, err := tx.Get(ref)
		return err
	})
	require.True(t, objstore.IsObjectNotFound(err))
	require.Zero(t, s.tombstones.Size(), "tombstones are pruned")
}

func TestFailingTaskIsDropped(t *testing.T) {
	s := New(&Options{MaxTaskAttempts: 2})
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Transact(ctx, func(tx objstore.Txn) error {
		return tx.ScheduleTask(&failingTask{Reason: "nope"})
	}))
	require.Equal(t, 1, s.PendingTasks())

	n, err := s.DrainTasks(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "nope")
	require.Zero(t, n)
	require.Zero(t, s.PendingTasks())
	require.EqualValues(t, 1, s.Stats().TasksFailed)
}

func TestScheduleUnstorableTask(t *testing.T) {
	s := New(nil)
	defer s.Close()
	err := s.Transact(context.Background(), func(tx objstore.Txn) error {
		return tx.ScheduleTask(nil)
	})
	require.ErrorIs(t, err, objstore.ErrNotStorable)
}

func TestBackgroundRunner(t *testing.T) {
	s := New(&Options{TaskInterval: 5 * time.Millisecond})
	defer s.Close()
	ctx := context.Background()
	counterRef(t, s, "bg", 0)

	require.NoError(t, s.Transact(ctx, func(tx objstore.Txn) error {
		return tx.ScheduleTask(&objtesting.ChainTask{Binding: "bg", Remaining: 4})
	}))

	require.Eventually(t, func() bool {
		var count int
		err := s.Transact(ctx, func(tx objstore.Txn) error {
			c, err := objstore.Lookup[*objtesting.Counter](tx, "bg")
			if err != nil {
				return err
			}
			count = c.Count
			return nil
		})
		return err == nil && count == 4
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return s.PendingTasks() == 0 }, time.Second, 5*time.Millisecond)
}

func TestSaveLoadPendingTasks(t *testing.T) {
	s := New(nil)
	defer s.Close()
	ctx := context.Background()
	counterRef(t, s, "c", 10)
	require.NoError(t, s.Transact(ctx, func(tx objstore.Txn) error {
		return tx.ScheduleTask(&objtesting.IncrementTask{Binding: "c", By: 5})
	}))

	var buf bytes.Buffer
	require.NoError(t, s.Save(&buf))

	info, err := ReadSnapshotInfo(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Equal(t, 1, info.Objects)
	require.Equal(t, []string{"c"}, info.Bindings)
	require.Equal(t, 1, info.PendingTasks)
	for typeName := range info.ObjectsByType {
		require.True(t, strings.Contains(typeName, "Counter"), typeName)
	}

	restored := New(nil)
	defer restored.Close()
	require.NoError(t, restored.Load(&buf))
	require.Equal(t, 1, restored.PendingTasks())

	n, err := restored.DrainTasks(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.NoError(t, restored.Transact(ctx, func(tx objstore.Txn) error {
		c, err := objstore.Lookup[*objtesting.Counter](tx, "c")
		require.NoError(t, err)
		require.Equal(t, 15, c.Count)
		return nil
	}))
}

func TestLoadRejectsGarbage(t *testing.T) {
	s := New(nil)
	defer s.Close()
	require.Error(t, s.Load(strings.NewReader("NOTASNAPSHOT")))
	_, err := ReadSnapshotInfo(strings.NewReader("DCOLLMEM\x09"))
	require.Error(t, err)
}

func TestStatsAndMetrics(t *testing.T) {
	s := New(nil)
	defer s.Close()
	counterRef(t, s, "a", 1)
	counterRef(t, s, "b", 2)

	st := s.Stats()
	require.Equal(t, 2, st.Objects)
	require.Equal(t, 2, st.Bindings)
	require.EqualValues(t, 2, st.Commits)
	require.Positive(t, st.TotalBytes)
	require.Equal(t, 2, s.ObjectCount())

	var buf bytes.Buffer
	s.WritePrometheus(&buf)
	require.Contains(t, buf.String(), "dcoll_memstore_commits_total 2")
	require.Contains(t, buf.String(), "dcoll_memstore_objects 2")
}
