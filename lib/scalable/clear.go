package scalable

import (
	"context"

	"github.com/ValentinKolb/dColl/lib/objstore"
)

// clearTask releases the leaves of a detached directory, at most Batch leaves per
// run. While leaves remain it schedules its continuation, the last run removes the
// directory itself.
type clearTask struct {
	Dir   objstore.Ref
	Next  uint64 // first slot not yet released
	Batch uint32
}

func (t *clearTask) Run(_ context.Context, tx objstore.Txn) error {
	dir, err := objstore.Deref[*directory](tx, t.Dir)
	if objstore.IsObjectNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}

	slot := t.Next
	for released := uint32(0); slot < uint64(len(dir.Slots)) && released < max(t.Batch, 1); released++ {
		obj, err := tx.Get(dir.Slots[slot])
		if err != nil {
			return err
		}
		leaf, ok := obj.(leafShape)
		if !ok {
			return objstore.NewError(objstore.RetCTypeMismatch, "%s holds %T, not a leaf", dir.Slots[slot], obj)
		}
		if err := tx.RemoveObject(leaf); err != nil {
			return err
		}
		slot += dir.span(leaf.leafDepth())
	}

	if slot < uint64(len(dir.Slots)) {
		return tx.ScheduleTask(&clearTask{Dir: t.Dir, Next: slot, Batch: t.Batch})
	}
	plog().Debugf("released directory %s", t.Dir)
	return tx.RemoveObject(dir)
}

// chainLink is implemented by every deque node instantiation
type chainLink interface {
	objstore.ManagedObject
	next() objstore.Ref
}

// dequeClearTask releases a detached chain of deque nodes, at most Batch nodes per run
type dequeClearTask struct {
	Next  objstore.Ref // first node not yet released
	Batch uint32
}

func (t *dequeClearTask) Run(_ context.Context, tx objstore.Txn) error {
	ref := t.Next
	for released := uint32(0); !ref.IsNil() && released < max(t.Batch, 1); released++ {
		obj, err := tx.Get(ref)
		if objstore.IsObjectNotFound(err) {
			// the chain was cut by a concurrent removal
			return nil
		}
		if err != nil {
			return err
		}
		node, ok := obj.(chainLink)
		if !ok {
			return objstore.NewError(objstore.RetCTypeMismatch, "%s holds %T, not a deque node", ref, obj)
		}
		if err := tx.RemoveObject(node); err != nil {
			return err
		}
		ref = node.next()
	}
	if ref.IsNil() {
		return nil
	}
	return tx.ScheduleTask(&dequeClearTask{Next: ref, Batch: t.Batch})
}
