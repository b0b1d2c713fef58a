package scalable

import (
	"bytes"
	"encoding/gob"

	"github.com/ValentinKolb/dColl/lib/objstore"
)

// dequeCursor is the serializable position of a deque iterator
type dequeCursor struct {
	Deque      objstore.Ref
	Descending bool
	Started    bool
	Exhausted  bool
	Epoch      uint64       // epoch of the deque when the iterator was created
	LastRef    objstore.Ref // node returned by the last Next
	LastSeq    int64
	NextRef    objstore.Ref // node expected after LastRef (the first node before any Next)
	CanRemove  bool
}

// DequeIterator iterates over a Deque from head to tail (or tail to head). It can be
// serialized and resumed in another transaction. Elements added behind its position
// are returned. If the element it expects next was removed, a strict iterator fails
// with ErrConcurrentModification while an iterator of a deque with concurrent
// iterators continues with the following element. A strict iterator only detects the
// removal of that next element (and a Clear): unvisited elements further ahead that
// were removed are skipped without an error.
//
// Thread-safety: Not safe for concurrent use
type DequeIterator[E any] struct {
	d      *Deque[E]
	cursor dequeCursor
}

// Iterator returns an iterator from head to tail
func (d *Deque[E]) Iterator() (*DequeIterator[E], error) { return d.iterator(false) }

// DescendingIterator returns an iterator from tail to head
func (d *Deque[E]) DescendingIterator() (*DequeIterator[E], error) { return d.iterator(true) }

func (d *Deque[E]) iterator(descending bool) (*DequeIterator[E], error) {
	h, err := d.header()
	if err != nil {
		return nil, err
	}
	next := h.Head
	if descending {
		next = h.Tail
	}
	return &DequeIterator[E]{d: d, cursor: dequeCursor{
		Deque:      d.ref,
		Descending: descending,
		Epoch:      h.Epoch,
		NextRef:    next,
	}}, nil
}

// ResumeDequeIterator restores a serialized deque iterator in the transaction tx
func ResumeDequeIterator[E any](tx objstore.Txn, data []byte) (*DequeIterator[E], error) {
	it := &DequeIterator[E]{}
	if err := it.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	if err := it.Resume(tx); err != nil {
		return nil, err
	}
	return it, nil
}

// Resume attaches the iterator to the transaction tx
func (it *DequeIterator[E]) Resume(tx objstore.Txn) error {
	d, err := OpenDeque[E](tx, it.cursor.Deque)
	if err != nil {
		return err
	}
	it.d = d
	return nil
}

// MarshalBinary encodes the position of the iterator
func (it *DequeIterator[E]) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&it.cursor); err != nil {
		return nil, newError(RetCInvalidArgument, err, "cannot encode deque iterator")
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary restores a position encoded by MarshalBinary. The iterator must be
// resumed before use.
func (it *DequeIterator[E]) UnmarshalBinary(data []byte) error {
	var c dequeCursor
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&c); err != nil {
		return newError(RetCInvalidArgument, err, "cannot decode deque iterator")
	}
	it.d, it.cursor = nil, c
	return nil
}

// forward returns the neighbor of n in iteration direction
func (it *DequeIterator[E]) forward(n *dequeNode[E]) objstore.Ref {
	if it.cursor.Descending {
		return n.Prev
	}
	return n.Next
}

// after reports whether seq lies behind the position in iteration direction
func (it *DequeIterator[E]) after(seq int64) bool {
	if !it.cursor.Started {
		return true
	}
	if it.cursor.Descending {
		return seq < it.cursor.LastSeq
	}
	return seq > it.cursor.LastSeq
}

// seek walks from the start of the deque to the first node behind the position
func (it *DequeIterator[E]) seek(h *dequeHeader) (objstore.Ref, *dequeNode[E], error) {
	ref := h.Head
	if it.cursor.Descending {
		ref = h.Tail
	}
	for !ref.IsNil() {
		n, err := it.d.node(ref)
		if err != nil {
			return objstore.Ref{}, nil, err
		}
		if it.after(n.Seq) {
			return ref, n, nil
		}
		ref = it.forward(n)
	}
	return objstore.Ref{}, nil, nil
}

// upcoming finds the node the next call of Next returns
func (it *DequeIterator[E]) upcoming() (objstore.Ref, *dequeNode[E], error) {
	if it.d == nil {
		return objstore.Ref{}, nil, newError(RetCIllegalState, nil, "iterator is not attached to a transaction")
	}
	h, err := it.d.header()
	if err != nil {
		return objstore.Ref{}, nil, err
	}
	c := &it.cursor
	if c.Epoch != h.Epoch {
		// the deque was cleared, the old elements are gone
		if !h.Concurrent {
			return objstore.Ref{}, nil, newError(RetCConcurrentModification, nil, "deque was cleared")
		}
		c.Epoch, c.NextRef = h.Epoch, objstore.Ref{}
		c.Started, c.LastRef = false, objstore.Ref{}
	}

	if c.Started {
		last, ok, err := it.d.live(h, c.LastRef)
		if err != nil {
			return objstore.Ref{}, nil, err
		}
		if ok {
			if !h.Concurrent && !c.NextRef.IsNil() {
				_, alive, err := it.d.live(h, c.NextRef)
				if err != nil {
					return objstore.Ref{}, nil, err
				}
				if !alive {
					return objstore.Ref{}, nil, newError(RetCConcurrentModification, nil, "element ahead of the iterator was removed")
				}
			}
			ref := it.forward(last)
			if ref.IsNil() {
				return ref, nil, nil
			}
			n, err := it.d.node(ref)
			return ref, n, err
		}
	}

	// the last returned node is gone (or there is none): continue at NextRef
	if !c.NextRef.IsNil() {
		n, ok, err := it.d.live(h, c.NextRef)
		if err != nil {
			return objstore.Ref{}, nil, err
		}
		if ok {
			return c.NextRef, n, nil
		}
		if !h.Concurrent {
			return objstore.Ref{}, nil, newError(RetCConcurrentModification, nil, "element ahead of the iterator was removed")
		}
	}
	return it.seek(h)
}

// HasNext reports whether another element follows
func (it *DequeIterator[E]) HasNext() (bool, error) {
	if it.cursor.Exhausted {
		return false, nil
	}
	_, n, err := it.upcoming()
	return n != nil, err
}

// Next returns the next element or ErrNoSuchElement
func (it *DequeIterator[E]) Next() (E, error) {
	var zero E
	if it.cursor.Exhausted {
		return zero, ErrNoSuchElement
	}
	ref, n, err := it.upcoming()
	if err != nil {
		return zero, err
	}
	if n == nil {
		it.cursor.Exhausted, it.cursor.CanRemove = true, false
		return zero, ErrNoSuchElement
	}

	c := &it.cursor
	c.Started, c.CanRemove = true, true
	c.LastRef, c.LastSeq = ref, n.Seq
	c.NextRef = it.forward(n)

	v, err := n.Value.resolve(it.d.tx)
	if err != nil {
		return zero, staleValue(err)
	}
	return v, nil
}

// Remove removes the element returned by the last Next. It is a no-op if the element
// was removed already.
func (it *DequeIterator[E]) Remove() error {
	if it.d == nil {
		return newError(RetCIllegalState, nil, "iterator is not attached to a transaction")
	}
	if !it.cursor.CanRemove {
		return newError(RetCIllegalState, nil, "remove without a preceding next")
	}
	it.cursor.CanRemove = false

	h, err := it.d.header()
	if err != nil {
		return err
	}
	n, ok, err := it.d.live(h, it.cursor.LastRef)
	if err != nil || !ok {
		return err
	}
	return it.d.unlink(h, it.cursor.LastRef, n)
}
