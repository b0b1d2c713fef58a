package scalable

import (
	"github.com/ValentinKolb/dColl/lib/objstore"
)

// --------------------------------------------------------------------------
// Stored objects of the deque
// --------------------------------------------------------------------------

// dequeHeader is the root object of a Deque
type dequeHeader struct {
	Head       objstore.Ref
	Tail       objstore.Ref
	Size       int64
	NextHead   int64 // sequence number of the next element added at the head (decreasing)
	NextTail   int64 // sequence number of the next element added at the tail (increasing)
	Concurrent bool
	Epoch      uint64 // incremented by Clear, nodes of older epochs are detached
	ElemType   string
	ClearBatch uint32
}

func (*dequeHeader) ManagedObject() {}

// dequeNode is one element. Sequence numbers increase from head to tail.
type dequeNode[E any] struct {
	Prev  objstore.Ref
	Next  objstore.Ref
	Seq   int64
	Epoch uint64
	Value stored[E]
}

func (*dequeNode[E]) ManagedObject() {}

func (n *dequeNode[E]) next() objstore.Ref { return n.Next }

// Deque is a persistent double ended queue stored as a doubly linked chain of nodes,
// each element in an object of its own. Nil elements are rejected. Element objects
// that were removed from the store make the operations reading them fail with
// ErrStaleValue.
//
// Iterators of a deque created with WithConcurrentIterators continue after elements
// ahead of them were removed. By default an iterator fails with
// ErrConcurrentModification when the element it would return next was removed.
//
// Thread-safety: Not safe for concurrent use
type Deque[E any] struct {
	tx  objstore.Txn
	ref objstore.Ref
}

// DequeOption configures a deque at construction
type DequeOption func(*dequeConfig)

type dequeConfig struct {
	concurrent     bool
	clearBatchSize int
}

// WithConcurrentIterators makes the iterators of the deque resynchronize instead of
// failing after concurrent removals
func WithConcurrentIterators() DequeOption {
	return func(c *dequeConfig) { c.concurrent = true }
}

// WithDequeClearBatchSize sets the number of nodes a background clear task releases per run
func WithDequeClearBatchSize(n int) DequeOption {
	return func(c *dequeConfig) { c.clearBatchSize = n }
}

// NewDeque creates an empty deque
func NewDeque[E any](tx objstore.Txn, opts ...DequeOption) (*Deque[E], error) {
	cfg := dequeConfig{clearBatchSize: DefaultClearBatchSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.clearBatchSize < 1 {
		return nil, invalidArgument("clearBatchSize must be at least 1, got %d", cfg.clearBatchSize)
	}
	RegisterDeque[E]()

	h := &dequeHeader{
		NextHead:   -1,
		Concurrent: cfg.concurrent,
		ElemType:   typeName[E](),
		ClearBatch: uint32(cfg.clearBatchSize),
	}
	ref, err := tx.CreateReference(h)
	if err != nil {
		return nil, err
	}
	return &Deque[E]{tx: tx, ref: ref}, nil
}

// OpenDeque attaches to an existing deque in the transaction tx
func OpenDeque[E any](tx objstore.Txn, ref objstore.Ref) (*Deque[E], error) {
	h, err := objstore.Deref[*dequeHeader](tx, ref)
	if err != nil {
		return nil, err
	}
	if e := typeName[E](); h.ElemType != e {
		return nil, objstore.NewError(objstore.RetCTypeMismatch, "deque holds %s, not %s", h.ElemType, e)
	}
	RegisterDeque[E]()
	return &Deque[E]{tx: tx, ref: ref}, nil
}

// LookupDeque opens the deque bound to name
func LookupDeque[E any](tx objstore.Txn, name string) (*Deque[E], error) {
	h, err := objstore.Lookup[*dequeHeader](tx, name)
	if err != nil {
		return nil, err
	}
	ref, err := tx.CreateReference(h)
	if err != nil {
		return nil, err
	}
	return OpenDeque[E](tx, ref)
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func (d *Deque[E]) header() (*dequeHeader, error) {
	return objstore.Deref[*dequeHeader](d.tx, d.ref)
}

func (d *Deque[E]) node(ref objstore.Ref) (*dequeNode[E], error) {
	return objstore.Deref[*dequeNode[E]](d.tx, ref)
}

// live returns the node ref points to if it still belongs to the deque
func (d *Deque[E]) live(h *dequeHeader, ref objstore.Ref) (*dequeNode[E], bool, error) {
	if ref.IsNil() {
		return nil, false, nil
	}
	n, err := d.node(ref)
	if objstore.IsObjectNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return n, n.Epoch == h.Epoch, nil
}

// end returns the head (first) or the tail node
func (d *Deque[E]) end(h *dequeHeader, first bool) (objstore.Ref, *dequeNode[E], error) {
	ref := h.Tail
	if first {
		ref = h.Head
	}
	if ref.IsNil() {
		return ref, nil, nil
	}
	n, err := d.node(ref)
	return ref, n, err
}

func (d *Deque[E]) add(e E, first bool) error {
	if isNil(any(e)) {
		return invalidArgument("deque elements must not be nil")
	}
	h, err := d.header()
	if err != nil {
		return err
	}
	sv, err := toStored(d.tx, e)
	if err != nil {
		return staleValue(err)
	}

	n := &dequeNode[E]{Epoch: h.Epoch, Value: sv}
	if first {
		n.Seq, n.Next = h.NextHead, h.Head
		h.NextHead--
	} else {
		n.Seq, n.Prev = h.NextTail, h.Tail
		h.NextTail++
	}
	ref, err := d.tx.CreateReference(n)
	if err != nil {
		return err
	}

	neighbor := n.Next
	if !first {
		neighbor = n.Prev
	}
	if neighbor.IsNil() {
		h.Head, h.Tail = ref, ref
	} else {
		nb, err := objstore.DerefForUpdate[*dequeNode[E]](d.tx, neighbor)
		if err != nil {
			return err
		}
		if first {
			nb.Prev, h.Head = ref, ref
		} else {
			nb.Next, h.Tail = ref, ref
		}
	}
	h.Size++
	return d.tx.MarkForUpdate(h)
}

// unlink removes the node from the chain and the store
func (d *Deque[E]) unlink(h *dequeHeader, ref objstore.Ref, n *dequeNode[E]) error {
	if n.Prev.IsNil() {
		h.Head = n.Next
	} else {
		prev, err := objstore.DerefForUpdate[*dequeNode[E]](d.tx, n.Prev)
		if err != nil {
			return err
		}
		prev.Next = n.Next
	}
	if n.Next.IsNil() {
		h.Tail = n.Prev
	} else {
		next, err := objstore.DerefForUpdate[*dequeNode[E]](d.tx, n.Next)
		if err != nil {
			return err
		}
		next.Prev = n.Prev
	}
	h.Size--
	if err := d.tx.MarkForUpdate(h); err != nil {
		return err
	}
	return d.tx.RemoveObject(n)
}

// peek returns the first or last element
func (d *Deque[E]) peek(first bool) (E, bool, error) {
	var zero E
	h, err := d.header()
	if err != nil {
		return zero, false, err
	}
	_, n, err := d.end(h, first)
	if err != nil || n == nil {
		return zero, false, err
	}
	v, err := n.Value.resolve(d.tx)
	if err != nil {
		return zero, false, staleValue(err)
	}
	return v, true, nil
}

// poll removes and returns the first or last element. A stale element stays.
func (d *Deque[E]) poll(first bool) (E, bool, error) {
	var zero E
	h, err := d.header()
	if err != nil {
		return zero, false, err
	}
	ref, n, err := d.end(h, first)
	if err != nil || n == nil {
		return zero, false, err
	}
	v, err := n.Value.resolve(d.tx)
	if err != nil {
		return zero, false, staleValue(err)
	}
	return v, true, d.unlink(h, ref, n)
}

func orNoSuchElement[E any](v E, ok bool, err error) (E, error) {
	if err == nil && !ok {
		err = ErrNoSuchElement
	}
	return v, err
}

// removeOccurrences removes up to limit elements equal to e (limit < 0 = all),
// walking from the head or from the tail
func (d *Deque[E]) removeOccurrences(e E, fromHead bool, limit int) (int, error) {
	if isNil(any(e)) {
		return 0, nil
	}
	h, err := d.header()
	if err != nil {
		return 0, err
	}
	removed := 0
	ref, n, err := d.end(h, fromHead)
	for err == nil && n != nil && removed != limit {
		following := n.Prev
		if fromHead {
			following = n.Next
		}
		var v E
		if v, err = n.Value.resolve(d.tx); err != nil {
			return removed, staleValue(err)
		}
		if equal(e, v) {
			if err = d.unlink(h, ref, n); err != nil {
				return removed, err
			}
			removed++
		}
		ref, n = following, nil
		if !ref.IsNil() {
			n, err = d.node(ref)
		}
	}
	return removed, err
}

// --------------------------------------------------------------------------
// Deque Operations
// --------------------------------------------------------------------------

// Ref returns the reference of the deque
func (d *Deque[E]) Ref() objstore.Ref { return d.ref }

// Bind binds the deque to name, see LookupDeque
func (d *Deque[E]) Bind(name string) error {
	h, err := d.header()
	if err != nil {
		return err
	}
	return d.tx.SetBinding(name, h)
}

// AddFirst inserts e at the head
func (d *Deque[E]) AddFirst(e E) error { return d.add(e, true) }

// AddLast inserts e at the tail
func (d *Deque[E]) AddLast(e E) error { return d.add(e, false) }

// OfferFirst inserts e at the head, the deque is unbounded so it reports true on success
func (d *Deque[E]) OfferFirst(e E) (bool, error) {
	err := d.add(e, true)
	return err == nil, err
}

// OfferLast inserts e at the tail
func (d *Deque[E]) OfferLast(e E) (bool, error) {
	err := d.add(e, false)
	return err == nil, err
}

// Offer is OfferLast
func (d *Deque[E]) Offer(e E) (bool, error) { return d.OfferLast(e) }

// Add is AddLast
func (d *Deque[E]) Add(e E) error { return d.AddLast(e) }

// Push is AddFirst
func (d *Deque[E]) Push(e E) error { return d.AddFirst(e) }

// PeekFirst returns the head element, ok is false if the deque is empty
func (d *Deque[E]) PeekFirst() (E, bool, error) { return d.peek(true) }

// PeekLast returns the tail element, ok is false if the deque is empty
func (d *Deque[E]) PeekLast() (E, bool, error) { return d.peek(false) }

// Peek is PeekFirst
func (d *Deque[E]) Peek() (E, bool, error) { return d.peek(true) }

// GetFirst returns the head element or ErrNoSuchElement
func (d *Deque[E]) GetFirst() (E, error) { return orNoSuchElement[E](d.peek(true)) }

// GetLast returns the tail element or ErrNoSuchElement
func (d *Deque[E]) GetLast() (E, error) { return orNoSuchElement[E](d.peek(false)) }

// Element is GetFirst
func (d *Deque[E]) Element() (E, error) { return d.GetFirst() }

// PollFirst removes and returns the head element, ok is false if the deque is empty
func (d *Deque[E]) PollFirst() (E, bool, error) { return d.poll(true) }

// PollLast removes and returns the tail element, ok is false if the deque is empty
func (d *Deque[E]) PollLast() (E, bool, error) { return d.poll(false) }

// Poll is PollFirst
func (d *Deque[E]) Poll() (E, bool, error) { return d.poll(true) }

// RemoveFirst removes and returns the head element or fails with ErrNoSuchElement
func (d *Deque[E]) RemoveFirst() (E, error) { return orNoSuchElement[E](d.poll(true)) }

// RemoveLast removes and returns the tail element or fails with ErrNoSuchElement
func (d *Deque[E]) RemoveLast() (E, error) { return orNoSuchElement[E](d.poll(false)) }

// Pop is RemoveFirst
func (d *Deque[E]) Pop() (E, error) { return d.RemoveFirst() }

// RemoveFirstOccurrence removes the first element equal to e
func (d *Deque[E]) RemoveFirstOccurrence(e E) (bool, error) {
	n, err := d.removeOccurrences(e, true, 1)
	return n > 0, err
}

// RemoveLastOccurrence removes the last element equal to e
func (d *Deque[E]) RemoveLastOccurrence(e E) (bool, error) {
	n, err := d.removeOccurrences(e, false, 1)
	return n > 0, err
}

// RemoveAllOccurrences removes all elements equal to e and returns their number
func (d *Deque[E]) RemoveAllOccurrences(e E) (int, error) {
	return d.removeOccurrences(e, true, -1)
}

// Contains reports whether an element equal to e is present
func (d *Deque[E]) Contains(e E) (bool, error) {
	if isNil(any(e)) {
		return false, nil
	}
	found := false
	err := d.Range(func(v E) bool {
		found = equal(e, v)
		return !found
	})
	return found, err
}

// Range calls fn for every element from head to tail until fn returns false
func (d *Deque[E]) Range(fn func(e E) bool) error {
	h, err := d.header()
	if err != nil {
		return err
	}
	for ref := h.Head; !ref.IsNil(); {
		n, err := d.node(ref)
		if err != nil {
			return err
		}
		v, err := n.Value.resolve(d.tx)
		if err != nil {
			return staleValue(err)
		}
		if !fn(v) {
			return nil
		}
		ref = n.Next
	}
	return nil
}

// Size returns the number of elements
func (d *Deque[E]) Size() (int, error) {
	h, err := d.header()
	if err != nil {
		return 0, err
	}
	return int(h.Size), nil
}

// IsEmpty reports whether the deque has no elements
func (d *Deque[E]) IsEmpty() (bool, error) {
	n, err := d.Size()
	return n == 0, err
}

// Clear removes all elements. The nodes are released by background tasks.
func (d *Deque[E]) Clear() error {
	h, err := d.header()
	if err != nil {
		return err
	}
	return d.detach(h)
}

func (d *Deque[E]) detach(h *dequeHeader) error {
	head := h.Head
	h.Head, h.Tail, h.Size = objstore.Ref{}, objstore.Ref{}, 0
	h.Epoch++
	if err := d.tx.MarkForUpdate(h); err != nil {
		return err
	}
	if head.IsNil() {
		return nil
	}
	return d.tx.ScheduleTask(&dequeClearTask{Next: head, Batch: h.ClearBatch})
}

// Delete removes the deque from the store, the nodes are released in the background
func (d *Deque[E]) Delete() error {
	h, err := d.header()
	if err != nil {
		return err
	}
	if err := d.detach(h); err != nil {
		return err
	}
	return d.tx.RemoveObject(h)
}
