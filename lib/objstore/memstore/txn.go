package memstore

import (
	"bytes"
	"context"
	"reflect"
	"time"

	"github.com/ValentinKolb/dColl/lib/objstore"
	"github.com/ValentinKolb/dColl/lib/objstore/memstore/internal"
)

// txnObject is the working copy of one object inside a transaction
type txnObject struct {
	id          uint64
	obj         objstore.ManagedObject
	orig        []byte // committed bytes the working copy was decoded from
	readVersion uint64 // committed version the working copy was decoded from
	created     bool
	removed     bool
	forUpdate   bool
}

// txn implements objstore.Txn
//
// Thread-safety: Not safe for concurrent use, a transaction belongs to one goroutine
type txn struct {
	store *Store
	ctx   context.Context
	start uint64 // commit index the transaction started at
	done  bool

	objects  map[uint64]*txnObject
	identity map[objstore.ManagedObject]*txnObject

	bindingReads  map[string]uint64 // name -> committed binding version seen (0 = never written)
	bindingWrites map[string]uint64 // name -> object id (0 = removed)

	tasks [][]byte
}

func newTxn(s *Store, ctx context.Context, start uint64) *txn {
	return &txn{
		store:         s,
		ctx:           ctx,
		start:         start,
		objects:       make(map[uint64]*txnObject),
		identity:      make(map[objstore.ManagedObject]*txnObject),
		bindingReads:  make(map[string]uint64),
		bindingWrites: make(map[string]uint64),
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func (tx *txn) checkOpen() error {
	if tx.done {
		return objstore.NewError(objstore.RetCTxnDone, "transaction is already done")
	}
	if tx.store.closed.Load() {
		return objstore.NewError(objstore.RetCTxnDone, "store is closed")
	}
	return nil
}

func notFound(id uint64) error {
	return objstore.NewError(objstore.RetCObjectNotFound, "object %d not found", id)
}

func conflict(format string, args ...any) error {
	return objstore.NewError(objstore.RetCConflict, format, args...)
}

// checkIdentity rejects objects that cannot serve as identity map keys
func checkIdentity(obj objstore.ManagedObject) error {
	if obj == nil {
		return objstore.NewError(objstore.RetCNotStorable, "managed object is nil")
	}
	if rv := reflect.ValueOf(obj); rv.Kind() != reflect.Pointer || rv.IsNil() {
		return objstore.NewError(objstore.RetCNotStorable, "managed object %T must be a non-nil pointer", obj)
	}
	return nil
}

// managed returns the working copy of an object obtained from this transaction
func (tx *txn) managed(obj objstore.ManagedObject) (*txnObject, error) {
	if err := checkIdentity(obj); err != nil {
		return nil, err
	}
	o, ok := tx.identity[obj]
	if !ok {
		return nil, objstore.NewError(objstore.RetCObjectNotFound, "%T is not managed by this transaction", obj)
	}
	if o.removed {
		return nil, notFound(o.id)
	}
	return o, nil
}

// load returns the working copy of id, decoding the committed record on first access
func (tx *txn) load(id uint64) (*txnObject, error) {
	if o, ok := tx.objects[id]; ok {
		if o.removed {
			return nil, notFound(id)
		}
		return o, nil
	}

	rec, ok := tx.store.table.Load(id)
	if !ok {
		if removedAt, gone := tx.store.tombstones.Load(id); gone && removedAt > tx.start {
			return nil, conflict("object %d was removed after the transaction started", id)
		}
		return nil, notFound(id)
	}
	if rec.Version > tx.start {
		return nil, conflict("object %d was written after the transaction started", id)
	}

	v, err := tx.store.opts.Codec.Decode(rec.Data)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(objstore.ManagedObject)
	if !ok {
		return nil, objstore.NewError(objstore.RetCTypeMismatch, "object %d holds %T, not a managed object", id, v)
	}

	o := &txnObject{id: id, obj: obj, orig: rec.Data, readVersion: rec.Version}
	tx.objects[id] = o
	tx.identity[obj] = o
	return o, nil
}

// committedBinding reads a committed binding with snapshot checks
func (tx *txn) committedBinding(name string) (uint64, error) {
	b, ok := tx.store.bindings.Load(name)
	if !ok {
		tx.bindingReads[name] = 0
		return 0, nil
	}
	if b.Version > tx.start {
		return 0, conflict("binding %q was written after the transaction started", name)
	}
	tx.bindingReads[name] = b.Version
	return b.ID, nil
}

// boundID resolves a binding, preferring writes of this transaction
func (tx *txn) boundID(name string) (uint64, error) {
	if id, ok := tx.bindingWrites[name]; ok {
		return id, nil
	}
	return tx.committedBinding(name)
}

// --------------------------------------------------------------------------
// Interface Methods (docu see objstore.Txn)
// --------------------------------------------------------------------------

func (tx *txn) Context() context.Context {
	return tx.ctx
}

func (tx *txn) CreateReference(obj objstore.ManagedObject) (objstore.Ref, error) {
	if err := tx.checkOpen(); err != nil {
		return objstore.Ref{}, err
	}
	if err := checkIdentity(obj); err != nil {
		return objstore.Ref{}, err
	}
	if o, ok := tx.identity[obj]; ok {
		if o.removed {
			return objstore.Ref{}, notFound(o.id)
		}
		return objstore.Ref{ID: objstore.ObjectID(o.id)}, nil
	}
	if err := objstore.CheckManaged(obj); err != nil {
		return objstore.Ref{}, err
	}

	id := tx.store.nextID.Add(1)
	o := &txnObject{id: id, obj: obj, created: true}
	tx.objects[id] = o
	tx.identity[obj] = o
	return objstore.Ref{ID: objstore.ObjectID(id)}, nil
}

func (tx *txn) Get(ref objstore.Ref) (objstore.ManagedObject, error) {
	if err := tx.checkOpen(); err != nil {
		return nil, err
	}
	if ref.IsNil() {
		return nil, objstore.NewError(objstore.RetCObjectNotFound, "nil reference")
	}
	o, err := tx.load(uint64(ref.ID))
	if err != nil {
		return nil, err
	}
	return o.obj, nil
}

func (tx *txn) GetForUpdate(ref objstore.Ref) (objstore.ManagedObject, error) {
	if err := tx.checkOpen(); err != nil {
		return nil, err
	}
	if ref.IsNil() {
		return nil, objstore.NewError(objstore.RetCObjectNotFound, "nil reference")
	}
	o, err := tx.load(uint64(ref.ID))
	if err != nil {
		return nil, err
	}
	o.forUpdate = true
	return o.obj, nil
}

func (tx *txn) MarkForUpdate(obj objstore.ManagedObject) error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	o, err := tx.managed(obj)
	if err != nil {
		return err
	}
	o.forUpdate = true
	return nil
}

func (tx *txn) RemoveObject(obj objstore.ManagedObject) error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	o, err := tx.managed(obj)
	if err != nil {
		return err
	}
	o.removed = true
	return nil
}

func (tx *txn) SetBinding(name string, obj objstore.ManagedObject) error {
	ref, err := tx.CreateReference(obj)
	if err != nil {
		return err
	}
	tx.bindingWrites[name] = uint64(ref.ID)
	return nil
}

func (tx *txn) GetBinding(name string) (objstore.ManagedObject, error) {
	if err := tx.checkOpen(); err != nil {
		return nil, err
	}
	id, err := tx.boundID(name)
	if err != nil {
		return nil, err
	}
	if id == 0 {
		return nil, objstore.NewError(objstore.RetCNameNotBound, "name %q is not bound", name)
	}
	return tx.Get(objstore.Ref{ID: objstore.ObjectID(id)})
}

func (tx *txn) RemoveBinding(name string) error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	id, err := tx.boundID(name)
	if err != nil {
		return err
	}
	if id == 0 {
		return objstore.NewError(objstore.RetCNameNotBound, "name %q is not bound", name)
	}
	tx.bindingWrites[name] = 0
	return nil
}

func (tx *txn) ScheduleTask(task objstore.Task) error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	if task == nil {
		return objstore.NewError(objstore.RetCNotStorable, "task is nil")
	}
	if err := objstore.CheckStorable(task); err != nil {
		return err
	}
	data, err := tx.store.opts.Codec.Encode(task)
	if err != nil {
		return err
	}
	tx.tasks = append(tx.tasks, data)
	return nil
}

// --------------------------------------------------------------------------
// Commit
// --------------------------------------------------------------------------

// write is one record change of a commit
type write struct {
	id       uint64
	data     []byte // nil = delete
	typeName string
}

// commit validates and applies the transaction
func (tx *txn) commit() error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	s := tx.store
	begin := time.Now()

	// encode outside the commit lock
	var writes []write
	for id, o := range tx.objects {
		switch {
		case o.removed && o.created:
			continue
		case o.removed:
			writes = append(writes, write{id: id})
		default:
			data, err := s.opts.Codec.Encode(o.obj)
			if err != nil {
				return err
			}
			if o.created || !bytes.Equal(data, o.orig) {
				writes = append(writes, write{id: id, data: data, typeName: objstore.TypeName(o.obj)})
			}
		}
	}

	if len(writes) == 0 && len(tx.bindingWrites) == 0 && len(tx.tasks) == 0 {
		// read-only: all reads were consistent with the start snapshot
		return nil
	}

	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	// validate the read set
	for id, o := range tx.objects {
		if o.created {
			continue
		}
		rec, ok := s.table.Load(id)
		if !ok || rec.Version != o.readVersion {
			return conflict("object %d changed since it was read", id)
		}
	}
	for name, version := range tx.bindingReads {
		var current uint64
		if b, ok := s.bindings.Load(name); ok {
			current = b.Version
		}
		if current != version {
			return conflict("binding %q changed since it was read", name)
		}
	}

	// apply
	idx := s.commitIdx.Load() + 1
	for _, w := range writes {
		if w.data == nil {
			s.tombstones.Store(w.id, idx)
			if old, ok := s.table.Delete(w.id); ok {
				s.sizes.RemoveSample(len(old.Data))
			}
			continue
		}
		if old, ok := s.table.Load(w.id); ok {
			s.sizes.RemoveSample(len(old.Data))
		}
		s.table.Store(w.id, internal.Record{Data: w.data, Version: idx, TypeName: w.typeName})
		s.sizes.AddSample(len(w.data))
	}
	for name, id := range tx.bindingWrites {
		s.bindings.Store(name, internal.Binding{ID: id, Version: idx})
	}
	s.commitIdx.Store(idx)

	s.enqueueTasks(idx, tx.tasks)
	s.pruneTombstones()
	s.commitTime.UpdateDuration(begin)
	return nil
}
