package util

import (
	"container/heap"
)

// item is a single entry of a MapHeap
type item[V any] struct {
	Key      uint64
	Priority uint64
	Value    V
	index    int // maintained by container/heap
}

// MapHeap is a min priority queue with key based access: O(log n) push, pop and
// remove, O(1) lookup by key. The memstore uses it as its deferred task queue, keyed
// by task sequence number and ordered by the earliest time a task may run.
//
// Thread-safety: Not safe for concurrent use, callers synchronize externally
type MapHeap[V any] struct {
	items    []*item[V]
	itemsMap map[uint64]*item[V]
}

// NewMapHeap creates an empty queue
func NewMapHeap[V any]() *MapHeap[V] {
	return &MapHeap[V]{
		items:    make([]*item[V], 0),
		itemsMap: make(map[uint64]*item[V]),
	}
}

// Len is part of heap.Interface
func (mh *MapHeap[V]) Len() int { return len(mh.items) }

// Less is part of heap.Interface; ties are broken by key so equal priorities pop in key order
func (mh *MapHeap[V]) Less(i, j int) bool {
	a, b := mh.items[i], mh.items[j]
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.Key < b.Key
}

// Swap is part of heap.Interface
func (mh *MapHeap[V]) Swap(i, j int) {
	mh.items[i], mh.items[j] = mh.items[j], mh.items[i]
	mh.items[i].index = i
	mh.items[j].index = j
}

// Push is part of heap.Interface, use AddItem instead
func (mh *MapHeap[V]) Push(x any) {
	it := x.(*item[V])
	it.index = len(mh.items)
	mh.items = append(mh.items, it)
	mh.itemsMap[it.Key] = it
}

// Pop is part of heap.Interface, use PopMin instead
func (mh *MapHeap[V]) Pop() any {
	old := mh.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	mh.items = old[:n-1]
	delete(mh.itemsMap, it.Key)
	return it
}

// AddItem adds a new item or updates priority and value of an existing one
func (mh *MapHeap[V]) AddItem(key, priority uint64, value V) {
	if it, exists := mh.itemsMap[key]; exists {
		it.Priority = priority
		it.Value = value
		heap.Fix(mh, it.index)
		return
	}
	heap.Push(mh, &item[V]{Key: key, Priority: priority, Value: value})
}

// PopMin removes and returns the item with the lowest priority
func (mh *MapHeap[V]) PopMin() (key, priority uint64, value V, ok bool) {
	if len(mh.items) == 0 {
		return 0, 0, value, false
	}
	it := heap.Pop(mh).(*item[V])
	return it.Key, it.Priority, it.Value, true
}

// Peek returns key and priority of the lowest priority item without removing it
func (mh *MapHeap[V]) Peek() (key, priority uint64, ok bool) {
	if len(mh.items) == 0 {
		return 0, 0, false
	}
	return mh.items[0].Key, mh.items[0].Priority, true
}

// RemoveByKey removes an item by its key
func (mh *MapHeap[V]) RemoveByKey(key uint64) (V, bool) {
	it, exists := mh.itemsMap[key]
	if !exists {
		var zero V
		return zero, false
	}
	heap.Remove(mh, it.index)
	return it.Value, true
}

// GetByKey returns the value stored under key without removing it
func (mh *MapHeap[V]) GetByKey(key uint64) (V, bool) {
	it, exists := mh.itemsMap[key]
	if !exists {
		var zero V
		return zero, false
	}
	return it.Value, true
}

// Contains checks if a key exists in the queue
func (mh *MapHeap[V]) Contains(key uint64) bool {
	_, exists := mh.itemsMap[key]
	return exists
}

// Each calls fn for every item in unspecified order
func (mh *MapHeap[V]) Each(fn func(key, priority uint64, value V)) {
	for _, it := range mh.items {
		fn(it.Key, it.Priority, it.Value)
	}
}
