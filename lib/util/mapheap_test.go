package util

import (
	"sort"
	"testing"
)

// TestNewMapHeap tests the creation of a new MapHeap
func TestNewMapHeap(t *testing.T) {
	mh := NewMapHeap[string]()

	if mh == nil {
		t.Fatal("NewMapHeap() returned nil")
	}
	if mh.Len() != 0 {
		t.Errorf("New heap should be empty, but has length %d", mh.Len())
	}
	if len(mh.itemsMap) != 0 {
		t.Errorf("New heap's map should be empty, but has %d items", len(mh.itemsMap))
	}
}

// TestAddItem tests adding items and the min ordering
func TestAddItem(t *testing.T) {
	mh := NewMapHeap[string]()

	mh.AddItem(1, 100, "a")
	mh.AddItem(2, 200, "b")
	mh.AddItem(3, 50, "c")

	if mh.Len() != 3 {
		t.Errorf("Heap should have 3 items, but has %d", mh.Len())
	}
	for _, k := range []uint64{1, 2, 3} {
		if !mh.Contains(k) {
			t.Errorf("Heap should contain key %d", k)
		}
	}

	key, prio, ok := mh.Peek()
	if !ok {
		t.Fatal("Peek() should return an item")
	}
	if key != 3 || prio != 50 {
		t.Errorf("Expected min item to be (3,50), got (%d,%d)", key, prio)
	}
}

// TestUpdateItem tests that re-adding a key updates priority and value
func TestUpdateItem(t *testing.T) {
	mh := NewMapHeap[string]()
	mh.AddItem(1, 100, "a")
	mh.AddItem(2, 200, "b")

	mh.AddItem(2, 10, "b2")

	if mh.Len() != 2 {
		t.Errorf("Update should not add items, heap has %d", mh.Len())
	}
	key, _, value, ok := mh.PopMin()
	if !ok || key != 2 || value != "b2" {
		t.Errorf("Expected (2,b2) after update, got (%d,%s,%v)", key, value, ok)
	}
}

// TestRemoveByKey tests removing items by key
func TestRemoveByKey(t *testing.T) {
	mh := NewMapHeap[int]()
	mh.AddItem(1, 100, 10)
	mh.AddItem(2, 200, 20)
	mh.AddItem(3, 50, 30)

	value, ok := mh.RemoveByKey(3)
	if !ok || value != 30 {
		t.Errorf("RemoveByKey(3) = (%d,%v), want (30,true)", value, ok)
	}
	if mh.Contains(3) {
		t.Error("Heap should not contain key 3 after removal")
	}
	if _, ok := mh.RemoveByKey(42); ok {
		t.Error("RemoveByKey of a missing key should fail")
	}
	key, _, ok := mh.Peek()
	if !ok || key != 1 {
		t.Errorf("Expected key 1 to be the new min, got %d", key)
	}
}

// TestPopOrder tests that PopMin yields items in priority order with ties broken by key
func TestPopOrder(t *testing.T) {
	mh := NewMapHeap[struct{}]()
	prios := map[uint64]uint64{1: 5, 2: 3, 3: 5, 4: 1, 5: 9, 6: 3}
	for k, p := range prios {
		mh.AddItem(k, p, struct{}{})
	}

	type kp struct{ k, p uint64 }
	var want []kp
	for k, p := range prios {
		want = append(want, kp{k, p})
	}
	sort.Slice(want, func(i, j int) bool {
		if want[i].p != want[j].p {
			return want[i].p < want[j].p
		}
		return want[i].k < want[j].k
	})

	for i, w := range want {
		k, p, _, ok := mh.PopMin()
		if !ok {
			t.Fatalf("PopMin #%d returned nothing", i)
		}
		if k != w.k || p != w.p {
			t.Errorf("PopMin #%d = (%d,%d), want (%d,%d)", i, k, p, w.k, w.p)
		}
	}
	if _, _, _, ok := mh.PopMin(); ok {
		t.Error("PopMin on an empty heap should fail")
	}
	if len(mh.itemsMap) != 0 {
		t.Errorf("Map should be empty after popping everything, has %d", len(mh.itemsMap))
	}
}

// TestGetByKey tests key based access
func TestGetByKey(t *testing.T) {
	mh := NewMapHeap[string]()
	mh.AddItem(7, 1, "seven")

	if v, ok := mh.GetByKey(7); !ok || v != "seven" {
		t.Errorf("GetByKey(7) = (%s,%v)", v, ok)
	}
	if _, ok := mh.GetByKey(8); ok {
		t.Error("GetByKey(8) should fail")
	}

	n := 0
	mh.Each(func(key, priority uint64, value string) { n++ })
	if n != 1 {
		t.Errorf("Each visited %d items, want 1", n)
	}
}
