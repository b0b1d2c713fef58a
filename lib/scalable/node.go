package scalable

import (
	"reflect"
	"slices"
	"sort"

	"github.com/ValentinKolb/dColl/lib/objstore"
	"github.com/ValentinKolb/dColl/lib/util"
)

// --------------------------------------------------------------------------
// Stored objects of the hash map
// --------------------------------------------------------------------------

// mapHeader is the root object of a HashMap. Its reference is the identity of the map.
type mapHeader struct {
	Dir            objstore.Ref // current directory
	KeyType        string
	ValueType      string
	MinDepth       uint32
	SplitThreshold uint32
	MergeThreshold uint32
	GrowBits       uint32
	LeafCapacity   uint32
	NoMerge        bool
	HashFunc       util.HashFunc
	HashSeed       [2]uint64
	ClearBatch     uint32
	Clears         uint64 // number of clears, each one detached a directory
}

func (*mapHeader) ManagedObject() {}

// directory maps the top Depth bits of a key hash to a leaf. A leaf of depth d is
// referenced by the 2^(Depth-d) contiguous slots sharing its prefix.
type directory struct {
	Depth uint32
	Slots []objstore.Ref
}

func (*directory) ManagedObject() {}

func newDirectory(depth uint32) *directory {
	return &directory{Depth: depth, Slots: make([]objstore.Ref, 1<<depth)}
}

// index returns the slot of hash
func (d *directory) index(hash uint64) uint64 {
	if d.Depth == 0 {
		return 0
	}
	return hash >> (64 - d.Depth)
}

// first returns the first slot of the region a leaf with depth and prefix owns
func (d *directory) first(depth uint32, prefix uint64) uint64 {
	return prefix << (d.Depth - depth)
}

// span returns the number of slots a leaf of depth occupies
func (d *directory) span(depth uint32) uint64 {
	return 1 << (d.Depth - depth)
}

// point sets all slots of the region of a leaf to ref
func (d *directory) point(depth uint32, prefix uint64, ref objstore.Ref) {
	start := d.first(depth, prefix)
	for i := start; i < start+d.span(depth); i++ {
		d.Slots[i] = ref
	}
}

// grow adds bits to the directory depth (capped at maxDirectoryDepth). Every slot
// is repeated 2^bits times, so existing leaves keep their regions.
func (d *directory) grow(bits uint32) bool {
	depth := min(d.Depth+bits, maxDirectoryDepth)
	if depth <= d.Depth {
		return false
	}
	factor := 1 << (depth - d.Depth)
	slots := make([]objstore.Ref, 0, len(d.Slots)*factor)
	for _, ref := range d.Slots {
		for j := 0; j < factor; j++ {
			slots = append(slots, ref)
		}
	}
	d.Depth, d.Slots = depth, slots
	return true
}

// entry is one key/value association
type entry[K, V any] struct {
	Hash  uint64
	Key   stored[K]
	Value stored[V]
}

// leafNode holds the entries whose hash starts with Prefix (Depth bits), sorted by hash.
// Entries with equal hashes are adjacent.
type leafNode[K, V any] struct {
	Depth   uint32
	Prefix  uint64
	Entries []entry[K, V]
}

func (*leafNode[K, V]) ManagedObject() {}

// leafDepth lets the clear task walk a directory without knowing the entry types
func (l *leafNode[K, V]) leafDepth() uint32 { return l.Depth }

// leafShape is implemented by every leaf instantiation
type leafShape interface {
	objstore.ManagedObject
	leafDepth() uint32
}

func newLeaf[K, V any](depth uint32, prefix uint64, capacity int) *leafNode[K, V] {
	return &leafNode[K, V]{Depth: depth, Prefix: prefix, Entries: make([]entry[K, V], 0, capacity)}
}

// search returns the index of the first entry with a hash >= hash
func (l *leafNode[K, V]) search(hash uint64) int {
	return sort.Search(len(l.Entries), func(i int) bool { return l.Entries[i].Hash >= hash })
}

func (l *leafNode[K, V]) insert(i int, e entry[K, V]) {
	l.Entries = slices.Insert(l.Entries, i, e)
}

func (l *leafNode[K, V]) removeAt(i int) {
	l.Entries = slices.Delete(l.Entries, i, i+1)
}

// separable reports whether a split can divide the entries at all
func (l *leafNode[K, V]) separable() bool {
	n := len(l.Entries)
	return n > 1 && l.Entries[0].Hash != l.Entries[n-1].Hash
}

// split moves the entries whose next hash bit is set into a new sibling leaf.
// Both leaves end up one level deeper.
func (l *leafNode[K, V]) split(capacity int) *leafNode[K, V] {
	bit := 63 - l.Depth
	cut := sort.Search(len(l.Entries), func(i int) bool { return l.Entries[i].Hash>>bit&1 == 1 })

	upper := newLeaf[K, V](l.Depth+1, l.Prefix<<1|1, max(capacity, len(l.Entries)-cut))
	upper.Entries = append(upper.Entries, l.Entries[cut:]...)

	clear(l.Entries[cut:])
	l.Entries = l.Entries[:cut]
	l.Depth++
	l.Prefix <<= 1
	return upper
}

// absorb merges the buddy leaf into l, l moves one level up
func (l *leafNode[K, V]) absorb(buddy *leafNode[K, V]) {
	if l.Prefix&1 == 0 {
		l.Entries = append(l.Entries, buddy.Entries...)
	} else {
		l.Entries = append(slices.Clone(buddy.Entries), l.Entries...)
	}
	l.Depth--
	l.Prefix >>= 1
}

// --------------------------------------------------------------------------
// Type registration
// --------------------------------------------------------------------------

func init() {
	objstore.Register(&mapHeader{})
	objstore.Register(&directory{})
	objstore.Register(&dequeHeader{})
	objstore.Register(&clearTask{})
	objstore.Register(&dequeClearTask{})
}

// RegisterHashMap registers the stored types of HashMap[K, V] with the store codec.
// Constructors and openers call it, but a process that loads a store snapshot must
// call it for every instantiation in use before loading.
func RegisterHashMap[K, V any]() {
	objstore.Register(&leafNode[K, V]{})
}

// RegisterHashSet registers the stored types of HashSet[T]
func RegisterHashSet[T any]() {
	RegisterHashMap[T, bool]()
}

// RegisterDeque registers the stored types of Deque[E]
func RegisterDeque[E any]() {
	objstore.Register(&dequeNode[E]{})
}

// typeName names a type parameter for the type checks of the openers
func typeName[T any]() string {
	return reflect.TypeFor[T]().String()
}
