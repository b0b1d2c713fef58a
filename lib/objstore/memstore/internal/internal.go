package internal

import (
	"fmt"

	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Record Type (committed object with metadata)
// --------------------------------------------------------------------------

// Record is the committed state of one managed object
type Record struct {
	Data     []byte // Encoded object
	Version  uint64 // Commit index of the last write
	TypeName string // Go type of the object, for statistics
}

func (r Record) String() string {
	return fmt.Sprintf("Record{Type: %s, Version: %d, Size: %d}", r.TypeName, r.Version, len(r.Data))
}

// Binding is the committed state of one name binding
type Binding struct {
	ID      uint64 // Bound object
	Version uint64 // Commit index of the last write
}

// --------------------------------------------------------------------------
// Shard Type (partition of the committed records)
// --------------------------------------------------------------------------

// Shard is a partition of the record table
type Shard struct {
	Data *xsync.MapOf[uint64, Record]
}

// NewShard creates a new shard with the provided hash function
func NewShard(hasher func(uint64, uint64) uint64) *Shard {
	return &Shard{
		Data: xsync.NewMapOfWithHasher[uint64, Record](hasher),
	}
}

// IdentityHasher combines an object id with the map seed. Object ids are dense
// counters, so they need no further mixing.
func IdentityHasher(id uint64, seed uint64) uint64 {
	return id ^ seed
}

// GetShard returns the shard responsible for an object id
//
// Thread-safety: This function is thread-safe and can be called concurrently.
func GetShard[T any](id uint64, shards []*T) *T {
	return shards[id%uint64(len(shards))]
}

// --------------------------------------------------------------------------
// Table Type (all committed records)
// --------------------------------------------------------------------------

// Table holds all committed records, sharded by object id
//
// Thread-safety: All methods are safe for concurrent use. Consistency between
// records is the responsibility of the caller (the commit lock of the store).
type Table struct {
	shards []*Shard
}

// NewTable creates an empty table with n shards (at least one)
func NewTable(n int) *Table {
	if n < 1 {
		n = 1
	}
	shards := make([]*Shard, n)
	for i := range shards {
		shards[i] = NewShard(IdentityHasher)
	}
	return &Table{shards: shards}
}

// Load returns the record of an object
func (t *Table) Load(id uint64) (Record, bool) {
	return GetShard(id, t.shards).Data.Load(id)
}

// Store writes the record of an object
func (t *Table) Store(id uint64, rec Record) {
	GetShard(id, t.shards).Data.Store(id, rec)
}

// Delete removes the record of an object and returns it
func (t *Table) Delete(id uint64) (Record, bool) {
	return GetShard(id, t.shards).Data.LoadAndDelete(id)
}

// Range calls fn for every record until fn returns false
func (t *Table) Range(fn func(id uint64, rec Record) bool) {
	for _, shard := range t.shards {
		stop := false
		shard.Data.Range(func(id uint64, rec Record) bool {
			if !fn(id, rec) {
				stop = true
				return false
			}
			return true
		})
		if stop {
			return
		}
	}
}

// Len returns the number of records
func (t *Table) Len() int {
	n := 0
	for _, shard := range t.shards {
		n += shard.Data.Size()
	}
	return n
}

// ShardSizes returns the number of records per shard
func (t *Table) ShardSizes() []float64 {
	sizes := make([]float64, len(t.shards))
	for i, shard := range t.shards {
		sizes[i] = float64(shard.Data.Size())
	}
	return sizes
}

// Clear removes all records
func (t *Table) Clear() {
	for _, shard := range t.shards {
		shard.Data.Clear()
	}
}
