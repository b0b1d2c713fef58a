package scalable

import (
	"context"
	"strings"
	"testing"

	"github.com/ValentinKolb/dColl/lib/objstore"
	"github.com/ValentinKolb/dColl/lib/objstore/memstore"
	"github.com/cespare/xxhash/v2"
	"github.com/stretchr/testify/require"
)

// player is a managed key type
type player struct {
	Name  string
	Score int
}

func (*player) ManagedObject() {}

func (p *player) Hash64() uint64 { return xxhash.Sum64String(p.Name) }

func (p *player) Equals(other any) bool {
	o, ok := other.(*player)
	return ok && o != nil && o.Name == p.Name
}

// token is a managed value type
type token struct {
	Label string
}

func (*token) ManagedObject() {}

func init() {
	objstore.Register(&player{})
	objstore.Register(&token{})
}

func newStore(t *testing.T) *memstore.Store {
	s := memstore.New(&memstore.Options{MaxRetries: 0})
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func transact(t *testing.T, s objstore.Store, fn func(tx objstore.Txn) error) {
	t.Helper()
	require.NoError(t, s.Transact(context.Background(), fn))
}

func drain(t *testing.T, s *memstore.Store) int {
	t.Helper()
	n, err := s.DrainTasks(context.Background())
	require.NoError(t, err)
	return n
}

// countObjects counts the committed objects whose type name starts with prefix
func countObjects(s *memstore.Store, prefix string) int {
	n := 0
	for name, count := range s.Stats().ObjectsByType {
		if strings.HasPrefix(name, prefix) {
			n += count
		}
	}
	return n
}

// checkInvariants verifies the structure of the trie
func checkInvariants[K, V any](t *testing.T, m *HashMap[K, V]) {
	t.Helper()
	h, dir, err := m.tree()
	require.NoError(t, err)
	require.Len(t, dir.Slots, 1<<dir.Depth)
	require.GreaterOrEqual(t, dir.Depth, h.MinDepth)

	for slot := uint64(0); slot < uint64(len(dir.Slots)); {
		ref, leaf, err := m.leafAt(dir, slot)
		require.NoError(t, err)
		require.LessOrEqual(t, leaf.Depth, dir.Depth)
		require.GreaterOrEqual(t, leaf.Depth, h.MinDepth)

		first := dir.first(leaf.Depth, leaf.Prefix)
		require.Equal(t, slot, first, "leaf must start its region")
		for i := first; i < first+dir.span(leaf.Depth); i++ {
			require.Equal(t, ref, dir.Slots[i], "slot %d must point to the leaf of its prefix", i)
		}
		for i, e := range leaf.Entries {
			require.Equal(t, leaf.Prefix, e.Hash>>(64-leaf.Depth), "entry outside of the leaf prefix")
			if i > 0 {
				require.LessOrEqual(t, leaf.Entries[i-1].Hash, e.Hash, "entries must be sorted by hash")
			}
		}
		if len(leaf.Entries) > int(h.SplitThreshold) {
			require.False(t, leaf.separable(), "oversized leaf must not be separable")
		}
		slot = first + dir.span(leaf.Depth)
	}
}
