package scalable

import (
	"bytes"
	"context"
	"errors"
	"maps"
	"math/rand/v2"
	"strconv"
	"testing"

	"github.com/ValentinKolb/dColl/lib/objstore"
	"github.com/ValentinKolb/dColl/lib/objstore/memstore"
	"github.com/ValentinKolb/dColl/lib/util"
	"github.com/stretchr/testify/require"
)

func TestFindMinDepthFor(t *testing.T) {
	cases := map[int]int{1: 1, 2: 2, 3: 3, 4: 3, 5: 4, 32: 6, 33: 7}
	for minConcurrency, want := range cases {
		got, err := FindMinDepthFor(minConcurrency)
		require.NoError(t, err)
		require.Equal(t, want, got, "minConcurrency %d", minConcurrency)
	}

	_, err := FindMinDepthFor(0)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestOptionValidation(t *testing.T) {
	s := newStore(t)
	invalid := [][]Option{
		{WithMinConcurrency(0)},
		{WithSplitThreshold(0)},
		{WithDirectorySize(-1)},
		{WithMergeThreshold(98)},
		{WithSplitThreshold(10), WithMergeThreshold(11)},
		{WithLeafCapacity(-1)},
		{WithClearBatchSize(0)},
		{WithHash("md5")},
	}
	transact(t, s, func(tx objstore.Txn) error {
		for _, opts := range invalid {
			_, err := NewHashMap[int, int](tx, opts...)
			require.ErrorIs(t, err, ErrInvalidArgument)
		}
		return nil
	})

	c, err := newConfig(nil)
	require.NoError(t, err)
	require.Equal(t, 32, c.mergeThreshold, "merge threshold defaults to a third of the split threshold")
	require.Equal(t, uint32(1), c.growBits())

	c, err = newConfig([]Option{WithDirectorySize(8)})
	require.NoError(t, err)
	require.Equal(t, uint32(3), c.growBits())

	c, err = newConfig([]Option{WithSplitThreshold(60), WithMergeThreshold(0)})
	require.NoError(t, err)
	require.Equal(t, 20, c.mergeThreshold, "merge threshold 0 selects the default")

	c, err = newConfig([]Option{WithSplitThreshold(2)})
	require.NoError(t, err)
	require.Equal(t, 0, c.mergeThreshold, "small split thresholds merge only empty siblings")
}

func TestDefaultDepthSurvivesSnapshot(t *testing.T) {
	s := newStore(t)
	transact(t, s, func(tx objstore.Txn) error {
		m, err := NewHashMap[string, int](tx)
		require.NoError(t, err)
		for i := 0; i < 500; i++ {
			_, _, err := m.Put(string(rune('a'+i%26))+string(rune('0'+i/26)), i)
			require.NoError(t, err)
		}
		d, err := m.Diagnostics()
		require.NoError(t, err)
		require.Equal(t, 6, d.MinDepth)
		require.Equal(t, 500, d.EntryCount)
		return m.Bind("m")
	})

	var buf bytes.Buffer
	require.NoError(t, s.Save(&buf))
	loaded := memstore.New(nil)
	defer loaded.Close()
	require.NoError(t, loaded.Load(&buf))

	transact(t, loaded, func(tx objstore.Txn) error {
		m, err := LookupHashMap[string, int](tx, "m")
		require.NoError(t, err)
		d, err := m.Diagnostics()
		require.NoError(t, err)
		require.Equal(t, 6, d.MinDepth)
		require.GreaterOrEqual(t, d.DirectoryDepth, 6)
		require.GreaterOrEqual(t, d.MinLeafDepth, 6)

		size, err := m.Size()
		require.NoError(t, err)
		require.Equal(t, 500, size)
		v, ok, err := m.Get("a0")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, 0, v)
		return nil
	})
}

func TestOpenWithWrongTypes(t *testing.T) {
	s := newStore(t)
	transact(t, s, func(tx objstore.Txn) error {
		m, err := NewHashMap[string, int](tx)
		require.NoError(t, err)
		_, err = OpenHashMap[int, int](tx, m.Ref())
		require.ErrorIs(t, err, objstore.ErrTypeMismatch)
		_, err = OpenHashMap[string, int](tx, m.Ref())
		require.NoError(t, err)
		return nil
	})
}

func TestRandomOperationsAgainstReference(t *testing.T) {
	s := newStore(t)
	rng := rand.New(rand.NewPCG(1, 2))
	reference := make(map[int]int)

	var ref objstore.Ref
	transact(t, s, func(tx objstore.Txn) error {
		m, err := newHashMap[int, int](tx, 2, 4, 2, 4)
		ref = m.Ref()
		return err
	})

	for round := 0; round < 20; round++ {
		transact(t, s, func(tx objstore.Txn) error {
			m, err := OpenHashMap[int, int](tx, ref)
			require.NoError(t, err)
			for i := 0; i < 100; i++ {
				k := rng.IntN(600)
				if round < 10 || rng.IntN(2) == 0 {
					old, existed, err := m.Put(k, i)
					require.NoError(t, err)
					want, ok := reference[k]
					require.Equal(t, ok, existed)
					require.Equal(t, want, old)
					reference[k] = i
				} else {
					old, existed, err := m.Remove(k)
					require.NoError(t, err)
					want, ok := reference[k]
					require.Equal(t, ok, existed)
					require.Equal(t, want, old)
					delete(reference, k)
				}
			}
			return nil
		})

		transact(t, s, func(tx objstore.Txn) error {
			m, err := OpenHashMap[int, int](tx, ref)
			require.NoError(t, err)
			checkInvariants(t, m)

			size, err := m.Size()
			require.NoError(t, err)
			require.Equal(t, len(reference), size)

			got := make(map[int]int)
			require.NoError(t, m.Range(func(k, v int) bool {
				got[k] = v
				return true
			}))
			require.Equal(t, reference, got)

			var want uint64
			for k, v := range reference {
				kh, _ := contentHash(k)
				vh, _ := contentHash(v)
				want += kh ^ vh
			}
			sum, err := m.ContentHash()
			require.NoError(t, err)
			require.Equal(t, want, sum)

			copied, err := NewHashMapFrom(tx, maps.All(reference), WithSplitThreshold(50))
			require.NoError(t, err)
			same, err := m.Equals(copied)
			require.NoError(t, err)
			require.True(t, same)
			require.NoError(t, copied.Delete())
			return nil
		})
	}

	transact(t, s, func(tx objstore.Txn) error {
		m, err := OpenHashMap[int, int](tx, ref)
		require.NoError(t, err)
		d, err := m.Diagnostics()
		require.NoError(t, err)
		require.Greater(t, d.DirectoryDepth, 2, "the directory must have grown")
		require.Greater(t, d.LeafCount, 4)
		return nil
	})
}

func TestMergeBackToMinDepth(t *testing.T) {
	for _, noMerge := range []bool{false, true} {
		s := newStore(t)
		transact(t, s, func(tx objstore.Txn) error {
			opts := []Option{WithMinConcurrency(1), WithSplitThreshold(4), WithDirectorySize(4)}
			if noMerge {
				opts = append(opts, WithNoMerge())
			}
			m, err := NewHashMap[int, string](tx, opts...)
			require.NoError(t, err)
			for i := 0; i < 200; i++ {
				_, _, err := m.Put(i, "v")
				require.NoError(t, err)
			}
			checkInvariants(t, m)

			grown, err := m.Diagnostics()
			require.NoError(t, err)
			require.Equal(t, 1, grown.MinDepth)
			require.Zero(t, (grown.DirectoryDepth-grown.MinDepth)%2, "directory grows by two bits at once")

			for i := 0; i < 200; i++ {
				_, ok, err := m.Remove(i)
				require.NoError(t, err)
				require.True(t, ok)
			}
			checkInvariants(t, m)

			shrunk, err := m.Diagnostics()
			require.NoError(t, err)
			require.Equal(t, grown.DirectoryDepth, shrunk.DirectoryDepth, "the directory never shrinks")
			if noMerge {
				require.Equal(t, grown.LeafCount, shrunk.LeafCount)
			} else {
				require.Equal(t, 2, shrunk.LeafCount)
				require.Equal(t, 1, shrunk.MaxLeafDepth)
			}
			return nil
		})
	}
}

func TestHashFunctions(t *testing.T) {
	for _, fn := range []util.HashFunc{util.HashXXHash, util.HashMurmur3, util.HashSipHash} {
		s := newStore(t)
		transact(t, s, func(tx objstore.Txn) error {
			m, err := NewHashMap[string, int](tx, WithHash(fn), WithSplitThreshold(8))
			require.NoError(t, err)
			for i := 0; i < 300; i++ {
				_, _, err := m.Put(string(rune(1000+i)), i)
				require.NoError(t, err)
			}
			checkInvariants(t, m)
			for i := 0; i < 300; i++ {
				v, ok, err := m.Get(string(rune(1000 + i)))
				require.NoError(t, err)
				require.True(t, ok, "hash %s", fn)
				require.Equal(t, i, v)
			}
			return nil
		})
	}
}

func TestNilKeysAndViews(t *testing.T) {
	s := newStore(t)
	transact(t, s, func(tx objstore.Txn) error {
		m, err := NewHashMap[*string, int](tx)
		require.NoError(t, err)
		_, _, err = m.Put(nil, 7)
		require.NoError(t, err)
		v, ok, err := m.Get(nil)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, 7, v)

		ok, err = m.Values().Contains(7)
		require.NoError(t, err)
		require.True(t, ok)
		ok, err = m.EntrySet().Contains(nil, 8)
		require.NoError(t, err)
		require.False(t, ok)
		ok, err = m.KeySet().Remove(nil)
		require.NoError(t, err)
		require.True(t, ok)
		empty, err := m.IsEmpty()
		require.NoError(t, err)
		require.True(t, empty)
		return nil
	})
}

func TestUnstorableValues(t *testing.T) {
	s := newStore(t)
	transact(t, s, func(tx objstore.Txn) error {
		m, err := NewHashMap[string, any](tx)
		require.NoError(t, err)
		_, _, err = m.Put("f", func() {})
		require.ErrorIs(t, err, ErrInvalidArgument)

		_, err = NewHashMapFrom[string, any](tx, nil)
		require.ErrorIs(t, err, ErrInvalidArgument)
		return nil
	})

	transact(t, s, func(tx objstore.Txn) error {
		_, err := NewHashMap[*player, int](tx)
		require.NoError(t, err)
		m, err := NewHashMap[*token, int](tx)
		require.NoError(t, err)
		_, _, err = m.Put(&token{Label: "t"}, 1)
		require.ErrorIs(t, err, ErrInvalidArgument, "managed keys must implement Hashable")
		return nil
	})
}

func TestStaleValue(t *testing.T) {
	s := newStore(t)
	transact(t, s, func(tx objstore.Txn) error {
		m, err := NewHashMap[string, *token](tx)
		require.NoError(t, err)
		_, _, err = m.Put("k", &token{Label: "a"})
		require.NoError(t, err)
		_, _, err = m.Put("other", &token{Label: "b"})
		require.NoError(t, err)
		return m.Bind("m")
	})

	// remove the value object out of band
	transact(t, s, func(tx objstore.Txn) error {
		m, err := LookupHashMap[string, *token](tx, "m")
		require.NoError(t, err)
		tok, ok, err := m.Get("k")
		require.NoError(t, err)
		require.True(t, ok)
		return tx.RemoveObject(tok)
	})

	transact(t, s, func(tx objstore.Txn) error {
		m, err := LookupHashMap[string, *token](tx, "m")
		require.NoError(t, err)

		_, _, err = m.Get("k")
		require.ErrorIs(t, err, ErrStaleValue)
		require.ErrorIs(t, err, objstore.ErrObjectNotFound)
		_, _, err = m.Remove("k")
		require.ErrorIs(t, err, ErrStaleValue)
		_, err = m.ContainsKey("k")
		require.ErrorIs(t, err, ErrStaleValue)
		_, _, err = m.Put("k", &token{Label: "new"})
		require.ErrorIs(t, err, ErrStaleValue)

		size, err := m.Size()
		require.NoError(t, err)
		require.Equal(t, 2, size, "stale values leave the entry in place")

		v, ok, err := m.Get("other")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "b", v.Label)
		return nil
	})
}

func TestStaleKey(t *testing.T) {
	s := newStore(t)
	transact(t, s, func(tx objstore.Txn) error {
		m, err := NewHashMap[*player, int](tx)
		require.NoError(t, err)
		for i, name := range []string{"alice", "bob", "carol", "dave", "erin"} {
			_, _, err := m.Put(&player{Name: name}, i)
			require.NoError(t, err)
		}
		return m.Bind("m")
	})

	// remove every key object except bob out of band
	transact(t, s, func(tx objstore.Txn) error {
		m, err := LookupHashMap[*player, int](tx, "m")
		require.NoError(t, err)
		var gone []*player
		require.NoError(t, m.KeySet().Range(func(p *player) bool {
			if p.Name != "bob" {
				gone = append(gone, p)
			}
			return true
		}))
		require.Len(t, gone, 4)
		for _, p := range gone {
			require.NoError(t, tx.RemoveObject(p))
		}
		return nil
	})

	// Diagnostics counts the entries without dropping stale ones
	entries := func(m *HashMap[*player, int]) int {
		d, err := m.Diagnostics()
		require.NoError(t, err)
		return d.EntryCount
	}

	transact(t, s, func(tx objstore.Txn) error {
		m, err := LookupHashMap[*player, int](tx, "m")
		require.NoError(t, err)
		require.Equal(t, 5, entries(m))

		_, ok, err := m.Get(&player{Name: "alice"})
		require.NoError(t, err, "stale keys count as absent")
		require.False(t, ok)
		require.Equal(t, 4, entries(m))

		_, ok, err = m.Remove(&player{Name: "dave"})
		require.NoError(t, err)
		require.False(t, ok)
		require.Equal(t, 3, entries(m))

		ok, err = m.ContainsKey(&player{Name: "erin"})
		require.NoError(t, err)
		require.False(t, ok)
		require.Equal(t, 2, entries(m))

		// the stale entry of carol is replaced
		_, existed, err := m.Put(&player{Name: "carol"}, 10)
		require.NoError(t, err)
		require.False(t, existed)
		require.Equal(t, 2, entries(m))
		v, ok, err := m.Get(&player{Name: "carol"})
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, 10, v)

		ok, err = m.ContainsKey(&player{Name: "bob"})
		require.NoError(t, err)
		require.True(t, ok)
		size, err := m.Size()
		require.NoError(t, err)
		require.Equal(t, 2, size)
		return nil
	})
}

// TestNilAndZeroPointerKeys checks that nil and pointers to zero values stay
// distinct across transactions, as do nil and empty slices
func TestNilAndZeroPointerKeys(t *testing.T) {
	s := newStore(t)
	empty := ""
	transact(t, s, func(tx objstore.Txn) error {
		m, err := NewHashMap[*string, []int](tx)
		require.NoError(t, err)
		_, _, err = m.Put(nil, nil)
		require.NoError(t, err)
		_, _, err = m.Put(&empty, []int{})
		require.NoError(t, err)
		return m.Bind("m")
	})

	transact(t, s, func(tx objstore.Txn) error {
		m, err := LookupHashMap[*string, []int](tx, "m")
		require.NoError(t, err)

		v, ok, err := m.Get(nil)
		require.NoError(t, err)
		require.True(t, ok)
		require.Nil(t, v)

		zero := ""
		v, ok, err = m.Get(&zero)
		require.NoError(t, err)
		require.True(t, ok)
		require.NotNil(t, v)
		require.Empty(t, v)

		found, err := m.ContainsValue([]int{})
		require.NoError(t, err)
		require.True(t, found)

		_, existed, err := m.Put(&zero, []int{1})
		require.NoError(t, err)
		require.True(t, existed)
		return nil
	})

	transact(t, s, func(tx objstore.Txn) error {
		m, err := LookupHashMap[*string, []int](tx, "m")
		require.NoError(t, err)
		size, err := m.Size()
		require.NoError(t, err)
		require.Equal(t, 2, size)

		zero := ""
		v, ok, err := m.Get(&zero)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, []int{1}, v)
		checkInvariants(t, m)
		return nil
	})
}

// TestCopyFromSingleUseSequence checks that the copy constructor reads its source once
func TestCopyFromSingleUseSequence(t *testing.T) {
	s := newStore(t)
	transact(t, s, func(tx objstore.Txn) error {
		ch := make(chan int, 50)
		for i := 0; i < 50; i++ {
			ch <- i
		}
		close(ch)
		src := func(yield func(int, string) bool) {
			for i := range ch {
				if !yield(i, strconv.Itoa(i)) {
					return
				}
			}
		}

		m, err := NewHashMapFrom[int, string](tx, src)
		require.NoError(t, err)
		size, err := m.Size()
		require.NoError(t, err)
		require.Equal(t, 50, size)
		v, ok, err := m.Get(42)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "42", v)
		return nil
	})
}

func TestIteratorRemove(t *testing.T) {
	s := newStore(t)
	transact(t, s, func(tx objstore.Txn) error {
		m, err := NewHashMap[int, int](tx, WithSplitThreshold(4))
		require.NoError(t, err)
		for i := 0; i < 50; i++ {
			_, _, err := m.Put(i, i*i)
			require.NoError(t, err)
		}

		it := m.Iterator()
		require.ErrorIs(t, it.Remove(), ErrIllegalState)
		seen := 0
		for {
			ok, err := it.HasNext()
			require.NoError(t, err)
			if !ok {
				break
			}
			k, v, err := it.Next()
			require.NoError(t, err)
			require.Equal(t, k*k, v)
			seen++
			if k%2 == 0 {
				require.NoError(t, it.Remove())
				require.ErrorIs(t, it.Remove(), ErrIllegalState)
			}
		}
		require.Equal(t, 50, seen)
		_, _, err = it.Next()
		require.ErrorIs(t, err, ErrNoSuchElement)

		size, err := m.Size()
		require.NoError(t, err)
		require.Equal(t, 25, size)
		checkInvariants(t, m)
		return nil
	})
}

func TestIteratorAcrossClear(t *testing.T) {
	s := newStore(t)
	var ref objstore.Ref
	transact(t, s, func(tx objstore.Txn) error {
		m, err := NewHashMap[int, int](tx, WithSplitThreshold(8))
		require.NoError(t, err)
		for i := 0; i < 100; i++ {
			_, _, err := m.Put(i, i)
			require.NoError(t, err)
		}
		ref = m.Ref()
		return nil
	})

	var data []byte
	transact(t, s, func(tx objstore.Txn) error {
		m, err := OpenHashMap[int, int](tx, ref)
		require.NoError(t, err)
		it := m.Iterator()
		for i := 0; i < 10; i++ {
			_, _, err := it.Next()
			require.NoError(t, err)
		}
		data, err = it.MarshalBinary()
		return err
	})

	transact(t, s, func(tx objstore.Txn) error {
		m, err := OpenHashMap[int, int](tx, ref)
		require.NoError(t, err)
		require.NoError(t, m.Clear())
		for i := 1000; i < 1200; i++ {
			_, _, err := m.Put(i, -i)
			require.NoError(t, err)
		}
		return nil
	})
	drain(t, s)

	transact(t, s, func(tx objstore.Txn) error {
		it, err := ResumeIterator[int, int](tx, data)
		require.NoError(t, err)
		visited := make(map[int]bool)
		for {
			ok, err := it.HasNext()
			require.NoError(t, err)
			if !ok {
				break
			}
			k, v, err := it.Next()
			require.NoError(t, err)
			require.GreaterOrEqual(t, k, 1000)
			require.Equal(t, -k, v)
			require.False(t, visited[k], "key %d returned twice", k)
			visited[k] = true
		}
		require.NoError(t, it.Remove())
		return nil
	})
}

func TestIteratorSeesConcurrentChanges(t *testing.T) {
	s := newStore(t)
	var ref objstore.Ref
	transact(t, s, func(tx objstore.Txn) error {
		m, err := NewHashMap[int, int](tx, WithMinConcurrency(1), WithSplitThreshold(4))
		require.NoError(t, err)
		for i := 0; i < 40; i++ {
			_, _, err := m.Put(i, i)
			require.NoError(t, err)
		}
		ref = m.Ref()
		return nil
	})

	var data []byte
	returned := make(map[int]bool)
	transact(t, s, func(tx objstore.Txn) error {
		m, err := OpenHashMap[int, int](tx, ref)
		require.NoError(t, err)
		it := m.Iterator()
		for i := 0; i < 20; i++ {
			k, _, err := it.Next()
			require.NoError(t, err)
			returned[k] = true
		}
		data, err = it.MarshalBinary()
		return err
	})

	// remove everything not returned yet and add new keys, splitting leaves
	var added []int
	transact(t, s, func(tx objstore.Txn) error {
		m, err := OpenHashMap[int, int](tx, ref)
		require.NoError(t, err)
		for i := 0; i < 40; i++ {
			if !returned[i] {
				_, _, err := m.Remove(i)
				require.NoError(t, err)
			}
		}
		for i := 100; i < 200; i++ {
			_, _, err := m.Put(i, i)
			require.NoError(t, err)
			added = append(added, i)
		}
		return nil
	})

	transact(t, s, func(tx objstore.Txn) error {
		it, err := ResumeIterator[int, int](tx, data)
		require.NoError(t, err)
		m, err := OpenHashMap[int, int](tx, ref)
		require.NoError(t, err)
		h, err := m.header()
		require.NoError(t, err)

		// the rest of the iteration is exactly the new keys behind the position
		var lastHash uint64
		want := make(map[int]bool)
		for _, k := range added {
			hash, err := keyHash(h.HashFunc, h.HashSeed, k)
			require.NoError(t, err)
			if hash > it.state.LastHash {
				want[k] = true
			}
		}
		got := make(map[int]bool)
		for {
			ok, err := it.HasNext()
			require.NoError(t, err)
			if !ok {
				break
			}
			k, _, err := it.Next()
			require.NoError(t, err)
			require.False(t, returned[k], "key %d returned again", k)
			require.GreaterOrEqual(t, it.state.LastHash, lastHash, "iteration is in hash order")
			lastHash = it.state.LastHash
			got[k] = true
		}
		require.Equal(t, want, got)
		return nil
	})
}

func TestClearReleasesLeaves(t *testing.T) {
	s := newStore(t)
	var ref objstore.Ref
	transact(t, s, func(tx objstore.Txn) error {
		m, err := NewHashMap[int, int](tx, WithSplitThreshold(8), WithClearBatchSize(16))
		require.NoError(t, err)
		for i := 0; i < 1024; i++ {
			_, _, err := m.Put(i, i)
			require.NoError(t, err)
		}
		ref = m.Ref()
		return nil
	})
	leaves := countObjects(s, "*scalable.leafNode")
	require.Greater(t, leaves, 64)

	transact(t, s, func(tx objstore.Txn) error {
		m, err := OpenHashMap[int, int](tx, ref)
		require.NoError(t, err)
		require.NoError(t, m.Clear())
		empty, err := m.IsEmpty()
		require.NoError(t, err)
		require.True(t, empty, "clear is visible at once")
		return nil
	})
	require.Equal(t, leaves+64, countObjects(s, "*scalable.leafNode"), "old leaves are released in the background")

	runs := drain(t, s)
	require.GreaterOrEqual(t, runs, leaves/16)
	require.Equal(t, 64, countObjects(s, "*scalable.leafNode"))
	require.Equal(t, 1, countObjects(s, "*scalable.directory"))

	transact(t, s, func(tx objstore.Txn) error {
		m, err := OpenHashMap[int, int](tx, ref)
		require.NoError(t, err)
		d, err := m.Diagnostics()
		require.NoError(t, err)
		require.Equal(t, uint64(1), d.Clears)
		return m.Delete()
	})
	drain(t, s)
	require.Zero(t, countObjects(s, "*scalable."))
}

func TestConcurrentWritersOnDisjointLeaves(t *testing.T) {
	s := memstore.New(&memstore.Options{MaxRetries: 50})
	defer s.Close()
	var ref objstore.Ref
	transact(t, s, func(tx objstore.Txn) error {
		m, err := NewHashMap[int, int](tx, WithSplitThreshold(1000))
		ref = m.Ref()
		return err
	})

	ctx := context.Background()
	errs := make(chan error, 8)
	for w := 0; w < 8; w++ {
		go func(w int) {
			var err error
			for i := 0; i < 25 && err == nil; i++ {
				err = s.Transact(ctx, func(tx objstore.Txn) error {
					m, err := OpenHashMap[int, int](tx, ref)
					if err != nil {
						return err
					}
					_, _, err = m.Put(w*1000+i, i)
					return err
				})
			}
			errs <- err
		}(w)
	}
	for w := 0; w < 8; w++ {
		err := <-errs
		if err != nil && !errors.Is(err, objstore.ErrConflict) {
			require.NoError(t, err)
		}
	}

	transact(t, s, func(tx objstore.Txn) error {
		m, err := OpenHashMap[int, int](tx, ref)
		require.NoError(t, err)
		size, err := m.Size()
		require.NoError(t, err)
		require.LessOrEqual(t, size, 200)
		checkInvariants(t, m)
		return nil
	})
}
