package scalable

import (
	"context"
	"iter"
	"slices"
	"testing"

	"github.com/ValentinKolb/dColl/lib/objstore"
	"github.com/stretchr/testify/require"
)

func TestHashSetBasics(t *testing.T) {
	s := newStore(t)
	transact(t, s, func(tx objstore.Txn) error {
		set, err := NewHashSet[string](tx, WithSplitThreshold(4))
		require.NoError(t, err)

		added, err := set.Add("a")
		require.NoError(t, err)
		require.True(t, added)
		added, err = set.Add("a")
		require.NoError(t, err)
		require.False(t, added)
		require.NoError(t, set.AddAll(slices.Values([]string{"b", "c", "d", "e", "f"})))

		size, err := set.Size()
		require.NoError(t, err)
		require.Equal(t, 6, size)
		ok, err := set.Contains("c")
		require.NoError(t, err)
		require.True(t, ok)
		ok, err = set.Remove("c")
		require.NoError(t, err)
		require.True(t, ok)
		ok, err = set.Contains("c")
		require.NoError(t, err)
		require.False(t, ok)

		other, err := NewHashSetFrom(tx, slices.Values([]string{"f", "e", "d", "b", "a"}))
		require.NoError(t, err)
		same, err := set.Equals(other)
		require.NoError(t, err)
		require.True(t, same)
		h1, err := set.ContentHash()
		require.NoError(t, err)
		h2, err := other.ContentHash()
		require.NoError(t, err)
		require.Equal(t, h1, h2)

		var elems []string
		it := set.Iterator()
		for {
			ok, err := it.HasNext()
			require.NoError(t, err)
			if !ok {
				break
			}
			e, err := it.Next()
			require.NoError(t, err)
			elems = append(elems, e)
		}
		require.ElementsMatch(t, []string{"a", "b", "d", "e", "f"}, elems)
		return set.Bind("set")
	})

	transact(t, s, func(tx objstore.Txn) error {
		set, err := LookupHashSet[string](tx, "set")
		require.NoError(t, err)
		require.NoError(t, set.Clear())
		empty, err := set.IsEmpty()
		require.NoError(t, err)
		require.True(t, empty)
		return nil
	})
}

func TestHashSetIteratorResume(t *testing.T) {
	s := newStore(t)
	var data []byte
	first := make(map[int]bool)
	transact(t, s, func(tx objstore.Txn) error {
		set, err := NewHashSetFrom(tx, slices.Values([]int{1, 2, 3, 4, 5, 6}))
		require.NoError(t, err)
		it := set.Iterator()
		for i := 0; i < 3; i++ {
			e, err := it.Next()
			require.NoError(t, err)
			first[e] = true
		}
		data, err = it.MarshalBinary()
		return err
	})

	transact(t, s, func(tx objstore.Txn) error {
		it, err := ResumeSetIterator[int](tx, data)
		require.NoError(t, err)
		rest := make(map[int]bool)
		for {
			ok, err := it.HasNext()
			require.NoError(t, err)
			if !ok {
				break
			}
			e, err := it.Next()
			require.NoError(t, err)
			require.False(t, first[e])
			rest[e] = true
		}
		require.Len(t, rest, 3)
		return nil
	})
}

func TestHashSetFromStaleElement(t *testing.T) {
	s := newStore(t)
	objects := s.ObjectCount()

	err := s.Transact(context.Background(), func(tx objstore.Txn) error {
		players := []*player{{Name: "alice"}, {Name: "bob"}, {Name: "carol"}}
		for _, p := range players {
			if _, err := tx.CreateReference(p); err != nil {
				return err
			}
		}
		require.NoError(t, tx.RemoveObject(players[1]))

		_, err := NewHashSetFrom(tx, slices.Values(players))
		return err
	})
	require.ErrorIs(t, err, ErrStaleKey)
	require.Equal(t, objects, s.ObjectCount(), "the failed transaction leaves nothing behind")

	transact(t, s, func(tx objstore.Txn) error {
		players := []*player{{Name: "alice"}, {Name: "carol"}}
		set, err := NewHashSetFrom(tx, slices.Values(players))
		require.NoError(t, err)
		size, err := set.Size()
		require.NoError(t, err)
		require.Equal(t, 2, size)
		ok, err := set.Contains(&player{Name: "carol"})
		require.NoError(t, err)
		require.True(t, ok)
		return nil
	})
}

func TestHashSetFromPulledSequence(t *testing.T) {
	s := newStore(t)
	transact(t, s, func(tx objstore.Txn) error {
		next, stop := iter.Pull(slices.Values([]string{"a", "b", "c"}))
		defer stop()
		src := func(yield func(string) bool) {
			for {
				e, ok := next()
				if !ok || !yield(e) {
					return
				}
			}
		}

		set, err := NewHashSetFrom[string](tx, src)
		require.NoError(t, err)
		size, err := set.Size()
		require.NoError(t, err)
		require.Equal(t, 3, size)
		ok, err := set.Contains("b")
		require.NoError(t, err)
		require.True(t, ok)
		return nil
	})
}
