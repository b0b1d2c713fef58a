package testing

import (
	"context"
	"strconv"
	"testing"

	"github.com/ValentinKolb/dColl/lib/objstore"
)

// RunStoreBenchmarks runs throughput benchmarks for a store implementation
func RunStoreBenchmarks(b *testing.B, name string, factory StoreFactory) {
	b.Run(name, func(b *testing.B) {
		b.Run("Create", func(b *testing.B) {
			benchmarkCreate(b, factory())
		})

		b.Run("Get", func(b *testing.B) {
			benchmarkGet(b, factory())
		})

		b.Run("Update", func(b *testing.B) {
			benchmarkUpdate(b, factory())
		})

		b.Run("ParallelUpdate", func(b *testing.B) {
			benchmarkParallelUpdate(b, factory())
		})
	})
}

func benchmarkCreate(b *testing.B, store objstore.Store) {
	defer store.Close()
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		err := store.Transact(ctx, func(tx objstore.Txn) error {
			_, err := tx.CreateReference(&Counter{Name: "c" + strconv.Itoa(i), Count: i})
			return err
		})
		if err != nil {
			b.Fatal(err)
		}
	}
}

func benchmarkGet(b *testing.B, store objstore.Store) {
	defer store.Close()
	ctx := context.Background()

	refs := make([]objstore.Ref, 1000)
	err := store.Transact(ctx, func(tx objstore.Txn) error {
		for i := range refs {
			r, err := tx.CreateReference(&Counter{Name: "c" + strconv.Itoa(i), Count: i})
			if err != nil {
				return err
			}
			refs[i] = r
		}
		return nil
	})
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		err := store.Transact(ctx, func(tx objstore.Txn) error {
			_, err := tx.Get(refs[i%len(refs)])
			return err
		})
		if err != nil {
			b.Fatal(err)
		}
	}
}

func benchmarkUpdate(b *testing.B, store objstore.Store) {
	defer store.Close()
	ctx := context.Background()

	var ref objstore.Ref
	err := store.Transact(ctx, func(tx objstore.Txn) error {
		var err error
		ref, err = tx.CreateReference(&Counter{Name: "hot"})
		return err
	})
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		err := store.Transact(ctx, func(tx objstore.Txn) error {
			c, err := objstore.DerefForUpdate[*Counter](tx, ref)
			if err != nil {
				return err
			}
			c.Count++
			return nil
		})
		if err != nil {
			b.Fatal(err)
		}
	}
}

// benchmarkParallelUpdate updates disjoint objects from parallel goroutines
func benchmarkParallelUpdate(b *testing.B, store objstore.Store) {
	defer store.Close()
	ctx := context.Background()

	refs := make([]objstore.Ref, 256)
	err := store.Transact(ctx, func(tx objstore.Txn) error {
		for i := range refs {
			r, err := tx.CreateReference(&Counter{Name: "p" + strconv.Itoa(i)})
			if err != nil {
				return err
			}
			refs[i] = r
		}
		return nil
	})
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			ref := refs[i%len(refs)]
			i += 7
			_ = store.Transact(ctx, func(tx objstore.Txn) error {
				c, err := objstore.DerefForUpdate[*Counter](tx, ref)
				if err != nil {
					return err
				}
				c.Count++
				return nil
			})
		}
	})
}
