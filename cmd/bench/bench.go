package bench

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dColl/cmd/util"
	"github.com/ValentinKolb/dColl/lib/common"
	"github.com/ValentinKolb/dColl/lib/objstore"
	"github.com/ValentinKolb/dColl/lib/objstore/memstore"
	"github.com/ValentinKolb/dColl/lib/scalable"
	"github.com/spf13/cobra"
)

// benchmark is one named measurement
type benchmark struct {
	name string
	fn   func(b *testing.B, env *env)
}

// env is the store and collection setup shared by the benchmarks
type env struct {
	store *memstore.Store
	opts  []scalable.Option
}

func (e *env) transact(b *testing.B, fn func(tx objstore.Txn) error) {
	if err := e.store.Transact(context.Background(), fn); err != nil {
		b.Fatalf("transaction failed: %v", err)
	}
}

// newMap creates a map filled with the benchmark keys and returns its reference
func (e *env) newMap(b *testing.B, fill bool) objstore.Ref {
	var ref objstore.Ref
	e.transact(b, func(tx objstore.Txn) error {
		m, err := scalable.NewHashMap[int, int](tx, e.opts...)
		if err != nil {
			return err
		}
		ref = m.Ref()
		if !fill {
			return nil
		}
		for i := 0; i < benchKeySpread; i++ {
			if _, _, err := m.Put(i, i); err != nil {
				return err
			}
		}
		return nil
	})
	return ref
}

func (e *env) mapOp(b *testing.B, ref objstore.Ref, fn func(m *scalable.HashMap[int, int]) error) {
	e.transact(b, func(tx objstore.Txn) error {
		m, err := scalable.OpenHashMap[int, int](tx, ref)
		if err != nil {
			return err
		}
		return fn(m)
	})
}

var benchmarks = []benchmark{
	{name: "map-put", fn: func(b *testing.B, e *env) {
		ref := e.newMap(b, false)
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			e.mapOp(b, ref, func(m *scalable.HashMap[int, int]) error {
				_, _, err := m.Put(i%benchKeySpread, i)
				return err
			})
		}
	}},
	{name: "map-get", fn: func(b *testing.B, e *env) {
		ref := e.newMap(b, true)
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			e.mapOp(b, ref, func(m *scalable.HashMap[int, int]) error {
				_, _, err := m.Get(i % benchKeySpread)
				return err
			})
		}
	}},
	{name: "map-remove", fn: func(b *testing.B, e *env) {
		ref := e.newMap(b, true)
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			e.mapOp(b, ref, func(m *scalable.HashMap[int, int]) error {
				k := i % benchKeySpread
				if _, _, err := m.Remove(k); err != nil {
					return err
				}
				_, _, err := m.Put(k, i)
				return err
			})
		}
	}},
	{name: "map-put-parallel", fn: func(b *testing.B, e *env) {
		ref := e.newMap(b, false)
		var counter atomic.Int64
		b.SetParallelism(benchThreads)
		b.ResetTimer()
		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				k := int(counter.Add(1)) % benchKeySpread
				err := e.store.Transact(context.Background(), func(tx objstore.Txn) error {
					m, err := scalable.OpenHashMap[int, int](tx, ref)
					if err != nil {
						return err
					}
					_, _, err = m.Put(k, k)
					return err
				})
				if err != nil && !objstore.IsConflict(err) {
					b.Errorf("(map-put-parallel) - error: %v", err)
				}
			}
		})
	}},
	{name: "map-iterate", fn: func(b *testing.B, e *env) {
		ref := e.newMap(b, true)
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			e.mapOp(b, ref, func(m *scalable.HashMap[int, int]) error {
				return m.Range(func(int, int) bool { return true })
			})
		}
	}},
	{name: "set-add", fn: func(b *testing.B, e *env) {
		var ref objstore.Ref
		e.transact(b, func(tx objstore.Txn) error {
			s, err := scalable.NewHashSet[string](tx, e.opts...)
			if err == nil {
				ref = s.Ref()
			}
			return err
		})
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			e.transact(b, func(tx objstore.Txn) error {
				s, err := scalable.OpenHashSet[string](tx, ref)
				if err != nil {
					return err
				}
				_, err = s.Add(strconv.Itoa(i % benchKeySpread))
				return err
			})
		}
	}},
	{name: "deque", fn: func(b *testing.B, e *env) {
		var ref objstore.Ref
		e.transact(b, func(tx objstore.Txn) error {
			d, err := scalable.NewDeque[int](tx)
			if err == nil {
				ref = d.Ref()
			}
			return err
		})
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			e.transact(b, func(tx objstore.Txn) error {
				d, err := scalable.OpenDeque[int](tx, ref)
				if err != nil {
					return err
				}
				if err := d.AddLast(i); err != nil {
					return err
				}
				if i%2 == 1 {
					_, _, err = d.PollFirst()
				}
				return err
			})
		}
	}},
	{name: "map-clear", fn: func(b *testing.B, e *env) {
		ref := e.newMap(b, true)
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			e.mapOp(b, ref, func(m *scalable.HashMap[int, int]) error { return m.Clear() })
			if _, err := e.store.DrainTasks(context.Background()); err != nil {
				b.Fatalf("draining tasks failed: %v", err)
			}
		}
	}},
}

func run(_ *cobra.Command, _ []string) error {
	conf := util.GetConfig()
	log := common.Logger(common.LoggerCmd)

	fmt.Println("Throughput benchmarks of the dColl collections")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(conf.String())
	fmt.Printf("Threads: %d\n", benchThreads)
	fmt.Printf("Keys: %d\n", benchKeySpread)
	fmt.Println()

	e := &env{store: util.NewStore(conf), opts: util.CollectionOptions(conf)}
	defer e.store.Close()

	results := make(map[string]testing.BenchmarkResult)
	for _, bm := range benchmarks {
		if shouldSkip(bm.name) {
			results[bm.name] = testing.BenchmarkResult{}
			printResult(bm.name, results[bm.name])
			continue
		}
		start := time.Now()
		results[bm.name] = testing.Benchmark(func(b *testing.B) { bm.fn(b, e) })
		printResult(bm.name, results[bm.name])
		log.Debugf("benchmark %s finished after %s", bm.name, util.Elapsed(start))
	}

	if benchDiagnostics {
		ref, err := e.newMapForDiagnostics()
		if err != nil {
			return err
		}
		if err := e.store.Transact(context.Background(), func(tx objstore.Txn) error {
			m, err := scalable.OpenHashMap[int, int](tx, ref)
			if err != nil {
				return err
			}
			d, err := m.Diagnostics()
			if err != nil {
				return err
			}
			fmt.Println()
			fmt.Println("Map diagnostics:")
			fmt.Println(d.String())
			return nil
		}); err != nil {
			return err
		}
	}

	if benchMetrics {
		fmt.Println()
		e.store.WritePrometheus(os.Stdout)
	}

	if benchCSV != "" {
		if err := writeResultsToCSV(benchCSV, results, conf); err != nil {
			return err
		}
		fmt.Printf("\nresults written to %s\n", benchCSV)
	}
	return nil
}

// newMapForDiagnostics fills a fresh map outside of a benchmark
func (e *env) newMapForDiagnostics() (objstore.Ref, error) {
	var ref objstore.Ref
	err := e.store.Transact(context.Background(), func(tx objstore.Txn) error {
		m, err := scalable.NewHashMap[int, int](tx, e.opts...)
		if err != nil {
			return err
		}
		ref = m.Ref()
		for i := 0; i < benchKeySpread; i++ {
			if _, _, err := m.Put(i, i); err != nil {
				return err
			}
		}
		return nil
	})
	return ref, err
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	for _, skip := range benchSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, conf common.Config) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Shards", "MaxRetries", "MinConcurrency", "SplitThreshold", "MergeThreshold",
		"DirectorySize", "Hash", "Threads", "Keys",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for test, result := range results {
		var nsPerOp, opsPerSec float64
		skipped := "true"
		if result.NsPerOp() != 0 {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			strconv.Itoa(conf.Shards),
			strconv.Itoa(conf.MaxRetries),
			strconv.Itoa(conf.MinConcurrency),
			strconv.Itoa(conf.SplitThreshold),
			strconv.Itoa(conf.MergeThreshold),
			strconv.Itoa(conf.DirectorySize),
			conf.HashFunc,
			strconv.Itoa(benchThreads),
			strconv.Itoa(benchKeySpread),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %w", test, err)
		}
	}
	return nil
}
