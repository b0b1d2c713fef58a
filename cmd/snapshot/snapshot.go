package snapshot

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/dColl/cmd/util"
	"github.com/ValentinKolb/dColl/lib/common"
	"github.com/ValentinKolb/dColl/lib/objstore"
	"github.com/ValentinKolb/dColl/lib/objstore/memstore"
	"github.com/ValentinKolb/dColl/lib/scalable"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	demoMapName   = "demo.map"
	demoSetName   = "demo.set"
	demoDequeName = "demo.deque"
)

var infoCmd = &cobra.Command{
	Use:   "info <file>",
	Short: "Print a summary of a snapshot without loading it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := util.BindFlags(cmd); err != nil {
			return err
		}
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		info, err := memstore.ReadSnapshotInfo(f)
		if err != nil {
			return fmt.Errorf("failed to read snapshot: %w", err)
		}

		if viper.GetBool("json") {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		}
		printInfo(info)
		return nil
	},
}

var demoCmd = &cobra.Command{
	Use:   "demo <file>",
	Short: "Write a snapshot with a demo map, set and deque",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := util.BindFlags(cmd); err != nil {
			return err
		}
		conf := util.GetConfig()
		entries := viper.GetInt("entries")
		start := time.Now()

		store := util.NewStore(conf)
		defer store.Close()

		err := store.Transact(context.Background(), func(tx objstore.Txn) error {
			m, err := scalable.NewHashMap[string, int](tx, util.CollectionOptions(conf)...)
			if err != nil {
				return err
			}
			s, err := scalable.NewHashSet[string](tx, util.CollectionOptions(conf)...)
			if err != nil {
				return err
			}
			d, err := scalable.NewDeque[string](tx, scalable.WithDequeClearBatchSize(conf.ClearBatchSize))
			if err != nil {
				return err
			}
			for i := 0; i < entries; i++ {
				k := "key-" + strconv.Itoa(i)
				if _, _, err := m.Put(k, i); err != nil {
					return err
				}
				if _, err := s.Add(k); err != nil {
					return err
				}
				if err := d.AddLast(k); err != nil {
					return err
				}
			}
			if err := m.Bind(demoMapName); err != nil {
				return err
			}
			if err := s.Bind(demoSetName); err != nil {
				return err
			}
			return d.Bind(demoDequeName)
		})
		if err != nil {
			return err
		}

		if err := save(store, args[0]); err != nil {
			return err
		}
		common.Logger(common.LoggerCmd).Infof("wrote %d objects to %s in %s", store.ObjectCount(), args[0], util.Elapsed(start))
		return nil
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Load a snapshot and print the shape of the demo collections",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := util.BindFlags(cmd); err != nil {
			return err
		}
		store := util.NewStore(util.GetConfig())
		defer store.Close()

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		if err := store.Load(bufio.NewReader(f)); err != nil {
			return fmt.Errorf("failed to load snapshot: %w", err)
		}

		return store.Transact(context.Background(), func(tx objstore.Txn) error {
			if name := viper.GetString("map"); name != "" {
				m, err := scalable.LookupHashMap[string, int](tx, name)
				if err != nil {
					return fmt.Errorf("map %q: %w", name, err)
				}
				d, err := m.Diagnostics()
				if err != nil {
					return err
				}
				fmt.Printf("Map %q (%s):\n%s\n", name, m.Ref(), d.String())
			}
			if name := viper.GetString("set"); name != "" {
				s, err := scalable.LookupHashSet[string](tx, name)
				if err != nil {
					return fmt.Errorf("set %q: %w", name, err)
				}
				d, err := s.Diagnostics()
				if err != nil {
					return err
				}
				fmt.Printf("Set %q (%s):\n%s\n", name, s.Ref(), d.String())
			}
			if name := viper.GetString("deque"); name != "" {
				d, err := scalable.LookupDeque[string](tx, name)
				if err != nil {
					return fmt.Errorf("deque %q: %w", name, err)
				}
				size, err := d.Size()
				if err != nil {
					return err
				}
				first, _, err := d.PeekFirst()
				if err != nil {
					return err
				}
				last, _, err := d.PeekLast()
				if err != nil {
					return err
				}
				fmt.Printf("Deque %q (%s):\n  Size: %d\n  First: %q\n  Last: %q\n", name, d.Ref(), size, first, last)
			}
			return nil
		})
	},
}

// save writes the store to path, going through a temp file in the same directory
func save(store *memstore.Store, path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := store.Save(w); err != nil {
		f.Close()
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func printInfo(info memstore.SnapshotInfo) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Version:       %d\n", info.Version)
	fmt.Fprintf(&sb, "Commit index:  %d\n", info.CommitIndex)
	fmt.Fprintf(&sb, "Next id:       %d\n", info.NextID)
	fmt.Fprintf(&sb, "Objects:       %d (%d bytes)\n", info.Objects, info.Bytes)
	fmt.Fprintf(&sb, "Pending tasks: %d\n", info.PendingTasks)

	types := make([]string, 0, len(info.ObjectsByType))
	for t := range info.ObjectsByType {
		types = append(types, t)
	}
	slices.Sort(types)
	sb.WriteString("Objects by type:\n")
	for _, t := range types {
		fmt.Fprintf(&sb, "  %-50s %d\n", t, info.ObjectsByType[t])
	}

	sb.WriteString("Bindings:\n")
	for _, b := range info.Bindings {
		fmt.Fprintf(&sb, "  %s\n", b)
	}
	fmt.Print(sb.String())
}
