package scalable

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/dColl/lib/objstore"
	"github.com/ValentinKolb/dColl/lib/util"
)

// Diagnostics describes the shape of a HashMap trie
type Diagnostics struct {
	DirectoryDepth int
	MinDepth       int
	LeafCount      int
	EntryCount     int
	MinLeafDepth   int
	MaxLeafDepth   int
	AvgLeafDepth   float64
	Clears         uint64

	DepthStats     util.DistributionStats // distribution of leaf depths
	LeafSizeStats  util.Stats             // distribution of entries per leaf
	SplitThreshold int
	MergeThreshold int
}

// Diagnostics walks the trie and reports its shape. Stale entries are counted.
func (m *HashMap[K, V]) Diagnostics() (Diagnostics, error) {
	h, dir, err := m.tree()
	if err != nil {
		return Diagnostics{}, err
	}
	d := Diagnostics{
		DirectoryDepth: int(dir.Depth),
		MinDepth:       int(h.MinDepth),
		Clears:         h.Clears,
		SplitThreshold: int(h.SplitThreshold),
		MergeThreshold: int(h.MergeThreshold),
	}

	var depths, sizes []float64
	err = m.forEachLeaf(dir, func(_ objstore.Ref, leaf *leafNode[K, V]) (bool, error) {
		depths = append(depths, float64(leaf.Depth))
		sizes = append(sizes, float64(len(leaf.Entries)))
		d.EntryCount += len(leaf.Entries)
		return true, nil
	})
	if err != nil {
		return Diagnostics{}, err
	}

	d.LeafCount = len(depths)
	d.DepthStats = util.NewDistributionStats(depths)
	d.LeafSizeStats = util.NewStats(sizes)
	d.MinLeafDepth = int(d.DepthStats.Min)
	d.MaxLeafDepth = int(d.DepthStats.Max)
	d.AvgLeafDepth = d.DepthStats.Mean
	return d, nil
}

// String formats the diagnostics for humans
func (d Diagnostics) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "directory depth %d (min %d), %d leaves, %d entries\n", d.DirectoryDepth, d.MinDepth, d.LeafCount, d.EntryCount)
	fmt.Fprintf(&sb, "leaf depth min %d, max %d, avg %.2f (quality %.2f)\n", d.MinLeafDepth, d.MaxLeafDepth, d.AvgLeafDepth, d.DepthStats.DistributionQuality)
	fmt.Fprintf(&sb, "leaf size mean %.1f, std dev %.1f, max %.0f (split %d, merge %d)", d.LeafSizeStats.Mean, d.LeafSizeStats.StdDeviation, d.LeafSizeStats.Max, d.SplitThreshold, d.MergeThreshold)
	return sb.String()
}
