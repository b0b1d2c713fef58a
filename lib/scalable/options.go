package scalable

import (
	"math/bits"

	"github.com/ValentinKolb/dColl/lib/util"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	DefaultMinConcurrency = 32 // default minimum write concurrency, a trie of depth 6
	DefaultSplitThreshold = 98 // default number of entries that triggers a leaf split
	DefaultDirectorySize  = 2  // default directory grow factor (doubling)
	DefaultLeafCapacity   = 8  // default initial entry capacity of a new leaf
	DefaultClearBatchSize = 16 // default number of nodes a clear task releases per run

	maxDirectoryDepth = 20 // the directory never grows beyond 2^20 slots
)

// FindMinDepthFor returns the minimum trie depth that provides at least
// minConcurrency independently writable leaves: ceil(log2(minConcurrency)) + 1.
// A depth of d yields 2^d leaves, twice the requested concurrency, because keys are
// spread by hash and two writers hit the same leaf long before all leaves are in use.
func FindMinDepthFor(minConcurrency int) (int, error) {
	if minConcurrency < 1 {
		return 0, invalidArgument("minConcurrency must be at least 1, got %d", minConcurrency)
	}
	depth := util.CeilLog2(minConcurrency) + 1
	if depth > maxDirectoryDepth {
		depth = maxDirectoryDepth
	}
	return depth, nil
}

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// config collects the construction parameters of a map
type config struct {
	minConcurrency int
	splitThreshold int
	mergeThreshold int // 0 = splitThreshold / 3
	directorySize  int
	leafCapacity   int
	noMerge        bool
	hashFunc       util.HashFunc
	clearBatchSize int
}

func defaultConfig() config {
	return config{
		minConcurrency: DefaultMinConcurrency,
		splitThreshold: DefaultSplitThreshold,
		directorySize:  DefaultDirectorySize,
		leafCapacity:   DefaultLeafCapacity,
		hashFunc:       util.DefaultHashFunc,
		clearBatchSize: DefaultClearBatchSize,
	}
}

// Option configures a collection at construction
type Option func(*config)

// WithMinConcurrency sets the number of independently writable leaves the map
// provides even when empty (see FindMinDepthFor)
func WithMinConcurrency(n int) Option {
	return func(c *config) { c.minConcurrency = n }
}

// WithSplitThreshold sets the number of entries above which a leaf is split
func WithSplitThreshold(n int) Option {
	return func(c *config) { c.splitThreshold = n }
}

// WithMergeThreshold sets the combined number of entries at or below which two
// sibling leaves are merged. It must be smaller than the split threshold. 0 selects
// the default of splitThreshold / 3; to merge only empty siblings use a split
// threshold below 3 or disable merging with WithNoMerge.
func WithMergeThreshold(n int) Option {
	return func(c *config) { c.mergeThreshold = n }
}

// WithDirectorySize sets the factor the directory grows by when a leaf needs more
// hash bits than the directory indexes. It is rounded down to a power of two, values
// below 2 mean doubling.
func WithDirectorySize(n int) Option {
	return func(c *config) { c.directorySize = n }
}

// WithLeafCapacity sets the initial entry capacity of new leaves
func WithLeafCapacity(n int) Option {
	return func(c *config) { c.leafCapacity = n }
}

// WithNoMerge disables merging of underfull leaves
func WithNoMerge() Option {
	return func(c *config) { c.noMerge = true }
}

// WithHash selects the hash function for keys without their own Hashable implementation
func WithHash(fn util.HashFunc) Option {
	return func(c *config) { c.hashFunc = fn }
}

// WithClearBatchSize sets the number of nodes a background clear task releases per run
func WithClearBatchSize(n int) Option {
	return func(c *config) { c.clearBatchSize = n }
}

// validate checks the parameters and fills derived defaults
func (c *config) validate() error {
	if c.minConcurrency < 1 {
		return invalidArgument("minConcurrency must be at least 1, got %d", c.minConcurrency)
	}
	if c.splitThreshold < 1 {
		return invalidArgument("splitThreshold must be at least 1, got %d", c.splitThreshold)
	}
	if c.directorySize < 0 {
		return invalidArgument("directorySize must not be negative, got %d", c.directorySize)
	}
	if c.leafCapacity < 0 {
		return invalidArgument("leafCapacity must not be negative, got %d", c.leafCapacity)
	}
	if c.mergeThreshold < 0 {
		return invalidArgument("mergeThreshold must not be negative, got %d", c.mergeThreshold)
	}
	if c.mergeThreshold == 0 {
		c.mergeThreshold = c.splitThreshold / 3
	}
	if c.mergeThreshold >= c.splitThreshold {
		return invalidArgument("mergeThreshold (%d) must be smaller than splitThreshold (%d)", c.mergeThreshold, c.splitThreshold)
	}
	if c.clearBatchSize < 1 {
		return invalidArgument("clearBatchSize must be at least 1, got %d", c.clearBatchSize)
	}
	fn, err := util.ParseHashFunc(string(c.hashFunc))
	if err != nil {
		return newError(RetCInvalidArgument, err, "invalid hash function")
	}
	c.hashFunc = fn
	return nil
}

// growBits converts the directory size into the number of hash bits one growth adds
func (c *config) growBits() uint32 {
	if c.directorySize < 2 {
		return 1
	}
	return uint32(bits.Len(uint(c.directorySize)) - 1)
}

func newConfig(opts []Option) (config, error) {
	c := defaultConfig()
	for _, opt := range opts {
		opt(&c)
	}
	return c, c.validate()
}
