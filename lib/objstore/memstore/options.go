package memstore

import (
	"runtime"
	"time"

	"github.com/ValentinKolb/dColl/lib/common"
	"github.com/ValentinKolb/dColl/lib/objstore"
)

// Options configures the Store during initialization
type Options struct {
	Shards          int            // Number of record table shards (0 = number of CPUs)
	Codec           objstore.Codec // Object and task codec (nil = gob)
	TaskInterval    time.Duration  // Background runner interval (0 = no runner, drain manually)
	MaxRetries      int            // Conflict retries per Transact call
	MaxTaskAttempts int            // Runs of a failing task before it is dropped
	LoggerName      string         // Name of the logger (see common.Logger)
}

// DefaultOptions returns the default options: no background runner, gob codec
func DefaultOptions() *Options {
	return &Options{
		Shards:          runtime.NumCPU(),
		Codec:           objstore.NewGOBCodec(),
		TaskInterval:    0,
		MaxRetries:      8,
		MaxTaskAttempts: 3,
		LoggerName:      common.LoggerMemstore,
	}
}

// withDefaults fills unset fields
func (o *Options) withDefaults() *Options {
	d := DefaultOptions()
	if o == nil {
		return d
	}
	c := *o
	if c.Shards <= 0 {
		c.Shards = d.Shards
	}
	if c.Codec == nil {
		c.Codec = d.Codec
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.MaxTaskAttempts <= 0 {
		c.MaxTaskAttempts = d.MaxTaskAttempts
	}
	if c.LoggerName == "" {
		c.LoggerName = d.LoggerName
	}
	return &c
}
