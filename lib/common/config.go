package common

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Configuration struct
// --------------------------------------------------------------------------

// Config holds all parameters of the CLI: logging, the memstore and the defaults
// for newly created collections. It is filled from flags, DCOLL_* environment
// variables and an optional .env file.
type Config struct {
	// Logging configuration
	LogLevel  string
	LogFormat string

	// memstore parameters
	Shards       int
	TaskInterval time.Duration
	MaxRetries   int

	// collection defaults
	MinConcurrency int
	SplitThreshold int
	MergeThreshold int // 0 = split threshold / 3
	DirectorySize  int
	HashFunc       string
	ClearBatchSize int
}

// DefaultConfig returns the configuration used when nothing is set
func DefaultConfig() Config {
	return Config{
		LogLevel:       "info",
		LogFormat:      "console",
		Shards:         runtime.NumCPU(),
		TaskInterval:   10 * time.Millisecond,
		MaxRetries:     8,
		MinConcurrency: 32,
		SplitThreshold: 98,
		DirectorySize:  2,
		HashFunc:       "xxhash",
		ClearBatchSize: 16,
	}
}

// String returns a formatted string representation of the configuration
func (c *Config) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Logging")
	addField("Log Level", c.LogLevel)
	addField("Log Format", c.LogFormat)

	addSection("Object Store")
	addField("Shards", fmt.Sprintf("%d", c.Shards))
	if c.TaskInterval > 0 {
		addField("Task Interval", c.TaskInterval.String())
	} else {
		addField("Task Interval", "manual")
	}
	addField("Max Retries", fmt.Sprintf("%d", c.MaxRetries))

	addSection("Collections")
	addField("Min Concurrency", fmt.Sprintf("%d", c.MinConcurrency))
	addField("Split Threshold", fmt.Sprintf("%d", c.SplitThreshold))
	if c.MergeThreshold > 0 {
		addField("Merge Threshold", fmt.Sprintf("%d", c.MergeThreshold))
	} else {
		addField("Merge Threshold", fmt.Sprintf("%d (split / 3)", c.SplitThreshold/3))
	}
	addField("Directory Size", fmt.Sprintf("%d", c.DirectorySize))
	addField("Hash Function", c.HashFunc)
	addField("Clear Batch Size", fmt.Sprintf("%d", c.ClearBatchSize))

	return sb.String()
}
