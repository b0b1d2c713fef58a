package util

import (
	"strings"
	"time"

	"github.com/ValentinKolb/dColl/lib/common"
	"github.com/ValentinKolb/dColl/lib/objstore/memstore"
	"github.com/ValentinKolb/dColl/lib/scalable"
	"github.com/ValentinKolb/dColl/lib/util"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupConfigFlags adds the logging, store and collection flags to a command
func SetupConfigFlags(cmd *cobra.Command) {
	d := common.DefaultConfig()

	key := "log-level"
	cmd.PersistentFlags().String(key, d.LogLevel, WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	key = "log-format"
	cmd.PersistentFlags().String(key, d.LogFormat, WrapString("Format of the log output (console, json)"))

	key = "shards"
	cmd.PersistentFlags().Int(key, d.Shards, WrapString("Number of shards of the in-memory object store"))

	key = "task-interval"
	cmd.PersistentFlags().Duration(key, d.TaskInterval, WrapString("Interval of the background task runner of the object store (0 = run tasks only on demand)"))

	key = "max-retries"
	cmd.PersistentFlags().Int(key, d.MaxRetries, WrapString("How many times a transaction is retried after losing a conflict"))

	key = "min-concurrency"
	cmd.PersistentFlags().Int(key, d.MinConcurrency, WrapString("Minimum number of independently writable leaves of a new map or set"))

	key = "split-threshold"
	cmd.PersistentFlags().Int(key, d.SplitThreshold, WrapString("Number of entries above which a leaf is split"))

	key = "merge-threshold"
	cmd.PersistentFlags().Int(key, d.MergeThreshold, WrapString("Combined number of entries at which two leaves are merged (0 = split threshold / 3)"))

	key = "directory-size"
	cmd.PersistentFlags().Int(key, d.DirectorySize, WrapString("Factor the directory grows by (rounded down to a power of two)"))

	key = "hash"
	cmd.PersistentFlags().String(key, d.HashFunc, WrapString("Hash function for keys (xxhash, murmur3, siphash)"))

	key = "clear-batch"
	cmd.PersistentFlags().Int(key, d.ClearBatchSize, WrapString("Number of objects a background clear task releases per run"))
}

// InitConfig initializes configuration from environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("dcoll")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindFlags binds the flags of cmd (including the inherited persistent flags) to viper
func BindFlags(cmd *cobra.Command) error {
	if err := viper.BindPFlags(cmd.InheritedFlags()); err != nil {
		return err
	}
	return viper.BindPFlags(cmd.Flags())
}

// GetConfig reads the configuration from viper
func GetConfig() common.Config {
	return common.Config{
		LogLevel:       viper.GetString("log-level"),
		LogFormat:      viper.GetString("log-format"),
		Shards:         viper.GetInt("shards"),
		TaskInterval:   viper.GetDuration("task-interval"),
		MaxRetries:     viper.GetInt("max-retries"),
		MinConcurrency: viper.GetInt("min-concurrency"),
		SplitThreshold: viper.GetInt("split-threshold"),
		MergeThreshold: viper.GetInt("merge-threshold"),
		DirectorySize:  viper.GetInt("directory-size"),
		HashFunc:       viper.GetString("hash"),
		ClearBatchSize: viper.GetInt("clear-batch"),
	}
}

// NewStore creates an in-memory object store from the configuration
func NewStore(conf common.Config) *memstore.Store {
	opts := memstore.DefaultOptions()
	opts.Shards = conf.Shards
	opts.TaskInterval = conf.TaskInterval
	opts.MaxRetries = conf.MaxRetries
	return memstore.New(opts)
}

// CollectionOptions converts the collection defaults of the configuration
func CollectionOptions(conf common.Config) []scalable.Option {
	return []scalable.Option{
		scalable.WithMinConcurrency(conf.MinConcurrency),
		scalable.WithSplitThreshold(conf.SplitThreshold),
		scalable.WithMergeThreshold(conf.MergeThreshold),
		scalable.WithDirectorySize(conf.DirectorySize),
		scalable.WithHash(util.HashFunc(conf.HashFunc)),
		scalable.WithClearBatchSize(conf.ClearBatchSize),
	}
}

// Elapsed formats the time since start for command output
func Elapsed(start time.Time) string {
	return time.Since(start).Round(time.Microsecond).String()
}
