package bench

import (
	"strings"

	"github.com/ValentinKolb/dColl/cmd/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	BenchCmd = &cobra.Command{
		Use:   "bench",
		Short: "Throughput benchmarks of the collections",
		Long: `Runs map, set and deque operations against an in-memory object store and
reports the time per operation. The collection and store flags of the root
command apply (e.g. --split-threshold, --min-concurrency, --hash).`,
		PreRunE: processBenchConfig,
		RunE:    run,
	}
	benchThreads     = 8
	benchKeySpread   = 10000
	benchSkip        = make([]string, 0)
	benchCSV         = ""
	benchMetrics     = false
	benchDiagnostics = false
)

func init() {
	// add flags
	key := "skip"
	BenchCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. map-put,deque)"))
	key = "threads"
	BenchCmd.Flags().Int(key, 8, util.WrapString("Number of goroutines for the parallel benchmarks"))
	key = "keys"
	BenchCmd.Flags().Int(key, 10000, util.WrapString("How many different keys to use for the tests"))
	key = "csv"
	BenchCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
	key = "metrics"
	BenchCmd.Flags().Bool(key, false, util.WrapString("Print the object store metrics in Prometheus format after the run"))
	key = "diagnostics"
	BenchCmd.Flags().Bool(key, false, util.WrapString("Print the shape of the benchmark map after the run"))
}

func processBenchConfig(cmd *cobra.Command, _ []string) error {
	if err := util.BindFlags(cmd); err != nil {
		return err
	}

	benchThreads = viper.GetInt("threads")
	benchKeySpread = max(viper.GetInt("keys"), 1)
	benchSkip = strings.Split(viper.GetString("skip"), ",")
	benchCSV = viper.GetString("csv")
	benchMetrics = viper.GetBool("metrics")
	benchDiagnostics = viper.GetBool("diagnostics")
	return nil
}
