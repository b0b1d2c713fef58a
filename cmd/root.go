package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dColl/cmd/bench"
	"github.com/ValentinKolb/dColl/cmd/snapshot"
	"github.com/ValentinKolb/dColl/cmd/util"
	"github.com/ValentinKolb/dColl/lib/common"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dcoll",
		Short: "scalable persistent collections",
		Long: fmt.Sprintf(`dColl (v%s)

Scalable persistent collections (hash map, hash set, deque) for a
transactional object store, written in Go. The collections spread their
content over many small objects so that independent transactions can
modify disjoint parts of the same collection.`, Version),
		SilenceUsage:      true,
		PersistentPreRunE: initialize,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dColl",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dColl v%s\n", Version)
		},
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(bench.BenchCmd)
	RootCmd.AddCommand(snapshot.SnapshotCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	util.SetupConfigFlags(RootCmd)
}

// initialize binds the flags to viper and sets up the loggers
func initialize(cmd *cobra.Command, _ []string) error {
	if err := util.BindFlags(cmd); err != nil {
		return err
	}
	conf := util.GetConfig()
	if err := common.InitLoggers(conf); err != nil {
		return err
	}
	common.Logger(common.LoggerCmd).Debugf("configuration:%s", conf.String())
	return nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
