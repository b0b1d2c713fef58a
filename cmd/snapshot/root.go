package snapshot

import (
	"github.com/ValentinKolb/dColl/cmd/util"
	"github.com/ValentinKolb/dColl/lib/scalable"
	"github.com/spf13/cobra"
)

var SnapshotCommands = &cobra.Command{
	Use:   "snapshot",
	Short: "Create and inspect object store snapshots",
}

// the demo collections use these instantiations
func init() {
	scalable.RegisterHashMap[string, int]()
	scalable.RegisterHashSet[string]()
	scalable.RegisterDeque[string]()

	SnapshotCommands.AddCommand(infoCmd, demoCmd, inspectCmd)

	key := "json"
	infoCmd.Flags().Bool(key, false, util.WrapString("Print the summary as JSON"))

	key = "entries"
	demoCmd.Flags().Int(key, 1000, util.WrapString("Number of entries written to each demo collection"))

	key = "map"
	inspectCmd.Flags().String(key, demoMapName, util.WrapString("Binding name of the map (map[string]int) to inspect"))
	key = "set"
	inspectCmd.Flags().String(key, demoSetName, util.WrapString("Binding name of the set (set[string]) to inspect"))
	key = "deque"
	inspectCmd.Flags().String(key, demoDequeName, util.WrapString("Binding name of the deque (deque[string]) to inspect"))
}
