package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve [project-id]",
	Short: "List the locks of a project",
	Long: `Resolve every lock of a project from the device-management service and
print the registry. Without an argument the configured project is used.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runResolveCommand,
}

var resolveJSON bool

func init() {
	resolveCmd.Flags().BoolVar(&resolveJSON, "json", false, "print the full device records as JSON")
	rootCmd.AddCommand(resolveCmd)
}

func runResolveCommand(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	manager, _, err := newManager(ctx)
	if err != nil {
		return err
	}
	defer manager.Close()

	var projectID string
	if len(args) == 1 {
		projectID = args[0]
	}

	snapshot, err := manager.Resolve(ctx, projectID)
	if err != nil {
		return err
	}

	if resolveJSON {
		return printJSON(snapshot.Devices())
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tLABEL\tGATEWAY\tSPACE\tSLOTS\tWRITABLE")
	for _, d := range snapshot.Devices() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%t\n",
			d.CanonicalID, d.DisplayLabel, d.GatewayID, d.SpaceName, len(d.OccupiedSlots()), d.Writable())
	}
	if err := w.Flush(); err != nil {
		return err
	}

	stats := snapshot.Stats()
	fmt.Printf("\n%d devices in %d spaces (%d spaces failed, %d gateways backfilled, %d not writable)\n",
		stats.Devices, stats.Spaces, stats.SpacesFailed, stats.Backfilled, stats.NotWritable)
	return nil
}
