package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"lock-credential-bridge/internal/database"
	"lock-credential-bridge/internal/types"
)

var operationsCmd = &cobra.Command{
	Use:   "operations",
	Short: "Inspect the operation journal",
}

var operationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent bulk operations",
	RunE:  withJournal(listOperations),
}

var operationsShowCmd = &cobra.Command{
	Use:   "show <operation-id>",
	Short: "Print the full report of an operation",
	Args:  cobra.ExactArgs(1),
	RunE:  withJournal(showOperation),
}

var operationsHistoryCmd = &cobra.Command{
	Use:   "history <uid>",
	Short: "List every journaled outcome of a card UID",
	Args:  cobra.ExactArgs(1),
	RunE:  withJournal(showHistory),
}

var operationsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete operations older than a retention period",
	RunE:  withJournal(pruneOperations),
}

var operationsPublishedCmd = &cobra.Command{
	Use:   "published",
	Short: "List reports retained in the Redis report list",
	RunE:  listPublished,
}

var (
	listOperation string
	listLimit     int
	historyLimit  int
	pruneAge      time.Duration
	publishedMax  int64
)

func init() {
	operationsListCmd.Flags().StringVar(&listOperation, "operation", "", "only list assign, assign_master or unassign operations")
	operationsListCmd.Flags().IntVar(&listLimit, "limit", 20, "maximum number of operations")
	operationsHistoryCmd.Flags().IntVar(&historyLimit, "limit", 50, "maximum number of outcomes")
	operationsPruneCmd.Flags().DurationVar(&pruneAge, "older-than", 30*24*time.Hour, "retention period")
	operationsPublishedCmd.Flags().Int64Var(&publishedMax, "limit", 20, "maximum number of reports")

	operationsCmd.AddCommand(operationsListCmd, operationsShowCmd, operationsHistoryCmd, operationsPruneCmd, operationsPublishedCmd)
	rootCmd.AddCommand(operationsCmd)
}

// withJournal opens the bridge and hands its journal to fn
func withJournal(fn func(cmd *cobra.Command, args []string, journal *database.DB) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		manager, _, err := newManager(cmd.Context())
		if err != nil {
			return err
		}
		defer manager.Close()

		if manager.Journal() == nil {
			return fmt.Errorf("operation journal is disabled, set journal.enabled")
		}
		return fn(cmd, args, manager.Journal())
	}
}

func listOperations(cmd *cobra.Command, args []string, journal *database.DB) error {
	records, err := journal.ListOperations(cmd.Context(), database.OperationFilter{
		Operation: types.OperationKind(listOperation),
		Limit:     listLimit,
	})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tOPERATION\tOUTCOME\tSTARTED\tDEVICES\tRESULTS")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\n",
			r.ID, r.Operation, r.Outcome, r.StartedAt.Local().Format(time.RFC3339), r.DeviceCount, r.ResultCount)
	}
	return w.Flush()
}

func showOperation(cmd *cobra.Command, args []string, journal *database.DB) error {
	report, err := journal.GetOperation(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printJSON(report)
}

func showHistory(cmd *cobra.Command, args []string, journal *database.DB) error {
	history, err := journal.CredentialHistory(cmd.Context(), args[0], historyLimit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RECORDED\tOPERATION\tDEVICE\tSTATUS\tSLOT\tMESSAGE")
	for _, o := range history {
		slot := "-"
		if o.Slot != nil {
			slot = strconv.Itoa(*o.Slot)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			o.RecordedAt.Local().Format(time.RFC3339), o.Operation, o.DeviceID, o.Status, slot, o.Message)
	}
	return w.Flush()
}

func pruneOperations(cmd *cobra.Command, args []string, journal *database.DB) error {
	removed, err := journal.Prune(cmd.Context(), time.Now().Add(-pruneAge))
	if err != nil {
		return err
	}
	fmt.Printf("Pruned %d operations\n", removed)
	return nil
}

func listPublished(cmd *cobra.Command, args []string) error {
	manager, _, err := newManager(cmd.Context())
	if err != nil {
		return err
	}
	defer manager.Close()

	publisher := manager.Publisher()
	if publisher == nil {
		return fmt.Errorf("report publisher is disabled, set redis.enabled")
	}

	retained, err := publisher.Length(cmd.Context())
	if err != nil {
		return err
	}
	messages, err := publisher.Recent(cmd.Context(), publishedMax)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tOPERATION\tOUTCOME\tPUBLISHED")
	for _, m := range messages {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.ID, m.Operation, m.Outcome, m.Timestamp.Local().Format(time.RFC3339))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d of %d retained reports shown\n", len(messages), retained)
	return nil
}
