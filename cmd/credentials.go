package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"lock-credential-bridge/internal/credentials"
	"lock-credential-bridge/internal/types"
)

var parseCmd = &cobra.Command{
	Use:   "parse [text...]",
	Short: "Validate and normalize card UIDs",
	Long: `Parse card UIDs separated by commas, semicolons, newlines or spaces.
Reads standard input when no text and no --file is given.`,
	RunE: runParseCommand,
}

var assignCmd = &cobra.Command{
	Use:   "assign",
	Short: "Assign card credentials to locks",
	RunE:  runAssignCommand,
}

var unassignCmd = &cobra.Command{
	Use:   "unassign",
	Short: "Remove card credentials from locks",
	Long: `Remove the given card credentials from the selected locks. Without any
credential every occupied slot of the selected locks is cleared.`,
	RunE: runUnassignCommand,
}

var (
	credentialFile string
	deviceIDs      []string
	uidText        string
	assignMaster   bool
)

func init() {
	parseCmd.Flags().StringVar(&credentialFile, "file", "", "read credentials from file")

	for _, cmd := range []*cobra.Command{assignCmd, unassignCmd} {
		cmd.Flags().StringSliceVar(&deviceIDs, "devices", nil, "canonical ids of the locks to operate on (required)")
		cmd.Flags().StringVar(&uidText, "uids", "", "card UIDs, comma or whitespace separated")
		cmd.Flags().StringVar(&credentialFile, "file", "", "read card UIDs from file")
		cmd.MarkFlagRequired("devices")
	}
	assignCmd.Flags().BoolVar(&assignMaster, "master", false, "assign a single UID to the reserved master slot")

	rootCmd.AddCommand(parseCmd, assignCmd, unassignCmd)
}

func runParseCommand(cmd *cobra.Command, args []string) error {
	text := strings.Join(args, "\n")
	if len(args) == 0 && credentialFile == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read standard input: %w", err)
		}
		text = string(data)
	}
	if credentialFile != "" {
		fileText, err := readCredentialFile()
		if err != nil {
			return err
		}
		text += "\n" + fileText
	}

	return printJSON(credentials.Parse(text))
}

func runAssignCommand(cmd *cobra.Command, args []string) error {
	uids, err := collectUIDs()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	manager, _, err := newManager(ctx)
	if err != nil {
		return err
	}
	defer manager.Close()

	devices, err := manager.Select(ctx, deviceIDs)
	if err != nil {
		return err
	}

	var report *types.BulkOperationReport
	if assignMaster {
		if len(uids) != 1 {
			return fmt.Errorf("master assignment takes exactly one UID, got %d", len(uids))
		}
		report, err = manager.Engine().AssignMaster(ctx, devices, uids[0])
	} else {
		report, err = manager.Engine().Assign(ctx, devices, uids)
	}
	if err != nil {
		return err
	}
	return finishReport(report)
}

func runUnassignCommand(cmd *cobra.Command, args []string) error {
	uids, err := collectUIDs()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	manager, _, err := newManager(ctx)
	if err != nil {
		return err
	}
	defer manager.Close()

	devices, err := manager.Select(ctx, deviceIDs)
	if err != nil {
		return err
	}

	report, err := manager.Engine().Unassign(ctx, devices, uids)
	if err != nil {
		return err
	}
	return finishReport(report)
}

// collectUIDs parses --uids and --file together and rejects invalid tokens
func collectUIDs() ([]string, error) {
	text := uidText
	if credentialFile != "" {
		fileText, err := readCredentialFile()
		if err != nil {
			return nil, err
		}
		text += "\n" + fileText
	}

	parsed := credentials.Parse(text)
	if len(parsed.Invalid) > 0 {
		return nil, fmt.Errorf("invalid card UIDs: %s", strings.Join(parsed.Invalid, ", "))
	}
	return parsed.Valid, nil
}

func readCredentialFile() (string, error) {
	data, err := os.ReadFile(credentialFile)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", credentialFile, err)
	}
	return string(data), nil
}

// finishReport prints the report and fails the command unless every device succeeded
func finishReport(report *types.BulkOperationReport) error {
	if err := printJSON(report); err != nil {
		return err
	}
	if report.AuthErrorDetected {
		return fmt.Errorf("upstream session expired, refresh upstream.api_token and retry")
	}
	if !report.Success {
		return fmt.Errorf("operation %s finished with outcome %s", report.ID, report.Outcome())
	}
	return nil
}
