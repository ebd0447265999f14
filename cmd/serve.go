package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"lock-credential-bridge/internal/api"
	"lock-credential-bridge/internal/bridge"
	"lock-credential-bridge/internal/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and progress feed",
	Long: `Resolve the configured project and serve the HTTP API until interrupted.
Bulk operation progress is streamed on /api/v1/ws.`,
	RunE: runServeCommand,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServeCommand(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	manager, err := bridge.NewManager(ctx, cfg, logger, bridge.WithProgressHub(api.NewProgressHub(logger)))
	if err != nil {
		return err
	}
	defer manager.Close()

	logging.NewServiceLogger(logger, "main").WithField("project_id", cfg.ProjectID).Info("Bridge starting up")

	if err := manager.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
