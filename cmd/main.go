package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"lock-credential-bridge/internal/bridge"
	"lock-credential-bridge/internal/config"
	"lock-credential-bridge/internal/logging"
)

var (
	configFile string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "lock-credential-bridge",
	Short: "Bulk card credential management for smart locks",
	Long: `Resolves the smart locks of a project from the device-management service
and assigns or removes card credentials across many locks at once. Every
bulk operation produces a per-credential report that is journaled and can be
published to Redis.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error), overrides the config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration and sets up logging from it
func loadConfig() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logger := logging.Initialize(cfg.LogLevel)
	if cfg.LogFile != "" {
		if err := logging.SetupFileLogging(logger, cfg.LogFile); err != nil {
			return nil, nil, fmt.Errorf("failed to set up file logging: %w", err)
		}
	}
	return cfg, logger, nil
}

// newManager loads the configuration and builds the bridge components
func newManager(ctx context.Context, opts ...bridge.ManagerOption) (*bridge.Manager, *config.Config, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	manager, err := bridge.NewManager(ctx, cfg, logger, opts...)
	if err != nil {
		return nil, nil, err
	}
	return manager, cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
