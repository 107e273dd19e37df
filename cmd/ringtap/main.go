package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/chaz8081/ringtap/internal/config"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "ringtap",
	Short: "Collect raw sensor telemetry from a BLE smart ring",
	Long: `ringtap connects to a Colmi-family smart ring (R02, R03, R06), streams its
raw SpO2, PPG and accelerometer frames, uploads them in batches to a collector
and writes a local export of every session.`,
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging(cmd)
	},
}

var (
	configPath string
	logLevel   string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default: ~/.config/ringtap/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides config")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(periodicCmd)
	rootCmd.AddCommand(decodeCmd)
	rootCmd.AddCommand(commandsCmd)
	rootCmd.AddCommand(initCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads the config file. With no --config, a missing default
// file means defaults.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath == "" {
		cfg, err = config.LoadOrDefault(config.DefaultConfigPath())
	} else {
		cfg, err = config.Load(configPath)
	}
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func setupLogging(cmd *cobra.Command) error {
	level := logLevel
	if level == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		level = cfg.LogLevel
	}
	switch level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", level)
	}
	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: config.ParseLogLevel(level)})
	slog.SetDefault(slog.New(handler))
	return nil
}
