package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rendis/applogic/internal/logging"
)

var (
	cfg    Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "applogic",
	Short: "Sandboxed action logic engine for simulated apps",
	Long: `applogic interprets the declarative action logic of simulated apps:
validate bundles, run single actions, enumerate and draw control-flow paths,
run test suites with coverage, and serve apps over HTTP or MCP.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		settings, _ := cmd.Flags().GetString("settings")
		var err error
		if cfg, err = loadConfig(settings, os.Getenv); err != nil {
			return err
		}
		if err := applyFlags(cmd.Flags(), &cfg); err != nil {
			return err
		}
		level, err := logging.ParseLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		if logger, err = logging.New(os.Stderr, level, cfg.LogFormat); err != nil {
			return err
		}
		slog.SetDefault(logger)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("settings", defaultSettingsPath(), "settings file")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "text", "log format: text or json")
}
