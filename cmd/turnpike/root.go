package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/turnpike/internal/config"
	"github.com/aretw0/turnpike/internal/logging"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "turnpike",
	Short: "Turnpike runs rule-driven conversational turns",
	Long: `Turnpike processes each user utterance through a fixed pipeline of steps
driven by a YAML catalog of rules, responses and schemas, and keeps an
append-only audit trail of every turn.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().String("config", "turnpike.yaml", "Configuration file (YAML)")
	rootCmd.PersistentFlags().String("catalog", "", "Catalog file or directory (overrides catalog.path)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (overrides log.level)")
}

// loadConfig resolves the configuration of a command: file and environment
// first, then explicit flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	var (
		cfg *config.Config
		err error
	)
	if cmd.Flags().Changed("config") {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadDefault(path)
	}
	if err != nil {
		return nil, err
	}

	if catalog, _ := cmd.Flags().GetString("catalog"); catalog != "" {
		cfg.Catalog.Path = catalog
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	return logging.New(level)
}
