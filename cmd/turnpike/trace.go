package main

import (
	"encoding/json"
	"fmt"

	"github.com/aretw0/turnpike/internal/cli"
	"github.com/aretw0/turnpike/internal/config"
	"github.com/aretw0/turnpike/internal/presentation/tui"
	"github.com/spf13/cobra"
)

var traceCmd = &cobra.Command{
	Use:   "trace <conversation-id>",
	Short: "Print the audit trace of a conversation",
	Long: `Reconstructs the steps of every turn of a conversation from the audit log.
Only persistent audit backends (sqlite) retain records between runs.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger := newLogger(cfg)
		if cfg.Audit.Backend == config.BackendMemory {
			logger.Warn("The memory audit backend is empty at startup; configure audit.backend=sqlite")
		}

		rt, err := cli.Build(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer rt.Close()

		trace, err := rt.Engine.Trace(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("trace failed: %w", err)
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(trace)
		}
		tui.PrintTrace(cmd.OutOrStdout(), trace)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(traceCmd)
	traceCmd.Flags().Bool("json", false, "Print the trace as JSON")
}
