package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/aretw0/turnpike/internal/cli"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Starts the engine behind an HTTP API:

  POST /conversations/{id}/turns   process a turn
  GET  /conversations/{id}/trace   reconstructed audit trace
  GET  /conversations/{id}/events  live audit stream (SSE)
  GET  /metrics                    Prometheus metrics`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Server.Addr = addr
		}
		if watch, _ := cmd.Flags().GetBool("watch"); watch {
			cfg.Catalog.Watch = true
		}
		logger := newLogger(cfg)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rt, err := cli.Build(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := rt.Close(); err != nil {
				logger.Error("Shutdown failed", "err", err)
			}
		}()

		ln, err := net.Listen("tcp", cfg.Server.Addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", cfg.Server.Addr, err)
		}
		logger.Info("Serving catalog", "path", cfg.Catalog.Path, "watch", cfg.Catalog.Watch)
		return cli.Serve(ctx, rt, ln)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Address to listen on (overrides server.addr)")
	serveCmd.Flags().BoolP("watch", "w", false, "Reload the catalog when its files change")
}
