package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/aretw0/turnpike/internal/cli"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat [conversation-id]",
	Short: "Chat with the engine from the terminal",
	Long:  `Reads one utterance per line and prints the reply of each turn. Type 'exit' to quit.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if watch, _ := cmd.Flags().GetBool("watch"); watch {
			cfg.Catalog.Watch = true
		}
		headless, _ := cmd.Flags().GetBool("headless")
		logger := newLogger(cfg)

		conversationID := uuid.NewString()
		if len(args) > 0 {
			conversationID = args[0]
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rt, err := cli.Build(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer rt.Close()

		return cli.RunChat(ctx, rt, cli.ChatOptions{
			ConversationID: conversationID,
			Headless:       headless,
			Input:          os.Stdin,
			Output:         os.Stdout,
		})
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().Bool("headless", false, "No banner, prompts or markdown rendering")
	chatCmd.Flags().BoolP("watch", "w", false, "Reload the catalog when its files change")
}
