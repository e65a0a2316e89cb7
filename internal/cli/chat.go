package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/aretw0/turnpike"
	"github.com/aretw0/turnpike/internal/presentation/tui"
)

// ChatOptions configures an interactive chat session.
type ChatOptions struct {
	ConversationID string
	Headless       bool
	Input          io.Reader
	Output         io.Writer
}

// RunChat feeds lines from the input to the engine as turns of one
// conversation. Markdown replies are rendered when the output is a terminal.
func RunChat(ctx context.Context, rt *Runtime, opts ChatOptions) error {
	if opts.ConversationID == "" {
		return fmt.Errorf("a conversation id is required")
	}

	r := turnpike.NewRunner()
	r.Input = opts.Input
	r.Output = opts.Output
	r.Headless = opts.Headless

	interactive := !opts.Headless && tui.IsTerminal(opts.Output)
	if interactive {
		tui.PrintBanner(opts.Output, turnpike.Version)
		if render, err := tui.NewRenderer(); err == nil {
			r.Renderer = render
		} else {
			rt.logger.Warn("Markdown rendering disabled", "err", err)
		}
	}

	if rt.Config != nil && rt.Config.Catalog.Watch {
		watchCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := rt.Catalog.Watch(watchCtx); err != nil {
				rt.logger.Error("Catalog watcher stopped", "err", err)
			}
		}()
	}

	rt.logger.Debug("Chat started", "conversation_id", opts.ConversationID, "interactive", interactive)
	return r.Run(ctx, rt.Engine, opts.ConversationID)
}
