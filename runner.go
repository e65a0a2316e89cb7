package turnpike

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aretw0/turnpike/pkg/domain"
)

// Runner handles an interactive chat loop over the engine using provided IO.
// This allows for easy testing and integration with different frontends (CLI, TUI, etc).
type Runner struct {
	Input    io.Reader
	Output   io.Writer
	Headless bool
	Renderer ContentRenderer
}

// ContentRenderer is a function that transforms the content before outputting it.
// This allows for TUI rendering (markdown to ANSI) without coupling the core package.
type ContentRenderer func(string) (string, error)

// NewRunner creates a Runner. Input and Output must be set before Run.
func NewRunner() *Runner {
	return &Runner{}
}

// Run reads one utterance per line and processes it as a turn of the
// conversation until EOF, "exit" or "quit". Recoverable engine errors are
// reported and the loop continues; others end the run.
func (r *Runner) Run(ctx context.Context, engine *Engine, conversationID string) error {
	if r.Input == nil {
		return fmt.Errorf("input reader must be set (use os.Stdin)")
	}
	if r.Output == nil {
		return fmt.Errorf("output writer must be set (use os.Stdout)")
	}
	lineReader := bufio.NewReader(r.Input)
	writer := r.Output

	if !r.Headless {
		fmt.Fprintf(writer, "--- Turnpike chat (%s) ---\n", conversationID)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if !r.Headless {
			fmt.Fprint(writer, "> ")
		}
		text, err := lineReader.ReadString('\n')
		if err != nil && err != io.EOF {
			return fmt.Errorf("input error: %w", err)
		}
		eof := err == io.EOF
		input := strings.TrimSpace(text)

		if input == "exit" || input == "quit" {
			if !r.Headless {
				fmt.Fprintln(writer, "Bye!")
			}
			return nil
		}
		if eof && input == "" {
			return nil
		}

		result, err := engine.Process(ctx, domain.EngineContext{
			ConversationID: conversationID,
			UserText:       input,
		})
		if err != nil {
			if ee, ok := domain.AsEngineError(err); ok && ee.Recoverable {
				fmt.Fprintf(writer, "[%s] %v\n", ee.Code, ee.Err)
				if eof {
					return nil
				}
				continue
			}
			return fmt.Errorf("turn error: %w", err)
		}

		r.print(writer, result)
		engine.Flush()
		if eof {
			return nil
		}
	}
}

func (r *Runner) print(w io.Writer, result domain.EngineResult) {
	output := result.Output.Text()
	if output == "" {
		return
	}
	if r.Renderer != nil && result.Output.Kind() == domain.OutputText {
		if rendered, err := r.Renderer(output); err == nil {
			output = rendered
		}
	}
	fmt.Fprintln(w, strings.TrimSpace(output))
}
