package tui

import (
	"fmt"
	"io"

	"github.com/aretw0/turnpike/pkg/domain"
	"github.com/muesli/termenv"
)

// PrintTrace writes a conversation trace as a tree of steps and their
// audit stages. Colors are only emitted when w is a color terminal.
func PrintTrace(w io.Writer, trace *domain.Trace) {
	out := termenv.NewOutput(w)

	fmt.Fprintf(w, "%s %s (%d records, %d steps)\n",
		out.String("Conversation").Bold(),
		trace.ConversationID,
		len(trace.Stages),
		len(trace.Steps),
	)
	for i, step := range trace.Steps {
		branch, indent := "├─", "│ "
		if i == len(trace.Steps)-1 {
			branch, indent = "└─", "  "
		}
		fmt.Fprintf(w, "%s %-22s %s %6dms\n", branch, step.Name, statusLabel(out, step.Status), step.DurationMs)
		if step.Error != "" {
			fmt.Fprintf(w, "%s   %s\n", indent, out.String(step.Error).Foreground(out.Color("#fb7185")))
		}
		for _, stage := range step.Stages {
			switch stage.Stage {
			case domain.StageStepEnter, domain.StageStepExit:
				continue
			}
			fmt.Fprintf(w, "%s   %s %s\n", indent, out.String("·").Faint(), stage.Stage)
		}
	}
}

func statusLabel(out *termenv.Output, s domain.StepStatus) termenv.Style {
	label := fmt.Sprintf("%-7s", s)
	switch s {
	case domain.StepOK:
		return out.String(label).Foreground(out.Color("#4ade80"))
	case domain.StepError:
		return out.String(label).Foreground(out.Color("#f87171")).Bold()
	default:
		return out.String(label).Foreground(out.Color("#facc15"))
	}
}
