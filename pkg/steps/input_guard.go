package steps

import (
	"context"
	"strings"

	"github.com/aretw0/turnpike/pkg/domain"
	"github.com/aretw0/turnpike/pkg/pipeline"
)

// DefaultClarifyMessage is returned when the user sends nothing.
const DefaultClarifyMessage = "Sorry, I didn't catch that. Could you rephrase?"

// InputGuard stops the turn when the utterance is blank.
type InputGuard struct {
	message string
}

// NewInputGuard creates the guard. An empty message selects DefaultClarifyMessage.
func NewInputGuard(message string) *InputGuard {
	if message == "" {
		message = DefaultClarifyMessage
	}
	return &InputGuard{message: message}
}

func (*InputGuard) Name() string   { return InputGuardName }
func (*InputGuard) Source() string { return source }

func (*InputGuard) Ordering() pipeline.Ordering {
	return pipeline.Ordering{Before: []string{LoadConversationName}}
}

func (g *InputGuard) Execute(_ context.Context, s *domain.EngineSession) (domain.StepResult, error) {
	if strings.TrimSpace(s.UserText) != "" {
		return domain.Continue(), nil
	}
	s.Output = domain.TextOutput(g.message)
	return domain.Stop(s.Result()), nil
}
