package pipeline

import (
	"context"

	"github.com/aretw0/turnpike/pkg/domain"
)

// Step is one unit of pipeline work operating on a session.
type Step interface {
	// Name is the logical name used by ordering declarations. It must be unique.
	Name() string
	// Execute returns Continue or Stop. Returning an error aborts the turn.
	Execute(ctx context.Context, s *domain.EngineSession) (domain.StepResult, error)
}

// Ordering lists the steps a step must run after and before.
type Ordering struct {
	After  []string
	Before []string
}

// Ordered is implemented by steps that carry their own ordering declaration.
type Ordered interface {
	Ordering() Ordering
}

// Sourced is implemented by steps that report where they come from.
// The source tag is carried in STEP_ENTER payloads.
type Sourced interface {
	Source() string
}

// StepFunc adapts a function to a Step.
type StepFunc struct {
	StepName string
	Fn       func(ctx context.Context, s *domain.EngineSession) (domain.StepResult, error)
}

func (f StepFunc) Name() string { return f.StepName }

func (f StepFunc) Execute(ctx context.Context, s *domain.EngineSession) (domain.StepResult, error) {
	return f.Fn(ctx, s)
}
