package steps

import (
	"context"

	"github.com/aretw0/turnpike/pkg/domain"
	"github.com/aretw0/turnpike/pkg/pipeline"
	"github.com/aretw0/turnpike/pkg/ports"
	"github.com/aretw0/turnpike/pkg/rules"
)

// RuleStep applies the rules of one phase.
type RuleStep struct {
	name       string
	phase      domain.Phase
	firstMatch bool
	after      []string
	store      ports.RuleStore
	applier    *rules.Applier
}

// NewRuleStep creates a step applying the rules of phase. With firstMatch
// set only the first matching rule applies.
func NewRuleStep(name string, phase domain.Phase, firstMatch bool, store ports.RuleStore, applier *rules.Applier, after ...string) *RuleStep {
	return &RuleStep{
		name:       name,
		phase:      phase,
		firstMatch: firstMatch,
		after:      after,
		store:      store,
		applier:    applier,
	}
}

func (r *RuleStep) Name() string   { return r.name }
func (r *RuleStep) Source() string { return source }

func (r *RuleStep) Ordering() pipeline.Ordering {
	return pipeline.Ordering{After: r.after}
}

func (r *RuleStep) Execute(ctx context.Context, s *domain.EngineSession) (domain.StepResult, error) {
	list, err := r.store.Rules(ctx, r.phase)
	if err != nil {
		return domain.StepResult{}, domain.NewEngineError(domain.CodeStoreUnavailable, "load "+string(r.phase)+" rules", err)
	}
	r.applier.Apply(ctx, s, list, r.firstMatch)
	return domain.Continue(), nil
}
