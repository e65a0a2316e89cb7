package steps

import (
	"context"
	"errors"

	"github.com/aretw0/turnpike/pkg/domain"
	"github.com/aretw0/turnpike/pkg/pipeline"
	"github.com/aretw0/turnpike/pkg/ports"
	"github.com/aretw0/turnpike/pkg/response"
)

// ResponseResolution is the terminal step: it resolves the response of the
// current intent and state and records the final result. Lookup falls back
// from (intent, state) to (intent, "") to the ("", "") default.
// When nothing matches, the turn ends without a result.
type ResponseResolution struct {
	store    ports.ResponseStore
	resolver *response.Resolver
	auditor  ports.Auditor
}

// NewResponseResolution creates the step.
func NewResponseResolution(store ports.ResponseStore, resolver *response.Resolver, auditor ports.Auditor) *ResponseResolution {
	if resolver == nil {
		resolver = response.NewResolver()
	}
	return &ResponseResolution{store: store, resolver: resolver, auditor: auditor}
}

func (*ResponseResolution) Name() string   { return ResponseResolutionName }
func (*ResponseResolution) Source() string { return source }

func (*ResponseResolution) Ordering() pipeline.Ordering {
	return pipeline.Ordering{After: []string{RuleEvaluationName}}
}

type responsePayload struct {
	Intent      string `json:"intent"`
	State       string `json:"state"`
	MatchIntent string `json:"matchIntent"`
	MatchState  string `json:"matchState"`
	Type        string `json:"type,omitempty"`
	Format      string `json:"format,omitempty"`
	Output      string `json:"output,omitempty"`
}

func (r *ResponseResolution) Execute(ctx context.Context, s *domain.EngineSession) (domain.StepResult, error) {
	tmpl, found, err := r.lookup(ctx, s.Intent, s.State)
	if err != nil {
		return domain.StepResult{}, domain.NewEngineError(domain.CodeStoreUnavailable, "load response", err)
	}
	if !found {
		r.auditor.Audit(ctx, domain.StageResponseMissing, s.ConversationID, responsePayload{Intent: s.Intent, State: s.State})
		return domain.Continue(), nil
	}

	out, err := r.resolver.Resolve(ctx, s, tmpl)
	if err != nil {
		return domain.StepResult{}, err
	}
	s.Output = out
	s.SetFinalResult(s.Result())

	r.auditor.Audit(ctx, domain.StageResponseResolved, s.ConversationID, responsePayload{
		Intent:      s.Intent,
		State:       s.State,
		MatchIntent: tmpl.Intent,
		MatchState:  tmpl.State,
		Type:        string(tmpl.Normalize().Type),
		Format:      string(tmpl.Normalize().Format),
		Output:      out.Kind().String(),
	})
	return domain.Continue(), nil
}

func (r *ResponseResolution) lookup(ctx context.Context, intent, state string) (domain.ResponseTemplate, bool, error) {
	candidates := [][2]string{{intent, state}, {intent, ""}, {"", ""}}
	seen := make(map[[2]string]bool, len(candidates))
	for _, c := range candidates {
		if seen[c] {
			continue
		}
		seen[c] = true

		tmpl, err := r.store.Response(ctx, c[0], c[1])
		if err == nil {
			return tmpl, true, nil
		}
		if !errors.Is(err, domain.ErrResponseNotFound) {
			return domain.ResponseTemplate{}, false, err
		}
	}
	return domain.ResponseTemplate{}, false, nil
}
