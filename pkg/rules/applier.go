package rules

import (
	"context"
	"log/slog"

	"github.com/aretw0/turnpike/internal/logging"
	"github.com/aretw0/turnpike/pkg/domain"
	"github.com/aretw0/turnpike/pkg/ports"
)

type appliedPayload struct {
	RuleID     string `json:"ruleId"`
	Phase      string `json:"phase"`
	MatchType  string `json:"matchType"`
	ActionType string `json:"actionType"`
	Error      string `json:"error,omitempty"`
}

// Applier runs a list of rules against a session.
type Applier struct {
	service *Service
	auditor ports.Auditor
	logger  *slog.Logger
}

// NewApplier creates an applier resolving rules through service.
func NewApplier(service *Service, auditor ports.Auditor, logger *slog.Logger) *Applier {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Applier{service: service, auditor: auditor, logger: logger}
}

// Apply evaluates rules in order and applies the matching ones. With
// firstMatchOnly set, it stops after the first rule whose action ran.
// Action failures are logged and audited; they never abort the turn.
// It returns the IDs of the rules that were applied.
func (a *Applier) Apply(ctx context.Context, s *domain.EngineSession, rules []domain.Rule, firstMatchOnly bool) []string {
	var applied []string
	for _, rule := range rules {
		if ctx.Err() != nil {
			break
		}

		m := a.service.Matcher(ctx, s.ConversationID, rule.MatchType)
		if m == nil || !m.Matches(ctx, s, rule) {
			continue
		}
		act := a.service.Action(ctx, s.ConversationID, rule.ActionType)
		if act == nil {
			continue
		}

		payload := appliedPayload{
			RuleID:     rule.ID,
			Phase:      string(rule.Phase),
			MatchType:  string(rule.MatchType),
			ActionType: string(rule.ActionType),
		}
		if err := act.Apply(ctx, s, rule); err != nil {
			payload.Error = err.Error()
			a.logger.Warn("rule action failed", "rule", rule.ID, "action", rule.ActionType, "error", err)
			a.auditor.Audit(ctx, domain.StageRuleActionFailed, s.ConversationID, payload)
			continue
		}

		a.auditor.Audit(ctx, domain.StageRuleApplied, s.ConversationID, payload)
		applied = append(applied, rule.ID)
		if firstMatchOnly {
			break
		}
	}
	return applied
}
