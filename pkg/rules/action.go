package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aretw0/turnpike/pkg/domain"
	"github.com/aretw0/turnpike/pkg/ports"
	"github.com/aretw0/turnpike/pkg/registry"
)

// Action applies the effect of a matched rule.
// Each action audits its own effect before returning.
type Action interface {
	Type() domain.ActionType
	Apply(ctx context.Context, s *domain.EngineSession, rule domain.Rule) error
}

type changePayload struct {
	RuleID string `json:"ruleId"`
	From   string `json:"from"`
	To     string `json:"to"`
}

// SetIntentAction sets the session intent to the action value.
type SetIntentAction struct{ Auditor ports.Auditor }

func (SetIntentAction) Type() domain.ActionType { return domain.ActionSetIntent }

func (a SetIntentAction) Apply(ctx context.Context, s *domain.EngineSession, rule domain.Rule) error {
	to := strings.TrimSpace(rule.ActionValue)
	if to == "" {
		return fmt.Errorf("rule %s: empty intent", rule.ID)
	}
	from := s.Intent
	s.Intent = to
	a.Auditor.Audit(ctx, domain.StageIntentSet, s.ConversationID, changePayload{RuleID: rule.ID, From: from, To: to})
	return nil
}

// SetStateAction sets the session state to the action value.
type SetStateAction struct{ Auditor ports.Auditor }

func (SetStateAction) Type() domain.ActionType { return domain.ActionSetState }

func (a SetStateAction) Apply(ctx context.Context, s *domain.EngineSession, rule domain.Rule) error {
	to := strings.TrimSpace(rule.ActionValue)
	from := s.State
	s.State = to
	a.Auditor.Audit(ctx, domain.StageStateSet, s.ConversationID, changePayload{RuleID: rule.ID, From: from, To: to})
	return nil
}

// SetDialogueActAction sets the dialogue act to the action value.
type SetDialogueActAction struct{ Auditor ports.Auditor }

func (SetDialogueActAction) Type() domain.ActionType { return domain.ActionSetDialogueAct }

func (a SetDialogueActAction) Apply(ctx context.Context, s *domain.EngineSession, rule domain.Rule) error {
	to := strings.TrimSpace(rule.ActionValue)
	from := s.DialogueAct
	s.DialogueAct = to
	a.Auditor.Audit(ctx, domain.StageDialogueActSet, s.ConversationID, changePayload{RuleID: rule.ID, From: from, To: to})
	return nil
}

// RewriteQueryAction replaces the resolved user input with a standalone query.
type RewriteQueryAction struct{ Auditor ports.Auditor }

func (RewriteQueryAction) Type() domain.ActionType { return domain.ActionRewriteQuery }

func (a RewriteQueryAction) Apply(ctx context.Context, s *domain.EngineSession, rule domain.Rule) error {
	to := strings.TrimSpace(rule.ActionValue)
	if to == "" {
		return fmt.Errorf("rule %s: empty standalone query", rule.ID)
	}
	from := s.ResolvedUserInput()
	s.SetStandaloneQuery(to)
	a.Auditor.Audit(ctx, domain.StageQueryRewritten, s.ConversationID, changePayload{RuleID: rule.ID, From: from, To: to})
	return nil
}

type paramsPayload struct {
	RuleID string         `json:"ruleId"`
	Params map[string]any `json:"params"`
}

// SetParamAction writes one input parameter from a "key=value" action value.
type SetParamAction struct{ Auditor ports.Auditor }

func (SetParamAction) Type() domain.ActionType { return domain.ActionSetParam }

func (a SetParamAction) Apply(ctx context.Context, s *domain.EngineSession, rule domain.Rule) error {
	key, value, ok := strings.Cut(rule.ActionValue, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return fmt.Errorf("rule %s: want key=value, got %q", rule.ID, rule.ActionValue)
	}
	value = strings.TrimSpace(value)
	s.SetParam(key, value)
	a.Auditor.Audit(ctx, domain.StageParamsSet, s.ConversationID, paramsPayload{RuleID: rule.ID, Params: map[string]any{key: value}})
	return nil
}

// SetParamsAction merges a JSON object into the input parameters.
type SetParamsAction struct{ Auditor ports.Auditor }

func (SetParamsAction) Type() domain.ActionType { return domain.ActionSetParams }

func (a SetParamsAction) Apply(ctx context.Context, s *domain.EngineSession, rule domain.Rule) error {
	var params map[string]any
	if err := json.Unmarshal([]byte(rule.ActionValue), &params); err != nil {
		return fmt.Errorf("rule %s: params must be a JSON object: %w", rule.ID, err)
	}
	for k, v := range params {
		s.SetParam(k, v)
	}
	a.Auditor.Audit(ctx, domain.StageParamsSet, s.ConversationID, paramsPayload{RuleID: rule.ID, Params: params})
	return nil
}

type taskPayload struct {
	RuleID string `json:"ruleId"`
	Task   string `json:"task"`
	Method string `json:"method"`
	Error  string `json:"error,omitempty"`
}

// InvokeTaskAction calls a registered task method named by the action value.
// An unknown task is logged and audited, and degrades to a no-op.
type InvokeTaskAction struct {
	Auditor ports.Auditor
	Tasks   *registry.Registry
	Logger  *slog.Logger
}

func (InvokeTaskAction) Type() domain.ActionType { return domain.ActionInvokeTask }

func (a InvokeTaskAction) Apply(ctx context.Context, s *domain.EngineSession, rule domain.Rule) error {
	task, method, err := registry.ParseTarget(rule.ActionValue)
	if err != nil {
		return fmt.Errorf("rule %s: %w", rule.ID, err)
	}

	var fn registry.TaskFunc
	ok := false
	if a.Tasks != nil {
		fn, ok = a.Tasks.Lookup(task, method)
	}
	if !ok {
		if a.Logger != nil {
			a.Logger.Warn("task not registered", "rule", rule.ID, "task", task, "method", method)
		}
		a.Auditor.Audit(ctx, domain.StageTaskMissing, s.ConversationID, taskPayload{RuleID: rule.ID, Task: task, Method: method})
		return nil
	}

	if err := fn(ctx, s, rule); err != nil {
		return fmt.Errorf("task %s.%s: %w", task, method, err)
	}
	a.Auditor.Audit(ctx, domain.StageTaskInvoked, s.ConversationID, taskPayload{RuleID: rule.ID, Task: task, Method: method})
	return nil
}
