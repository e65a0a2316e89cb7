package domain

import (
	"slices"
	"strings"
)

// MatchType selects the resolver that decides whether a rule applies.
type MatchType string

const (
	MatchExact    MatchType = "EXACT"
	MatchRegex    MatchType = "REGEX"
	MatchJSONPath MatchType = "JSON_PATH"
	MatchAgent    MatchType = "AGENT"
)

// ActionType selects the resolver that applies a matched rule.
type ActionType string

const (
	ActionSetIntent      ActionType = "SET_INTENT"
	ActionSetState       ActionType = "SET_STATE"
	ActionSetParam       ActionType = "SET_PARAM"
	ActionSetParams      ActionType = "SET_PARAMS"
	ActionSetDialogueAct ActionType = "SET_DIALOGUE_ACT"
	ActionRewriteQuery   ActionType = "REWRITE_QUERY"
	ActionInvokeTask     ActionType = "INVOKE_TASK"
)

// Phase groups rules by the step that evaluates them.
type Phase string

const (
	// PhasePre runs before intent resolution (query rewrites).
	PhasePre Phase = "PRE"
	// PhaseIntent resolves the intent; the first matching rule wins.
	PhaseIntent Phase = "INTENT"
	// PhasePost runs after extraction; every matching rule applies.
	PhasePost Phase = "POST"
)

// Rule is a read-only match/action pair loaded from the catalog.
type Rule struct {
	ID          string     `json:"id" yaml:"id"`
	MatchType   MatchType  `json:"match_type" yaml:"match_type"`
	Pattern     string     `json:"pattern" yaml:"pattern"`
	ActionType  ActionType `json:"action_type" yaml:"action_type"`
	ActionValue string     `json:"action_value" yaml:"action_value"`
	Phase       Phase      `json:"phase" yaml:"phase"`
	Priority    int        `json:"priority,omitempty" yaml:"priority,omitempty"`
}

// Normalize upper-cases the enum fields so catalogs may be written in any case.
func (r Rule) Normalize() Rule {
	r.MatchType = MatchType(strings.ToUpper(strings.TrimSpace(string(r.MatchType))))
	r.ActionType = ActionType(strings.ToUpper(strings.TrimSpace(string(r.ActionType))))
	r.Phase = Phase(strings.ToUpper(strings.TrimSpace(string(r.Phase))))
	return r
}

// SortRules orders rules by ascending priority, keeping declaration order for ties.
func SortRules(rules []Rule) {
	slices.SortStableFunc(rules, func(a, b Rule) int {
		return a.Priority - b.Priority
	})
}
