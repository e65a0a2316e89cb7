package domain

import (
	"encoding/json"
	"time"
)

// Audit stages. The stage tag is free-form; these are the ones the engine emits.
const (
	StageStepEnter           = "STEP_ENTER"
	StageStepExit            = "STEP_EXIT"
	StageStepError           = "STEP_ERROR"
	StageRuleApplied         = "RULE_APPLIED"
	StageIntentSet           = "INTENT_SET"
	StageStateSet            = "STATE_SET"
	StageParamsSet           = "PARAMS_SET"
	StageDialogueActSet      = "DIALOGUE_ACT_SET"
	StageQueryRewritten      = "QUERY_REWRITTEN"
	StageTaskInvoked         = "TASK_INVOKED"
	StageTaskMissing         = "TASK_MISSING"
	StageRuleResolverMissing = "RULE_RESOLVER_MISSING"
	StageRuleActionFailed    = "RULE_ACTION_FAILED"
	StageSchemaExtracted     = "SCHEMA_EXTRACTED"
	StageResponseResolved    = "RESPONSE_RESOLVED"
	StageResponseMissing     = "RESPONSE_MISSING"
	StageConversationLoaded  = "CONVERSATION_LOADED"
	StageTurnStarted         = "TURN_STARTED"
	StageTurnCompleted       = "TURN_COMPLETED"
)

// AuditRecord is one immutable entry of the append-only audit log.
type AuditRecord struct {
	ID             int64           `json:"id"`
	ConversationID string          `json:"conversation_id"`
	Stage          string          `json:"stage"`
	Payload        json.RawMessage `json:"payload"`
	CreatedAt      time.Time       `json:"created_at"`
}

// StepPayload is the payload shape of STEP_ENTER, STEP_EXIT and STEP_ERROR records.
type StepPayload struct {
	Step       string `json:"step" mapstructure:"step"`
	Class      string `json:"class,omitempty" mapstructure:"class"`
	Source     string `json:"source,omitempty" mapstructure:"source"`
	TurnID     string `json:"turnId,omitempty" mapstructure:"turnId"`
	Status     string `json:"status,omitempty" mapstructure:"status"`
	Error      string `json:"error,omitempty" mapstructure:"error"`
	DurationMs int64  `json:"durationMs,omitempty" mapstructure:"durationMs"`
}
