package domain

import (
	"encoding/json"
	"time"
)

// StepStatus is the lifecycle of a reconstructed step.
type StepStatus string

const (
	StepRunning StepStatus = "RUNNING"
	StepOK      StepStatus = "OK"
	StepError   StepStatus = "ERROR"
)

// StageEvent is one audit record as seen by a trace.
type StageEvent struct {
	ID        int64           `json:"id"`
	Stage     string          `json:"stage"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// StepTrace is a step rebuilt from its enter/exit records.
type StepTrace struct {
	Name       string       `json:"name"`
	Class      string       `json:"class,omitempty"`
	Source     string       `json:"source,omitempty"`
	Status     StepStatus   `json:"status"`
	StartedAt  time.Time    `json:"started_at"`
	EndedAt    *time.Time   `json:"ended_at,omitempty"`
	DurationMs int64        `json:"duration_ms"`
	Error      string       `json:"error,omitempty"`
	Stages     []StageEvent `json:"stages"`
}

// Trace is the flat and nested view of a conversation's audit log.
type Trace struct {
	ConversationID string       `json:"conversation_id"`
	Stages         []StageEvent `json:"stages"`
	Steps          []*StepTrace `json:"steps"`
}
