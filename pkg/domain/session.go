package domain

import (
	"encoding/json"
	"maps"
	"time"
)

// EngineContext is the inbound request of a single turn.
type EngineContext struct {
	ConversationID string         `json:"conversation_id"`
	UserText       string         `json:"user_text"`
	InputParams    map[string]any `json:"input_params,omitempty"`
}

// StepTiming records how long a step took inside a turn.
type StepTiming struct {
	Step     string        `json:"step"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Outcome  string        `json:"outcome"`
	Error    string        `json:"error,omitempty"`
}

// EngineSession is the per-turn mutable fact base.
// It is owned by exactly one pipeline execution and must not be shared across goroutines.
type EngineSession struct {
	ConversationID string
	TurnID         string

	// UserText is the raw utterance as received.
	UserText string

	Intent      string
	State       string
	DialogueAct string

	// Context holds accumulated slot-filling facts carried across turns.
	Context map[string]any

	SchemaComplete bool
	MissingFields  []string
	ExtractedData  map[string]any

	// InputParams is writable by rule actions.
	InputParams map[string]any

	Output Output

	LastLLMOutput string
	LastLLMStage  string

	StepTimings []StepTiming

	standaloneQuery   *string
	resolvedUserInput string
	finalResult       *EngineResult
}

// NewSession creates the fact base for one turn.
func NewSession(ec EngineContext, turnID string) *EngineSession {
	params := make(map[string]any, len(ec.InputParams))
	maps.Copy(params, ec.InputParams)

	return &EngineSession{
		ConversationID:    ec.ConversationID,
		TurnID:            turnID,
		UserText:          ec.UserText,
		Context:           make(map[string]any),
		ExtractedData:     make(map[string]any),
		InputParams:       params,
		resolvedUserInput: ec.UserText,
	}
}

// ResolvedUserInput returns the standalone query when one was set, the raw text otherwise.
func (s *EngineSession) ResolvedUserInput() string {
	return s.resolvedUserInput
}

// StandaloneQuery returns the rewritten query, if any.
func (s *EngineSession) StandaloneQuery() (string, bool) {
	if s.standaloneQuery == nil {
		return "", false
	}
	return *s.standaloneQuery, true
}

// SetStandaloneQuery rewrites the user input; ResolvedUserInput follows it.
func (s *EngineSession) SetStandaloneQuery(q string) {
	s.standaloneQuery = &q
	s.resolvedUserInput = q
}

// SetParam writes a single input parameter.
func (s *EngineSession) SetParam(key string, value any) {
	if s.InputParams == nil {
		s.InputParams = make(map[string]any)
	}
	s.InputParams[key] = value
}

// SetFinalResult records the turn's result. Only the first call wins;
// it reports whether the result was accepted.
func (s *EngineSession) SetFinalResult(r EngineResult) bool {
	if s.finalResult != nil {
		return false
	}
	s.finalResult = &r
	return true
}

// FinalResult returns the terminal result, if a step has produced one.
func (s *EngineSession) FinalResult() (EngineResult, bool) {
	if s.finalResult == nil {
		return EngineResult{}, false
	}
	return *s.finalResult, true
}

// ContextJSON serializes the context blob. An empty context yields "{}".
func (s *EngineSession) ContextJSON() string {
	if len(s.Context) == 0 {
		return "{}"
	}
	data, err := json.Marshal(s.Context)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// Result snapshots the session into an EngineResult.
func (s *EngineSession) Result() EngineResult {
	return EngineResult{
		ConversationID: s.ConversationID,
		TurnID:         s.TurnID,
		Intent:         s.Intent,
		State:          s.State,
		Output:         s.Output,
		Context:        s.ContextJSON(),
	}
}
