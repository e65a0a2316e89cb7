package domain

// StepOutcome is the variant of a StepResult.
type StepOutcome int

const (
	// OutcomeContinue proceeds to the next step.
	OutcomeContinue StepOutcome = iota + 1
	// OutcomeStop terminates the pipeline with the carried result.
	OutcomeStop
)

func (o StepOutcome) String() string {
	switch o {
	case OutcomeContinue:
		return "continue"
	case OutcomeStop:
		return "stop"
	default:
		return "invalid"
	}
}

// StepResult is what a step returns: Continue, or Stop with a result.
// The zero value is invalid and is rejected by the pipeline.
type StepResult struct {
	outcome StepOutcome
	result  EngineResult
}

// Continue lets the pipeline run the next step.
func Continue() StepResult {
	return StepResult{outcome: OutcomeContinue}
}

// Stop ends the pipeline immediately with r.
func Stop(r EngineResult) StepResult {
	return StepResult{outcome: OutcomeStop, result: r}
}

func (r StepResult) Outcome() StepOutcome { return r.outcome }

// Result is only meaningful when Outcome is OutcomeStop.
func (r StepResult) Result() EngineResult { return r.result }

// EngineResult is the immutable outcome of one turn.
type EngineResult struct {
	ConversationID string `json:"conversation_id"`
	TurnID         string `json:"turn_id"`
	Intent         string `json:"intent"`
	State          string `json:"state"`
	Output         Output `json:"output"`
	// Context is the serialized context blob.
	Context string `json:"context"`
}
