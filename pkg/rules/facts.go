package rules

import (
	"encoding/json"
	"maps"

	"github.com/aretw0/turnpike/pkg/domain"
)

// BuildFacts snapshots a session into the JSON document conditions are
// evaluated against. Context keys are available both at the top level and
// under "context"; session fields take precedence over same-named context keys.
func BuildFacts(s *domain.EngineSession) map[string]any {
	facts := make(map[string]any, len(s.Context)+16)
	maps.Copy(facts, s.Context)

	facts["context"] = s.Context
	facts["intent"] = s.Intent
	facts["state"] = s.State
	facts["dialogueAct"] = s.DialogueAct
	facts["schemaComplete"] = s.SchemaComplete
	facts["missingFields"] = s.MissingFields
	facts["userText"] = s.UserText
	facts["resolvedUserInput"] = s.ResolvedUserInput()
	if q, ok := s.StandaloneQuery(); ok {
		facts["standaloneQuery"] = q
	}
	facts["lastLlmOutput"] = s.LastLLMOutput
	facts["lastLlmStage"] = s.LastLLMStage
	facts["extractedData"] = s.ExtractedData
	facts["inputParams"] = s.InputParams
	facts["output"] = s.Output.Value()

	return normalize(facts)
}

// normalize round-trips through JSON so path queries only see
// map[string]any, []any, float64, string, bool and nil.
func normalize(facts map[string]any) map[string]any {
	data, err := json.Marshal(facts)
	if err != nil {
		return facts
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return facts
	}
	return out
}
