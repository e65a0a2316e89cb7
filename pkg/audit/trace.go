package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aretw0/turnpike/pkg/domain"
	"github.com/aretw0/turnpike/pkg/ports"
	"github.com/mitchellh/mapstructure"
)

// TraceService reconstructs traces from the audit log.
type TraceService struct {
	store ports.AuditStore
}

// NewTraceService creates a trace service reading from store.
func NewTraceService(store ports.AuditStore) *TraceService {
	return &TraceService{store: store}
}

// Trace reads the full log of a conversation and rebuilds its trace.
func (t *TraceService) Trace(ctx context.Context, conversationID string) (*domain.Trace, error) {
	records, err := t.store.Query(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	return BuildTrace(conversationID, records), nil
}

// BuildTrace rebuilds the flat stage list and the per-step tree from records
// in append order. It depends only on its input and never fails: exits that
// match no open step close the innermost one, and exits with nothing open are
// kept only in the flat list.
func BuildTrace(conversationID string, records []domain.AuditRecord) *domain.Trace {
	trace := &domain.Trace{
		ConversationID: conversationID,
		Stages:         make([]domain.StageEvent, 0, len(records)),
		Steps:          []*domain.StepTrace{},
	}

	var stack []*domain.StepTrace
	for _, rec := range records {
		event := domain.StageEvent{
			ID:        rec.ID,
			Stage:     rec.Stage,
			Payload:   clone(rec.Payload),
			CreatedAt: rec.CreatedAt,
		}
		trace.Stages = append(trace.Stages, event)

		switch rec.Stage {
		case domain.StageStepEnter:
			p := decodeStepPayload(rec.Payload)
			frame := &domain.StepTrace{
				Name:      p.Step,
				Class:     p.Class,
				Source:    p.Source,
				Status:    domain.StepRunning,
				StartedAt: rec.CreatedAt,
				Stages:    []domain.StageEvent{},
			}
			stack = append(stack, frame)
			trace.Steps = append(trace.Steps, frame)

		case domain.StageStepExit, domain.StageStepError:
			if len(stack) == 0 {
				continue
			}
			p := decodeStepPayload(rec.Payload)
			idx := findOpen(stack, p.Step)
			frame := stack[idx]
			stack = append(stack[:idx], stack[idx+1:]...)

			ended := rec.CreatedAt
			frame.EndedAt = &ended
			frame.Status = domain.StepOK
			if rec.Stage == domain.StageStepError {
				frame.Status = domain.StepError
			}
			frame.Error = p.Error
			frame.DurationMs = p.DurationMs
			if frame.DurationMs == 0 && ended.After(frame.StartedAt) {
				frame.DurationMs = ended.Sub(frame.StartedAt).Milliseconds()
			}

		default:
			if len(stack) > 0 {
				top := stack[len(stack)-1]
				top.Stages = append(top.Stages, event)
			}
		}
	}
	return trace
}

// findOpen returns the index of the innermost open frame named name
// (case-insensitive), or the top of the stack when none matches.
func findOpen(stack []*domain.StepTrace, name string) int {
	name = strings.TrimSpace(name)
	if name != "" {
		for i := len(stack) - 1; i >= 0; i-- {
			if stack[i].Name != "" && strings.EqualFold(stack[i].Name, name) {
				return i
			}
		}
	}
	return len(stack) - 1
}

func decodeStepPayload(raw json.RawMessage) domain.StepPayload {
	var p domain.StepPayload
	if len(raw) == 0 {
		return p
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return p
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &p,
	})
	if err != nil {
		return p
	}
	// Partially decodable payloads keep the fields that did decode.
	_ = decoder.Decode(m)
	return p
}

func clone(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}
