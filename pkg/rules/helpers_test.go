package rules

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/aretw0/turnpike/pkg/domain"
)

type auditEntry struct {
	Stage   string
	Payload map[string]any
}

type recordingAuditor struct {
	mu      sync.Mutex
	entries []auditEntry
}

func (r *recordingAuditor) Audit(_ context.Context, stage, _ string, payload any) *domain.AuditRecord {
	data, _ := json.Marshal(payload)
	var m map[string]any
	_ = json.Unmarshal(data, &m)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, auditEntry{Stage: stage, Payload: m})
	return nil
}

func (r *recordingAuditor) stages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Stage
	}
	return out
}

func sessionWith(text string) *domain.EngineSession {
	return domain.NewSession(domain.EngineContext{ConversationID: "conv-1", UserText: text}, "turn-1")
}
