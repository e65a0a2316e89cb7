package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/aretw0/turnpike/pkg/domain"
)

// AuditStore implements ports.AuditStore in memory.
// Records are immutable once appended; IDs increase monotonically.
type AuditStore struct {
	mu      sync.RWMutex
	nextID  int64
	records map[string][]domain.AuditRecord
	now     func() time.Time
}

// NewAuditStore creates an empty in-memory audit log.
func NewAuditStore() *AuditStore {
	return &AuditStore{
		records: make(map[string][]domain.AuditRecord),
		now:     time.Now,
	}
}

// Append stores one record, assigning its ID and timestamp.
func (s *AuditStore) Append(ctx context.Context, conversationID, stage string, payload json.RawMessage) (*domain.AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	rec := domain.AuditRecord{
		ID:             s.nextID,
		ConversationID: conversationID,
		Stage:          stage,
		Payload:        append(json.RawMessage(nil), payload...),
		CreatedAt:      s.now(),
	}
	s.records[conversationID] = append(s.records[conversationID], rec)

	out := rec
	return &out, nil
}

// Query returns the records of a conversation in append order.
func (s *AuditStore) Query(ctx context.Context, conversationID string) ([]domain.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src := s.records[conversationID]
	out := make([]domain.AuditRecord, len(src))
	copy(out, src)
	return out, nil
}
