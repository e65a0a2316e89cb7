package audit

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/aretw0/turnpike/internal/logging"
	"github.com/aretw0/turnpike/pkg/domain"
	"github.com/aretw0/turnpike/pkg/ports"
)

// Service appends audit records and dispatches them to listeners.
// It implements ports.Auditor.
type Service struct {
	store      ports.AuditStore
	dispatcher *Dispatcher
	logger     *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the logger used for append failures.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = l
	}
}

// NewService creates an audit service. The dispatcher may be nil.
func NewService(store ports.AuditStore, dispatcher *Dispatcher, opts ...ServiceOption) *Service {
	s := &Service{
		store:      store,
		dispatcher: dispatcher,
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Audit appends one record. Append failures are logged and yield nil;
// they never affect the caller's turn.
func (s *Service) Audit(ctx context.Context, stage, conversationID string, payload any) *domain.AuditRecord {
	raw := s.encode(stage, payload)

	rec, err := s.store.Append(ctx, conversationID, stage, raw)
	if err != nil {
		s.logger.Error("audit append failed", "stage", stage, "conversation_id", conversationID, "error", err)
		return nil
	}
	if s.dispatcher != nil {
		s.dispatcher.Dispatch(ctx, rec)
	}
	return rec
}

func (s *Service) encode(stage string, payload any) json.RawMessage {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage("{}")
	case json.RawMessage:
		if json.Valid(p) {
			return p
		}
	case []byte:
		if json.Valid(p) {
			return json.RawMessage(p)
		}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("audit payload not serializable", "stage", stage, "error", err)
		return json.RawMessage("{}")
	}
	return data
}

// Nop is an Auditor that discards everything.
type Nop struct{}

func (Nop) Audit(context.Context, string, string, any) *domain.AuditRecord { return nil }
