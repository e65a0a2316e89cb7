package ports

import (
	"context"

	"github.com/aretw0/turnpike/pkg/domain"
)

// AuditListener receives every appended audit record.
// Listeners are transient: they may register and unregister at any time.
type AuditListener interface {
	OnAudit(ctx context.Context, record *domain.AuditRecord) error
}

// AuditListenerFunc adapts a function to AuditListener.
type AuditListenerFunc func(ctx context.Context, record *domain.AuditRecord) error

func (f AuditListenerFunc) OnAudit(ctx context.Context, record *domain.AuditRecord) error {
	return f(ctx, record)
}

// Auditor is the single write path into the audit log.
// Failures are absorbed; the returned record is nil when the append failed.
type Auditor interface {
	Audit(ctx context.Context, stage, conversationID string, payload any) *domain.AuditRecord
}

// LLMClient completes a rendered prompt.
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
}
