package ports

import (
	"context"
	"encoding/json"

	"github.com/aretw0/turnpike/pkg/domain"
)

// RuleStore is the read-only source of configured rules.
type RuleStore interface {
	// Rules returns the rules of a phase ordered by priority.
	Rules(ctx context.Context, phase domain.Phase) ([]domain.Rule, error)
}

// ResponseStore is the read-only source of response templates.
type ResponseStore interface {
	// Response returns the template for an exact intent/state pair.
	// Returns domain.ErrResponseNotFound if none is configured.
	Response(ctx context.Context, intent, state string) (domain.ResponseTemplate, error)
}

// SchemaStore is the read-only source of extraction schemas.
type SchemaStore interface {
	// Schema returns the schema of an intent.
	// Returns domain.ErrSchemaNotFound if none is configured.
	Schema(ctx context.Context, intent string) (domain.Schema, error)
}

// Catalog bundles the configuration the engine reads during a turn.
type Catalog interface {
	RuleStore
	ResponseStore
	SchemaStore
}

// ConversationStore persists conversation state between turns.
type ConversationStore interface {
	// Load retrieves a conversation.
	// Returns domain.ErrConversationNotFound if it does not exist.
	Load(ctx context.Context, conversationID string) (*domain.Conversation, error)

	// Save persists the conversation, replacing any previous value.
	Save(ctx context.Context, conv *domain.Conversation) error
}

// AuditStore is the append-only audit log.
// There is no update or delete operation.
type AuditStore interface {
	// Append stores one record and assigns its ID and timestamp.
	Append(ctx context.Context, conversationID, stage string, payload json.RawMessage) (*domain.AuditRecord, error)

	// Query returns the records of a conversation ordered by creation time ascending.
	Query(ctx context.Context, conversationID string) ([]domain.AuditRecord, error)
}
