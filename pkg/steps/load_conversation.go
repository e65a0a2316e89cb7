package steps

import (
	"context"
	"errors"
	"maps"

	"github.com/aretw0/turnpike/pkg/domain"
	"github.com/aretw0/turnpike/pkg/pipeline"
	"github.com/aretw0/turnpike/pkg/ports"
)

// LoadConversation restores the state left by the previous turn.
type LoadConversation struct {
	store   ports.ConversationStore
	auditor ports.Auditor
	pending *PersistConversation
}

// NewLoadConversation creates the step. A nil store starts every turn fresh.
func NewLoadConversation(store ports.ConversationStore, auditor ports.Auditor) *LoadConversation {
	return &LoadConversation{store: store, auditor: auditor}
}

// AwaitSaves makes the step wait for the background save of its
// conversation before loading.
func (l *LoadConversation) AwaitSaves(p *PersistConversation) *LoadConversation {
	l.pending = p
	return l
}

func (*LoadConversation) Name() string                { return LoadConversationName }
func (*LoadConversation) Source() string              { return source }
func (*LoadConversation) Ordering() pipeline.Ordering { return pipeline.Ordering{} }

type loadedPayload struct {
	Found  bool   `json:"found"`
	Intent string `json:"intent,omitempty"`
	State  string `json:"state,omitempty"`
}

func (l *LoadConversation) Execute(ctx context.Context, s *domain.EngineSession) (domain.StepResult, error) {
	if l.store == nil {
		l.auditor.Audit(ctx, domain.StageConversationLoaded, s.ConversationID, loadedPayload{})
		return domain.Continue(), nil
	}

	var conv *domain.Conversation
	var err error
	if l.pending != nil {
		conv, err = l.pending.Pending(ctx, s.ConversationID)
		if err != nil {
			return domain.StepResult{}, err
		}
	}
	if conv == nil {
		conv, err = l.store.Load(ctx, s.ConversationID)
	}
	switch {
	case errors.Is(err, domain.ErrConversationNotFound):
		l.auditor.Audit(ctx, domain.StageConversationLoaded, s.ConversationID, loadedPayload{})
		return domain.Continue(), nil
	case err != nil:
		return domain.StepResult{}, domain.NewEngineError(domain.CodeStoreUnavailable, "load conversation", err)
	}

	s.Intent = conv.Intent
	s.State = conv.State
	maps.Copy(s.Context, conv.Context)
	l.auditor.Audit(ctx, domain.StageConversationLoaded, s.ConversationID, loadedPayload{
		Found:  true,
		Intent: conv.Intent,
		State:  conv.State,
	})
	return domain.Continue(), nil
}
