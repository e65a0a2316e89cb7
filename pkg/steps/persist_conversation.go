package steps

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/aretw0/turnpike/internal/logging"
	"github.com/aretw0/turnpike/pkg/domain"
	"github.com/aretw0/turnpike/pkg/pipeline"
	"github.com/aretw0/turnpike/pkg/ports"
)

// DefaultPersistTimeout bounds a background save.
const DefaultPersistTimeout = 5 * time.Second

// PersistConversation saves intent, state and context without blocking the
// turn. Failures are logged and never reach the caller.
//
// Saves of one conversation are chained, and the next turn's
// load_conversation waits for the pending save of its conversation, so a
// turn always starts from the state its predecessor replied with.
type PersistConversation struct {
	store   ports.ConversationStore
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup

	mu      sync.Mutex
	pending map[string]*pendingSave
}

// pendingSave is the newest save of a conversation. err and done are set by
// the saving goroutine; err may only be read after done is closed.
type pendingSave struct {
	conv *domain.Conversation
	done chan struct{}
	err  error
}

// NewPersistConversation creates the step. A nil store disables persistence.
func NewPersistConversation(store ports.ConversationStore, timeout time.Duration, logger *slog.Logger) *PersistConversation {
	if timeout <= 0 {
		timeout = DefaultPersistTimeout
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &PersistConversation{
		store:   store,
		timeout: timeout,
		logger:  logger,
		pending: make(map[string]*pendingSave),
	}
}

func (*PersistConversation) Name() string   { return PersistConversationName }
func (*PersistConversation) Source() string { return source }

func (*PersistConversation) Ordering() pipeline.Ordering {
	return pipeline.Ordering{After: []string{ResponseResolutionName}}
}

func (p *PersistConversation) Execute(ctx context.Context, s *domain.EngineSession) (domain.StepResult, error) {
	if p.store == nil {
		return domain.Continue(), nil
	}
	// A turn without a result fails as a whole and leaves nothing behind.
	if _, ok := s.FinalResult(); !ok {
		return domain.Continue(), nil
	}

	conv := &domain.Conversation{
		ID:        s.ConversationID,
		Intent:    s.Intent,
		State:     s.State,
		Context:   maps.Clone(s.Context),
		UpdatedAt: time.Now(),
	}
	if conv.Context == nil {
		conv.Context = make(map[string]any)
	}

	next := &pendingSave{conv: conv, done: make(chan struct{})}
	p.mu.Lock()
	prev := p.pending[conv.ID]
	p.pending[conv.ID] = next
	p.mu.Unlock()

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancel()
		if prev != nil {
			<-prev.done
		}
		if err := p.store.Save(saveCtx, conv); err != nil {
			p.logger.Error("persist conversation failed", "conversation_id", conv.ID, "error", err)
			next.err = err
			close(next.done)
			return
		}
		close(next.done)

		p.mu.Lock()
		if p.pending[conv.ID] == next {
			delete(p.pending, conv.ID)
		}
		p.mu.Unlock()
	}()
	return domain.Continue(), nil
}

// Pending waits for the outstanding save of a conversation. When that save
// failed, the snapshot it tried to write is returned so the next turn still
// sees the state the previous reply was computed from. A nil conversation
// means the store is up to date.
func (p *PersistConversation) Pending(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	p.mu.Lock()
	ps := p.pending[conversationID]
	p.mu.Unlock()
	if ps == nil {
		return nil, nil
	}

	select {
	case <-ps.done:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for pending save of %s: %w", conversationID, ctx.Err())
	}
	if ps.err != nil {
		return ps.conv, nil
	}
	return nil, nil
}

// Wait blocks until every pending save has finished.
func (p *PersistConversation) Wait() {
	p.wg.Wait()
}
