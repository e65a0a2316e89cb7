package memory

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/aretw0/turnpike/pkg/domain"
)

// Store implements ports.ConversationStore in memory.
// Safe for concurrent use.
type Store struct {
	data map[string]*domain.Conversation
	mu   sync.RWMutex
}

// NewStore creates a new in-memory conversation store.
func NewStore() *Store {
	return &Store{
		data: make(map[string]*domain.Conversation),
	}
}

// Save persists the conversation in memory.
func (s *Store) Save(ctx context.Context, conv *domain.Conversation) error {
	// Copy to ensure isolation, similar to serialization
	copied := copyConversation(conv)
	if copied.UpdatedAt.IsZero() {
		copied.UpdatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[conv.ID] = copied
	return nil
}

// Load retrieves the conversation from memory.
func (s *Store) Load(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.data[conversationID]
	if !ok {
		return nil, domain.ErrConversationNotFound
	}

	// Copy on read so callers can't mutate store state through the pointer
	return copyConversation(conv), nil
}

// List returns the known conversation IDs, sorted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := slices.Collect(maps.Keys(s.data))
	slices.Sort(ids)
	return ids, nil
}

func copyConversation(conv *domain.Conversation) *domain.Conversation {
	out := *conv
	out.Context = make(map[string]any, len(conv.Context))
	maps.Copy(out.Context, conv.Context)
	return &out
}
