package rules

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/aretw0/turnpike/internal/logging"
	"github.com/aretw0/turnpike/pkg/domain"
	"github.com/aretw0/turnpike/pkg/ports"
	"github.com/aretw0/turnpike/pkg/registry"
)

// Registry maps match and action keys to their resolvers.
// Keys are unique; registering a key twice fails.
type Registry struct {
	mu       sync.RWMutex
	matchers map[domain.MatchType]Matcher
	actions  map[domain.ActionType]Action
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		matchers: make(map[domain.MatchType]Matcher),
		actions:  make(map[domain.ActionType]Action),
	}
}

// RegisterMatcher adds match resolvers.
func (r *Registry) RegisterMatcher(ms ...Matcher) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range ms {
		if _, exists := r.matchers[m.Type()]; exists {
			return fmt.Errorf("match type %s: %w", m.Type(), domain.ErrDuplicateKey)
		}
		r.matchers[m.Type()] = m
	}
	return nil
}

// RegisterAction adds action resolvers.
func (r *Registry) RegisterAction(as ...Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range as {
		if _, exists := r.actions[a.Type()]; exists {
			return fmt.Errorf("action type %s: %w", a.Type(), domain.ErrDuplicateKey)
		}
		r.actions[a.Type()] = a
	}
	return nil
}

func (r *Registry) matcher(t domain.MatchType) (Matcher, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.matchers[t]
	return m, ok
}

func (r *Registry) action(t domain.ActionType) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actions[t]
	return a, ok
}

// MatchTypes lists the registered match keys, sorted.
func (r *Registry) MatchTypes() []domain.MatchType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.MatchType, 0, len(r.matchers))
	for k := range r.matchers {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// ActionTypes lists the registered action keys, sorted.
func (r *Registry) ActionTypes() []domain.ActionType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ActionType, 0, len(r.actions))
	for k := range r.actions {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// NewDefaultRegistry registers every built-in match and action resolver.
func NewDefaultRegistry(auditor ports.Auditor, tasks *registry.Registry, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	r := NewRegistry()
	if err := r.RegisterMatcher(
		ExactMatcher{},
		NewRegexMatcher(logger),
		JSONPathMatcher{},
		AgentMatcher{},
	); err != nil {
		return nil, err
	}
	if err := r.RegisterAction(
		SetIntentAction{Auditor: auditor},
		SetStateAction{Auditor: auditor},
		SetParamAction{Auditor: auditor},
		SetParamsAction{Auditor: auditor},
		SetDialogueActAction{Auditor: auditor},
		RewriteQueryAction{Auditor: auditor},
		InvokeTaskAction{Auditor: auditor, Tasks: tasks, Logger: logger},
	); err != nil {
		return nil, err
	}
	return r, nil
}

type missPayload struct {
	Kind string `json:"kind"`
	Key  string `json:"key"`
}

// Service resolves rule keys to resolvers. A miss is reported through the
// audit log and yields nil, which callers treat as a no-op.
type Service struct {
	registry *Registry
	auditor  ports.Auditor
	logger   *slog.Logger
}

// NewService creates a resolution service.
func NewService(reg *Registry, auditor ports.Auditor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{registry: reg, auditor: auditor, logger: logger}
}

// Matcher returns the match resolver for t, or nil.
func (s *Service) Matcher(ctx context.Context, conversationID string, t domain.MatchType) Matcher {
	if m, ok := s.registry.matcher(t); ok {
		return m
	}
	s.miss(ctx, conversationID, "match", string(t))
	return nil
}

// Action returns the action resolver for t, or nil.
func (s *Service) Action(ctx context.Context, conversationID string, t domain.ActionType) Action {
	if a, ok := s.registry.action(t); ok {
		return a
	}
	s.miss(ctx, conversationID, "action", string(t))
	return nil
}

func (s *Service) miss(ctx context.Context, conversationID, kind, key string) {
	s.logger.Warn("rule resolver not found", "kind", kind, "key", key, "conversation_id", conversationID)
	s.auditor.Audit(ctx, domain.StageRuleResolverMissing, conversationID, missPayload{Kind: kind, Key: key})
}
