package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/turnpike/internal/logging"
	"github.com/aretw0/turnpike/pkg/ports"
)

// ErrBusy is returned when the conversation lock could not be acquired in time.
var ErrBusy = errors.New("conversation busy")

// DefaultLockTTL bounds how long a distributed lock outlives a crashed holder.
const DefaultLockTTL = 30 * time.Second

// lockEntry holds the per-conversation lock and its reference count.
type lockEntry struct {
	sem  chan struct{} // capacity 1; holding the token means holding the lock
	refs int
}

// Serializer runs at most one function per conversation ID at a time.
// It uses reference counting to garbage collect unused locks.
type Serializer struct {
	mu    sync.Mutex            // guards locks
	locks map[string]*lockEntry // active locks

	locker ports.DistributedLocker // optional
	ttl    time.Duration
	wait   time.Duration // zero waits until ctx ends
	logger *slog.Logger
}

// Option configures the Serializer.
type Option func(*Serializer)

// WithLocker enables distributed locking.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(s *Serializer) {
		s.locker = locker
	}
}

// WithLockTTL sets the TTL of distributed locks.
func WithLockTTL(ttl time.Duration) Option {
	return func(s *Serializer) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithWaitTimeout bounds how long a turn waits for a busy conversation.
func WithWaitTimeout(d time.Duration) Option {
	return func(s *Serializer) {
		s.wait = d
	}
}

// WithLogger configures a logger for the Serializer.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Serializer) {
		s.logger = logger
	}
}

// NewSerializer creates a Serializer.
func NewSerializer(opts ...Option) *Serializer {
	s := &Serializer{
		locks:  make(map[string]*lockEntry),
		ttl:    DefaultLockTTL,
		logger: logging.NewNop(), // Default to no-op
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST call release(conversationID) when done with the entry.
func (s *Serializer) acquire(conversationID string) *lockEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.locks[conversationID]
	if !exists {
		entry = &lockEntry{sem: make(chan struct{}, 1)}
		s.locks[conversationID] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (s *Serializer) release(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.locks[conversationID]
	if !exists {
		return
	}

	entry.refs--
	if entry.refs <= 0 {
		delete(s.locks, conversationID)
	}
}

// Active returns the number of conversations holding or waiting for a lock.
func (s *Serializer) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}

// WithLock executes fn while holding the lock for the conversation.
// Waiting for the lock honours ctx; an error is returned if ctx ends first.
func (s *Serializer) WithLock(ctx context.Context, conversationID string, fn func(context.Context) error) error {
	entry := s.acquire(conversationID)
	defer s.release(conversationID)

	var timeout <-chan time.Time
	if s.wait > 0 {
		timer := time.NewTimer(s.wait)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case entry.sem <- struct{}{}:
	case <-timeout:
		return fmt.Errorf("waiting for conversation %s: %w", conversationID, ErrBusy)
	case <-ctx.Done():
		return fmt.Errorf("waiting for conversation %s: %w", conversationID, ctx.Err())
	}
	defer func() { <-entry.sem }()

	if s.locker != nil {
		unlock, err := s.locker.Lock(ctx, conversationID, s.ttl)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("failed to acquire distributed lock: %w", ctx.Err())
			}
			return fmt.Errorf("failed to acquire distributed lock: %w: %w", ErrBusy, err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("Failed to release distributed lock (will expire via TTL)",
					"conversation_id", conversationID,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}
