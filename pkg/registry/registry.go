package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/aretw0/turnpike/pkg/domain"
)

// ErrTaskNotFound is returned when no task method is registered for a key.
var ErrTaskNotFound = errors.New("task not found")

// TaskFunc is one method of a named task. It receives the session of the
// current turn and the rule that triggered it.
type TaskFunc func(ctx context.Context, s *domain.EngineSession, rule domain.Rule) error

// Key identifies a task method.
type Key struct {
	Task   string
	Method string
}

func (k Key) String() string { return k.Task + "." + k.Method }

// Registry manages the available task methods.
type Registry struct {
	mu    sync.RWMutex
	tasks map[Key]TaskFunc
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tasks: make(map[Key]TaskFunc),
	}
}

// Register adds a task method to the registry.
// Registering the same (task, method) twice returns domain.ErrDuplicateKey.
func (r *Registry) Register(task, method string, fn TaskFunc) error {
	if task == "" || method == "" {
		return fmt.Errorf("task and method names are required, got %q.%q", task, method)
	}
	if fn == nil {
		return fmt.Errorf("task %s.%s: nil function", task, method)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := Key{Task: task, Method: method}
	if _, exists := r.tasks[key]; exists {
		return fmt.Errorf("task %s: %w", key, domain.ErrDuplicateKey)
	}
	r.tasks[key] = fn
	return nil
}

// MustRegister is like Register but panics on error. Intended for startup wiring.
func (r *Registry) MustRegister(task, method string, fn TaskFunc) {
	if err := r.Register(task, method, fn); err != nil {
		panic(err)
	}
}

// Lookup returns the task method registered for (task, method).
func (r *Registry) Lookup(task, method string) (TaskFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.tasks[Key{Task: task, Method: method}]
	return fn, ok
}

// Invoke looks up a task method and calls it.
// Returns ErrTaskNotFound if it is not registered.
func (r *Registry) Invoke(ctx context.Context, task, method string, s *domain.EngineSession, rule domain.Rule) error {
	fn, ok := r.Lookup(task, method)
	if !ok {
		return fmt.Errorf("%s.%s: %w", task, method, ErrTaskNotFound)
	}
	return fn(ctx, s, rule)
}

// Keys lists the registered task methods as "task.method", sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.tasks))
	for k := range r.tasks {
		keys = append(keys, k.String())
	}
	slices.Sort(keys)
	return keys
}

// ParseTarget splits an action value of the form "task.method" or "task#method".
func ParseTarget(target string) (task, method string, err error) {
	target = strings.TrimSpace(target)
	sep := strings.IndexAny(target, "#.")
	if sep <= 0 || sep == len(target)-1 {
		return "", "", fmt.Errorf("invalid task target %q: want task.method", target)
	}
	return target[:sep], target[sep+1:], nil
}
