package audit

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/aretw0/turnpike/internal/logging"
	"github.com/aretw0/turnpike/pkg/domain"
	"github.com/aretw0/turnpike/pkg/observability"
	"github.com/aretw0/turnpike/pkg/ports"
)

type subscription struct {
	id       uint64
	listener ports.AuditListener
	// queue and done are only set in async mode. The queue is never closed,
	// so a dispatch racing an unregister cannot panic.
	queue chan *domain.AuditRecord
	done  chan struct{}
}

// Dispatcher fans audit records out to registered listeners.
// Dispatch reads an immutable snapshot of the listener set, so registration
// and removal never block delivery.
type Dispatcher struct {
	mu     sync.Mutex // serializes writers of subs
	subs   atomic.Pointer[[]*subscription]
	nextID uint64

	async    bool
	capacity int
	dropped  atomic.Int64
	wg       sync.WaitGroup
	closed   bool

	logger  *slog.Logger
	metrics *observability.Metrics
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithAsyncDelivery gives every listener a bounded queue of the given
// capacity drained by its own goroutine. Records that do not fit are dropped.
func WithAsyncDelivery(capacity int) DispatcherOption {
	return func(d *Dispatcher) {
		if capacity < 1 {
			capacity = 1
		}
		d.async = true
		d.capacity = capacity
	}
}

// WithDispatcherLogger sets the logger used for listener failures.
func WithDispatcherLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// WithDispatcherMetrics sets the collectors for deliveries and drops.
func WithDispatcherMetrics(m *observability.Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// NewDispatcher creates a dispatcher. Without WithAsyncDelivery, delivery is
// synchronous on the dispatching goroutine.
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		logger:  logging.NewNop(),
		metrics: observability.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	empty := []*subscription{}
	d.subs.Store(&empty)
	return d
}

// Async reports whether the dispatcher delivers through bounded queues.
func (d *Dispatcher) Async() bool { return d.async }

// Register adds a listener and returns the function that removes it.
// The returned function is idempotent.
func (d *Dispatcher) Register(l ports.AuditListener) (unregister func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return func() {}
	}

	d.nextID++
	sub := &subscription{id: d.nextID, listener: l}
	if d.async {
		sub.queue = make(chan *domain.AuditRecord, d.capacity)
		sub.done = make(chan struct{})
		d.wg.Add(1)
		go d.worker(sub)
	}

	next := append(slices.Clone(*d.subs.Load()), sub)
	d.subs.Store(&next)

	var once sync.Once
	return func() {
		once.Do(func() { d.remove(sub.id) })
	}
}

func (d *Dispatcher) remove(id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	current := *d.subs.Load()
	idx := slices.IndexFunc(current, func(s *subscription) bool { return s.id == id })
	if idx < 0 {
		return
	}
	sub := current[idx]
	next := slices.Delete(slices.Clone(current), idx, idx+1)
	d.subs.Store(&next)

	if sub.done != nil {
		close(sub.done)
	}
}

// Len returns the number of registered listeners.
func (d *Dispatcher) Len() int {
	return len(*d.subs.Load())
}

// Dropped returns how many deliveries were discarded because a listener
// queue was full. It only grows, and stays at zero in synchronous mode.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Dispatch delivers rec to every listener. A nil record is a no-op.
func (d *Dispatcher) Dispatch(ctx context.Context, rec *domain.AuditRecord) {
	if rec == nil {
		return
	}

	for _, sub := range *d.subs.Load() {
		if !d.async {
			d.deliver(ctx, sub, rec)
			continue
		}
		select {
		case sub.queue <- rec:
		default:
			d.dropped.Add(1)
			d.metrics.AuditDropped.Inc()
			d.logger.Debug("audit record dropped by backpressure", "listener", sub.id, "record_id", rec.ID, "stage", rec.Stage)
		}
	}
}

func (d *Dispatcher) worker(sub *subscription) {
	defer d.wg.Done()
	ctx := context.Background()
	for {
		select {
		case rec := <-sub.queue:
			d.deliver(ctx, sub, rec)
		case <-sub.done:
			// Drain what was already accepted before exiting.
			for {
				select {
				case rec := <-sub.queue:
					d.deliver(ctx, sub, rec)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, sub *subscription, rec *domain.AuditRecord) {
	defer func() {
		if r := recover(); r != nil {
			d.fail(sub, rec, fmt.Errorf("listener panic: %v", r))
		}
	}()
	if err := sub.listener.OnAudit(ctx, rec); err != nil {
		d.fail(sub, rec, err)
		return
	}
	d.metrics.AuditDispatched.Inc()
}

func (d *Dispatcher) fail(sub *subscription, rec *domain.AuditRecord, err error) {
	d.metrics.AuditListenerFailures.Inc()
	d.logger.Warn("audit listener failed",
		"listener", sub.id,
		"record_id", rec.ID,
		"stage", rec.Stage,
		"conversation_id", rec.ConversationID,
		"error", err,
	)
}

// Close removes every listener and waits for async workers to drain.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	current := *d.subs.Load()
	empty := []*subscription{}
	d.subs.Store(&empty)
	for _, sub := range current {
		if sub.done != nil {
			close(sub.done)
		}
	}
	d.mu.Unlock()

	d.wg.Wait()
}
