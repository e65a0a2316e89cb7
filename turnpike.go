package turnpike

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aretw0/turnpike/internal/logging"
	"github.com/aretw0/turnpike/pkg/adapters/memory"
	"github.com/aretw0/turnpike/pkg/audit"
	"github.com/aretw0/turnpike/pkg/domain"
	"github.com/aretw0/turnpike/pkg/observability"
	"github.com/aretw0/turnpike/pkg/pipeline"
	"github.com/aretw0/turnpike/pkg/ports"
	"github.com/aretw0/turnpike/pkg/registry"
	"github.com/aretw0/turnpike/pkg/response"
	"github.com/aretw0/turnpike/pkg/rules"
	"github.com/aretw0/turnpike/pkg/session"
	"github.com/aretw0/turnpike/pkg/steps"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// Engine is the high-level entry point for the Turnpike library.
// It wires the catalog, stores, audit trail and pipeline and runs turns through them.
type Engine struct {
	catalog       ports.Catalog
	conversations ports.ConversationStore
	auditStore    ports.AuditStore
	llm           ports.LLMClient
	tasks         *registry.Registry
	locker        ports.DistributedLocker
	lockTTL       time.Duration
	lockWait      time.Duration
	asyncCapacity int
	registerer    prometheus.Registerer
	extra         []extraStep
	clarify       string
	persistTTL    time.Duration
	maxInput      int
	logger        *slog.Logger

	metrics    *observability.Metrics
	dispatcher *audit.Dispatcher
	auditor    *audit.Service
	traces     *audit.TraceService
	serializer *session.Serializer
	pipeline   *pipeline.Pipeline
	persist    *steps.PersistConversation
}

type extraStep struct {
	step  pipeline.Step
	order pipeline.Ordering
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithCatalog sets the source of rules, responses and schemas. Required.
func WithCatalog(c ports.Catalog) Option {
	return func(e *Engine) {
		e.catalog = c
	}
}

// WithConversationStore overrides the default in-memory conversation store.
func WithConversationStore(s ports.ConversationStore) Option {
	return func(e *Engine) {
		e.conversations = s
	}
}

// WithAuditStore overrides the default in-memory audit log.
func WithAuditStore(s ports.AuditStore) Option {
	return func(e *Engine) {
		e.auditStore = s
	}
}

// WithAsyncAudit delivers audit records to listeners through bounded
// per-listener queues instead of inline.
func WithAsyncAudit(capacity int) Option {
	return func(e *Engine) {
		e.asyncCapacity = capacity
	}
}

// WithLocker serializes turns across processes in addition to the local lock.
func WithLocker(l ports.DistributedLocker) Option {
	return func(e *Engine) {
		e.locker = l
	}
}

// WithLockTTL sets the expiry of distributed turn locks.
func WithLockTTL(d time.Duration) Option {
	return func(e *Engine) {
		e.lockTTL = d
	}
}

// WithLockWait bounds how long a turn waits for a busy conversation
// before failing with CONVERSATION_BUSY.
func WithLockWait(d time.Duration) Option {
	return func(e *Engine) {
		e.lockWait = d
	}
}

// WithLLM enables DERIVED responses to be completed by a language model.
func WithLLM(llm ports.LLMClient) Option {
	return func(e *Engine) {
		e.llm = llm
	}
}

// WithTasks sets the registry used by INVOKE_TASK actions.
func WithTasks(r *registry.Registry) Option {
	return func(e *Engine) {
		e.tasks = r
	}
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithRegisterer registers the engine metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(e *Engine) {
		e.registerer = reg
	}
}

// WithStep adds a custom step, placed by order relative to the default set.
func WithStep(step pipeline.Step, order pipeline.Ordering) Option {
	return func(e *Engine) {
		e.extra = append(e.extra, extraStep{step: step, order: order})
	}
}

// WithClarifyMessage sets the reply to blank utterances.
func WithClarifyMessage(msg string) Option {
	return func(e *Engine) {
		e.clarify = msg
	}
}

// WithPersistTimeout bounds each background conversation save.
func WithPersistTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.persistTTL = d
	}
}

// WithMaxInputSize caps the byte length of an utterance. Zero selects
// DefaultMaxInputSize.
func WithMaxInputSize(n int) Option {
	return func(e *Engine) {
		e.maxInput = n
	}
}

// New initializes a new Turnpike Engine.
// The step graph is assembled here, so ordering problems fail fast.
func New(opts ...Option) (*Engine, error) {
	eng := &Engine{}
	for _, opt := range opts {
		opt(eng)
	}

	if eng.catalog == nil {
		return nil, fmt.Errorf("a catalog is required (use WithCatalog)")
	}
	if eng.conversations == nil {
		eng.conversations = memory.NewStore()
	}
	if eng.auditStore == nil {
		eng.auditStore = memory.NewAuditStore()
	}
	if eng.tasks == nil {
		eng.tasks = registry.NewRegistry()
	}
	if eng.logger == nil {
		eng.logger = logging.NewNop()
	}

	if eng.registerer != nil {
		eng.metrics = observability.NewMetrics(eng.registerer)
	} else {
		eng.metrics = observability.Nop()
	}

	dispatcherOpts := []audit.DispatcherOption{
		audit.WithDispatcherLogger(eng.logger.With("component", "audit")),
		audit.WithDispatcherMetrics(eng.metrics),
	}
	if eng.asyncCapacity > 0 {
		dispatcherOpts = append(dispatcherOpts, audit.WithAsyncDelivery(eng.asyncCapacity))
	}
	eng.dispatcher = audit.NewDispatcher(dispatcherOpts...)
	eng.auditor = audit.NewService(eng.auditStore, eng.dispatcher, audit.WithLogger(eng.logger.With("component", "audit")))
	eng.traces = audit.NewTraceService(eng.auditStore)

	ruleLogger := eng.logger.With("component", "rules")
	reg, err := rules.NewDefaultRegistry(eng.auditor, eng.tasks, ruleLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to build rule registry: %w", err)
	}
	applier := rules.NewApplier(rules.NewService(reg, eng.auditor, ruleLogger), eng.auditor, ruleLogger)

	var responseOpts []response.Option
	if eng.llm != nil {
		responseOpts = append(responseOpts, response.WithLLM(eng.llm))
	}

	defaults, persist := steps.Defaults(steps.Deps{
		Catalog:        eng.catalog,
		Conversations:  eng.conversations,
		Applier:        applier,
		Responses:      response.NewResolver(responseOpts...),
		Auditor:        eng.auditor,
		Logger:         eng.logger.With("component", "steps"),
		ClarifyMessage: eng.clarify,
		PersistTimeout: eng.persistTTL,
	})
	eng.persist = persist

	assembler := pipeline.NewAssembler().Add(defaults...)
	for _, x := range eng.extra {
		assembler.AddWith(x.step, x.order)
	}
	eng.pipeline, err = pipeline.Build(assembler,
		pipeline.WithAuditor(eng.auditor),
		pipeline.WithLogger(eng.logger.With("component", "pipeline")),
		pipeline.WithMetrics(eng.metrics),
	)
	if err != nil {
		eng.dispatcher.Close()
		return nil, err
	}

	serializerOpts := []session.Option{
		session.WithLogger(eng.logger.With("component", "session")),
		session.WithWaitTimeout(eng.lockWait),
		session.WithLockTTL(eng.lockTTL),
	}
	if eng.locker != nil {
		serializerOpts = append(serializerOpts, session.WithLocker(eng.locker))
	}
	eng.serializer = session.NewSerializer(serializerOpts...)

	return eng, nil
}

type turnPayload struct {
	TurnID   string `json:"turnId"`
	UserText string `json:"userText,omitempty"`
	Outcome  string `json:"outcome,omitempty"`
	Code     string `json:"code,omitempty"`
	Intent   string `json:"intent,omitempty"`
	State    string `json:"state,omitempty"`
}

// Process runs one turn for the conversation named in in.
// Turns of the same conversation never overlap. Every returned error is a
// *domain.EngineError.
func (e *Engine) Process(ctx context.Context, in domain.EngineContext) (domain.EngineResult, error) {
	in, err := normalizeInput(in, e.maxInput)
	if err != nil {
		e.metrics.Turns.WithLabelValues(outcomeLabel(domain.CodeInvalidInput)).Inc()
		return domain.EngineResult{}, domain.NewEngineError(domain.CodeInvalidInput, "process", err)
	}

	turnID := uuid.NewString()
	logger := e.logger.With("conversation_id", in.ConversationID, "turn_id", turnID)

	var (
		result  domain.EngineResult
		turnErr error
		ran     bool
	)
	lockErr := e.serializer.WithLock(ctx, in.ConversationID, func(ctx context.Context) error {
		ran = true
		result, turnErr = e.runTurn(ctx, in, turnID, logger)
		return turnErr
	})

	if !ran {
		code := domain.CodeStoreUnavailable
		switch {
		case ctx.Err() != nil:
			code = domain.CodeTurnCanceled
		case errors.Is(lockErr, session.ErrBusy):
			code = domain.CodeConversationBusy
		}
		logger.Warn("Turn rejected", "code", code, "err", lockErr)
		e.metrics.Turns.WithLabelValues(outcomeLabel(code)).Inc()
		return domain.EngineResult{}, domain.NewEngineError(code, "process", lockErr)
	}
	if turnErr != nil {
		return domain.EngineResult{}, turnErr
	}
	return result, nil
}

func (e *Engine) runTurn(ctx context.Context, in domain.EngineContext, turnID string, logger *slog.Logger) (result domain.EngineResult, err error) {
	e.auditor.Audit(ctx, domain.StageTurnStarted, in.ConversationID, turnPayload{TurnID: turnID, UserText: in.UserText})
	s := domain.NewSession(in, turnID)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Step panicked", "panic", r)
			err = domain.NewEngineError(domain.CodeStepPanic, "process", fmt.Errorf("panic: %v", r))
		}

		payload := turnPayload{TurnID: turnID, Outcome: "ok", Intent: s.Intent, State: s.State}
		if err != nil {
			ee := classify(err)
			err = ee
			payload.Outcome = "error"
			payload.Code = string(ee.Code)
			e.metrics.Turns.WithLabelValues(outcomeLabel(ee.Code)).Inc()
			logger.Warn("Turn failed", "code", ee.Code, "recoverable", ee.Recoverable, "err", ee.Err)
		} else {
			e.metrics.Turns.WithLabelValues("ok").Inc()
			logger.Debug("Turn completed", "intent", result.Intent, "state", result.State)
		}
		e.auditor.Audit(context.WithoutCancel(ctx), domain.StageTurnCompleted, in.ConversationID, payload)
	}()

	return e.pipeline.Execute(ctx, s)
}

// classify maps a pipeline failure onto an EngineError.
func classify(err error) *domain.EngineError {
	if ee, ok := domain.AsEngineError(err); ok {
		return ee
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return domain.NewEngineError(domain.CodeTurnCanceled, "process", err)
	case errors.Is(err, domain.ErrNoFinalResult):
		return domain.NewEngineError(domain.CodePipelineNoResult, "process", err)
	default:
		return domain.NewEngineError(domain.CodeStepFailed, "process", err)
	}
}

func outcomeLabel(code domain.ErrorCode) string {
	return strings.ToLower(string(code))
}

// Trace reconstructs the step tree of a conversation from its audit log.
func (e *Engine) Trace(ctx context.Context, conversationID string) (*domain.Trace, error) {
	return e.traces.Trace(ctx, conversationID)
}

// Subscribe registers a listener for every audit record. Call the returned
// function to unsubscribe.
func (e *Engine) Subscribe(l ports.AuditListener) func() {
	return e.dispatcher.Register(l)
}

// SubscribeConversation registers a listener that only sees records of one conversation.
func (e *Engine) SubscribeConversation(conversationID string, l ports.AuditListener) func() {
	return e.dispatcher.Register(ports.AuditListenerFunc(func(ctx context.Context, rec *domain.AuditRecord) error {
		if rec.ConversationID != conversationID {
			return nil
		}
		return l.OnAudit(ctx, rec)
	}))
}

// Dropped returns the number of audit deliveries lost to backpressure.
func (e *Engine) Dropped() int64 {
	return e.dispatcher.Dropped()
}

// Steps returns the assembled step names in execution order.
func (e *Engine) Steps() []string {
	return e.pipeline.Steps()
}

// Catalog returns the catalog the engine reads from.
func (e *Engine) Catalog() ports.Catalog {
	return e.catalog
}

// Flush blocks until every pending conversation save has finished.
func (e *Engine) Flush() {
	e.persist.Wait()
}

// Close waits for pending conversation saves and stops audit delivery.
func (e *Engine) Close() error {
	e.persist.Wait()
	e.dispatcher.Close()
	return nil
}
