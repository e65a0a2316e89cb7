package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/turnpike/internal/logging"
	"github.com/aretw0/turnpike/pkg/domain"
	"github.com/aretw0/turnpike/pkg/observability"
	"github.com/aretw0/turnpike/pkg/ports"
)

// Pipeline executes a fixed, pre-ordered list of steps.
// It is safe for concurrent use by independent turns.
type Pipeline struct {
	steps   []Step
	auditor ports.Auditor
	logger  *slog.Logger
	metrics *observability.Metrics
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithAuditor sets the audit write path used for step enter/exit records.
func WithAuditor(a ports.Auditor) Option {
	return func(p *Pipeline) {
		p.auditor = a
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// WithMetrics sets the collectors used for step latency and failures.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// New creates a pipeline over steps that are already in execution order.
func New(steps []Step, opts ...Option) *Pipeline {
	p := &Pipeline{
		steps:   steps,
		auditor: nopAuditor{},
		logger:  logging.NewNop(),
		metrics: observability.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Build assembles the steps of a and creates a pipeline over the result.
func Build(a *Assembler, opts ...Option) (*Pipeline, error) {
	steps, err := a.Assemble()
	if err != nil {
		return nil, err
	}
	return New(steps, opts...), nil
}

// Steps returns the step names in execution order.
func (p *Pipeline) Steps() []string {
	names := make([]string, len(p.steps))
	for i, s := range p.steps {
		names[i] = s.Name()
	}
	return names
}

// Execute runs the steps against s.
// The first Stop ends the turn with its result. If every step continues,
// the session must already carry a final result, else domain.ErrNoFinalResult
// is returned. Step errors are returned wrapped; the pipeline never retries.
func (p *Pipeline) Execute(ctx context.Context, s *domain.EngineSession) (domain.EngineResult, error) {
	for _, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return domain.EngineResult{}, err
		}

		res, err := p.run(ctx, step, s)
		if err != nil {
			return domain.EngineResult{}, fmt.Errorf("step %s: %w", step.Name(), err)
		}

		switch res.Outcome() {
		case domain.OutcomeContinue:
		case domain.OutcomeStop:
			r := res.Result()
			s.SetFinalResult(r)
			return r, nil
		default:
			return domain.EngineResult{}, fmt.Errorf("step %s: invalid step outcome %s", step.Name(), res.Outcome())
		}
	}

	if r, ok := s.FinalResult(); ok {
		return r, nil
	}
	return domain.EngineResult{}, domain.ErrNoFinalResult
}

func (p *Pipeline) run(ctx context.Context, step Step, s *domain.EngineSession) (res domain.StepResult, err error) {
	name := step.Name()
	payload := domain.StepPayload{
		Step:   name,
		Class:  fmt.Sprintf("%T", step),
		TurnID: s.TurnID,
	}
	if src, ok := step.(Sourced); ok {
		payload.Source = src.Source()
	}

	p.auditor.Audit(ctx, domain.StageStepEnter, s.ConversationID, payload)
	p.logger.Debug("step enter", "step", name, "conversation_id", s.ConversationID)
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			p.finish(ctx, s, payload, started, "panic", fmt.Errorf("panic: %v", r))
			panic(r)
		}
	}()

	res, err = step.Execute(ctx, s)
	p.finish(ctx, s, payload, started, res.Outcome().String(), err)
	return res, err
}

func (p *Pipeline) finish(ctx context.Context, s *domain.EngineSession, payload domain.StepPayload, started time.Time, outcome string, err error) {
	elapsed := time.Since(started)
	payload.DurationMs = elapsed.Milliseconds()

	timing := domain.StepTiming{
		Step:     payload.Step,
		Started:  started,
		Duration: elapsed,
		Outcome:  outcome,
	}
	p.metrics.StepDuration.WithLabelValues(payload.Step).Observe(elapsed.Seconds())

	if err != nil {
		timing.Error = err.Error()
		payload.Status = string(domain.StepError)
		payload.Error = err.Error()
		p.metrics.StepErrors.WithLabelValues(payload.Step).Inc()
		p.logger.Warn("step failed", "step", payload.Step, "conversation_id", s.ConversationID, "error", err)
		p.auditor.Audit(ctx, domain.StageStepError, s.ConversationID, payload)
	} else {
		payload.Status = string(domain.StepOK)
		p.logger.Debug("step exit", "step", payload.Step, "outcome", outcome, "duration", elapsed)
		p.auditor.Audit(ctx, domain.StageStepExit, s.ConversationID, payload)
	}
	s.StepTimings = append(s.StepTimings, timing)
}

type nopAuditor struct{}

func (nopAuditor) Audit(context.Context, string, string, any) *domain.AuditRecord { return nil }
