package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/aretw0/turnpike/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingAuditor struct {
	mu      sync.Mutex
	stages  []string
	payload []any
}

func (r *recordingAuditor) Audit(_ context.Context, stage, _ string, payload any) *domain.AuditRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, stage)
	r.payload = append(r.payload, payload)
	return nil
}

func stopWith(name string, r domain.EngineResult) StepFunc {
	return StepFunc{
		StepName: name,
		Fn: func(context.Context, *domain.EngineSession) (domain.StepResult, error) {
			return domain.Stop(r), nil
		},
	}
}

func newSession() *domain.EngineSession {
	return domain.NewSession(domain.EngineContext{ConversationID: "c1", UserText: "hi"}, "t1")
}

func TestPipeline_StopShortCircuits(t *testing.T) {
	want := domain.EngineResult{ConversationID: "c1", Intent: "greeting", Output: domain.TextOutput("hello")}
	invoked := false
	b := StepFunc{
		StepName: "b",
		Fn: func(context.Context, *domain.EngineSession) (domain.StepResult, error) {
			invoked = true
			panic("must not run")
		},
	}

	p := New([]Step{stopWith("a", want), b})
	s := newSession()
	got, err := p.Execute(context.Background(), s)

	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.False(t, invoked)

	final, ok := s.FinalResult()
	require.True(t, ok)
	assert.Equal(t, want, final)
}

func TestPipeline_MissingFinalResult(t *testing.T) {
	p := New([]Step{named("a"), named("b")})
	_, err := p.Execute(context.Background(), newSession())
	assert.ErrorIs(t, err, domain.ErrNoFinalResult)
}

func TestPipeline_TerminalStepSetsFinalResult(t *testing.T) {
	terminal := StepFunc{
		StepName: "respond",
		Fn: func(_ context.Context, s *domain.EngineSession) (domain.StepResult, error) {
			s.Intent = "loan"
			s.Output = domain.TextOutput("ok")
			s.SetFinalResult(s.Result())
			return domain.Continue(), nil
		},
	}
	p := New([]Step{named("a"), terminal})
	got, err := p.Execute(context.Background(), newSession())
	require.NoError(t, err)
	assert.Equal(t, "loan", got.Intent)
	assert.Equal(t, "ok", got.Output.Text())
}

func TestPipeline_StepErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	p := New([]Step{
		StepFunc{StepName: "fails", Fn: func(context.Context, *domain.EngineSession) (domain.StepResult, error) {
			calls++
			return domain.StepResult{}, boom
		}},
		StepFunc{StepName: "after", Fn: func(context.Context, *domain.EngineSession) (domain.StepResult, error) {
			calls++
			return domain.Continue(), nil
		}},
	})

	_, err := p.Execute(context.Background(), newSession())
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "fails")
	assert.Equal(t, 1, calls, "pipeline must not retry or continue")
}

func TestPipeline_InvalidOutcome(t *testing.T) {
	p := New([]Step{StepFunc{StepName: "zero", Fn: func(context.Context, *domain.EngineSession) (domain.StepResult, error) {
		return domain.StepResult{}, nil
	}}})
	_, err := p.Execute(context.Background(), newSession())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid step outcome")
}

func TestPipeline_AuditsEnterAndExit(t *testing.T) {
	aud := &recordingAuditor{}
	p := New([]Step{named("a"), stopWith("b", domain.EngineResult{})}, WithAuditor(aud))

	s := newSession()
	_, err := p.Execute(context.Background(), s)
	require.NoError(t, err)

	assert.Equal(t, []string{
		domain.StageStepEnter, domain.StageStepExit,
		domain.StageStepEnter, domain.StageStepExit,
	}, aud.stages)

	exit, ok := aud.payload[1].(domain.StepPayload)
	require.True(t, ok)
	assert.Equal(t, "a", exit.Step)
	assert.Equal(t, "OK", exit.Status)
	assert.Equal(t, "t1", exit.TurnID)

	require.Len(t, s.StepTimings, 2)
	assert.Equal(t, "continue", s.StepTimings[0].Outcome)
	assert.Equal(t, "stop", s.StepTimings[1].Outcome)
}

func TestPipeline_AuditsStepError(t *testing.T) {
	aud := &recordingAuditor{}
	p := New([]Step{StepFunc{StepName: "bad", Fn: func(context.Context, *domain.EngineSession) (domain.StepResult, error) {
		return domain.StepResult{}, errors.New("kaput")
	}}}, WithAuditor(aud))

	_, err := p.Execute(context.Background(), newSession())
	require.Error(t, err)
	require.Equal(t, []string{domain.StageStepEnter, domain.StageStepError}, aud.stages)

	payload := aud.payload[1].(domain.StepPayload)
	assert.Equal(t, "ERROR", payload.Status)
	assert.Equal(t, "kaput", payload.Error)
}

func TestPipeline_PanicIsAuditedAndRethrown(t *testing.T) {
	aud := &recordingAuditor{}
	p := New([]Step{StepFunc{StepName: "panics", Fn: func(context.Context, *domain.EngineSession) (domain.StepResult, error) {
		panic("oops")
	}}}, WithAuditor(aud))

	assert.PanicsWithValue(t, "oops", func() {
		_, _ = p.Execute(context.Background(), newSession())
	})
	assert.Equal(t, []string{domain.StageStepEnter, domain.StageStepError}, aud.stages)
}

func TestPipeline_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := New([]Step{stopWith("a", domain.EngineResult{})})
	_, err := p.Execute(ctx, newSession())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuild(t *testing.T) {
	p, err := Build(NewAssembler().
		AddWith(named("second"), Ordering{After: []string{"first"}}).
		Add(named("first")))
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, p.Steps())

	_, err = Build(NewAssembler().Add(named("x"), named("x")))
	assert.ErrorIs(t, err, ErrDuplicateStep)
}
