package audit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aretw0/turnpike/pkg/adapters/memory"
	"github.com/aretw0/turnpike/pkg/domain"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type logBuilder struct {
	base    time.Time
	records []domain.AuditRecord
}

func newLog() *logBuilder {
	return &logBuilder{base: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (b *logBuilder) add(stage string, payload string) *logBuilder {
	id := int64(len(b.records) + 1)
	b.records = append(b.records, domain.AuditRecord{
		ID:             id,
		ConversationID: "c1",
		Stage:          stage,
		Payload:        json.RawMessage(payload),
		CreatedAt:      b.base.Add(time.Duration(id) * 10 * time.Millisecond),
	})
	return b
}

func TestBuildTrace_RoundTrip(t *testing.T) {
	log := newLog().
		add(domain.StageStepEnter, `{"step":"X","class":"*steps.X","source":"core"}`).
		add(domain.StageIntentSet, `{"to":"loan"}`).
		add(domain.StageStepExit, `{"step":"X","status":"OK","durationMs":7}`)

	trace := BuildTrace("c1", log.records)

	require.Len(t, trace.Steps, 1)
	step := trace.Steps[0]
	assert.Equal(t, "X", step.Name)
	assert.Equal(t, "*steps.X", step.Class)
	assert.Equal(t, "core", step.Source)
	assert.Equal(t, domain.StepOK, step.Status)
	assert.EqualValues(t, 7, step.DurationMs)
	require.NotNil(t, step.EndedAt)
	assert.Equal(t, log.records[2].CreatedAt, *step.EndedAt)
	require.Len(t, step.Stages, 1)
	assert.Equal(t, domain.StageIntentSet, step.Stages[0].Stage)

	assert.Len(t, trace.Stages, 3)
}

func TestBuildTrace_ErrorStatus(t *testing.T) {
	log := newLog().
		add(domain.StageStepEnter, `{"step":"respond"}`).
		add(domain.StageStepError, `{"step":"respond","status":"ERROR","error":"no template"}`)

	trace := BuildTrace("c1", log.records)
	require.Len(t, trace.Steps, 1)
	assert.Equal(t, domain.StepError, trace.Steps[0].Status)
	assert.Equal(t, "no template", trace.Steps[0].Error)
	// No durationMs in payload: computed from timestamps.
	assert.EqualValues(t, 10, trace.Steps[0].DurationMs)
}

func TestBuildTrace_FallbackPopsTopmost(t *testing.T) {
	log := newLog().
		add(domain.StageStepEnter, `{"step":"outer"}`).
		add(domain.StageStepEnter, `{"step":"inner"}`).
		add(domain.StageStepExit, `{"step":"ghost"}`).
		add(domain.StageRuleApplied, `{}`).
		add(domain.StageStepExit, `{"step":"outer"}`)

	trace := BuildTrace("c1", log.records)
	require.Len(t, trace.Steps, 2)

	outer, inner := trace.Steps[0], trace.Steps[1]
	assert.Equal(t, domain.StepOK, inner.Status, "unmatched exit closes the topmost frame")
	require.NotNil(t, inner.EndedAt)
	assert.Equal(t, domain.StepOK, outer.Status)
	require.Len(t, outer.Stages, 1, "after inner closed, stages attach to outer")
	assert.Equal(t, domain.StageRuleApplied, outer.Stages[0].Stage)
}

func TestBuildTrace_NameMatchIsCaseInsensitive(t *testing.T) {
	log := newLog().
		add(domain.StageStepEnter, `{"step":"Outer"}`).
		add(domain.StageStepEnter, `{"step":"inner"}`).
		add(domain.StageStepExit, `{"step":"OUTER"}`)

	trace := BuildTrace("c1", log.records)
	assert.Equal(t, domain.StepOK, trace.Steps[0].Status)
	assert.Equal(t, domain.StepRunning, trace.Steps[1].Status)
}

func TestBuildTrace_MalformedLog(t *testing.T) {
	log := newLog().
		add(domain.StageStepExit, `{"step":"nothing-open"}`).
		add(domain.StageIntentSet, `{}`).
		add(domain.StageStepEnter, `not json`).
		add(domain.StageStepExit, `{"durationMs":"12"}`).
		add(domain.StageStepEnter, `{"step":"dangling"}`)

	var trace *domain.Trace
	require.NotPanics(t, func() { trace = BuildTrace("c1", log.records) })

	assert.Len(t, trace.Stages, 5)
	require.Len(t, trace.Steps, 2)
	assert.Empty(t, trace.Steps[0].Name)
	assert.Equal(t, domain.StepOK, trace.Steps[0].Status, "blank names fall back to the topmost frame")
	assert.EqualValues(t, 12, trace.Steps[0].DurationMs, "weakly typed payload fields decode")
	assert.Equal(t, domain.StepRunning, trace.Steps[1].Status)
	assert.Nil(t, trace.Steps[1].EndedAt)
}

func TestBuildTrace_Idempotent(t *testing.T) {
	log := newLog().
		add(domain.StageStepEnter, `{"step":"a"}`).
		add(domain.StageRuleApplied, `{"ruleId":"r1"}`).
		add(domain.StageStepExit, `{"step":"a"}`).
		add(domain.StageStepEnter, `{"step":"b"}`).
		add(domain.StageStepError, `{"step":"b","error":"x"}`)

	first := BuildTrace("c1", log.records)
	second := BuildTrace("c1", log.records)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("trace not idempotent (-first +second):\n%s", diff)
	}
}

func TestTraceService_ReadsStore(t *testing.T) {
	store := memory.NewAuditStore()
	svc := NewService(store, nil)
	ctx := context.Background()

	svc.Audit(ctx, domain.StageStepEnter, "c1", domain.StepPayload{Step: "guard"})
	svc.Audit(ctx, domain.StageStepExit, "c1", domain.StepPayload{Step: "guard", Status: "OK"})
	svc.Audit(ctx, domain.StageStepEnter, "other", domain.StepPayload{Step: "guard"})

	trace, err := NewTraceService(store).Trace(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", trace.ConversationID)
	require.Len(t, trace.Steps, 1)
	assert.Equal(t, "guard", trace.Steps[0].Name)
	assert.Equal(t, domain.StepOK, trace.Steps[0].Status)

	_, err = NewTraceService(failingStore{}).Trace(ctx, "c1")
	assert.Error(t, err)
}
