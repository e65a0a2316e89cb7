package steps

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/turnpike/pkg/adapters/memory"
	"github.com/aretw0/turnpike/pkg/audit"
	"github.com/aretw0/turnpike/pkg/domain"
	"github.com/aretw0/turnpike/pkg/pipeline"
	"github.com/aretw0/turnpike/pkg/ports"
	"github.com/aretw0/turnpike/pkg/response"
	"github.com/aretw0/turnpike/pkg/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loanCatalog(t *testing.T) *memory.Catalog {
	t.Helper()
	cat, err := memory.NewCatalog(
		[]domain.Rule{
			{ID: "affirm", Phase: domain.PhasePre, MatchType: domain.MatchExact, Pattern: "yes", ActionType: domain.ActionRewriteQuery, ActionValue: "confirm the loan"},
			{ID: "loan", Phase: domain.PhaseIntent, MatchType: domain.MatchRegex, Pattern: "loan", ActionType: domain.ActionSetIntent, ActionValue: "loan"},
			{ID: "greet", Phase: domain.PhaseIntent, MatchType: domain.MatchRegex, Pattern: `\bhello\b`, ActionType: domain.ActionSetIntent, ActionValue: "greeting"},
			{ID: "collect", Phase: domain.PhasePost, MatchType: domain.MatchJSONPath, Pattern: "schemaComplete == false", ActionType: domain.ActionSetState, ActionValue: "collecting"},
			{ID: "ready", Phase: domain.PhasePost, MatchType: domain.MatchJSONPath, Pattern: "schemaComplete == true", ActionType: domain.ActionSetState, ActionValue: "ready"},
		},
		[]domain.ResponseTemplate{
			{Intent: "loan", State: "collecting", Text: "How much do you need?"},
			{Intent: "loan", State: "ready", Type: domain.ResponseDerived, Template: "Processing a loan of {{.amount}}."},
			{Intent: "greeting", Text: "Hi there!"},
			{Intent: "", Text: "I can help with loans."},
		},
		[]domain.Schema{
			{Intent: "loan", Fields: []domain.SchemaField{
				{Name: "amount", Required: true, Pattern: `(\d+)`},
				{Name: "channel"},
			}},
		},
	)
	require.NoError(t, err)
	return cat
}

type harness struct {
	pipeline *pipeline.Pipeline
	persist  *PersistConversation
	convs    ports.ConversationStore
	audits   *memory.AuditStore
}

func newHarness(t *testing.T, cat *memory.Catalog) *harness {
	t.Helper()
	return newHarnessWithStore(t, cat, memory.NewStore())
}

func newHarnessWithStore(t *testing.T, cat *memory.Catalog, convs ports.ConversationStore) *harness {
	t.Helper()
	audits := memory.NewAuditStore()
	auditor := audit.NewService(audits, nil)
	reg, err := rules.NewDefaultRegistry(auditor, nil, nil)
	require.NoError(t, err)
	applier := rules.NewApplier(rules.NewService(reg, auditor, nil), auditor, nil)

	list, persist := Defaults(Deps{
		Catalog:       cat,
		Conversations: convs,
		Applier:       applier,
		Responses:     response.NewResolver(),
		Auditor:       auditor,
	})
	p, err := pipeline.Build(pipeline.NewAssembler().Add(list...), pipeline.WithAuditor(auditor))
	require.NoError(t, err)
	return &harness{pipeline: p, persist: persist, convs: convs, audits: audits}
}

func (h *harness) turn(t *testing.T, convID, text string) domain.EngineResult {
	t.Helper()
	res := h.turnNoWait(t, convID, text)
	h.persist.Wait()
	return res
}

func (h *harness) turnNoWait(t *testing.T, convID, text string) domain.EngineResult {
	t.Helper()
	s := domain.NewSession(domain.EngineContext{ConversationID: convID, UserText: text}, "turn")
	res, err := h.pipeline.Execute(context.Background(), s)
	require.NoError(t, err)
	return res
}

func TestDefaults_Order(t *testing.T) {
	h := newHarness(t, loanCatalog(t))
	assert.Equal(t, []string{
		InputGuardName,
		LoadConversationName,
		QueryRewriteName,
		IntentResolutionName,
		SchemaExtractionName,
		RuleEvaluationName,
		ResponseResolutionName,
		PersistConversationName,
	}, h.pipeline.Steps())
}

func TestDefaults_MultiTurnSlotFilling(t *testing.T) {
	h := newHarness(t, loanCatalog(t))

	first := h.turn(t, "c1", "I want a loan")
	assert.Equal(t, "loan", first.Intent)
	assert.Equal(t, "collecting", first.State)
	assert.Equal(t, "How much do you need?", first.Output.Text())

	second := h.turn(t, "c1", "make it 5000")
	assert.Equal(t, "loan", second.Intent, "intent carries over between turns")
	assert.Equal(t, "ready", second.State)
	assert.Equal(t, "Processing a loan of 5000.", second.Output.Text())
	assert.JSONEq(t, `{"amount":"5000"}`, second.Context)

	conv, err := h.convs.Load(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "ready", conv.State)
	assert.Equal(t, "5000", conv.Context["amount"])
}

func TestDefaults_Fallbacks(t *testing.T) {
	h := newHarness(t, loanCatalog(t))

	res := h.turn(t, "c2", "hello")
	assert.Equal(t, "Hi there!", res.Output.Text(), "(intent, \"\") fallback")

	res = h.turn(t, "c3", "what is the weather")
	assert.Equal(t, "I can help with loans.", res.Output.Text(), "default response")
}

func TestDefaults_QueryRewrite(t *testing.T) {
	h := newHarness(t, loanCatalog(t))
	res := h.turn(t, "c4", "yes")
	assert.Equal(t, "loan", res.Intent, "rewritten query drives intent resolution")
}

func TestDefaults_BlankInputStops(t *testing.T) {
	h := newHarness(t, loanCatalog(t))
	res := h.turn(t, "c5", "   ")
	assert.Equal(t, DefaultClarifyMessage, res.Output.Text())

	records, err := h.audits.Query(context.Background(), "c5")
	require.NoError(t, err)
	require.Len(t, records, 2, "only the guard ran")
	assert.Equal(t, domain.StageStepEnter, records[0].Stage)
	assert.Equal(t, domain.StageStepExit, records[1].Stage)

	_, err = h.convs.Load(context.Background(), "c5")
	assert.ErrorIs(t, err, domain.ErrConversationNotFound, "nothing persisted after a stop")
}

func TestDefaults_NoResponseMeansNoResult(t *testing.T) {
	cat, err := memory.NewCatalog(nil, nil, nil)
	require.NoError(t, err)
	h := newHarness(t, cat)

	s := domain.NewSession(domain.EngineContext{ConversationID: "c6", UserText: "hi"}, "t")
	_, err = h.pipeline.Execute(context.Background(), s)
	assert.ErrorIs(t, err, domain.ErrNoFinalResult)

	h.persist.Wait()
	_, err = h.convs.Load(context.Background(), "c6")
	assert.ErrorIs(t, err, domain.ErrConversationNotFound, "a failed turn saves nothing")

	records, err := h.audits.Query(context.Background(), "c6")
	require.NoError(t, err)
	var stages []string
	for _, r := range records {
		stages = append(stages, r.Stage)
	}
	assert.Contains(t, stages, domain.StageResponseMissing)
}

func TestSchemaExtraction_Sources(t *testing.T) {
	cat := loanCatalog(t)
	x := NewSchemaExtraction(cat, audit.Nop{}, nil)

	s := domain.NewSession(domain.EngineContext{
		ConversationID: "c",
		UserText:       "about 300",
		InputParams:    map[string]any{"amount": "1200"},
	}, "t")
	s.Intent = "loan"
	s.Context["channel"] = "web"

	_, err := x.Execute(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, "1200", s.ExtractedData["amount"], "params win over the utterance")
	assert.Equal(t, "web", s.ExtractedData["channel"], "context is the last source")
	assert.True(t, s.SchemaComplete)
	assert.Empty(t, s.MissingFields)

	s2 := domain.NewSession(domain.EngineContext{ConversationID: "c", UserText: "no numbers"}, "t")
	s2.Intent = "loan"
	_, err = x.Execute(context.Background(), s2)
	require.NoError(t, err)
	assert.False(t, s2.SchemaComplete)
	assert.Equal(t, []string{"amount"}, s2.MissingFields)
}

func TestSchemaExtraction_NoSchema(t *testing.T) {
	x := NewSchemaExtraction(loanCatalog(t), audit.Nop{}, nil)
	s := domain.NewSession(domain.EngineContext{ConversationID: "c", UserText: "hello"}, "t")
	s.Intent = "greeting"

	_, err := x.Execute(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, s.SchemaComplete)
}

type brokenStore struct{}

func (brokenStore) Load(context.Context, string) (*domain.Conversation, error) {
	return nil, errors.New("connection refused")
}

func (brokenStore) Save(context.Context, *domain.Conversation) error {
	return errors.New("connection refused")
}

func TestLoadConversation_StoreFailure(t *testing.T) {
	l := NewLoadConversation(brokenStore{}, audit.Nop{})
	s := domain.NewSession(domain.EngineContext{ConversationID: "c", UserText: "x"}, "t")

	_, err := l.Execute(context.Background(), s)
	ee, ok := domain.AsEngineError(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeStoreUnavailable, ee.Code)
	assert.True(t, ee.Recoverable)
}

type slowStore struct {
	mu    sync.Mutex
	saved []*domain.Conversation
	delay time.Duration
}

func (s *slowStore) Load(context.Context, string) (*domain.Conversation, error) {
	return nil, domain.ErrConversationNotFound
}

func (s *slowStore) Save(ctx context.Context, conv *domain.Conversation) error {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, conv)
	return nil
}

func TestPersistConversation_DoesNotBlock(t *testing.T) {
	store := &slowStore{delay: 50 * time.Millisecond}
	p := NewPersistConversation(store, time.Second, nil)
	s := answered("c", "loan")

	ctx, cancel := context.WithCancel(context.Background())
	start := time.Now()
	_, err := p.Execute(ctx, s)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 40*time.Millisecond)
	cancel() // the caller's context ending must not abort the save

	p.Wait()
	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.saved, 1)
	assert.Equal(t, "loan", store.saved[0].Intent)
}

func TestPersistConversation_FailureIsSwallowed(t *testing.T) {
	p := NewPersistConversation(brokenStore{}, time.Second, nil)
	s := answered("c", "loan")

	res, err := p.Execute(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeContinue, res.Outcome())
	p.Wait()
}

// answered returns a session that already carries a final result.
func answered(convID, intent string) *domain.EngineSession {
	s := domain.NewSession(domain.EngineContext{ConversationID: convID, UserText: "x"}, "t")
	s.Intent = intent
	s.SetFinalResult(domain.EngineResult{ConversationID: convID, Intent: intent})
	return s
}

func TestPersistConversation_SkipsTurnWithoutResult(t *testing.T) {
	store := memory.NewStore()
	p := NewPersistConversation(store, time.Second, nil)
	s := domain.NewSession(domain.EngineContext{ConversationID: "c", UserText: "x"}, "t")
	s.State = "ready"

	_, err := p.Execute(context.Background(), s)
	require.NoError(t, err)
	p.Wait()

	_, err = store.Load(context.Background(), "c")
	assert.ErrorIs(t, err, domain.ErrConversationNotFound)
}

// delayedStore delays the first save of every conversation and can fail a
// number of saves.
type delayedStore struct {
	*memory.Store
	mu       sync.Mutex
	delay    time.Duration
	failures int
	delayed  map[string]bool
}

func newDelayedStore(delay time.Duration, failures int) *delayedStore {
	return &delayedStore{Store: memory.NewStore(), delay: delay, failures: failures, delayed: map[string]bool{}}
}

func (d *delayedStore) Save(ctx context.Context, conv *domain.Conversation) error {
	d.mu.Lock()
	wait := !d.delayed[conv.ID]
	d.delayed[conv.ID] = true
	fail := d.failures > 0
	if fail {
		d.failures--
	}
	d.mu.Unlock()

	if wait {
		time.Sleep(d.delay)
	}
	if fail {
		return errors.New("disk full")
	}
	return d.Store.Save(ctx, conv)
}

func TestDefaults_BackToBackTurnsWithSlowSave(t *testing.T) {
	store := newDelayedStore(100*time.Millisecond, 0)
	h := newHarnessWithStore(t, loanCatalog(t), store)

	first := h.turnNoWait(t, "c1", "I want a loan")
	assert.Equal(t, "collecting", first.State)

	second := h.turnNoWait(t, "c1", "5000 please")
	assert.Equal(t, "loan", second.Intent, "the second turn sees the first turn's state")
	assert.Equal(t, "ready", second.State)

	h.persist.Wait()
	conv, err := store.Load(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "loan", conv.Intent, "the slow first save does not overwrite the second")
	assert.Equal(t, "ready", conv.State)
	assert.Equal(t, "5000", conv.Context["amount"])
}

func TestDefaults_FailedSaveKeepsReturnedState(t *testing.T) {
	store := newDelayedStore(0, 1)
	h := newHarnessWithStore(t, loanCatalog(t), store)

	h.turnNoWait(t, "c1", "I want a loan")
	second := h.turn(t, "c1", "5000 please")
	assert.Equal(t, "loan", second.Intent, "a failed save does not roll back the view")
	assert.Equal(t, "ready", second.State)

	conv, err := store.Load(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "ready", conv.State)
}

func TestLoadConversation_CanceledWhileSavePending(t *testing.T) {
	store := newDelayedStore(time.Second, 0)
	p := NewPersistConversation(store, 5*time.Second, nil)
	l := NewLoadConversation(store, audit.Nop{}).AwaitSaves(p)

	_, err := p.Execute(context.Background(), answered("c", "loan"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Execute(ctx, domain.NewSession(domain.EngineContext{ConversationID: "c", UserText: "x"}, "t2"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	p.Wait()
}
