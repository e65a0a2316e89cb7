package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/aretw0/turnpike/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndInvoke(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("crm", "lookup", func(_ context.Context, s *domain.EngineSession, rule domain.Rule) error {
		s.SetParam("customer", "gold")
		s.SetParam("rule", rule.ID)
		return nil
	}))

	s := domain.NewSession(domain.EngineContext{ConversationID: "c"}, "t")
	require.NoError(t, r.Invoke(context.Background(), "crm", "lookup", s, domain.Rule{ID: "r1"}))
	assert.Equal(t, "gold", s.InputParams["customer"])
	assert.Equal(t, "r1", s.InputParams["rule"])
}

func TestRegistry_DuplicateRejected(t *testing.T) {
	r := NewRegistry()
	fn := func(context.Context, *domain.EngineSession, domain.Rule) error { return nil }
	require.NoError(t, r.Register("crm", "lookup", fn))

	err := r.Register("crm", "lookup", fn)
	assert.ErrorIs(t, err, domain.ErrDuplicateKey)
	assert.Panics(t, func() { r.MustRegister("crm", "lookup", fn) })

	// Same task, different method is fine.
	assert.NoError(t, r.Register("crm", "update", fn))
	assert.Equal(t, []string{"crm.lookup", "crm.update"}, r.Keys())
}

func TestRegistry_InvalidRegistration(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Register("", "m", func(context.Context, *domain.EngineSession, domain.Rule) error { return nil }))
	assert.Error(t, r.Register("t", "m", nil))
}

func TestRegistry_NotFound(t *testing.T) {
	r := NewRegistry()
	err := r.Invoke(context.Background(), "ghost", "run", nil, domain.Rule{})
	assert.ErrorIs(t, err, ErrTaskNotFound)

	_, ok := r.Lookup("ghost", "run")
	assert.False(t, ok)
}

func TestRegistry_PropagatesTaskError(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("boom")
	r.MustRegister("t", "m", func(context.Context, *domain.EngineSession, domain.Rule) error { return boom })
	assert.ErrorIs(t, r.Invoke(context.Background(), "t", "m", nil, domain.Rule{}), boom)
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		in         string
		task, meth string
		wantErr    bool
	}{
		{in: "crm.lookup", task: "crm", meth: "lookup"},
		{in: " crm#lookup ", task: "crm", meth: "lookup"},
		{in: "crm.lookup.v2", task: "crm", meth: "lookup.v2"},
		{in: "crm", wantErr: true},
		{in: ".lookup", wantErr: true},
		{in: "crm.", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			task, meth, err := ParseTarget(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.task, task)
			assert.Equal(t, tt.meth, meth)
		})
	}
}
