package rules

import (
	"context"
	"testing"

	"github.com/aretw0/turnpike/internal/logging"
	"github.com/aretw0/turnpike/pkg/domain"
	"github.com/aretw0/turnpike/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry_EnumeratesAll(t *testing.T) {
	reg, err := NewDefaultRegistry(&recordingAuditor{}, registry.NewRegistry(), nil)
	require.NoError(t, err)

	assert.Equal(t, []domain.MatchType{
		domain.MatchAgent, domain.MatchExact, domain.MatchJSONPath, domain.MatchRegex,
	}, reg.MatchTypes())
	assert.Len(t, reg.ActionTypes(), 7)
}

func TestRegistry_RejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterMatcher(ExactMatcher{}))
	assert.ErrorIs(t, reg.RegisterMatcher(ExactMatcher{}), domain.ErrDuplicateKey)

	aud := &recordingAuditor{}
	require.NoError(t, reg.RegisterAction(SetIntentAction{Auditor: aud}))
	assert.ErrorIs(t, reg.RegisterAction(SetIntentAction{Auditor: aud}), domain.ErrDuplicateKey)
}

func TestService_MissIsReportedNotThrown(t *testing.T) {
	aud := &recordingAuditor{}
	svc := NewService(NewRegistry(), aud, logging.NewNop())

	assert.NotPanics(t, func() {
		assert.Nil(t, svc.Matcher(context.Background(), "c", "FUZZY"))
		assert.Nil(t, svc.Action(context.Background(), "c", "LAUNCH"))
	})

	require.Equal(t, []string{domain.StageRuleResolverMissing, domain.StageRuleResolverMissing}, aud.stages())
	assert.Equal(t, "match", aud.entries[0].Payload["kind"])
	assert.Equal(t, "FUZZY", aud.entries[0].Payload["key"])
	assert.Equal(t, "action", aud.entries[1].Payload["kind"])
}

func TestService_Hit(t *testing.T) {
	aud := &recordingAuditor{}
	reg, err := NewDefaultRegistry(aud, nil, nil)
	require.NoError(t, err)
	svc := NewService(reg, aud, nil)

	assert.NotNil(t, svc.Matcher(context.Background(), "c", domain.MatchRegex))
	assert.NotNil(t, svc.Action(context.Background(), "c", domain.ActionSetState))
	assert.Empty(t, aud.stages())
}
