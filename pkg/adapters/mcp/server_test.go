package mcp

import (
	"context"
	"testing"

	"github.com/aretw0/turnpike"
	"github.com/aretw0/turnpike/pkg/adapters/memory"
	"github.com/aretw0/turnpike/pkg/domain"
	"github.com/aretw0/turnpike/pkg/steps"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	catalog := memory.MustCatalog(
		[]domain.Rule{
			{ID: "greet", Phase: domain.PhaseIntent, MatchType: domain.MatchRegex, Pattern: `\bhello\b`, ActionType: domain.ActionSetIntent, ActionValue: "greeting"},
			{ID: "vip", Phase: domain.PhasePost, MatchType: domain.MatchJSONPath, Pattern: `inputParams.tier == "gold"`, ActionType: domain.ActionSetState, ActionValue: "vip"},
		},
		[]domain.ResponseTemplate{
			{Intent: "greeting", Text: "Hi!"},
			{Intent: "greeting", State: "vip", Text: "Welcome back, gold member!"},
		},
		nil,
	)
	engine, err := turnpike.New(turnpike.WithCatalog(catalog))
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	return NewServer(engine)
}

func TestHandleProcessTurn(t *testing.T) {
	s := newTestServer(t)

	resp, err := s.handleProcessTurn(context.Background(), mcp.CallToolRequest{}, ProcessTurnArgs{
		ConversationID: "m1",
		UserText:       "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "m1", resp.ConversationID)
	assert.Equal(t, "greeting", resp.Intent)
	assert.Equal(t, "text", resp.OutputKind)
	assert.Equal(t, "Hi!", resp.Output)
	assert.NotEmpty(t, resp.TurnID)
}

func TestHandleProcessTurn_InputParams(t *testing.T) {
	s := newTestServer(t)

	resp, err := s.handleProcessTurn(context.Background(), mcp.CallToolRequest{}, ProcessTurnArgs{
		ConversationID: "m2",
		UserText:       "hello",
		InputParams:    `{"tier":"gold"}`,
	})
	require.NoError(t, err)
	assert.Equal(t, "vip", resp.State)
	assert.Equal(t, "Welcome back, gold member!", resp.Output)

	_, err = s.handleProcessTurn(context.Background(), mcp.CallToolRequest{}, ProcessTurnArgs{
		ConversationID: "m2",
		UserText:       "hello",
		InputParams:    `[1,2]`,
	})
	assert.ErrorContains(t, err, "input_params")
}

func TestHandleProcessTurn_EngineError(t *testing.T) {
	s := newTestServer(t)

	_, err := s.handleProcessTurn(context.Background(), mcp.CallToolRequest{}, ProcessTurnArgs{UserText: "hello"})
	ee, ok := domain.AsEngineError(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeInvalidInput, ee.Code)
}

func TestHandleGetTrace(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	_, err := s.handleGetTrace(ctx, mcp.CallToolRequest{}, TraceArgs{})
	assert.Error(t, err)

	_, err = s.handleProcessTurn(ctx, mcp.CallToolRequest{}, ProcessTurnArgs{ConversationID: "m3", UserText: "hello"})
	require.NoError(t, err)

	trace, err := s.handleGetTrace(ctx, mcp.CallToolRequest{}, TraceArgs{ConversationID: "m3"})
	require.NoError(t, err)
	assert.Equal(t, "m3", trace.ConversationID)
	require.NotEmpty(t, trace.Steps)
	assert.Equal(t, steps.InputGuardName, trace.Steps[0].Name)
}

func TestStructuredHandlerReportsToolErrors(t *testing.T) {
	s := newTestServer(t)
	handler := mcp.NewStructuredToolHandler(s.handleProcessTurn)

	res, err := handler(context.Background(), mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      "process_turn",
			Arguments: map[string]any{"conversation_id": "", "user_text": "hello"},
		},
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = handler(context.Background(), mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      "process_turn",
			Arguments: map[string]any{"conversation_id": "m4", "user_text": "hello"},
		},
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "greeting", res.StructuredContent.(TurnResponse).Intent)
}
