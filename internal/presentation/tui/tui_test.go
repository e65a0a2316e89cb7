package tui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/turnpike/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintTrace(t *testing.T) {
	now := time.Now()
	trace := &domain.Trace{
		ConversationID: "c1",
		Stages:         make([]domain.StageEvent, 5),
		Steps: []*domain.StepTrace{
			{
				Name: "intent_resolution", Status: domain.StepOK, StartedAt: now, DurationMs: 3,
				Stages: []domain.StageEvent{
					{Stage: domain.StageStepEnter},
					{Stage: domain.StageIntentSet},
					{Stage: domain.StageStepExit},
				},
			},
			{Name: "response_resolution", Status: domain.StepError, StartedAt: now, Error: "no template"},
		},
	}

	var buf bytes.Buffer
	PrintTrace(&buf, trace)
	out := buf.String()

	assert.Contains(t, out, "Conversation c1 (5 records, 2 steps)")
	assert.Contains(t, out, "├─ intent_resolution")
	assert.Contains(t, out, "· INTENT_SET")
	assert.NotContains(t, out, "STEP_ENTER")
	assert.Contains(t, out, "└─ response_resolution")
	assert.Contains(t, out, "no template")
	assert.NotContains(t, out, "\x1b[", "no escape codes when not a terminal")
}

func TestPrintBanner(t *testing.T) {
	var buf bytes.Buffer
	PrintBanner(&buf, "1.2.3\n")
	assert.Contains(t, buf.String(), "v1.2.3")
	assert.False(t, IsTerminal(&buf))
}

func TestNewRenderer(t *testing.T) {
	render, err := NewRenderer()
	require.NoError(t, err)

	out, err := render("**bold** reply")
	require.NoError(t, err)
	assert.True(t, strings.Contains(out, "bold"))
}
