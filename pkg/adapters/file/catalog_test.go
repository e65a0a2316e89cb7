package file_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aretw0/turnpike/pkg/adapters/file"
	"github.com/aretw0/turnpike/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const catalogYAML = `
rules:
  - id: greet
    phase: intent
    match_type: regex
    pattern: '\bhello\b'
    action_type: set_intent
    action_value: greeting
  - id: late
    phase: post
    priority: 10
    match_type: agent
    action_type: set_state
    action_value: done
  - id: early
    phase: post
    priority: 1
    match_type: agent
    action_type: set_dialogue_act
    action_value: inform
responses:
  - intent: greeting
    text: Hi!
  - intent: ""
    type: derived
    format: json
    template: '{"echo": "{{.userText}}"}'
schemas:
  - intent: loan
    fields:
      - name: amount
        required: true
        pattern: '(\d+)'
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestOpen_LoadsAndNormalizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	writeFile(t, path, catalogYAML)

	cat, err := file.Open(path)
	require.NoError(t, err)
	ctx := context.Background()

	intent, err := cat.Rules(ctx, domain.PhaseIntent)
	require.NoError(t, err)
	require.Len(t, intent, 1)
	assert.Equal(t, domain.MatchRegex, intent[0].MatchType)
	assert.Equal(t, domain.ActionSetIntent, intent[0].ActionType)

	post, err := cat.Rules(ctx, domain.PhasePost)
	require.NoError(t, err)
	require.Len(t, post, 2)
	assert.Equal(t, "early", post[0].ID, "rules sorted by priority")

	def, err := cat.Response(ctx, "", "")
	require.NoError(t, err)
	assert.Equal(t, domain.ResponseDerived, def.Type)
	assert.Equal(t, domain.FormatJSON, def.Format)

	schema, err := cat.Schema(ctx, "loan")
	require.NoError(t, err)
	assert.True(t, schema.Fields[0].Required)
}

func TestLoad_DirectoryMergesFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a_rules.yaml"), "rules:\n  - {id: r1, phase: PRE, match_type: EXACT, pattern: hi, action_type: SET_STATE, action_value: s}\n")
	writeFile(t, filepath.Join(dir, "b_responses.yml"), "responses:\n  - {intent: '', text: default}\n")
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")

	doc, err := file.Load(dir)
	require.NoError(t, err)
	assert.Len(t, doc.Rules, 1)
	assert.Len(t, doc.Responses, 1)
	assert.NoError(t, doc.Validate())
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	_, err := file.Parse([]byte("rules:\n  - id: x\n    patern: typo\n"))
	assert.Error(t, err)
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	doc, err := file.Parse([]byte(`
rules:
  - id: a
    phase: sometime
    match_type: regex
    pattern: '('
    action_type: teleport
  - id: a
    phase: pre
    match_type: exact
    pattern: x
    action_type: set_state
responses:
  - intent: x
    type: derived
schemas:
  - intent: loan
    fields:
      - pattern: '(\d+'
`))
	require.NoError(t, err)

	err = doc.Validate()
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		"unknown phase", "invalid pattern", "unknown action type",
		"duplicate id", "template is required", "name is required",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestOpen_InvalidCatalogFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	writeFile(t, path, "rules:\n  - id: x\n    phase: nope\n")
	_, err := file.Open(path)
	assert.Error(t, err)
}

func TestCatalog_WatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	writeFile(t, path, catalogYAML)

	reloads := make(chan error, 8)
	cat, err := file.Open(path,
		file.WithDebounce(50*time.Millisecond),
		file.WithReloadHook(func(err error) { reloads <- err }),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cat.Watch(ctx) }()
	defer func() {
		cancel()
		assert.NoError(t, <-done)
	}()

	// Give the watcher time to register before writing.
	time.Sleep(50 * time.Millisecond)

	writeFile(t, path, "responses:\n  - {intent: greeting, text: Hello again!}\n")
	select {
	case err := <-reloads:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("catalog was not reloaded")
	}
	resp, err := cat.Response(context.Background(), "greeting", "")
	require.NoError(t, err)
	assert.Equal(t, "Hello again!", resp.Text)

	// An invalid edit keeps the last good snapshot.
	writeFile(t, path, "rules:\n  - {id: bad, phase: nope}\n")
	select {
	case err := <-reloads:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("catalog was not reloaded")
	}
	resp, err = cat.Response(context.Background(), "greeting", "")
	require.NoError(t, err)
	assert.Equal(t, "Hello again!", resp.Text)
}
