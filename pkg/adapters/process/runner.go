// Package process runs allow-listed local commands as INVOKE_TASK targets.
//
// Every configured tool becomes the task method "process.<name>". The
// command receives the turn as TURNPIKE_* environment variables and its
// stdout is stored in the conversation context under the tool name.
package process

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/aretw0/turnpike/internal/logging"
	"github.com/aretw0/turnpike/pkg/domain"
	"github.com/aretw0/turnpike/pkg/registry"
)

// TaskName is the task under which tools are registered.
const TaskName = "process"

// DefaultTimeout bounds a tool run when neither the tool nor the runner sets one.
const DefaultTimeout = 10 * time.Second

var envKeySanitizer = regexp.MustCompile(`[^A-Z0-9_]`)

// Runner executes local processes.
// It follows a strict registry pattern (allow-listing); there is no ad-hoc execution.
type Runner struct {
	registry map[string]registeredProcess
	baseDir  string
	timeout  time.Duration
	logger   *slog.Logger
}

type registeredProcess struct {
	command string
	args    []string
	env     map[string]string
	timeout time.Duration
}

// RunnerOption configures the runner.
type RunnerOption func(*Runner)

// WithRegistry populates the allow-list from a loaded config.
func WithRegistry(tools map[string]ToolConfig) RunnerOption {
	return func(r *Runner) {
		for name, tool := range tools {
			timeout, _ := time.ParseDuration(tool.Timeout)
			r.registry[name] = registeredProcess{
				command: tool.Command,
				args:    tool.Args,
				env:     tool.Environment,
				timeout: timeout,
			}
		}
	}
}

// WithBaseDir sets the working directory for executed processes.
func WithBaseDir(dir string) RunnerOption {
	return func(r *Runner) {
		r.baseDir = dir
	}
}

// WithTimeout sets the default run timeout.
func WithTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.timeout = d
	}
}

// WithLogger configures the runner logger.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = l
	}
}

// NewRunner creates a new Process Runner.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		registry: make(map[string]registeredProcess),
		timeout:  DefaultTimeout,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a trusted command to the allow-list.
func (r *Runner) Register(name string, command string, args ...string) {
	r.registry[name] = registeredProcess{command: command, args: args}
}

// Install registers every allow-listed tool as a task method of reg.
func (r *Runner) Install(reg *registry.Registry) error {
	for name := range r.registry {
		tool := name
		err := reg.Register(TaskName, tool, func(ctx context.Context, s *domain.EngineSession, rule domain.Rule) error {
			out, err := r.Run(ctx, tool, s)
			if err != nil {
				return err
			}
			s.Context[tool] = out
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to register tool %s: %w", tool, err)
		}
	}
	return nil
}

// Run executes a registered tool for the session and returns its stdout,
// decoded when it is a JSON object or array.
func (r *Runner) Run(ctx context.Context, name string, s *domain.EngineSession) (any, error) {
	proc, ok := r.registry[name]
	if !ok {
		return nil, fmt.Errorf("process tool not registered: %s", name)
	}

	timeout := proc.timeout
	if timeout <= 0 {
		timeout = r.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Facts are passed as environment variables, never as flags, so user
	// text cannot inject arguments.
	cmd := exec.CommandContext(ctx, proc.command, proc.args...)
	cmd.Dir = r.baseDir
	// Children holding stdout open must not outlive the timeout.
	cmd.WaitDelay = time.Second
	cmd.Env = append(cmd.Environ(), sessionEnv(s)...)
	for k, v := range proc.env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	r.logger.Debug("Process tool finished", "tool", name, "duration_ms", time.Since(start).Milliseconds(), "err", err)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("tool %s timed out after %s: %w", name, timeout, ctx.Err())
		}
		return nil, fmt.Errorf("tool %s failed: %w (stderr: %s)", name, err, strings.TrimSpace(stderr.String()))
	}

	trimmed := strings.TrimSpace(stdout.String())
	if (strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}")) ||
		(strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]")) {
		var v any
		if json.Unmarshal([]byte(trimmed), &v) == nil {
			return v, nil
		}
	}
	return trimmed, nil
}

func sessionEnv(s *domain.EngineSession) []string {
	env := []string{
		"TURNPIKE_CONVERSATION_ID=" + s.ConversationID,
		"TURNPIKE_TURN_ID=" + s.TurnID,
		"TURNPIKE_INTENT=" + s.Intent,
		"TURNPIKE_STATE=" + s.State,
		"TURNPIKE_USER_INPUT=" + s.ResolvedUserInput(),
	}
	params := make(map[string]any, len(s.Context)+len(s.InputParams))
	maps.Copy(params, s.Context)
	maps.Copy(params, s.InputParams)
	for k, v := range params {
		key := envKeySanitizer.ReplaceAllString(strings.ToUpper(k), "_")
		env = append(env, "TURNPIKE_ARG_"+key+"="+envValue(v))
	}
	return env
}

func envValue(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case int, int64, float64, bool:
		return fmt.Sprintf("%v", v)
	default:
		if data, err := json.Marshal(v); err == nil {
			return string(data)
		}
		return fmt.Sprintf("%v", v)
	}
}
