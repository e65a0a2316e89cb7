// Package response turns the outcome of a turn into its output payload.
//
// Two polymorphic axes are involved: the response type (EXACT text or a
// DERIVED template, optionally completed by an LLM) produces text, and the
// output format (TEXT or JSON) turns that text into an Output variant.
package response

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"text/template"

	"github.com/aretw0/turnpike/pkg/domain"
	"github.com/aretw0/turnpike/pkg/ports"
	"github.com/aretw0/turnpike/pkg/rules"
)

// Interpolator renders a template over data.
type Interpolator func(ctx context.Context, tmpl string, data any) (string, error)

// DefaultInterpolator renders with text/template. Missing keys render empty.
func DefaultInterpolator(_ context.Context, tmpl string, data any) (string, error) {
	t, err := template.New("response").Option("missingkey=zero").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return strings.ReplaceAll(buf.String(), "<no value>", ""), nil
}

// TypeResolver produces the response text for one response type.
type TypeResolver interface {
	Type() domain.ResponseType
	Resolve(ctx context.Context, s *domain.EngineSession, tmpl domain.ResponseTemplate) (string, error)
}

// FormatResolver wraps response text into an Output variant.
type FormatResolver interface {
	Format() domain.OutputFormat
	Build(text string) (domain.Output, error)
}

// ExactResolver returns the configured text verbatim.
type ExactResolver struct{}

func (ExactResolver) Type() domain.ResponseType { return domain.ResponseExact }

func (ExactResolver) Resolve(_ context.Context, _ *domain.EngineSession, tmpl domain.ResponseTemplate) (string, error) {
	return tmpl.Text, nil
}

// DerivedResolver renders the template over the facts document. With an
// LLM configured, the rendered text is a prompt and the completion is the
// response.
type DerivedResolver struct {
	Interpolate Interpolator
	LLM         ports.LLMClient
}

func (DerivedResolver) Type() domain.ResponseType { return domain.ResponseDerived }

func (r DerivedResolver) Resolve(ctx context.Context, s *domain.EngineSession, tmpl domain.ResponseTemplate) (string, error) {
	source := tmpl.Template
	if source == "" {
		source = tmpl.Text
	}
	interpolate := r.Interpolate
	if interpolate == nil {
		interpolate = DefaultInterpolator
	}

	rendered, err := interpolate(ctx, source, rules.BuildFacts(s))
	if err != nil {
		return "", err
	}
	if r.LLM == nil {
		return rendered, nil
	}

	out, err := r.LLM.Complete(ctx, rendered)
	if err != nil {
		return "", fmt.Errorf("llm completion: %w", err)
	}
	stage := tmpl.Stage
	if stage == "" {
		stage = "response"
	}
	s.LastLLMOutput = out
	s.LastLLMStage = stage
	return out, nil
}

// TextFormat yields the Text variant.
type TextFormat struct{}

func (TextFormat) Format() domain.OutputFormat { return domain.FormatText }

func (TextFormat) Build(text string) (domain.Output, error) {
	return domain.TextOutput(text), nil
}

// JSONFormat yields the Json variant. Text that is not valid JSON is
// wrapped as {"message": text}.
type JSONFormat struct{}

func (JSONFormat) Format() domain.OutputFormat { return domain.FormatJSON }

func (JSONFormat) Build(text string) (domain.Output, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed != "" && json.Valid([]byte(trimmed)) {
		return domain.JSONOutput(json.RawMessage(trimmed)), nil
	}
	data, err := json.Marshal(map[string]string{"message": text})
	if err != nil {
		return domain.Output{}, err
	}
	return domain.JSONOutput(data), nil
}

// Resolver dispatches a response template to its type and format resolvers.
type Resolver struct {
	mu      sync.RWMutex
	types   map[domain.ResponseType]TypeResolver
	formats map[domain.OutputFormat]FormatResolver
}

// Option configures the built-in resolvers of a Resolver.
type Option func(*DerivedResolver)

// WithLLM makes derived responses complete their rendered prompt.
func WithLLM(llm ports.LLMClient) Option {
	return func(d *DerivedResolver) {
		d.LLM = llm
	}
}

// WithInterpolator replaces the template renderer of derived responses.
func WithInterpolator(i Interpolator) Option {
	return func(d *DerivedResolver) {
		d.Interpolate = i
	}
}

// NewResolver creates a resolver with the built-in types and formats.
func NewResolver(opts ...Option) *Resolver {
	derived := DerivedResolver{Interpolate: DefaultInterpolator}
	for _, opt := range opts {
		opt(&derived)
	}

	r := &Resolver{
		types:   make(map[domain.ResponseType]TypeResolver),
		formats: make(map[domain.OutputFormat]FormatResolver),
	}
	// Built-ins have distinct keys.
	_ = r.RegisterType(ExactResolver{}, derived)
	_ = r.RegisterFormat(TextFormat{}, JSONFormat{})
	return r
}

// RegisterType adds response type resolvers. Duplicate keys fail.
func (r *Resolver) RegisterType(rs ...TypeResolver) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tr := range rs {
		if _, exists := r.types[tr.Type()]; exists {
			return fmt.Errorf("response type %s: %w", tr.Type(), domain.ErrDuplicateKey)
		}
		r.types[tr.Type()] = tr
	}
	return nil
}

// RegisterFormat adds output format resolvers. Duplicate keys fail.
func (r *Resolver) RegisterFormat(fs ...FormatResolver) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range fs {
		if _, exists := r.formats[f.Format()]; exists {
			return fmt.Errorf("output format %s: %w", f.Format(), domain.ErrDuplicateKey)
		}
		r.formats[f.Format()] = f
	}
	return nil
}

// Resolve produces the output of tmpl for the session.
func (r *Resolver) Resolve(ctx context.Context, s *domain.EngineSession, tmpl domain.ResponseTemplate) (domain.Output, error) {
	tmpl = tmpl.Normalize()

	r.mu.RLock()
	tr, okType := r.types[tmpl.Type]
	fr, okFormat := r.formats[tmpl.Format]
	r.mu.RUnlock()

	if !okType {
		return domain.Output{}, fmt.Errorf("unknown response type %q", tmpl.Type)
	}
	if !okFormat {
		return domain.Output{}, fmt.Errorf("unknown output format %q", tmpl.Format)
	}

	text, err := tr.Resolve(ctx, s, tmpl)
	if err != nil {
		return domain.Output{}, fmt.Errorf("resolve %s response: %w", tmpl.Type, err)
	}
	return fr.Build(text)
}
