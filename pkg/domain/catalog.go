package domain

import "strings"

// ResponseType selects how a response payload is produced.
type ResponseType string

const (
	// ResponseExact returns the configured text as is.
	ResponseExact ResponseType = "EXACT"
	// ResponseDerived renders a template over the facts document.
	ResponseDerived ResponseType = "DERIVED"
)

// OutputFormat selects the Output variant of a response.
type OutputFormat string

const (
	FormatText OutputFormat = "TEXT"
	FormatJSON OutputFormat = "JSON"
)

// ResponseTemplate is a catalog entry keyed by intent and state.
// An empty State matches any state of the intent; an empty Intent is the default.
type ResponseTemplate struct {
	Intent   string       `json:"intent" yaml:"intent"`
	State    string       `json:"state,omitempty" yaml:"state,omitempty"`
	Type     ResponseType `json:"type" yaml:"type"`
	Format   OutputFormat `json:"format" yaml:"format"`
	Text     string       `json:"text,omitempty" yaml:"text,omitempty"`
	Template string       `json:"template,omitempty" yaml:"template,omitempty"`
	// Stage labels the LLM call made for derived responses.
	Stage string `json:"stage,omitempty" yaml:"stage,omitempty"`
}

// Normalize upper-cases the enum fields and applies defaults.
func (r ResponseTemplate) Normalize() ResponseTemplate {
	r.Type = ResponseType(strings.ToUpper(strings.TrimSpace(string(r.Type))))
	if r.Type == "" {
		r.Type = ResponseExact
	}
	r.Format = OutputFormat(strings.ToUpper(strings.TrimSpace(string(r.Format))))
	if r.Format == "" {
		r.Format = FormatText
	}
	return r
}

// SchemaField describes one slot to extract for an intent.
type SchemaField struct {
	Name     string `json:"name" yaml:"name"`
	Required bool   `json:"required,omitempty" yaml:"required,omitempty"`
	// Pattern is a regular expression; its first capture group (or the whole match) is the value.
	Pattern string `json:"pattern,omitempty" yaml:"pattern,omitempty"`
}

// Schema lists the slots an intent needs.
type Schema struct {
	Intent string        `json:"intent" yaml:"intent"`
	Fields []SchemaField `json:"fields" yaml:"fields"`
}
