package memory

import (
	"context"
	"fmt"

	"github.com/aretw0/turnpike/pkg/domain"
)

// Catalog implements ports.Catalog over fixed, in-memory definitions.
// It is immutable after construction and safe for concurrent use.
type Catalog struct {
	rules     map[domain.Phase][]domain.Rule
	responses map[responseKey]domain.ResponseTemplate
	schemas   map[string]domain.Schema
}

type responseKey struct {
	intent string
	state  string
}

// NewCatalog builds a catalog. Enum fields are normalized and rules are
// grouped by phase in priority order. Duplicate responses or schemas fail.
func NewCatalog(rules []domain.Rule, responses []domain.ResponseTemplate, schemas []domain.Schema) (*Catalog, error) {
	c := &Catalog{
		rules:     make(map[domain.Phase][]domain.Rule),
		responses: make(map[responseKey]domain.ResponseTemplate, len(responses)),
		schemas:   make(map[string]domain.Schema, len(schemas)),
	}

	for _, r := range rules {
		r = r.Normalize()
		c.rules[r.Phase] = append(c.rules[r.Phase], r)
	}
	for phase := range c.rules {
		domain.SortRules(c.rules[phase])
	}

	for _, resp := range responses {
		resp = resp.Normalize()
		key := responseKey{intent: resp.Intent, state: resp.State}
		if _, exists := c.responses[key]; exists {
			return nil, fmt.Errorf("response %q/%q: %w", resp.Intent, resp.State, domain.ErrDuplicateKey)
		}
		c.responses[key] = resp
	}

	for _, s := range schemas {
		if _, exists := c.schemas[s.Intent]; exists {
			return nil, fmt.Errorf("schema %q: %w", s.Intent, domain.ErrDuplicateKey)
		}
		c.schemas[s.Intent] = s
	}
	return c, nil
}

// MustCatalog is like NewCatalog but panics on error. Intended for tests and examples.
func MustCatalog(rules []domain.Rule, responses []domain.ResponseTemplate, schemas []domain.Schema) *Catalog {
	c, err := NewCatalog(rules, responses, schemas)
	if err != nil {
		panic(err)
	}
	return c
}

// Rules returns a copy of the rules of a phase.
func (c *Catalog) Rules(ctx context.Context, phase domain.Phase) ([]domain.Rule, error) {
	src := c.rules[phase]
	out := make([]domain.Rule, len(src))
	copy(out, src)
	return out, nil
}

// AllRules returns every rule, grouped by phase.
func (c *Catalog) AllRules() map[domain.Phase][]domain.Rule {
	out := make(map[domain.Phase][]domain.Rule, len(c.rules))
	for p, rs := range c.rules {
		out[p] = append([]domain.Rule(nil), rs...)
	}
	return out
}

// Response returns the template for an exact intent/state pair.
func (c *Catalog) Response(ctx context.Context, intent, state string) (domain.ResponseTemplate, error) {
	resp, ok := c.responses[responseKey{intent: intent, state: state}]
	if !ok {
		return domain.ResponseTemplate{}, domain.ErrResponseNotFound
	}
	return resp, nil
}

// Schema returns the extraction schema of an intent.
func (c *Catalog) Schema(ctx context.Context, intent string) (domain.Schema, error) {
	s, ok := c.schemas[intent]
	if !ok {
		return domain.Schema{}, domain.ErrSchemaNotFound
	}
	return s, nil
}

// Counts reports how many rules, responses and schemas the catalog holds.
func (c *Catalog) Counts() (rules, responses, schemas int) {
	for _, rs := range c.rules {
		rules += len(rs)
	}
	return rules, len(c.responses), len(c.schemas)
}
