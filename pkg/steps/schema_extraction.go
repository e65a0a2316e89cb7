package steps

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/aretw0/turnpike/internal/logging"
	"github.com/aretw0/turnpike/pkg/domain"
	"github.com/aretw0/turnpike/pkg/pipeline"
	"github.com/aretw0/turnpike/pkg/ports"
)

// SchemaExtraction fills the slots of the current intent.
// A value comes from the input parameters first, then from the user input
// through the field pattern, then from the conversation context.
type SchemaExtraction struct {
	store   ports.SchemaStore
	auditor ports.Auditor
	logger  *slog.Logger
	cache   sync.Map // pattern -> *regexp.Regexp
}

// NewSchemaExtraction creates the step.
func NewSchemaExtraction(store ports.SchemaStore, auditor ports.Auditor, logger *slog.Logger) *SchemaExtraction {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &SchemaExtraction{store: store, auditor: auditor, logger: logger}
}

func (*SchemaExtraction) Name() string   { return SchemaExtractionName }
func (*SchemaExtraction) Source() string { return source }

func (*SchemaExtraction) Ordering() pipeline.Ordering {
	return pipeline.Ordering{After: []string{IntentResolutionName}}
}

type extractedPayload struct {
	Intent    string         `json:"intent"`
	Extracted map[string]any `json:"extracted"`
	Missing   []string       `json:"missing"`
	Complete  bool           `json:"complete"`
}

func (x *SchemaExtraction) Execute(ctx context.Context, s *domain.EngineSession) (domain.StepResult, error) {
	s.SchemaComplete = true
	s.MissingFields = nil
	if s.Intent == "" {
		return domain.Continue(), nil
	}

	schema, err := x.store.Schema(ctx, s.Intent)
	if errors.Is(err, domain.ErrSchemaNotFound) {
		return domain.Continue(), nil
	}
	if err != nil {
		return domain.StepResult{}, domain.NewEngineError(domain.CodeStoreUnavailable, "load schema", err)
	}

	input := s.ResolvedUserInput()
	extracted := make(map[string]any)
	missing := []string{}
	for _, field := range schema.Fields {
		value, ok := x.extract(field, s, input)
		if !ok {
			if field.Required {
				missing = append(missing, field.Name)
			}
			continue
		}
		extracted[field.Name] = value
		s.ExtractedData[field.Name] = value
		s.Context[field.Name] = value
	}

	s.MissingFields = missing
	s.SchemaComplete = len(missing) == 0
	x.auditor.Audit(ctx, domain.StageSchemaExtracted, s.ConversationID, extractedPayload{
		Intent:    s.Intent,
		Extracted: extracted,
		Missing:   missing,
		Complete:  s.SchemaComplete,
	})
	return domain.Continue(), nil
}

func (x *SchemaExtraction) extract(field domain.SchemaField, s *domain.EngineSession, input string) (any, bool) {
	if v, ok := s.InputParams[field.Name]; ok && !blank(v) {
		return v, true
	}
	if field.Pattern != "" {
		if re := x.compile(field); re != nil {
			if m := re.FindStringSubmatch(input); m != nil {
				value := m[0]
				if len(m) > 1 {
					value = m[1]
				}
				if value = strings.TrimSpace(value); value != "" {
					return value, true
				}
			}
		}
	}
	if v, ok := s.Context[field.Name]; ok && !blank(v) {
		return v, true
	}
	return nil, false
}

func (x *SchemaExtraction) compile(field domain.SchemaField) *regexp.Regexp {
	if cached, ok := x.cache.Load(field.Pattern); ok {
		return cached.(*regexp.Regexp)
	}
	re, err := regexp.Compile("(?i)" + field.Pattern)
	if err != nil {
		x.logger.Warn("invalid schema field pattern", "field", field.Name, "pattern", field.Pattern, "error", err)
		re = nil
	}
	x.cache.Store(field.Pattern, re)
	return re
}

func blank(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	default:
		return false
	}
}
