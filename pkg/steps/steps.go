package steps

import (
	"log/slog"
	"time"

	"github.com/aretw0/turnpike/internal/logging"
	"github.com/aretw0/turnpike/pkg/audit"
	"github.com/aretw0/turnpike/pkg/domain"
	"github.com/aretw0/turnpike/pkg/pipeline"
	"github.com/aretw0/turnpike/pkg/ports"
	"github.com/aretw0/turnpike/pkg/response"
	"github.com/aretw0/turnpike/pkg/rules"
)

// Step names of the default set.
const (
	InputGuardName          = "input_guard"
	LoadConversationName    = "load_conversation"
	QueryRewriteName        = "query_rewrite"
	IntentResolutionName    = "intent_resolution"
	SchemaExtractionName    = "schema_extraction"
	RuleEvaluationName      = "rule_evaluation"
	ResponseResolutionName  = "response_resolution"
	PersistConversationName = "persist_conversation"
)

// source tags the built-in steps in STEP_ENTER payloads.
const source = "core"

// Deps are the collaborators of the default step set.
type Deps struct {
	Catalog       ports.Catalog
	Conversations ports.ConversationStore
	Applier       *rules.Applier
	Responses     *response.Resolver
	Auditor       ports.Auditor
	Logger        *slog.Logger

	// ClarifyMessage is returned for blank utterances.
	ClarifyMessage string
	// PersistTimeout bounds each background save.
	PersistTimeout time.Duration
}

// Defaults builds the default step set in declaration order. The persist
// step is also returned so the caller can wait for pending saves.
func Defaults(d Deps) ([]pipeline.Step, *PersistConversation) {
	if d.Auditor == nil {
		d.Auditor = audit.Nop{}
	}
	if d.Logger == nil {
		d.Logger = logging.NewNop()
	}

	persist := NewPersistConversation(d.Conversations, d.PersistTimeout, d.Logger)
	return []pipeline.Step{
		NewInputGuard(d.ClarifyMessage),
		NewLoadConversation(d.Conversations, d.Auditor).AwaitSaves(persist),
		NewRuleStep(QueryRewriteName, domain.PhasePre, false, d.Catalog, d.Applier, LoadConversationName),
		NewRuleStep(IntentResolutionName, domain.PhaseIntent, true, d.Catalog, d.Applier, QueryRewriteName),
		NewSchemaExtraction(d.Catalog, d.Auditor, d.Logger),
		NewRuleStep(RuleEvaluationName, domain.PhasePost, false, d.Catalog, d.Applier, SchemaExtractionName),
		NewResponseResolution(d.Catalog, d.Responses, d.Auditor),
		persist,
	}, persist
}
