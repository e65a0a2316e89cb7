package rules

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/aretw0/turnpike/pkg/domain"
)

// Matcher decides whether a rule applies to the current session.
// Implementations must not panic and must not mutate the session.
type Matcher interface {
	Type() domain.MatchType
	Matches(ctx context.Context, s *domain.EngineSession, rule domain.Rule) bool
}

// ExactMatcher compares the pattern with the user input, ignoring case and
// surrounding whitespace.
type ExactMatcher struct{}

func (ExactMatcher) Type() domain.MatchType { return domain.MatchExact }

func (ExactMatcher) Matches(_ context.Context, s *domain.EngineSession, rule domain.Rule) bool {
	return strings.EqualFold(strings.TrimSpace(rule.Pattern), strings.TrimSpace(s.ResolvedUserInput()))
}

// RegexMatcher finds the pattern anywhere in the user input, ignoring case.
// Compiled patterns are cached; invalid patterns never match.
type RegexMatcher struct {
	logger *slog.Logger
	cache  sync.Map // pattern -> *regexp.Regexp (nil when invalid)
}

// NewRegexMatcher creates a RegexMatcher.
func NewRegexMatcher(logger *slog.Logger) *RegexMatcher {
	return &RegexMatcher{logger: logger}
}

func (*RegexMatcher) Type() domain.MatchType { return domain.MatchRegex }

func (m *RegexMatcher) Matches(_ context.Context, s *domain.EngineSession, rule domain.Rule) bool {
	re := m.compile(rule)
	if re == nil {
		return false
	}
	return re.MatchString(s.ResolvedUserInput())
}

func (m *RegexMatcher) compile(rule domain.Rule) *regexp.Regexp {
	if cached, ok := m.cache.Load(rule.Pattern); ok {
		return cached.(*regexp.Regexp)
	}
	re, err := regexp.Compile("(?i)" + rule.Pattern)
	if err != nil {
		m.logger.Warn("invalid rule pattern", "rule", rule.ID, "pattern", rule.Pattern, "error", err)
		re = nil
	}
	m.cache.Store(rule.Pattern, re)
	return re
}

// JSONPathMatcher evaluates the pattern against the session facts document.
// A pattern with a comparison operator is a condition; a bare path is true
// when it selects a non-empty value. A blank pattern is always false.
type JSONPathMatcher struct{}

func (JSONPathMatcher) Type() domain.MatchType { return domain.MatchJSONPath }

func (JSONPathMatcher) Matches(_ context.Context, s *domain.EngineSession, rule domain.Rule) (ok bool) {
	pattern := strings.TrimSpace(rule.Pattern)
	if pattern == "" {
		return false
	}
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	facts := BuildFacts(s)
	if HasOperator(pattern) {
		return Evaluate(pattern, facts)
	}
	values, err := Select(pattern, facts)
	if err != nil {
		return false
	}
	return truthy(values)
}

// AgentMatcher always applies; the decision is left to a downstream agent.
type AgentMatcher struct{}

func (AgentMatcher) Type() domain.MatchType { return domain.MatchAgent }

func (AgentMatcher) Matches(context.Context, *domain.EngineSession, domain.Rule) bool { return true }
