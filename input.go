package turnpike

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/aretw0/turnpike/pkg/domain"
)

// DefaultMaxInputSize caps an utterance, in bytes, unless WithMaxInputSize is set.
const DefaultMaxInputSize = 4096

var (
	ErrMissingConversation = errors.New("conversation id is required")
	ErrInputTooLarge       = errors.New("input exceeds maximum allowed size")
	ErrInvalidUTF8         = errors.New("input contains invalid UTF-8 sequences")
)

// normalizeInput checks a turn request before any step sees it.
// Oversized text is rejected rather than truncated; control characters other
// than line breaks and tabs are dropped.
func normalizeInput(in domain.EngineContext, limit int) (domain.EngineContext, error) {
	if strings.TrimSpace(in.ConversationID) == "" {
		return in, ErrMissingConversation
	}
	if limit <= 0 {
		limit = DefaultMaxInputSize
	}
	if n := len(in.UserText); n > limit {
		return in, fmt.Errorf("%w: size=%d limit=%d", ErrInputTooLarge, n, limit)
	}
	if !utf8.ValidString(in.UserText) {
		return in, ErrInvalidUTF8
	}
	in.UserText = strings.Map(printable, in.UserText)
	return in, nil
}

func printable(r rune) rune {
	switch {
	case r == '\n', r == '\r', r == '\t':
		return r
	case unicode.IsControl(r):
		return -1
	default:
		return r
	}
}
