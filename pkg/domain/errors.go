package domain

import (
	"errors"
	"fmt"
)

// ErrConversationNotFound is returned when a conversation ID cannot be found in the store.
var ErrConversationNotFound = errors.New("conversation not found")

// ErrNoFinalResult is returned when a pipeline finishes without any step producing a result.
var ErrNoFinalResult = errors.New("pipeline completed without a final result")

// ErrResponseNotFound is returned when the catalog has no response for an intent/state pair.
var ErrResponseNotFound = errors.New("response not found")

// ErrSchemaNotFound is returned when no extraction schema is configured for an intent.
var ErrSchemaNotFound = errors.New("schema not found")

// ErrDuplicateKey is returned when a registry already holds an entry for a key.
var ErrDuplicateKey = errors.New("duplicate registry key")

// ErrorCode classifies an engine failure for callers.
type ErrorCode string

const (
	CodePipelineNoResult ErrorCode = "PIPELINE_NO_RESULT"
	CodeStepFailed       ErrorCode = "STEP_FAILED"
	CodeStepPanic        ErrorCode = "STEP_PANIC"
	CodeTurnCanceled     ErrorCode = "TURN_CANCELED"
	CodeConversationBusy ErrorCode = "CONVERSATION_BUSY"
	CodeInvalidInput     ErrorCode = "INVALID_INPUT"
	CodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
)

// EngineError is the only error kind that leaves the engine.
// Recoverable tells the caller whether retrying or re-prompting is safe.
type EngineError struct {
	Code        ErrorCode
	Recoverable bool
	Op          string
	Err         error
}

func (e *EngineError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Op, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// NewEngineError wraps err with a code. Recoverability follows the code.
func NewEngineError(code ErrorCode, op string, err error) *EngineError {
	return &EngineError{
		Code:        code,
		Recoverable: code.Recoverable(),
		Op:          op,
		Err:         err,
	}
}

// Recoverable reports the default recoverability of a code.
func (c ErrorCode) Recoverable() bool {
	switch c {
	case CodeTurnCanceled, CodeConversationBusy, CodeInvalidInput, CodeStoreUnavailable:
		return true
	default:
		return false
	}
}

// AsEngineError extracts an EngineError from an error chain.
func AsEngineError(err error) (*EngineError, bool) {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}
