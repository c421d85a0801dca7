package schema

import (
	"errors"
	"fmt"
)

// Error kinds reported in ExecutionResult.Error.Kind and by compile-time checks.
const (
	ErrKindValidationFailed   = "ValidationFailed"
	ErrKindTypeMismatch       = "TypeMismatch"
	ErrKindUndefinedReference = "UndefinedReference"
	ErrKindUnknownFunction    = "UnknownFunction"
	ErrKindDivisionByZero     = "DivisionByZero"
	ErrKindResourceExhausted  = "ResourceExhausted"
	ErrKindMalformedAst       = "MalformedAst"
	ErrKindNotFound           = "NotFound"
	ErrKindStore              = "StoreError"
	ErrKindInvalidTransition  = "InvalidTransition"
)

// IsRuntimeKind reports whether kind ends a call at run time, as opposed to
// definition or infrastructure errors.
func IsRuntimeKind(kind string) bool {
	switch kind {
	case ErrKindValidationFailed, ErrKindTypeMismatch, ErrKindUndefinedReference,
		ErrKindUnknownFunction, ErrKindDivisionByZero, ErrKindResourceExhausted:
		return true
	default:
		return false
	}
}

// ActionError is the structured error type for compilation and execution.
type ActionError struct {
	Kind    string         `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Block   string         `json:"block,omitempty"`
	Cause   error          `json:"-"`
}

func (e *ActionError) Error() string {
	if e.Block != "" {
		return fmt.Sprintf("[%s] block %s: %s", e.Kind, e.Block, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *ActionError) Unwrap() error {
	return e.Cause
}

// NewError creates a new ActionError.
func NewError(kind, message string) *ActionError {
	return &ActionError{Kind: kind, Message: message}
}

// NewErrorf creates a new ActionError with a formatted message.
func NewErrorf(kind, format string, args ...any) *ActionError {
	return &ActionError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithBlock attaches the id of the block that raised the error.
// An id already set by an inner block is kept.
func (e *ActionError) WithBlock(blockID string) *ActionError {
	if e.Block == "" {
		e.Block = blockID
	}
	return e
}

// WithCause attaches an underlying cause.
func (e *ActionError) WithCause(err error) *ActionError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *ActionError) WithDetails(details map[string]any) *ActionError {
	e.Details = details
	return e
}

// KindOf returns the kind of the first ActionError in err's chain, or "" if none.
func KindOf(err error) string {
	var ae *ActionError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// IsKind reports whether err carries an ActionError of the given kind.
func IsKind(err error, kind string) bool {
	return err != nil && KindOf(err) == kind
}
