package core

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes failures surfaced by adapters, the dispatcher and the
// turn loop.
type ErrorKind string

const (
	// ErrStreaming covers transport, decoding and protocol failures of a model stream.
	ErrStreaming ErrorKind = "STREAMING_ERROR"
	// ErrToolNotFound is reported when a tool call names an unregistered tool.
	ErrToolNotFound ErrorKind = "TOOL_NOT_FOUND"
	// ErrInvalidArguments is reported when tool arguments fail parsing or schema validation.
	ErrInvalidArguments ErrorKind = "INVALID_ARGUMENTS"
	// ErrToolExecution is reported when a tool returns an error or panics.
	ErrToolExecution ErrorKind = "TOOL_EXECUTION_ERROR"
	// ErrOutputSchemaMismatch is reported when the final answer fails the output schema.
	ErrOutputSchemaMismatch ErrorKind = "OUTPUT_SCHEMA_MISMATCH"
	// ErrMaxTurnsExceeded is reported when the turn ceiling is reached.
	ErrMaxTurnsExceeded ErrorKind = "MAX_TURNS_EXCEEDED"
	// ErrCancelled is reported when the caller cancels a run.
	ErrCancelled ErrorKind = "CANCELLED"
	// ErrProviderNotConfigured is reported when no usable model backend is configured.
	ErrProviderNotConfigured ErrorKind = "PROVIDER_NOT_CONFIGURED"
)

// Error is the typed failure carried by error chunks and returned by runs.
type Error struct {
	Kind    ErrorKind
	Message string
	Raw     error // Underlying cause, if any
}

// NewError creates an Error of the given kind.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError creates an Error of the given kind wrapping err.
func WrapError(kind ErrorKind, err error) *Error {
	if err == nil {
		return &Error{Kind: kind, Message: string(kind)}
	}
	return &Error{Kind: kind, Message: err.Error(), Raw: err}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Raw }

// Is matches another *Error by kind so errors.Is(err, &Error{Kind: k}) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf extracts the ErrorKind from err, or "" if err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
