// Package engineerr provides the structured error vocabulary used across the
// run execution engine. It mirrors the teacher's toolerrors.ToolError: a
// wrapper type that preserves causal chains for errors.Is/errors.As while
// remaining safe to persist as a run's error column.
package engineerr

import (
	"errors"
	"fmt"
)

// Code identifies a propagation-policy error kind, as enumerated in spec.md §7.
type Code string

const (
	// ToolNotFound is returned when a tool call names an unregistered tool.
	// Local: returned as a tool failure, the step continues.
	ToolNotFound Code = "TOOL_NOT_FOUND"
	// ToolTimeout is returned when a tool handler exceeds its timeout budget.
	// Local.
	ToolTimeout Code = "TOOL_TIMEOUT"
	// ToolHandlerError wraps an arbitrary error raised by a tool handler.
	// Local.
	ToolHandlerError Code = "TOOL_HANDLER_ERROR"
	// ToolInvalidArgs is returned when a tool call's arguments fail JSON-schema
	// validation against the tool's declared parameter descriptor. Local.
	ToolInvalidArgs Code = "TOOL_INVALID_ARGS"
	// PolicyBlocked marks a tool call denied by policy. Local: does not
	// terminate the run.
	PolicyBlocked Code = "POLICY_BLOCKED"
	// ApprovalRequired is a control-flow signal, not a terminal error: it
	// suspends the run pending a human decision.
	ApprovalRequired Code = "APPROVAL_REQUIRED"
	// MaxSteps is terminal: the runner exhausted its bounded step budget.
	MaxSteps Code = "MAX_STEPS"
	// Cancelled is terminal: the run was cancelled and emits no further events.
	Cancelled Code = "CANCELLED"
	// ExecutorError is the scheduler's terminal catch-all for unexpected
	// exceptions.
	ExecutorError Code = "EXECUTOR_ERROR"
)

// Error is a structured engine failure. It implements error, errors.Is (by
// Code), and errors.Unwrap (via Cause) so callers can match on kind without
// losing the underlying diagnostic chain.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	Cause   error
}

// New constructs an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf constructs an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error that carries an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &Error{Code: code, Message: message, Cause: cause}
}

// WithDetails attaches structured detail fields and returns the receiver for
// chaining at the construction site.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, enabling errors.Is/errors.As chains.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is reports whether target is an *Error with the same Code, so callers can
// write errors.Is(err, engineerr.New(engineerr.ToolTimeout, "")).
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

// CodeOf extracts the Code from err, returning "" when err is not (or does
// not wrap) an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
