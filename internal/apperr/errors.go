// Package apperr provides coded errors shared across the approvals service.
// Every fallible operation returns one of these so callers can branch on the
// code instead of matching message strings.
package apperr

import (
	"errors"
	"fmt"
)

// Code identifies an error category stable across module boundaries.
type Code string

const (
	CodeNotFound        Code = "NOT_FOUND"
	CodeNotAuthorized   Code = "NOT_AUTHORIZED"
	CodeInvalidDecision Code = "INVALID_DECISION"
	CodeInvalidInput    Code = "INVALID_INPUT"
	CodeConflict        Code = "CONFLICT"
	CodeSaveFailed      Code = "SAVE_FAILED"
	CodeDeleteFailed    Code = "DELETE_FAILED"
	CodeInternal        Code = "INTERNAL"
)

// Error carries a code, a human-readable message and an optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error { return e.Err }

// New creates a coded error with a message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// NotFound reports that a resource does not exist.
func NotFound(resource, id string) *Error {
	return Newf(CodeNotFound, "%s not found: %s", resource, id)
}

// NotAuthorized reports a denied action with the resolver's denial reason.
func NotAuthorized(reason string) *Error {
	return New(CodeNotAuthorized, reason)
}

// InvalidInput reports a malformed field value.
func InvalidInput(field, message string) *Error {
	return Newf(CodeInvalidInput, "invalid %s: %s", field, message)
}

// CodeOf extracts the code from an error, or CodeInternal for uncoded errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}
