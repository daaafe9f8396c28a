// Package errors provides coded errors shared across the approvals service.
// Every error that crosses a package boundary carries a Code so transport
// layers can map it to a status without string matching.
package errors

import (
	"errors"
	"fmt"
)

// Code classifies an error for callers and transport layers.
type Code string

const (
	ErrCodeNotFound         Code = "not_found"
	ErrCodeInvalidInput     Code = "invalid_input"
	ErrCodeInvalidState     Code = "invalid_state"
	ErrCodeNotAuthorized    Code = "not_authorized"
	ErrCodeAlreadyActed     Code = "already_acted"
	ErrCodeAlreadyCompleted Code = "already_completed"
	ErrCodeForbidden        Code = "forbidden"
	ErrCodeNoMatchingFlow   Code = "no_matching_flow"
	ErrCodeConflict         Code = "conflict"
	ErrCodeInternal         Code = "internal"
)

// Error is a coded error, optionally wrapping a cause.
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

func (e *Error) Unwrap() error { return e.Err }

// New creates a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error. A nil err yields nil.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// NotFound reports a missing resource.
func NotFound(resource string, id any) *Error {
	return Newf(ErrCodeNotFound, "%s %v not found", resource, id)
}

// InvalidInput reports a rejected request field.
func InvalidInput(field, message string) *Error {
	return Newf(ErrCodeInvalidInput, "%s: %s", field, message)
}

// CodeOf extracts the Code from err, or ErrCodeInternal when err carries none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
