// Package errors provides the typed error taxonomy shared by the table,
// notification and creation layers.
package errors

import (
	"errors"
	"fmt"
)

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an error that did not originate in this service.
	CodeUnknown Code = "UNKNOWN"

	// Draw-offer misuse or an action the game does not allow yet.
	CodeInvalidOperation Code = "INVALID_OPERATION"

	// Malformed player-state update requests.
	CodeInvalidRole  Code = "INVALID_ROLE"
	CodeInvalidState Code = "INVALID_STATE"

	// Creation request without an identity for every declared role.
	CodeMissingRole Code = "MISSING_ROLE"

	// Storage errors
	CodePersistenceFailure Code = "PERSISTENCE_FAILURE"
	CodeNotFound           Code = "NOT_FOUND"

	// Notification transport errors. Logged, never surfaced to players.
	CodeDeliveryFailure Code = "DELIVERY_FAILURE"
)

// Error is a domain error carrying a Code and an optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code, so callers can compare against
// the sentinel values below with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Message == ""
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidOperation   = &Error{Code: CodeInvalidOperation}
	ErrInvalidRole        = &Error{Code: CodeInvalidRole}
	ErrInvalidState       = &Error{Code: CodeInvalidState}
	ErrMissingRole        = &Error{Code: CodeMissingRole}
	ErrPersistenceFailure = &Error{Code: CodePersistenceFailure}
	ErrNotFound           = &Error{Code: CodeNotFound}
	ErrDeliveryFailure    = &Error{Code: CodeDeliveryFailure}
)

// New creates a domain error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// GetCode extracts the error code from any error.
// Returns CodeUnknown if the error is not a domain error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// IsCode checks if the error has the specified code.
func IsCode(err error, code Code) bool {
	return GetCode(err) == code
}
