package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// Code classifies a backend failure.
type Code string

const (
	// CodeUnauthorized: the caller is not authenticated at all.
	CodeUnauthorized Code = "UNAUTHORIZED"
	// CodeOwnership: the caller is authenticated but has no rights over this record.
	CodeOwnership Code = "OWNERSHIP_VIOLATION"
	// CodeNotFound: the referenced record no longer exists.
	CodeNotFound Code = "NOT_FOUND"
	// CodeInvalid: the backend rejected the arguments themselves.
	CodeInvalid Code = "INVALID_INPUT"
	// CodeUnavailable: the backend could not be reached or is temporarily down.
	CodeUnavailable Code = "UNAVAILABLE"
	// CodeUnknown: anything not recognized above.
	CodeUnknown Code = "UNKNOWN"
)

// Error is a classified backend failure.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code, so errors.Is(err, ErrNotFound)
// works for errors built with New or Wrap.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is checks.
var (
	ErrUnauthorized = &Error{Code: CodeUnauthorized, Message: "not authenticated"}
	ErrOwnership    = &Error{Code: CodeOwnership, Message: "not authorized for this record"}
	ErrNotFound     = &Error{Code: CodeNotFound, Message: "record not found"}
	ErrInvalid      = &Error{Code: CodeInvalid, Message: "invalid input"}
	ErrUnavailable  = &Error{Code: CodeUnavailable, Message: "backend unavailable"}
)

// New creates an Error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap wraps an existing error with a code.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf classifies err. Network failures and deadlines are reported as
// CodeUnavailable; unclassified errors as CodeUnknown.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	var be *Error
	if errors.As(err, &be) {
		return be.Code
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return CodeUnavailable
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return CodeUnavailable
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return CodeUnavailable
	}

	return CodeUnknown
}
