package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for boundary mapping
type Kind string

const (
	// KindNotFound means the referenced entity does not exist
	KindNotFound Kind = "not_found"
	// KindBadRequest means the caller sent malformed input or violated a
	// precondition it could have checked
	KindBadRequest Kind = "bad_request"
	// KindUnauthorized means the token is missing, invalid, or expired
	KindUnauthorized Kind = "unauthorized"
	// KindForbidden means the caller is authenticated but lacks the role
	// or assignment
	KindForbidden Kind = "forbidden"
	// KindConflict means a uniqueness or capacity constraint was violated
	KindConflict Kind = "conflict"
	// KindTimeout means an operation exceeded its deadline
	KindTimeout Kind = "timeout"
	// KindInternal means an unexpected failure in storage, filesystem,
	// or crypto
	KindInternal Kind = "internal"
	// KindBadGateway means an upstream child was unreachable or replied
	// with garbage
	KindBadGateway Kind = "bad_gateway"
)

// Stable machine-readable codes carried in API envelopes
const (
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeForbidden          = "FORBIDDEN"
	CodeNoInstance         = "NO_INSTANCE"
	CodeNoAvailablePort    = "NO_AVAILABLE_PORT"
	CodeInstanceNotRunning = "INSTANCE_NOT_RUNNING"
	CodeProxyError         = "PROXY_ERROR"
)

// Error is the single error variant used across the control plane: a kind
// for status mapping, an optional stable code, a human message, and an
// optional wrapped cause.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes the cause for errors.Is / errors.As chains
func (e *Error) Unwrap() error {
	return e.Err
}

// WithCode attaches a stable machine code and returns the error
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// New builds an error of the given kind
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an error of the given kind around a cause
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func NotFound(message string) *Error { return New(KindNotFound, message) }

func BadRequest(message string) *Error { return New(KindBadRequest, message) }

func Unauthorized(message string) *Error { return New(KindUnauthorized, message) }

func Forbidden(message string) *Error { return New(KindForbidden, message) }

func Conflict(message string) *Error { return New(KindConflict, message) }

func Timeout(message string) *Error { return New(KindTimeout, message) }

func BadGateway(message string) *Error { return New(KindBadGateway, message) }

// Internal wraps an unexpected failure. The cause is kept for logs; the
// message is what callers may see.
func Internal(err error, message string) *Error {
	return Wrap(KindInternal, err, message)
}

func NotFoundf(format string, args ...any) *Error {
	return New(KindNotFound, fmt.Sprintf(format, args...))
}

func BadRequestf(format string, args ...any) *Error {
	return New(KindBadRequest, fmt.Sprintf(format, args...))
}

func Conflictf(format string, args ...any) *Error {
	return New(KindConflict, fmt.Sprintf(format, args...))
}

// KindOf extracts the kind from an error chain. Unclassified errors are
// internal.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf extracts the stable code from an error chain, if any
func CodeOf(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ""
}

// MessageOf extracts the caller-visible message. Unclassified errors are
// masked so internals never leak into responses.
func MessageOf(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

// HTTPStatus maps an error chain to the status code served at the API
// boundary.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindBadGateway:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// IsKind reports whether the error chain carries the given kind
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

func IsNotFound(err error) bool { return IsKind(err, KindNotFound) }

func IsConflict(err error) bool { return IsKind(err, KindConflict) }

func IsUnauthorized(err error) bool { return IsKind(err, KindUnauthorized) }

func IsForbidden(err error) bool { return IsKind(err, KindForbidden) }

// Is and As re-export the standard library helpers so callers do not need
// a second errors import.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }
