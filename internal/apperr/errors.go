package apperr

import (
	"errors"
	"fmt"
)

// Kind sentinels for the error taxonomy.
// Callers should check these with errors.Is() instead of string matching.
var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("resource not found")
	ErrConflict     = errors.New("resource already exists")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidState = errors.New("invalid state transition")
	ErrTimeout      = errors.New("operation timed out")
)

// Stable machine-readable codes, one per kind. The HTTP boundary maps these
// to status codes; clients key off the code, not the message.
const (
	CodeValidation   = "validation_failed"
	CodeNotFound     = "not_found"
	CodeConflict     = "conflict"
	CodeForbidden    = "forbidden"
	CodeUnauthorized = "unauthorized"
	CodeInvalidState = "invalid_state"
	CodeTimeout      = "timeout"
)

// Error is a taxonomy error: a kind sentinel plus a stable code and a
// human-readable message.
type Error struct {
	kind    error
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the kind sentinel so errors.Is(err, apperr.ErrNotFound) works.
func (e *Error) Unwrap() error {
	return e.kind
}

func newError(kind error, code, format string, args ...interface{}) *Error {
	return &Error{kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Validation reports malformed or out-of-range input. The caller's fault;
// retrying the same request will not help.
func Validation(format string, args ...interface{}) *Error {
	return newError(ErrValidation, CodeValidation, format, args...)
}

// NotFound reports a resource that is absent or invisible to the principal.
// Invisible private-space resources deliberately use this kind rather than
// Forbidden so that their existence does not leak.
func NotFound(format string, args ...interface{}) *Error {
	return newError(ErrNotFound, CodeNotFound, format, args...)
}

// Conflict reports a uniqueness violation (duplicate phone, slug, etc).
func Conflict(format string, args ...interface{}) *Error {
	return newError(ErrConflict, CodeConflict, format, args...)
}

// Forbidden reports an access-control denial where the resource's existence
// is not sensitive.
func Forbidden(format string, args ...interface{}) *Error {
	return newError(ErrForbidden, CodeForbidden, format, args...)
}

// Unauthorized reports a missing or unusable principal.
func Unauthorized(format string, args ...interface{}) *Error {
	return newError(ErrUnauthorized, CodeUnauthorized, format, args...)
}

// InvalidState reports an illegal status transition.
func InvalidState(format string, args ...interface{}) *Error {
	return newError(ErrInvalidState, CodeInvalidState, format, args...)
}

// Timeout reports a storage deadline exceeded. Distinct from NotFound so
// callers can decide on a single idempotent retry for pure reads.
func Timeout(format string, args ...interface{}) *Error {
	return newError(ErrTimeout, CodeTimeout, format, args...)
}

// CodeOf returns the stable code for err, or empty string if err is not a
// taxonomy error.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
