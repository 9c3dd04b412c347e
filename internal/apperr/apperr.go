// Package apperr defines the error taxonomy shared by every consumer and the
// gateway. Each error carries a stable machine-checkable reason and a
// human-readable detail; the kind decides the status code.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for status mapping and retry decisions.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
	KindInsufficientFunds
	KindTimeout
	KindUnavailable
)

// ReasonInternal is the reason reported for any failure that is not an *Error.
const ReasonInternal = "internal"

// Error is a typed, non-retryable-unless-stated domain outcome.
type Error struct {
	Kind   Kind
	Reason string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Reason, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// Status returns the HTTP-style status for the error kind.
func (e *Error) Status() int { return Status(e.Kind) }

// Body is the response payload rendered for a failed request.
type Body struct {
	Reason string `json:"reason"`
	Detail string `json:"detail"`
}

func newError(kind Kind, reason, detail string) *Error {
	return &Error{Kind: kind, Reason: reason, Detail: detail}
}

func Validation(reason, detail string) *Error   { return newError(KindValidation, reason, detail) }
func Unauthorized(reason, detail string) *Error { return newError(KindUnauthorized, reason, detail) }
func Forbidden(reason, detail string) *Error    { return newError(KindForbidden, reason, detail) }
func NotFound(reason, detail string) *Error     { return newError(KindNotFound, reason, detail) }
func Conflict(reason, detail string) *Error     { return newError(KindConflict, reason, detail) }
func Timeout(reason, detail string) *Error      { return newError(KindTimeout, reason, detail) }

func InsufficientFunds(reason, detail string) *Error {
	return newError(KindInsufficientFunds, reason, detail)
}

// Unavailable wraps an infrastructure failure. The cause is kept for logging only.
func Unavailable(reason, detail string, err error) *Error {
	e := newError(KindUnavailable, reason, detail)
	e.Err = err
	return e
}

// Status maps a kind to its HTTP-style status code.
func Status(kind Kind) int {
	switch kind {
	case KindValidation, KindInsufficientFunds:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Render converts any error into a status and body. Errors that are not an
// *Error, and infrastructure errors, never expose their cause.
func Render(err error) (int, Body) {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError, Body{Reason: ReasonInternal, Detail: "internal error"}
	}
	return e.Status(), Body{Reason: e.Reason, Detail: e.Detail}
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
