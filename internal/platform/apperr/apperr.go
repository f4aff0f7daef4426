// Package apperr defines the error kinds surfaced by the clinic API and their
// mapping onto HTTP responses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Kind classifies an error for callers and for the HTTP boundary.
type Kind string

const (
	KindValidation   Kind = "validation_error"
	KindPastDate     Kind = "past_date"
	KindNotFound     Kind = "not_found"
	KindPermission   Kind = "permission_denied"
	KindUnauthorized Kind = "unauthorized"
	KindConflict     Kind = "conflict"
	KindStore        Kind = "store_error"

	// Raised by middleware rather than domain code.
	KindTimeout     Kind = "timeout"
	KindRateLimited Kind = "rate_limited"
	KindUnavailable Kind = "unavailable"
)

// Error is a classified error with a human readable message.
type Error struct {
	Kind    Kind
	Message string
	Details interface{}
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...interface{}) *Error {
	return newf(KindValidation, format, args...)
}

func PastDate(format string, args ...interface{}) *Error {
	return newf(KindPastDate, format, args...)
}

func NotFound(format string, args ...interface{}) *Error {
	return newf(KindNotFound, format, args...)
}

func Permission(format string, args ...interface{}) *Error {
	return newf(KindPermission, format, args...)
}

func Unauthorized(format string, args ...interface{}) *Error {
	return newf(KindUnauthorized, format, args...)
}

// Conflict carries the conflicting records in Details.
func Conflict(details interface{}, format string, args ...interface{}) *Error {
	e := newf(KindConflict, format, args...)
	e.Details = details
	return e
}

// Store wraps an underlying persistence failure.
func Store(err error, format string, args ...interface{}) *Error {
	e := newf(KindStore, format, args...)
	e.Err = err
	return e
}

// KindOf returns the kind of err, or KindStore for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStore
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// HTTPStatus maps a kind to its response code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation, KindPastDate:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindPermission:
		return http.StatusForbidden
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindConflict:
		return http.StatusConflict
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Body is the JSON error payload.
type Body struct {
	Kind      Kind        `json:"kind"`
	Message   string      `json:"message"`
	Conflicts interface{} `json:"conflicts,omitempty"`
}

// ToHTTP converts err into an echo error carrying a Body. Store failures keep
// the cause as Internal so the request logger records it without leaking it.
func ToHTTP(err error) *echo.HTTPError {
	if err == nil {
		return nil
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	var e *Error
	if !errors.As(err, &e) {
		e = Store(err, "internal error")
	}
	body := Body{Kind: e.Kind, Message: e.Message}
	if e.Kind == KindConflict {
		body.Conflicts = e.Details
	}
	if e.Kind == KindStore {
		body.Message = "internal error"
	}
	return echo.NewHTTPError(HTTPStatus(e.Kind), body).SetInternal(err)
}

// BadRequest is a shortcut for request decoding failures in handlers.
func BadRequest(format string, args ...interface{}) *echo.HTTPError {
	return ToHTTP(Validation(format, args...))
}
