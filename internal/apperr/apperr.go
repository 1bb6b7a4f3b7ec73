// Package apperr defines the error kinds shared by the sync, automation and
// delivery layers and their mapping onto HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure for propagation and for the HTTP error shape.
type Kind string

const (
	AuthFailure       Kind = "auth_failure"
	NetworkFailure    Kind = "network_failure"
	ValidationFailure Kind = "validation_failure"
	NotFound          Kind = "not_found"
	Unauthorized      Kind = "unauthorized"
	Internal          Kind = "internal"
)

// Error is a classified error. Op names the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with a kind and an operation name.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds a classified error from a format string.
func Newf(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first classified error in err's chain,
// or Internal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err (or any error in its chain) has the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// HTTPStatus maps an error onto the status class exposed to callers.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case AuthFailure, Unauthorized:
		return http.StatusUnauthorized
	case ValidationFailure:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case NetworkFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
