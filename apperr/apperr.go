// Package apperr defines the error kinds every operation of the site maps its
// failures to before they reach the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind categorizes an application error.
type Kind string

const (
	// Conflict indicates a uniqueness constraint was violated.
	Conflict Kind = "CONFLICT"

	// NotFound indicates the referenced account or post does not exist.
	NotFound Kind = "NOT_FOUND"

	// Unauthenticated indicates the action requires a signed-in account.
	Unauthenticated Kind = "UNAUTHENTICATED"

	// Forbidden indicates the signed-in account may not act on the resource.
	Forbidden Kind = "FORBIDDEN"

	// Invalid indicates malformed or missing input.
	Invalid Kind = "INVALID"

	// UpstreamProvider indicates the identity provider exchange failed.
	UpstreamProvider Kind = "UPSTREAM_PROVIDER"

	// StorageIO indicates a file write or move failed.
	StorageIO Kind = "STORAGE_IO"

	// Internal covers everything else.
	Internal Kind = "INTERNAL"
)

// Error is an error tagged with a Kind.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error without an underlying cause.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error around err.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the user-facing message of err.
// Internal errors never leak their cause.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != Internal {
		return e.Message
	}
	return "Internal server error"
}

// HTTPStatus maps a kind to the status code returned to clients.
func HTTPStatus(kind Kind) int {
	switch kind {
	case Conflict:
		return http.StatusConflict
	case NotFound:
		return http.StatusNotFound
	case Unauthenticated:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case Invalid:
		return http.StatusBadRequest
	case UpstreamProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
