// Package proxyerr defines the error taxonomy used across the SovGate proxy.
package proxyerr

import "fmt"

// Error represents a proxy error with a machine-readable code, a
// human-readable message, and the HTTP status code to surface to clients.
type Error struct {
	// Code is the error kind (e.g., "Unauthenticated", "NotFound").
	Code string
	// Message is a human-readable description of the error.
	Message string
	// HTTPStatus is the HTTP status code to return (e.g., 401, 404).
	HTTPStatus int
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.HTTPStatus, e.Message)
}

// WithMessage returns a copy of the error with the message replaced.
func (e *Error) WithMessage(msg string) *Error {
	cp := *e
	cp.Message = msg
	return &cp
}

// WithMessagef returns a copy of the error with a formatted message.
func (e *Error) WithMessagef(format string, args ...any) *Error {
	return e.WithMessage(fmt.Sprintf(format, args...))
}

// Pre-defined errors for the conditions the proxy distinguishes.
var (
	// ErrUnauthenticated is returned when the signature is missing or malformed.
	ErrUnauthenticated = &Error{
		Code:       "Unauthenticated",
		Message:    "Missing or invalid Authorization header",
		HTTPStatus: 401,
	}

	// ErrUnknownPrincipal is returned when the access key is absent in the store.
	ErrUnknownPrincipal = &Error{
		Code:       "UnknownPrincipal",
		Message:    "Unknown access key",
		HTTPStatus: 403,
	}

	// ErrSignatureMismatch is returned when the recomputed signature differs.
	ErrSignatureMismatch = &Error{
		Code:       "SignatureMismatch",
		Message:    "Signature mismatch",
		HTTPStatus: 401,
	}

	// ErrNotFound is returned when a mapping or object is absent.
	ErrNotFound = &Error{
		Code:       "NotFound",
		Message:    "Not found",
		HTTPStatus: 404,
	}

	// ErrMisconfigured is returned when backend or crypto configuration is missing.
	ErrMisconfigured = &Error{
		Code:       "Misconfigured",
		Message:    "Server configuration is incomplete",
		HTTPStatus: 500,
	}

	// ErrBackendFailure is returned when a backend errored or was unreachable
	// and no more specific status could be extracted.
	ErrBackendFailure = &Error{
		Code:       "BackendFailure",
		Message:    "Backend request failed",
		HTTPStatus: 502,
	}

	// ErrConflict is returned on a unique-key conflict in the admin surface.
	ErrConflict = &Error{
		Code:       "Conflict",
		Message:    "Resource already exists",
		HTTPStatus: 409,
	}

	// ErrMethodNotAllowed is returned for unsupported data-plane verbs.
	ErrMethodNotAllowed = &Error{
		Code:       "MethodNotAllowed",
		Message:    "Method not supported",
		HTTPStatus: 405,
	}
)
