// ABOUTME: Error taxonomy for the gateway with HTTP status mapping
// ABOUTME: Every failure surfaced to a caller is classified into one of these kinds

package apierror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a machine-readable error category.
type Kind string

const (
	// KindValidation is malformed or out-of-bounds input.
	KindValidation Kind = "validation_error"
	// KindAuthentication is a missing credential or one rejected by the CRM.
	KindAuthentication Kind = "authentication_error"
	// KindNotFound is an unknown tool or route.
	KindNotFound Kind = "not_found"
	// KindMethodNotAllowed is a known route called with the wrong method.
	KindMethodNotAllowed Kind = "method_not_allowed"
	// KindUpstreamUnavailable is a network or timeout failure after retries.
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	// KindUpstream is an unexpected non-2xx answer from the CRM.
	KindUpstream Kind = "upstream_error"
	// KindInternal is anything the gateway did not classify.
	KindInternal Kind = "internal_error"
)

// Error wraps an error with a kind and a message that is safe to show callers.
type Error struct {
	Kind    Kind
	Message string

	// UpstreamStatus and UpstreamBody carry diagnostics for KindUpstream.
	UpstreamStatus int
	UpstreamBody   string

	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus returns the status code reported to the caller for this kind.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case KindUpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func New(kind Kind, msg string) *Error             { return &Error{Kind: kind, Message: msg} }
func Wrap(kind Kind, msg string, err error) *Error { return &Error{Kind: kind, Message: msg, Err: err} }

// Validationf builds a KindValidation error.
func Validationf(format string, args ...any) *Error {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

// Upstream builds a KindUpstream error carrying the CRM status and body excerpt.
func Upstream(status int, body string, err error) *Error {
	return &Error{
		Kind:           KindUpstream,
		Message:        fmt.Sprintf("CRM returned HTTP %d", status),
		UpstreamStatus: status,
		UpstreamBody:   body,
		Err:            err,
	}
}

// From classifies any error. Unclassified errors become KindInternal with a
// generic message so internal details are not echoed to callers.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return Wrap(KindInternal, "internal server error", err)
}

// KindOf returns the kind of err, or KindInternal if it is unclassified.
func KindOf(err error) Kind {
	return From(err).Kind
}
