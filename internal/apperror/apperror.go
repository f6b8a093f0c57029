// Package apperror defines the closed error taxonomy shared by every
// pipeline component and the HTTP surface that sits on top of it.
package apperror

import (
	"errors"
	"net/http"

	"github.com/rotisserie/eris"
)

// Kind is a closed-set classification of failures, per spec.md §7. Never
// accept a Kind from wire input — it is only ever produced internally.
type Kind string

const (
	KindInvalidRequest Kind = "invalid_request"
	KindUnauthorized   Kind = "unauthorized"
	KindRateLimited    Kind = "rate_limited"
	KindQuotaExceeded  Kind = "quota_exceeded"
	KindKillSwitched   Kind = "kill_switched"
	KindUpstreamError  Kind = "upstream_error"
	KindDBUnavailable  Kind = "db_unavailable"
	KindInternal       Kind = "internal"
)

// Error wraps an eris-tracked error with a Kind for HTTP/response mapping.
// Internal error text is never sent to clients (see Message).
type Error struct {
	Kind    Kind
	Message string // user-visible; never vendor error text
	Err     error  // internal, eris-wrapped; logged, not serialized
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind, wrapping cause with eris for a
// stack trace. message is what the client sees; cause may be nil.
func New(kind Kind, message string, cause error) *Error {
	var err error
	if cause != nil {
		err = eris.Wrap(cause, message)
	} else {
		err = eris.New(message)
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// HTTPStatus maps a Kind to the response status code the router should use.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindQuotaExceeded:
		return http.StatusTooManyRequests
	case KindKillSwitched:
		return http.StatusServiceUnavailable
	case KindUpstreamError:
		return http.StatusBadGateway
	case KindDBUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// As extracts an *Error from err's chain, if present.
func As(err error) (*Error, bool) {
	var ae *Error
	ok := errors.As(err, &ae)
	return ae, ok
}
