package rsvp

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the machine-readable error code returned to clients.
type Kind string

const (
	KindSearchRequired  Kind = "search_required"
	KindNotVerified     Kind = "not_verified"
	KindCooldown        Kind = "cooldown"
	KindOTPRequired     Kind = "otp_required"
	KindExpired         Kind = "expired"
	KindBadCode         Kind = "bad_code"
	KindTooManyAttempts Kind = "too_many_attempts"
	KindLocked          Kind = "locked"
	KindNotifyFailed    Kind = "notify_failed"
	KindDeadlinePassed  Kind = "deadline_passed"
	KindUnauthorized    Kind = "unauthorized"
	KindNotFound        Kind = "not_found"
	KindBadRequest      Kind = "bad_request"
	KindRateLimited     Kind = "rate_limited"
	KindInternal        Kind = "internal"
)

// Status is the HTTP status a kind is reported with.
func (k Kind) Status() int {
	switch k {
	case KindCooldown, KindTooManyAttempts, KindRateLimited:
		return http.StatusTooManyRequests
	case KindLocked:
		return http.StatusLocked
	case KindNotifyFailed:
		return http.StatusBadGateway
	case KindDeadlinePassed:
		return http.StatusForbidden
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// Error is a protocol failure. Err holds the underlying cause for logs and
// is never shown to the client.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf returns the kind of err. Errors that are not an *Error are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
