// Package apperr centralizes the typed error taxonomy and its mapping to
// HTTP statuses, so every application-layer package returns one of a small
// fixed set of error kinds instead of ad hoc strings.
package apperr

import (
	"errors"
	"net/http"
)

// Kind is one of the taxonomy's error classes.
type Kind string

const (
	KindNotFound           Kind = "NOT_FOUND"
	KindUnauthorized       Kind = "UNAUTHORIZED"
	KindForbidden          Kind = "FORBIDDEN"
	KindInvalidTransition  Kind = "INVALID_TRANSITION"
	KindInsufficientVolume Kind = "INSUFFICIENT_VOLUME"
	KindInvalidToken       Kind = "INVALID_TOKEN"
	KindInvalid            Kind = "INVALID"
	KindValidation         Kind = "VALIDATION"
	KindProcessorFailure   Kind = "PROCESSOR_FAILURE"
	KindInternal           Kind = "INTERNAL"
)

// Error is a typed domain error carrying its HTTP-status-mapped Kind.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Sentinel errors used throughout application/domain packages. Handlers
// translate these (or an *Error wrapping one) to HTTP statuses via Status.
var (
	ErrOrderNotFound      = New(KindNotFound, "order not found")
	ErrBidNotFound        = New(KindNotFound, "bid not found")
	ErrEscrowNotFound     = New(KindNotFound, "escrow not found")
	ErrAssignmentNotFound = New(KindNotFound, "logistics assignment not found")
	ErrFarmerNotFound     = New(KindNotFound, "farmer not found")
	ErrMiddlemanNotFound  = New(KindNotFound, "middleman not found")

	ErrUnauthorized = New(KindUnauthorized, "missing or invalid credentials")
	ErrForbidden    = New(KindForbidden, "caller is not authorized for this action")

	ErrInvalidTransition  = New(KindInvalidTransition, "order status transition not permitted")
	ErrInsufficientVolume = New(KindInsufficientVolume, "requested volume exceeds available volume")
	ErrInvalidToken       = New(KindInvalidToken, "QR token does not match")
)

// Status maps an error to its HTTP status code, defaulting to 500 for
// anything not part of the typed taxonomy.
func Status(err error) int {
	var e *Error
	if errors.As(err, &e) {
		switch e.Kind {
		case KindNotFound:
			return http.StatusNotFound
		case KindUnauthorized:
			return http.StatusUnauthorized
		case KindForbidden:
			return http.StatusForbidden
		case KindInvalidTransition, KindInsufficientVolume:
			return http.StatusConflict
		case KindInvalidToken, KindInvalid:
			return http.StatusBadRequest
		case KindValidation:
			return http.StatusUnprocessableEntity
		case KindProcessorFailure:
			return http.StatusBadGateway
		}
	}
	return http.StatusInternalServerError
}
