// Package domain defines the error taxonomy shared by the booking engine,
// the payment engine and the HTTP layer. Every failure the engine reports to
// a caller is a *Error carrying a stable Code; handlers map codes to HTTP
// statuses and never inspect messages.
package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a class of failure.
type Code string

const (
	CodeValidation               Code = "VALIDATION_ERROR"
	CodeForbidden                Code = "FORBIDDEN"
	CodeConflict                 Code = "CONFLICT"
	CodeInternal                 Code = "INTERNAL_ERROR"
	CodeSeatsUnavailable         Code = "SEATS_UNAVAILABLE"
	CodeSeatConflict             Code = "SEAT_CONFLICT"
	CodePromoNotFound            Code = "PROMO_NOT_FOUND"
	CodePromoExpired             Code = "PROMO_EXPIRED"
	CodePromoExhausted           Code = "PROMO_EXHAUSTED"
	CodePromoNotApplicable       Code = "PROMO_NOT_APPLICABLE"
	CodeAmountMismatch           Code = "AMOUNT_MISMATCH"
	CodeInvalidStateTransition   Code = "INVALID_STATE_TRANSITION"
	CodeCancellationWindowClosed Code = "CANCELLATION_WINDOW_CLOSED"
	CodeBookingNotFound          Code = "BOOKING_NOT_FOUND"
	CodeBookingExpired           Code = "BOOKING_EXPIRED"
	CodePaymentNotFound          Code = "PAYMENT_NOT_FOUND"
	CodePaymentInProgress        Code = "PAYMENT_IN_PROGRESS"
	CodeTripNotFound             Code = "TRIP_NOT_FOUND"
	CodeUserNotFound             Code = "USER_NOT_FOUND"
)

// Error is the concrete error type returned by the engine.
type Error struct {
	Code    Code
	Message string
	Details map[string]any

	cause error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is reports whether target is a *Error with the same code, so the sentinel
// values below can be matched with errors.Is regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Unwrap exposes the underlying failure, if any.
func (e *Error) Unwrap() error { return e.cause }

// WithCause returns a copy of e that wraps err.
func (e *Error) WithCause(err error) *Error {
	out := *e
	out.cause = err
	return &out
}

// WithDetail returns a copy of e carrying an extra detail entry.
func (e *Error) WithDetail(key string, v any) *Error {
	out := &Error{Code: e.Code, Message: e.Message, Details: make(map[string]any, len(e.Details)+1), cause: e.cause}
	for k, val := range e.Details {
		out.Details[k] = val
	}
	out.Details[key] = v
	return out
}

// New builds an *Error with the given code and a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

var (
	ErrSeatsUnavailable         = &Error{Code: CodeSeatsUnavailable, Message: "requested seats are not available"}
	ErrSeatConflict             = &Error{Code: CodeSeatConflict, Message: "seat already occupied"}
	ErrPromoNotFound            = &Error{Code: CodePromoNotFound, Message: "promo code not found"}
	ErrPromoExpired             = &Error{Code: CodePromoExpired, Message: "promo code is outside its validity window"}
	ErrPromoExhausted           = &Error{Code: CodePromoExhausted, Message: "promo code usage limit reached"}
	ErrPromoNotApplicable       = &Error{Code: CodePromoNotApplicable, Message: "promo code does not apply to this booking"}
	ErrAmountMismatch           = &Error{Code: CodeAmountMismatch, Message: "amount does not match booking total"}
	ErrInvalidStateTransition   = &Error{Code: CodeInvalidStateTransition, Message: "transition not allowed"}
	ErrCancellationWindowClosed = &Error{Code: CodeCancellationWindowClosed, Message: "booking can no longer be cancelled"}
	ErrBookingNotFound          = &Error{Code: CodeBookingNotFound, Message: "booking not found"}
	ErrBookingExpired           = &Error{Code: CodeBookingExpired, Message: "booking hold has expired"}
	ErrPaymentNotFound          = &Error{Code: CodePaymentNotFound, Message: "payment not found"}
	ErrPaymentInProgress        = &Error{Code: CodePaymentInProgress, Message: "another payment for this booking is in progress"}
	ErrTripNotFound             = &Error{Code: CodeTripNotFound, Message: "trip not found"}
	ErrUserNotFound             = &Error{Code: CodeUserNotFound, Message: "user not found"}
	ErrForbidden                = &Error{Code: CodeForbidden, Message: "forbidden"}
	ErrConflict                 = &Error{Code: CodeConflict, Message: "conflict"}
)

// Validation returns a validation error with the given message.
func Validation(format string, args ...any) *Error {
	return New(CodeValidation, format, args...)
}

// Internal wraps an unexpected failure. The cause is kept in the message for
// logs and stays reachable through errors.As; handlers never echo internal
// messages to clients.
func Internal(op string, err error) *Error {
	return &Error{Code: CodeInternal, Message: fmt.Sprintf("%s: %v", op, err), cause: err}
}

// CodeOf extracts the code of err, or CodeInternal when err is not a *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsPromoError reports whether err belongs to the promo family.
func IsPromoError(err error) bool {
	switch CodeOf(err) {
	case CodePromoNotFound, CodePromoExpired, CodePromoExhausted, CodePromoNotApplicable:
		return true
	}
	return false
}

// HTTPStatus maps an engine error to the status code the HTTP layer returns.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeForbidden:
		return http.StatusForbidden
	case CodeBookingNotFound, CodePaymentNotFound, CodeTripNotFound, CodeUserNotFound:
		return http.StatusNotFound
	case CodePromoNotFound:
		return http.StatusUnprocessableEntity
	case CodeSeatsUnavailable, CodeSeatConflict, CodeConflict, CodePaymentInProgress,
		CodeInvalidStateTransition, CodeCancellationWindowClosed, CodeBookingExpired:
		return http.StatusConflict
	case CodePromoExpired, CodePromoExhausted, CodePromoNotApplicable, CodeAmountMismatch:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
