package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies an application error class across the wire protocol
// and the HTTP surface.
type ErrorCode string

const (
	ErrCodeNotFound               ErrorCode = "NOT_FOUND"
	ErrCodeDuplicateActiveSession ErrorCode = "DUPLICATE_ACTIVE_SESSION"
	ErrCodeInvalidTransition      ErrorCode = "INVALID_TRANSITION"
	ErrCodeUnauthorized           ErrorCode = "UNAUTHORIZED"
	ErrCodeUnsupportedMessage     ErrorCode = "UNSUPPORTED_MESSAGE"
	ErrCodeNegotiationInFlight    ErrorCode = "NEGOTIATION_IN_FLIGHT"
	ErrCodeUnexpectedAnswer       ErrorCode = "UNEXPECTED_ANSWER"
	ErrCodePrivilegedNoShow       ErrorCode = "PRIVILEGED_NO_SHOW"
	ErrCodeTransportUnreachable   ErrorCode = "TRANSPORT_UNREACHABLE"
	ErrCodeInvalidInput           ErrorCode = "INVALID_INPUT"
	ErrCodeInternal               ErrorCode = "INTERNAL_ERROR"
)

// AppError is an application error with a stable code and an HTTP mapping.
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: httpStatus}
}

func Wrap(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: httpStatus, Cause: err}
}

func NewNotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func NewDuplicateActiveSession(appointmentID string) *AppError {
	return New(ErrCodeDuplicateActiveSession,
		fmt.Sprintf("an active session already exists for appointment %s", appointmentID),
		http.StatusConflict)
}

func NewInvalidTransition(from, to string) *AppError {
	return New(ErrCodeInvalidTransition,
		fmt.Sprintf("cannot transition session from %s to %s", from, to),
		http.StatusConflict)
}

func NewUnauthorized(message string) *AppError {
	return New(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func NewUnsupportedMessage(kind string) *AppError {
	return New(ErrCodeUnsupportedMessage, fmt.Sprintf("unsupported message type %q", kind), http.StatusBadRequest)
}

func NewNegotiationInFlight(pairID string) *AppError {
	return New(ErrCodeNegotiationInFlight,
		fmt.Sprintf("pairing %s already has an unanswered offer", pairID),
		http.StatusConflict)
}

func NewUnexpectedAnswer(pairID string) *AppError {
	return New(ErrCodeUnexpectedAnswer,
		fmt.Sprintf("pairing %s has no outstanding offer to answer", pairID),
		http.StatusConflict)
}

func NewPrivilegedNoShow() *AppError {
	return New(ErrCodePrivilegedNoShow, "no clinician joined the consultation in time", http.StatusGatewayTimeout)
}

func NewTransportUnreachable(pairID string) *AppError {
	return New(ErrCodeTransportUnreachable,
		fmt.Sprintf("transport statistics unavailable for pairing %s", pairID),
		http.StatusBadGateway)
}

func NewInvalidInput(message string) *AppError {
	return New(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewInternal(message string) *AppError {
	return New(ErrCodeInternal, message, http.StatusInternalServerError)
}

// CodeOf extracts the error code from an error chain, or ErrCodeInternal.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// HTTPStatusOf extracts the HTTP status from an error chain, or 500.
func HTTPStatusOf(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
