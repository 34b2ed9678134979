package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError provides a structured error that can be rendered to API consumers.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Internal   error  `json:"-"`

	// Retryable marks conflicts the caller should resolve by reloading and
	// retrying, as opposed to terminal outcomes like a lost claim race.
	Retryable bool `json:"-"`
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}

	if e.Internal != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Internal)
	}

	return e.Message
}

// Unwrap exposes the internal error for errors.Is / errors.As compatibility.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
}

// Is matches AppErrors by code, so copies produced by WithInternal still
// satisfy errors.Is against the sentinel values below.
func (e *AppError) Is(target error) bool {
	if e == nil {
		return false
	}
	other, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == other.Code
}

// WithInternal returns a copy of the AppError with an attached internal error.
func (e *AppError) WithInternal(err error) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Internal = err
	return &cpy
}

// Common errors exposed to the rest of the application.
var (
	ErrUnauthorized = &AppError{
		Code:       "UNAUTHORIZED",
		Message:    "Authentication required",
		StatusCode: http.StatusUnauthorized,
	}

	ErrForbidden = &AppError{
		Code:       "FORBIDDEN",
		Message:    "Permission denied",
		StatusCode: http.StatusForbidden,
	}

	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	ErrInternalServer = &AppError{
		Code:       "INTERNAL_SERVER_ERROR",
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}

	ErrRateLimit = &AppError{
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "Too many requests, please slow down",
		StatusCode: http.StatusTooManyRequests,
	}
)

// Dispatch domain errors. The claim race loser and the expired cancellation
// window are expected outcomes surfaced as typed results, not faults.
var (
	ErrAlertNotFound = &AppError{
		Code:       "alert.not_found",
		Message:    "Alert not found",
		StatusCode: http.StatusNotFound,
	}

	ErrAlreadyClaimed = &AppError{
		Code:       "alert.already_claimed",
		Message:    "Another responder is already handling this alert",
		StatusCode: http.StatusConflict,
	}

	ErrTooLate = &AppError{
		Code:       "alert.cancel_window_closed",
		Message:    "The cancellation window has passed; the alert is already being handled",
		StatusCode: http.StatusConflict,
	}

	ErrInvalidTransition = &AppError{
		Code:       "alert.invalid_transition",
		Message:    "The requested status change is not allowed from the current state",
		StatusCode: http.StatusUnprocessableEntity,
	}

	ErrVersionConflict = &AppError{
		Code:       "alert.version_conflict",
		Message:    "Alert was modified concurrently; reload and retry",
		StatusCode: http.StatusConflict,
		Retryable:  true,
	}

	ErrNotEligible = &AppError{
		Code:       "responder.not_eligible",
		Message:    "Responder is off duty or outside the alert's response area",
		StatusCode: http.StatusForbidden,
	}

	ErrTransientStorage = &AppError{
		Code:       "storage.transient",
		Message:    "Temporary storage failure",
		StatusCode: http.StatusServiceUnavailable,
		Retryable:  true,
	}
)

// New builds a new application error with the provided metadata.
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap turns any error into an AppError while keeping the original error for logging.
func Wrap(err error, message string) *AppError {
	return &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Internal:   err,
	}
}

// FromError converts a generic error into an AppError, defaulting to ErrInternalServer.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	return ErrInternalServer.WithInternal(err)
}

// IsRetryable reports whether the caller should reload state and retry.
// Claim losses, closed windows and illegal transitions are terminal.
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// NewBadRequest wraps validation errors with a helpful message.
func NewBadRequest(message string) *AppError {
	return &AppError{
		Code:       ErrBadRequest.Code,
		Message:    message,
		StatusCode: ErrBadRequest.StatusCode,
	}
}
