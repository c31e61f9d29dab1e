// Package errors defines the application error type shared by taskboard
// services. An *AppError carries a machine-readable code, a user-facing
// message, and the HTTP status it maps to; handlers render it directly.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for matching with errors.Is across package boundaries.
var (
	ErrNotFound       = errors.New("resource not found")
	ErrAlreadyExists  = errors.New("resource already exists")
	ErrInvalidInput   = errors.New("invalid input")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrInternal       = errors.New("internal error")
	ErrConflict       = errors.New("conflict")
	ErrServiceUnavail = errors.New("service unavailable")
)

// AppError is a structured application error. Code and Message are safe to
// return to clients; Status and the wrapped cause are not serialized.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func newAppError(code, message string, status int, cause error) *AppError {
	return &AppError{Code: code, Message: message, Status: status, Err: cause}
}

// NotFound builds a 404 for a missing resource.
func NotFound(resource, id string) *AppError {
	msg := fmt.Sprintf("%s with id %s not found", resource, id)
	return newAppError("NOT_FOUND", msg, http.StatusNotFound, ErrNotFound)
}

// AlreadyExists builds a 409 naming the conflicting field.
func AlreadyExists(resource, field, value string) *AppError {
	msg := fmt.Sprintf("%s with %s %q already exists", resource, field, value)
	return newAppError("ALREADY_EXISTS", msg, http.StatusConflict, ErrAlreadyExists)
}

// InvalidInput builds a 400.
func InvalidInput(message string) *AppError {
	return newAppError("INVALID_INPUT", message, http.StatusBadRequest, ErrInvalidInput)
}

// Unauthorized builds a 401.
func Unauthorized(message string) *AppError {
	return newAppError("UNAUTHORIZED", message, http.StatusUnauthorized, ErrUnauthorized)
}

// Forbidden builds a 403.
func Forbidden(message string) *AppError {
	return newAppError("FORBIDDEN", message, http.StatusForbidden, ErrForbidden)
}

// Conflict builds a 409 for state conflicts that are not uniqueness
// violations.
func Conflict(message string) *AppError {
	return newAppError("CONFLICT", message, http.StatusConflict, ErrConflict)
}

// Internal builds a 500. The cause is kept for logs but the client only
// sees a generic message.
func Internal(err error) *AppError {
	return newAppError("INTERNAL_ERROR", "an internal error occurred", http.StatusInternalServerError, err)
}

// Unavailable builds a 503.
func Unavailable(message string) *AppError {
	return newAppError("SERVICE_UNAVAILABLE", message, http.StatusServiceUnavailable, ErrServiceUnavail)
}

// Wrap adds context to an error while preserving its chain.
func Wrap(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}

// HTTPStatus maps any error to a response status. An *AppError anywhere in
// the chain wins; bare sentinels map to their usual status; everything else
// is a 500.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrServiceUnavail):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
