package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard errors this engine surfaces. Unlike the CRUD service this
// engine reads alongside, it has no HTTP-facing request surface of its
// own besides the realtime WebSocket upgrade, so the sentinel set is
// narrow: auth failures on that upgrade, and the two not-found cases
// the persistent store can return.
var (
	ErrUnauthorized = New("unauthorized", http.StatusUnauthorized)
	ErrInvalidToken = New("invalid token", http.StatusUnauthorized)
	ErrExpiredToken = New("token expired", http.StatusUnauthorized)

	ErrNotFound      = New("resource not found", http.StatusNotFound)
	ErrUserNotFound  = New("user not found", http.StatusNotFound)
	ErrAlertNotFound = New("alert not found", http.StatusNotFound)

	ErrInternal = New("internal server error", http.StatusInternalServerError)
	ErrDatabase = New("database error", http.StatusInternalServerError)
	ErrRedis    = New("redis error", http.StatusInternalServerError)
)

// AppError represents an application error with HTTP status code
type AppError struct {
	Message    string `json:"error"`
	StatusCode int    `json:"-"`
	Details    any    `json:"details,omitempty"`
	cause      error
}

// New creates a new AppError
func New(message string, statusCode int) *AppError {
	return &AppError{
		Message:    message,
		StatusCode: statusCode,
	}
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(cause error) *AppError {
	return &AppError{
		Message:    e.Message,
		StatusCode: e.StatusCode,
		Details:    e.Details,
		cause:      cause,
	}
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	return &AppError{
		Message:    e.Message,
		StatusCode: e.StatusCode,
		Details:    details,
		cause:      e.cause,
	}
}

// WithMessage creates a copy with a new message
func (e *AppError) WithMessage(message string) *AppError {
	return &AppError{
		Message:    message,
		StatusCode: e.StatusCode,
		Details:    e.Details,
		cause:      e.cause,
	}
}

// Is checks if the target error is the same as this error
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Message == t.Message && e.StatusCode == t.StatusCode
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetStatusCode returns the HTTP status code for an error
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// Wrap wraps an error with an AppError
func Wrap(err error, appErr *AppError) *AppError {
	if err == nil {
		return nil
	}
	return appErr.WithCause(err)
}

// Is reports whether any error in err's chain matches target.
// This is a wrapper around the standard library's errors.Is
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
// This is a wrapper around the standard library's errors.As
func As(err error, target any) bool {
	return errors.As(err, target)
}
