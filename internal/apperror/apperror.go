package apperror

import (
	"errors"
	"fmt"
)

// Sentinel errors for the error categories the API can surface.
// Handlers map each one to a distinct HTTP status and error type, so
// callers can always tell a duplicate card from a full collection from
// a missing login — they are never collapsed into one generic failure.
var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation error")
	ErrConflict     = errors.New("conflict")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
	ErrUnconfirmed  = errors.New("email unconfirmed")
	ErrCapacity     = errors.New("capacity exceeded")
	ErrUnavailable  = errors.New("store unavailable")
)

type AppError struct {
	Err     error  // category sentinel (one of the Err* values above)
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, message string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: message,
		Field:   resource,
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Unauthorized indicates no signed-in identity is present. Detected
// locally, before any storage call.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

// Unconfirmed indicates the identity exists but its email address has
// not been confirmed yet. Distinct from Unauthorized so the UI can show
// the resend-confirmation screen instead of the login form.
func Unconfirmed(message string) *AppError {
	return &AppError{
		Err:     ErrUnconfirmed,
		Message: message,
	}
}

// CapacityExceeded indicates the per-user card limit has been reached.
func CapacityExceeded(limit int) *AppError {
	return &AppError{
		Err:     ErrCapacity,
		Message: fmt.Sprintf("card limit of %d reached", limit),
	}
}

// Unavailable wraps a storage/transport failure. The cause is kept in
// the chain for logging but never shown to the client.
func Unavailable(cause error) *AppError {
	return &AppError{
		Err:     fmt.Errorf("%w: %w", ErrUnavailable, cause),
		Message: "storage temporarily unavailable, please retry",
	}
}
