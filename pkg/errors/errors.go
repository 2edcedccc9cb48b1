package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard sentinel errors for common cases.
var (
	ErrNotFound       = errors.New("resource not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrInternal       = errors.New("internal error")
	ErrConflict       = errors.New("conflict")
	ErrServiceUnavail = errors.New("service unavailable")
	ErrExternal       = errors.New("external dependency failure")
	ErrRejected       = errors.New("request rejected")
	ErrRateLimited    = errors.New("rate limited")
)

// AppError represents a structured application error with HTTP status mapping.
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

// NotFound creates a 404 error.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s with id %s not found", resource, id),
		Status:  http.StatusNotFound,
		Err:     ErrNotFound,
	}
}

// InvalidInput creates a 400 error.
func InvalidInput(message string) *AppError {
	return &AppError{
		Code:    "INVALID_INPUT",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidInput,
	}
}

// Conflict creates a 409 error.
func Conflict(message string) *AppError {
	return &AppError{
		Code:    "CONFLICT",
		Message: message,
		Status:  http.StatusConflict,
		Err:     ErrConflict,
	}
}

// ServiceUnavailable creates a 503 error.
func ServiceUnavailable(message string) *AppError {
	return &AppError{
		Code:    "SERVICE_UNAVAILABLE",
		Message: message,
		Status:  http.StatusServiceUnavailable,
		Err:     ErrServiceUnavail,
	}
}

// TooManyRequests creates a 429 error.
func TooManyRequests(message string) *AppError {
	return &AppError{
		Code:    "RATE_LIMITED",
		Message: message,
		Status:  http.StatusTooManyRequests,
		Err:     ErrRateLimited,
	}
}

// Internal creates a 500 error.
func Internal(err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: "an internal error occurred",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// externalError keeps both the ErrExternal sentinel and the original cause in
// the unwrap chain.
type externalError struct {
	cause error
}

func (e *externalError) Error() string {
	if e.cause == nil {
		return ErrExternal.Error()
	}
	return fmt.Sprintf("%s: %v", ErrExternal.Error(), e.cause)
}

func (e *externalError) Unwrap() []error {
	if e.cause == nil {
		return []error{ErrExternal}
	}
	return []error{ErrExternal, e.cause}
}

// ExternalFailure creates a 502 error for a failed call to an external
// collaborator (database, BaaS, cache). The cause stays reachable through
// errors.Is / errors.As.
func ExternalFailure(cause error) *AppError {
	return &AppError{
		Code:    "EXTERNAL_FAILURE",
		Message: "an external dependency failed",
		Status:  http.StatusBadGateway,
		Err:     &externalError{cause: cause},
	}
}

// Rejection creates a 422 error for a business rule that refused the request.
// The kind becomes the error code; sentinel lets callers match the kind with
// errors.Is.
func Rejection(kind string, sentinel error, message string) *AppError {
	return &AppError{
		Code:    kind,
		Message: message,
		Status:  http.StatusUnprocessableEntity,
		Err:     &rejectionError{sentinel: sentinel},
	}
}

type rejectionError struct {
	sentinel error
}

func (e *rejectionError) Error() string {
	if e.sentinel == nil {
		return ErrRejected.Error()
	}
	return e.sentinel.Error()
}

func (e *rejectionError) Unwrap() []error {
	if e.sentinel == nil {
		return []error{ErrRejected}
	}
	return []error{ErrRejected, e.sentinel}
}

// HTTPStatus returns the HTTP status code for the given error.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrExternal):
		return http.StatusBadGateway
	case errors.Is(err, ErrServiceUnavail):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
