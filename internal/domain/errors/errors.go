package errors

import (
	"errors"
	"fmt"
)

// Error types for the scoring pipeline
type ErrorType string

const (
	ErrorTypeValidation      ErrorType = "validation"
	ErrorTypeBusiness        ErrorType = "business"
	ErrorTypeInternal        ErrorType = "internal"
	ErrorTypeExternal        ErrorType = "external"
	ErrorTypeNotFound        ErrorType = "not_found"
	ErrorTypeConflict        ErrorType = "conflict"
	ErrorTypeDataUnavailable ErrorType = "data_unavailable"
	ErrorTypePersistence     ErrorType = "persistence"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType              `json:"type"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	Retryable  bool                   `json:"retryable"`
	StatusCode int                    `json:"status_code"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// Error constructors

// NewValidationError rejects malformed input before any scoring work runs.
func NewValidationError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		StatusCode: 400,
	}
}

func NewBusinessError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeBusiness,
		Code:       code,
		Message:    message,
		StatusCode: 422,
	}
}

func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Code:       "RESOURCE_NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: 404,
	}
}

func NewConflictError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Code:       "CONFLICT",
		Message:    message,
		StatusCode: 409,
	}
}

func NewInternalError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Retryable:  true,
		StatusCode: 500,
	}
}

func NewExternalError(service, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeExternal,
		Code:       "EXTERNAL_SERVICE_ERROR",
		Message:    fmt.Sprintf("%s service error: %s", service, message),
		Retryable:  true,
		StatusCode: 502,
		Details:    map[string]interface{}{"service": service},
	}
}

// NewDataUnavailableError reports a referenced provider, patient or claim
// history record that could not be read. Detectors degrade on it instead of
// failing the whole run.
func NewDataUnavailableError(resource, id string) *AppError {
	return &AppError{
		Type:       ErrorTypeDataUnavailable,
		Code:       "DATA_UNAVAILABLE",
		Message:    fmt.Sprintf("%s %s unavailable", resource, id),
		StatusCode: 424,
		Details:    map[string]interface{}{"resource": resource, "id": id},
	}
}

// NewPersistenceError reports a failed durable write after the analysis
// itself completed.
func NewPersistenceError(operation string) *AppError {
	return &AppError{
		Type:       ErrorTypePersistence,
		Code:       "PERSISTENCE_FAILED",
		Message:    fmt.Sprintf("failed to persist %s", operation),
		Retryable:  true,
		StatusCode: 503,
		Details:    map[string]interface{}{"operation": operation},
	}
}

// Predefined common errors
var (
	ErrInvalidInput   = NewValidationError("INVALID_INPUT", "Invalid input provided")
	ErrClaimNotFound  = NewNotFoundError("claim")
	ErrEmptyLineItems = NewValidationError("EMPTY_LINE_ITEMS", "claim submission must contain at least one line item")
)

// Wrap wraps an error with a message using fmt.Errorf with %w
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsType checks if an error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// GetStatusCode extracts HTTP status code from error
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return 500
}
