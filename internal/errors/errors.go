// Package errors defines structured error types for the API.
package errors

import (
	"fmt"
	"net/http"
)

// ErrorCode defines specific error types for the API.
type ErrorCode string

const (
	// ErrValidationFailed is returned when input data fails validation
	ErrValidationFailed ErrorCode = "VALIDATION_FAILED"
	// ErrMissingPrimaryKey is returned when a record lacks its primary key
	ErrMissingPrimaryKey ErrorCode = "MISSING_PRIMARY_KEY"
	// ErrUnsupportedValue is returned when a record holds a value the codec
	// cannot store
	ErrUnsupportedValue ErrorCode = "UNSUPPORTED_VALUE"

	// ErrNotFound is returned when a resource is not found
	ErrNotFound ErrorCode = "NOT_FOUND"
	// ErrTableNotFound is returned when a table is not configured
	ErrTableNotFound ErrorCode = "TABLE_NOT_FOUND"
	// ErrRecordNotFound is returned when no record has the requested key
	ErrRecordNotFound ErrorCode = "RECORD_NOT_FOUND"

	// ErrDuplicateKey is returned when inserting a key that already exists
	ErrDuplicateKey ErrorCode = "DUPLICATE_KEY"

	// ErrInvalidTableData is returned when a table file is structurally wrong
	ErrInvalidTableData ErrorCode = "INVALID_TABLE_DATA"
	// ErrDecodeFailed is returned when a table file cannot be decoded
	ErrDecodeFailed ErrorCode = "DECODE_FAILED"

	// ErrInternal is returned when an unexpected server error occurs
	ErrInternal ErrorCode = "INTERNAL_ERROR"
	// ErrUnauthorized is returned when authentication is missing or invalid
	ErrUnauthorized ErrorCode = "UNAUTHORIZED"
	// ErrRateLimited is returned when a client exceeds its request budget
	ErrRateLimited ErrorCode = "RATE_LIMITED"
)

// ErrorWithStatus is an error that includes an HTTP status code and error code.
type ErrorWithStatus interface {
	Error() string
	StatusCode() int
	Code() ErrorCode
	Details() map[string]any
}

// APIError is a concrete error type with status code, code, and optional details.
type APIError struct {
	statusCode int
	code       ErrorCode
	message    string
	details    map[string]any
	wrappedErr error
}

// NewAPIError creates a new APIError with the given status code and message.
func NewAPIError(statusCode int, code ErrorCode, message string) *APIError {
	return &APIError{
		statusCode: statusCode,
		code:       code,
		message:    message,
	}
}

// WithDetail adds a single detail to the error.
func (e *APIError) WithDetail(key string, value any) *APIError {
	if e.details == nil {
		e.details = make(map[string]any)
	}
	e.details[key] = value
	return e
}

// Wrap wraps an underlying error.
func (e *APIError) Wrap(err error) *APIError {
	e.wrappedErr = err
	return e
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.wrappedErr != nil {
		return fmt.Sprintf("%s: %v", e.message, e.wrappedErr)
	}
	return e.message
}

// StatusCode returns the HTTP status code.
func (e *APIError) StatusCode() int {
	return e.statusCode
}

// Code returns the error code.
func (e *APIError) Code() ErrorCode {
	return e.code
}

// Details returns additional error details.
func (e *APIError) Details() map[string]any {
	return e.details
}

// Unwrap returns the wrapped error if any.
func (e *APIError) Unwrap() error {
	return e.wrappedErr
}

// NotFound creates a 404 Not Found error.
func NotFound(resource string) *APIError {
	return NewAPIError(http.StatusNotFound, ErrNotFound, fmt.Sprintf("%s not found", resource))
}

// TableNotFound creates a 404 error for an unknown table.
func TableNotFound(name string) *APIError {
	return NewAPIError(http.StatusNotFound, ErrTableNotFound, fmt.Sprintf("table %q not found", name)).WithDetail("table", name)
}

// RecordNotFound creates a 404 error for a key absent from table.
func RecordNotFound(table string, key any) *APIError {
	return NewAPIError(http.StatusNotFound, ErrRecordNotFound, fmt.Sprintf("no record with key %v in %s", key, table)).
		WithDetail("table", table).WithDetail("key", key)
}

// BadRequest creates a 400 Bad Request error.
func BadRequest(message string) *APIError {
	return NewAPIError(http.StatusBadRequest, ErrValidationFailed, message)
}

// Unauthorized returns a 401 Unauthorized error.
func Unauthorized() *APIError {
	return NewAPIError(http.StatusUnauthorized, ErrUnauthorized, "Unauthorized")
}

// TooManyRequests returns a 429 error.
func TooManyRequests() *APIError {
	return NewAPIError(http.StatusTooManyRequests, ErrRateLimited, "Too many requests")
}

// Internal returns a 500 Internal Server Error.
func Internal(message string) *APIError {
	return NewAPIError(http.StatusInternalServerError, ErrInternal, message)
}

// InternalWithError creates a 500 error wrapping an underlying error.
func InternalWithError(message string, err error) *APIError {
	return Internal(message).Wrap(err)
}
