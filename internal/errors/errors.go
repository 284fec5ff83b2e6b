// Package errors defines the structured error taxonomy surfaced at
// every handler boundary: a typed AppError carrying the HTTP status
// code a caller should see, independent of the message logged
// internally.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorType classifies an AppError for HTTP status mapping, client
// messaging, and log-level selection.
type ErrorType string

const (
	ErrorTypeValidation      ErrorType = "validation"
	ErrorTypeAuth            ErrorType = "auth"
	ErrorTypeForbidden       ErrorType = "forbidden"
	ErrorTypeNotFound        ErrorType = "not_found"
	ErrorTypeConflict        ErrorType = "conflict"
	ErrorTypeDuplicate       ErrorType = "duplicate"
	ErrorTypeExtractionFailed ErrorType = "extraction_failed"
	ErrorTypeUpstreamTimeout ErrorType = "upstream_timeout"
	ErrorTypeDatabase        ErrorType = "database"
	ErrorTypeNetwork         ErrorType = "network"
	ErrorTypeTimeout         ErrorType = "timeout"
	ErrorTypeRateLimit       ErrorType = "rate_limit"
	ErrorTypeInternal        ErrorType = "internal"
)

var statusByType = map[ErrorType]int{
	ErrorTypeValidation:       http.StatusBadRequest,
	ErrorTypeAuth:             http.StatusUnauthorized,
	ErrorTypeForbidden:        http.StatusBadRequest,
	ErrorTypeNotFound:         http.StatusNotFound,
	ErrorTypeConflict:         http.StatusConflict,
	ErrorTypeDuplicate:        http.StatusOK, // reported on the task record, not as an HTTP error
	ErrorTypeExtractionFailed: http.StatusOK, // recorded per-file on the task, never raised
	ErrorTypeUpstreamTimeout:  http.StatusOK, // retried internally; surfaces as a task failure if exhausted
	ErrorTypeTimeout:          http.StatusRequestTimeout,
	ErrorTypeRateLimit:        http.StatusTooManyRequests,
	ErrorTypeDatabase:         http.StatusInternalServerError,
	ErrorTypeNetwork:          http.StatusInternalServerError,
	ErrorTypeInternal:         http.StatusInternalServerError,
}

// AppError is the error type every component boundary returns once an
// underlying failure has been classified.
type AppError struct {
	Type       ErrorType
	Message    string
	Details    string
	StatusCode int
	Cause      error
}

func New(t ErrorType, message string) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		StatusCode: statusFor(t),
	}
}

func Newf(t ErrorType, format string, args ...interface{}) *AppError {
	return New(t, fmt.Sprintf(format, args...))
}

func Wrap(cause error, t ErrorType, message string) *AppError {
	err := New(t, message)
	err.Cause = cause
	return err
}

func Wrapf(cause error, t ErrorType, format string, args ...interface{}) *AppError {
	return Wrap(cause, t, fmt.Sprintf(format, args...))
}

func statusFor(t ErrorType) int {
	if code, ok := statusByType[t]; ok {
		return code
	}
	return http.StatusInternalServerError
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithDetailsf(format string, args ...interface{}) *AppError {
	e.Details = fmt.Sprintf(format, args...)
	return e
}

// Predefined constructors mirroring the spec.md §7 taxonomy.

func NewValidationError(message string) *AppError {
	return New(ErrorTypeValidation, message)
}

func NewDatabaseError(operation string, cause error) *AppError {
	return Wrapf(cause, ErrorTypeDatabase, "database operation failed: %s", operation)
}

func NewNotFoundError(resource string) *AppError {
	return Newf(ErrorTypeNotFound, "%s not found", resource)
}

func NewAuthError(message string) *AppError {
	return New(ErrorTypeAuth, message)
}

func NewForbiddenError(message string) *AppError {
	return New(ErrorTypeForbidden, message)
}

func NewTimeoutError(operation string) *AppError {
	return Newf(ErrorTypeTimeout, "operation timed out: %s", operation)
}

func NewDuplicateError(tenant, hash string) *AppError {
	return Newf(ErrorTypeDuplicate, "image hash %s already present for tenant %s", hash, tenant)
}

func NewExtractionFailedError(file string, cause error) *AppError {
	return Wrapf(cause, ErrorTypeExtractionFailed, "extraction failed for %s", file)
}

func NewUpstreamTimeoutError(upstream string, cause error) *AppError {
	return Wrapf(cause, ErrorTypeUpstreamTimeout, "%s timed out", upstream)
}

// IsType reports whether err is an *AppError of the given type.
func IsType(err error, t ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == t
	}
	return false
}

// GetType returns the ErrorType of err, or ErrorTypeInternal for any
// error that isn't an *AppError.
func GetType(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// GetStatusCode returns the HTTP status an AppError should surface as,
// or 500 for any other error.
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// ErrorMessages holds the client-safe text for error types whose
// internal Message may leak implementation detail.
var ErrorMessages = struct {
	ResourceNotFound       string
	AuthenticationFailed   string
	OperationTimeout       string
	RateLimitExceeded      string
	ConcurrentModification string
}{
	ResourceNotFound:       "The requested resource was not found",
	AuthenticationFailed:   "Authentication failed",
	OperationTimeout:       "The operation timed out",
	RateLimitExceeded:      "Rate limit exceeded, please try again later",
	ConcurrentModification: "The resource was modified concurrently, please retry",
}

// SafeErrorMessage returns a message safe to return to an HTTP caller:
// validation messages are specific (they describe caller-fixable
// input problems), everything else collapses to a generic statement
// so internal details never leak.
func SafeErrorMessage(err error) string {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return "An unexpected error occurred"
	}
	switch appErr.Type {
	case ErrorTypeValidation:
		return appErr.Message
	case ErrorTypeNotFound:
		return ErrorMessages.ResourceNotFound
	case ErrorTypeAuth:
		return ErrorMessages.AuthenticationFailed
	case ErrorTypeTimeout:
		return ErrorMessages.OperationTimeout
	case ErrorTypeRateLimit:
		return ErrorMessages.RateLimitExceeded
	case ErrorTypeConflict:
		return ErrorMessages.ConcurrentModification
	default:
		return "An internal error occurred"
	}
}

// LogFields renders err as a structured-logging field map.
func LogFields(err error) map[string]interface{} {
	fields := map[string]interface{}{
		"error": err.Error(),
	}
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return fields
	}
	fields["error_type"] = string(appErr.Type)
	fields["status_code"] = appErr.StatusCode
	if appErr.Details != "" {
		fields["error_details"] = appErr.Details
	}
	if appErr.Cause != nil {
		fields["underlying_error"] = appErr.Cause.Error()
	}
	return fields
}

// Chain joins non-nil errors into one error, filtering nils. Returns
// nil if every error is nil, and returns the single error unwrapped
// if only one is non-nil.
func Chain(errs ...error) error {
	var nonNil []string
	var kept []error
	for _, e := range errs {
		if e != nil {
			nonNil = append(nonNil, e.Error())
			kept = append(kept, e)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	default:
		return errors.New(strings.Join(nonNil, " -> "))
	}
}
