// -----------------------------------------------------------------------
// Service Errors - Caller-visible error kinds with HTTP mapping
// -----------------------------------------------------------------------

package common

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode is a stable machine-readable error identifier
type ErrorCode string

const (
	CodeInvalidRequest        ErrorCode = "INVALID_REQUEST"
	CodeNotFound              ErrorCode = "NOT_FOUND"
	CodeResourceExhausted     ErrorCode = "RESOURCE_EXHAUSTED"
	CodeDependencyUnavailable ErrorCode = "DEPENDENCY_UNAVAILABLE"
	CodeInternal              ErrorCode = "INTERNAL"
)

// ServiceError carries a caller-visible error kind. Internal errors get an
// opaque correlation id; detail stays in the logs.
type ServiceError struct {
	Code          ErrorCode `json:"code"`
	Message       string    `json:"message"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	cause         error
}

func (e *ServiceError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.cause }

// HTTPStatus maps the error kind onto a response status
func (e *ServiceError) HTTPStatus() int {
	switch e.Code {
	case CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeResourceExhausted, CodeDependencyUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewValidationError flags bad caller input
func NewValidationError(format string, args ...interface{}) *ServiceError {
	return &ServiceError{Code: CodeInvalidRequest, Message: fmt.Sprintf(format, args...)}
}

// NewNotFoundError flags an unknown session, job, or URL
func NewNotFoundError(format string, args ...interface{}) *ServiceError {
	return &ServiceError{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// NewResourceExhaustedError flags a hit capacity limit
func NewResourceExhaustedError(format string, args ...interface{}) *ServiceError {
	return &ServiceError{Code: CodeResourceExhausted, Message: fmt.Sprintf(format, args...)}
}

// NewDependencyError wraps an unreachable backing service
func NewDependencyError(message string, cause error) *ServiceError {
	return &ServiceError{Code: CodeDependencyUnavailable, Message: message, cause: cause}
}

// NewInternalError wraps an unexpected failure with a correlation id for
// log lookup. The cause is never serialized to callers.
func NewInternalError(cause error) *ServiceError {
	return &ServiceError{
		Code:          CodeInternal,
		Message:       "internal error",
		CorrelationID: NewCorrelationID(),
		cause:         cause,
	}
}

// AsServiceError extracts a ServiceError from an error chain, wrapping
// unknown errors as Internal
func AsServiceError(err error) *ServiceError {
	var se *ServiceError
	if errors.As(err, &se) {
		return se
	}
	return NewInternalError(err)
}
