// Package errors provides custom error types for the chanbridge application.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes as constants
const (
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeValidationError    = "VALIDATION_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"

	ErrCodeNodeNotFound           = "NODE_NOT_FOUND"
	ErrCodeNodeVersionUnsupported = "NODE_VERSION_UNSUPPORTED"
	ErrCodeBridgeNotReady         = "BRIDGE_NOT_READY"
	ErrCodeSpawnFailed            = "SPAWN_FAILED"
	ErrCodeInterrupted            = "INTERRUPTED"
	ErrCodeChannelBusy            = "CHANNEL_BUSY"
)

// AppError represents an application-specific error with additional context.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"http_status"`
	Err        error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a new not found error for a resource.
func NotFound(resource string, id string) *AppError {
	return &AppError{
		Code:       ErrCodeNotFound,
		Message:    fmt.Sprintf("%s with id '%s' not found", resource, id),
		HTTPStatus: http.StatusNotFound,
	}
}

// BadRequest creates a new bad request error.
func BadRequest(message string) *AppError {
	return &AppError{
		Code:       ErrCodeBadRequest,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// InternalError creates a new internal server error with a wrapped underlying error.
func InternalError(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeInternalError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// Conflict creates a new conflict error.
func Conflict(message string) *AppError {
	return &AppError{
		Code:       ErrCodeConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// ValidationError creates a new validation error for a specific field.
func ValidationError(field string, message string) *AppError {
	return &AppError{
		Code:       ErrCodeValidationError,
		Message:    fmt.Sprintf("validation failed for field '%s': %s", field, message),
		HTTPStatus: http.StatusBadRequest,
	}
}

// ServiceUnavailable creates a new service unavailable error.
func ServiceUnavailable(service string) *AppError {
	return &AppError{
		Code:       ErrCodeServiceUnavailable,
		Message:    fmt.Sprintf("service '%s' is currently unavailable", service),
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// NodeNotFound creates an error for a missing Node.js runtime.
func NodeNotFound(message string) *AppError {
	return &AppError{
		Code:       ErrCodeNodeNotFound,
		Message:    message,
		HTTPStatus: http.StatusFailedDependency,
	}
}

// NodeVersionUnsupported creates an error for a Node.js runtime below the minimum version.
func NodeVersionUnsupported(version string, minMajor int) *AppError {
	return &AppError{
		Code:       ErrCodeNodeVersionUnsupported,
		Message:    fmt.Sprintf("node version %s is below the minimum supported major version %d", version, minMajor),
		HTTPStatus: http.StatusFailedDependency,
	}
}

// BridgeNotReady creates an error for a missing or unreadable bridge script.
func BridgeNotReady(message string) *AppError {
	return &AppError{
		Code:       ErrCodeBridgeNotReady,
		Message:    message,
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// SpawnFailed creates an error for a child process that could not be started.
func SpawnFailed(err error) *AppError {
	return &AppError{
		Code:       ErrCodeSpawnFailed,
		Message:    "failed to start bridge process",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// Interrupted creates an error for a command stopped by user request.
func Interrupted() *AppError {
	return &AppError{
		Code:       ErrCodeInterrupted,
		Message:    "User interrupted",
		HTTPStatus: http.StatusConflict,
	}
}

// ChannelBusy creates an error for a send on a channel that already has a command in flight.
func ChannelBusy(channelID string) *AppError {
	return &AppError{
		Code:       ErrCodeChannelBusy,
		Message:    fmt.Sprintf("channel '%s' already has a command in flight", channelID),
		HTTPStatus: http.StatusConflict,
	}
}

// Wrap wraps an existing error with additional context, returning an AppError.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}

	// If the error is already an AppError, preserve its code and status
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Code:       appErr.Code,
			Message:    fmt.Sprintf("%s: %s", message, appErr.Message),
			HTTPStatus: appErr.HTTPStatus,
			Err:        err,
		}
	}

	// Otherwise, wrap as an internal error
	return &AppError{
		Code:       ErrCodeInternalError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeNotFound
	}
	return false
}

// IsBadRequest checks if the error is a bad request error.
func IsBadRequest(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeBadRequest || appErr.Code == ErrCodeValidationError
	}
	return false
}

// IsInterrupted checks if the error is an interruption error.
func IsInterrupted(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeInterrupted
	}
	return false
}

// GetHTTPStatus returns the HTTP status code for an error.
// Returns 500 Internal Server Error if the error is not an AppError.
func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
