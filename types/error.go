package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the module.
type ErrorCode string

// Lifecycle error codes
const (
	ErrLaunchFailed     ErrorCode = "LAUNCH_FAILED"
	ErrNavigationFailed ErrorCode = "NAVIGATION_FAILED"
	ErrHookFailed       ErrorCode = "HOOK_FAILED"
	ErrCleanupFailed    ErrorCode = "CLEANUP_FAILED"
	ErrPluginInit       ErrorCode = "PLUGIN_INIT_FAILED"
	ErrPageOperation    ErrorCode = "PAGE_OPERATION_FAILED"
)

// Session and captcha error codes
const (
	ErrSessionIO      ErrorCode = "SESSION_IO"
	ErrCaptchaFailed  ErrorCode = "CAPTCHA_FAILED"
	ErrCaptchaTimeout ErrorCode = "CAPTCHA_TIMEOUT"
)

// Service error codes
const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrNotFound       ErrorCode = "NOT_FOUND"
	ErrUnauthorized   ErrorCode = "UNAUTHORIZED"
	ErrRateLimited    ErrorCode = "RATE_LIMITED"
	ErrTimeout        ErrorCode = "TIMEOUT"
	ErrInternalError  ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and cause.
//
// Error() returns Message verbatim when no cause is attached so that
// caller-facing messages such as "Failed to launch browser: ..." keep
// their exact text.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// String renders the error with its code, for logs.
func (e *Error) String() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError builds an Error whose message is prefix + ": " + cause message.
func WrapError(code ErrorCode, prefix string, cause error) *Error {
	msg := prefix
	if cause != nil {
		msg = prefix + ": " + cause.Error()
	}
	return &Error{Code: code, Message: msg, Cause: cause}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsErrorCode reports whether err carries the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}
