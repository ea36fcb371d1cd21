package types

import "fmt"

// ErrorCode represents a unified error code across the generation pipeline.
type ErrorCode string

// Generation error codes
const (
	ErrInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrInvalidEndpoint    ErrorCode = "INVALID_ENDPOINT"
	ErrAuth               ErrorCode = "AUTH_ERROR"
	ErrRateLimited        ErrorCode = "RATE_LIMITED"
	ErrModerationRejected ErrorCode = "MODERATION_REJECTED"
	ErrMalformedResponse  ErrorCode = "MALFORMED_RESPONSE"
	ErrTimeout            ErrorCode = "TIMEOUT"
	ErrNetwork            ErrorCode = "NETWORK_ERROR"
	ErrExhausted          ErrorCode = "RETRY_EXHAUSTED"
)

// Error represents a structured error with code, message, and metadata.
// Message is always safe to surface to a UI directly.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
	TaskID     string    `json:"task_id,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorf creates a new Error with a formatted message.
func NewErrorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
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

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// WithTaskID attaches the async task id for operator follow-up.
func (e *Error) WithTaskID(id string) *Error {
	e.TaskID = id
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}
