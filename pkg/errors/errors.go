package errors

import (
	"errors"
	"fmt"
)

// AppError represents an application-level error with a stable string code.
// The message is the primary surface: it is what crosses the transport
// boundary in error responses, so messages for a given condition must stay
// stable across releases.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

func (e *AppError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Detail)
	}
	return e.Message
}

// Is makes errors.Is match any AppError carrying the same code, so callers
// can compare against the predefined values below without caring about Detail.
func (e *AppError) Is(target error) bool {
	var appErr *AppError
	if !errors.As(target, &appErr) {
		return false
	}
	return e.Code == appErr.Code
}

// Common error codes
const (
	ErrCodeNotFound           = "not_found"
	ErrCodeUnauthorized       = "unauthorized"
	ErrCodeInvalidCredential  = "invalid_credential"
	ErrCodeCancelled          = "cancelled"
	ErrCodeUnknownMessageType = "unknown_message_type"
	ErrCodeSchemaMismatch     = "schema_mismatch"
	ErrCodeBadRequest         = "bad_request"
	ErrCodeRateLimited        = "rate_limited"
	ErrCodeInternalError      = "internal_error"
)

// Predefined errors
var (
	ErrNotFound = &AppError{
		Code:    ErrCodeNotFound,
		Message: "Unable to find request",
	}

	ErrPairNotFound = &AppError{
		Code:    ErrCodeNotFound,
		Message: "Unable to find pair",
	}

	ErrUnauthorized = &AppError{
		Code:    ErrCodeUnauthorized,
		Message: "The source is not authorized",
	}

	ErrInvalidCredential = &AppError{
		Code:    ErrCodeInvalidCredential,
		Message: "invalid password",
	}

	ErrCancelled = &AppError{
		Code:    ErrCodeCancelled,
		Message: "Cancelled",
	}

	ErrRejected = &AppError{
		Code:    ErrCodeCancelled,
		Message: "Rejected",
	}

	ErrRateLimited = &AppError{
		Code:    ErrCodeRateLimited,
		Message: "Too many requests",
	}

	ErrInternal = &AppError{
		Code:    ErrCodeInternalError,
		Message: "Internal error",
	}
)

// New creates a new AppError
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// NewWithDetail creates a new AppError with additional detail
func NewWithDetail(code, message, detail string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Detail:  detail,
	}
}

// UnknownMessageType creates the error returned for a message type outside
// the closed set handled by the router.
func UnknownMessageType(messageType string) *AppError {
	return &AppError{
		Code:    ErrCodeUnknownMessageType,
		Message: fmt.Sprintf("Unable to handle message of type %s", messageType),
	}
}

// SchemaMismatch creates an error for a persisted record failing validation.
func SchemaMismatch(namespace string, cause error) *AppError {
	return &AppError{
		Code:    ErrCodeSchemaMismatch,
		Message: fmt.Sprintf("Persisted content of %q does not match the schema", namespace),
		Detail:  cause.Error(),
	}
}

// BadRequest creates a bad request error with a caller-facing message.
func BadRequest(message string) *AppError {
	return &AppError{
		Code:    ErrCodeBadRequest,
		Message: message,
	}
}

// CodeOf extracts the AppError code from err, or internal_error for anything
// that is not an AppError. A nil error has no code.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternalError
}
