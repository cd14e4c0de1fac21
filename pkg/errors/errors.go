package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents application-specific error codes
type ErrorCode string

const (
	// Validation errors
	ErrCodeValidation   ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"

	// Credential errors — terminal until the credential is refreshed
	ErrCodeAuthFailure  ErrorCode = "AUTH_FAILURE"
	ErrCodeInvalidToken ErrorCode = "INVALID_TOKEN"
	ErrCodeExpiredToken ErrorCode = "EXPIRED_TOKEN"

	// Privilege errors — surfaced, never retried
	ErrCodeNotAuthorized ErrorCode = "NOT_AUTHORIZED"
	ErrCodeCallLocked    ErrorCode = "CALL_LOCKED"

	// Stale-reference errors — logged and ignored where safe
	ErrCodeCallNotFound    ErrorCode = "CALL_NOT_FOUND"
	ErrCodeSessionNotFound ErrorCode = "SESSION_NOT_FOUND"

	// Transient transport errors — retried per backoff policy
	ErrCodeNetwork ErrorCode = "NETWORK_ERROR"

	// Media errors — surfaced to the caller, no automatic retry
	ErrCodeDevice           ErrorCode = "DEVICE_ERROR"
	ErrCodePermissionDenied ErrorCode = "PERMISSION_DENIED"

	// Negotiation errors — session moves to failed, call continues
	ErrCodeNegotiation ErrorCode = "NEGOTIATION_FAILURE"

	// Internal errors
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase ErrorCode = "DATABASE_ERROR"
	ErrCodeConflict ErrorCode = "CONFLICT"
)

// Sentinels for errors.Is checks across package boundaries.
var (
	ErrAuthFailure       = New(ErrCodeAuthFailure, "credential rejected")
	ErrNotAuthorized     = NewWithStatus(ErrCodeNotAuthorized, "operation not permitted", http.StatusForbidden)
	ErrCallNotFound      = NewWithStatus(ErrCodeCallNotFound, "call not found", http.StatusNotFound)
	ErrSessionNotFound   = NewWithStatus(ErrCodeSessionNotFound, "peer session not found", http.StatusNotFound)
	ErrCallLocked        = NewWithStatus(ErrCodeCallLocked, "call is locked", http.StatusForbidden)
	ErrDeviceUnavailable = New(ErrCodeDevice, "capture device unavailable")
	ErrPermissionDenied  = New(ErrCodePermissionDenied, "capture permission denied")
)

// AppError represents a structured application error with code, message, and HTTP status
type AppError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	StatusCode int       `json:"-"`
	Err        error     `json:"-"`
}

// Error implements the error interface, returning a formatted error message
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches AppErrors by code so sentinels work with errors.Is
func (e *AppError) Is(target error) bool {
	var other *AppError
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

// New creates a new AppError with the given code and message.
// The status code defaults to 500 Internal Server Error.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

// NewWithStatus creates a new AppError with a specific HTTP status code
func NewWithStatus(code ErrorCode, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap wraps an existing error with an AppError, preserving the original error
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

// Convenience constructors

func ValidationError(message string) *AppError {
	return NewWithStatus(ErrCodeValidation, message, http.StatusBadRequest)
}

func AuthFailureError(err error) *AppError {
	return &AppError{Code: ErrCodeAuthFailure, Message: "credential rejected", StatusCode: http.StatusUnauthorized, Err: err}
}

func NotAuthorizedError(message string) *AppError {
	return NewWithStatus(ErrCodeNotAuthorized, message, http.StatusForbidden)
}

func NetworkError(err error) *AppError {
	return &AppError{Code: ErrCodeNetwork, Message: "network error", StatusCode: http.StatusServiceUnavailable, Err: err}
}

func NegotiationError(err error) *AppError {
	return &AppError{Code: ErrCodeNegotiation, Message: "session negotiation failed", StatusCode: http.StatusInternalServerError, Err: err}
}

func DeviceError(err error) *AppError {
	return &AppError{Code: ErrCodeDevice, Message: "capture device error", StatusCode: http.StatusInternalServerError, Err: err}
}

func DatabaseError(err error) *AppError {
	return &AppError{Code: ErrCodeDatabase, Message: "database error", StatusCode: http.StatusInternalServerError, Err: err}
}

func ConflictError(message string) *AppError {
	return NewWithStatus(ErrCodeConflict, message, http.StatusConflict)
}

func InternalError(message string) *AppError {
	return NewWithStatus(ErrCodeInternal, message, http.StatusInternalServerError)
}

// GetAppError extracts AppError from an error, wrapping non-AppErrors as InternalError
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return InternalError(err.Error())
}
