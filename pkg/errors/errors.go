package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError provides a structured error that can be rendered to API consumers.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Internal   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}

	if e.Internal != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Internal)
	}

	return e.Message
}

// Unwrap exposes the internal error for errors.Is / errors.As compatibility.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
}

// Is matches AppErrors by code so wrapped copies still compare equal to the sentinels.
func (e *AppError) Is(target error) bool {
	var other *AppError
	if !errors.As(target, &other) || e == nil || other == nil {
		return false
	}
	return e.Code == other.Code
}

// WithInternal returns a copy of the AppError with an attached internal error.
func (e *AppError) WithInternal(err error) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Internal = err
	return &cpy
}

// WithMessage returns a copy of the AppError carrying a more specific message.
func (e *AppError) WithMessage(message string) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Message = message
	return &cpy
}

// Common errors exposed to the rest of the application.
var (
	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	ErrInternalServer = &AppError{
		Code:       "INTERNAL_SERVER_ERROR",
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}

	ErrRateLimit = &AppError{
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "Too many requests, please slow down",
		StatusCode: http.StatusTooManyRequests,
	}

	ErrUnsupportedProvider = &AppError{
		Code:       "provider.unsupported",
		Message:    "Unsupported commerce provider",
		StatusCode: http.StatusNotFound,
	}

	ErrUnknownStoreType = &AppError{
		Code:       "provider.unknown_store_type",
		Message:    "Unknown store type",
		StatusCode: http.StatusBadRequest,
	}

	ErrStoreNotConfigured = &AppError{
		Code:       "provider.store_not_configured",
		Message:    "Store credentials are not configured",
		StatusCode: http.StatusBadRequest,
	}

	ErrUpstream = &AppError{
		Code:       "provider.upstream_error",
		Message:    "Upstream platform request failed",
		StatusCode: http.StatusBadGateway,
	}

	ErrNoFiles = &AppError{
		Code:       "upload.no_files",
		Message:    "No files uploaded.",
		StatusCode: http.StatusBadRequest,
	}

	ErrUnsupportedFile = &AppError{
		Code:       "upload.unsupported_file",
		Message:    "Unsupported file type",
		StatusCode: http.StatusBadRequest,
	}

	ErrTooManyFiles = &AppError{
		Code:       "upload.too_many_files",
		Message:    "Too many files in one upload",
		StatusCode: http.StatusBadRequest,
	}
)

// New builds a new application error with the provided metadata.
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap turns any error into an AppError while keeping the original error for logging.
func Wrap(err error, message string) *AppError {
	return &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Internal:   err,
	}
}

// FromError converts a generic error into an AppError, defaulting to ErrInternalServer.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	return ErrInternalServer.WithInternal(err)
}

// NewBadRequest wraps validation errors with a helpful message.
func NewBadRequest(message string) *AppError {
	return &AppError{
		Code:       ErrBadRequest.Code,
		Message:    message,
		StatusCode: ErrBadRequest.StatusCode,
	}
}
