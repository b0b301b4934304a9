// Package errors defines the coded errors shared by the sketch pipeline,
// the bot, the HTTP API, and the CLI.
//
// Every failure that crosses a package boundary is an [*Error] carrying a
// [Code]. The bot maps codes to chat replies, the HTTP server maps them to
// status codes, and the CLI prints [UserMessage].
//
//	err := errors.Wrap(errors.ErrCodeDecode, cause, "cannot decode image")
//	if errors.IsImageFailure(err) {
//	    // tell the user their photo could not be sketched
//	}
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Code represents a machine-readable error code.
type Code string

// Error codes for different error categories.
const (
	// Input validation errors
	ErrCodeInvalidInput   Code = "INVALID_INPUT"
	ErrCodeInvalidImage   Code = "INVALID_IMAGE"
	ErrCodeInvalidFormat  Code = "INVALID_FORMAT"
	ErrCodeInvalidMessage Code = "INVALID_MESSAGE"
	ErrCodeInvalidConfig  Code = "INVALID_CONFIG"
	ErrCodeTooLarge       Code = "TOO_LARGE"

	// Pipeline stage errors
	ErrCodeDecode     Code = "DECODE_FAILED"
	ErrCodeProcessing Code = "PROCESSING_FAILED"
	ErrCodeEncode     Code = "ENCODE_FAILED"

	// Resource not found errors
	ErrCodeNotFound     Code = "NOT_FOUND"
	ErrCodeUserNotFound Code = "USER_NOT_FOUND"

	// Network errors
	ErrCodeNetwork     Code = "NETWORK_ERROR"
	ErrCodeTimeout     Code = "TIMEOUT"
	ErrCodeRateLimited Code = "RATE_LIMITED"

	// Authorization errors
	ErrCodeUnauthorized Code = "UNAUTHORIZED"
	ErrCodeForbidden    Code = "FORBIDDEN"

	// Internal errors
	ErrCodeInternal    Code = "INTERNAL_ERROR"
	ErrCodeUnsupported Code = "UNSUPPORTED"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Human-readable message
	Cause   error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Is reports whether err has the given error code.
// It unwraps the error chain looking for an *Error with a matching code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error, if available.
// Returns empty string if the error is not an *Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// UserMessage returns a user-friendly message for the error.
// For *Error types, returns the message without the code prefix.
// For other errors, returns the error string as-is.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// IsImageFailure reports whether err means the input could not be turned
// into a sketch (bad image data or a failed filter pass), as opposed to an
// infrastructure problem.
func IsImageFailure(err error) bool {
	switch GetCode(err) {
	case ErrCodeDecode, ErrCodeProcessing, ErrCodeInvalidImage:
		return true
	}
	return false
}

// RateLimitedError is returned when the messaging platform throttles the
// bot. RetryAfter is the wait the platform asked for, zero if it gave none.
type RateLimitedError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited: retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

func (e *RateLimitedError) Unwrap() error { return e.Cause }

// Code returns [ErrCodeRateLimited].
func (e *RateLimitedError) Code() Code {
	return ErrCodeRateLimited
}
