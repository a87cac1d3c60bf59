// Package puberr defines the error taxonomy shared by the scheduling and
// dispatch pipeline. Every error that crosses a package boundary carries a
// code so HTTP handlers and the dispatcher can map it to a response without
// string matching.
package puberr

import (
	"errors"
	"fmt"
)

// Error codes for pipeline operations
const (
	// ErrCodeValidation indicates bad caller input; never retried
	ErrCodeValidation = "VALIDATION"
	// ErrCodeAuth indicates a missing/invalid signature or unusable credentials
	ErrCodeAuth = "AUTH"
	// ErrCodeNotFound indicates the referenced post does not exist
	ErrCodeNotFound = "NOT_FOUND"
	// ErrCodeConflict indicates the post is not in the state the operation requires
	ErrCodeConflict = "CONFLICT"
	// ErrCodeRateLimited indicates the platform throttled us; retryable
	ErrCodeRateLimited = "RATE_LIMITED"
	// ErrCodeUpstream indicates a platform API failure other than rate limiting
	ErrCodeUpstream = "UPSTREAM"
	// ErrCodeMedia indicates media download or upload failed during dispatch
	ErrCodeMedia = "MEDIA_RESOLUTION"
	// ErrCodeHorizonExceeded indicates the schedule target is beyond the allowed window
	ErrCodeHorizonExceeded = "HORIZON_EXCEEDED"
	// ErrCodeMediaExpiry indicates scheduled media would outlive the media store retention
	ErrCodeMediaExpiry = "MEDIA_EXPIRY_CONFLICT"
	// ErrCodeTokenExpired indicates an expired access token with no refresh path
	ErrCodeTokenExpired = "TOKEN_EXPIRED_NO_REFRESH"
)

// Error is a coded pipeline error with an optional wrapped cause.
type Error struct {
	Code    string // Error code identifying the type of error
	Message string // Human readable error message
	Err     error  // Underlying error if any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a coded error without a cause.
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a coded error wrapping an underlying cause.
func Wrap(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// HasCode reports whether err (or anything it wraps) is a pipeline error
// with the given code.
func HasCode(err error, code string) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// Code returns the error's code, or ErrCodeUpstream when err carries none.
// The dispatcher uses this to pick a terminal failure reason for records
// whose error originated outside the taxonomy.
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeUpstream
}
