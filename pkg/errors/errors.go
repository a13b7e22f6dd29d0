// Package errors provides structured error handling for Spectrum
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeInternal represents internal system errors
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeUnknownSource represents references to a source that is not registered
	ErrorTypeUnknownSource ErrorType = "unknown_source"
	// ErrorTypeDuplicateSource represents registration of an already-registered source name
	ErrorTypeDuplicateSource ErrorType = "duplicate_source"
	// ErrorTypeInvalidConfig represents configuration errors
	ErrorTypeInvalidConfig ErrorType = "invalid_config"
	// ErrorTypeAuth represents credential rejection by a backend
	ErrorTypeAuth ErrorType = "auth"
	// ErrorTypeConnection represents unreachable-backend errors
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeObjectNotFound represents object paths that do not resolve
	ErrorTypeObjectNotFound ErrorType = "object_not_found"
	// ErrorTypeTimeout represents timeout errors
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeUnseal represents credential unsealing failures (tamper/corruption)
	ErrorTypeUnseal ErrorType = "unseal"
	// ErrorTypePartialStats represents soft failures where only some statistics
	// could be computed; results are still usable
	ErrorTypePartialStats ErrorType = "partial_stats"
	// ErrorTypeCapability represents operations a source kind cannot perform
	ErrorTypeCapability ErrorType = "capability"
)

// Error represents a structured error with context
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithSource annotates the error with the failing source name
func (e *Error) WithSource(name string) *Error {
	return e.WithDetail("source", name)
}

// WithPath annotates the error with the failing object path
func (e *Error) WithPath(path string) *Error {
	return e.WithDetail("path", path)
}

// New creates a new error with the given type and message
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	// If already our error type, preserve the stack
	var existingErr *Error
	if errors.As(err, &existingErr) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Details: existingErr.Details,
			Stack:   existingErr.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// IsRetryable returns true if the error is transient and a caller may retry.
// Auth and config failures are never retryable.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}

	switch e.Type {
	case ErrorTypeTimeout, ErrorTypeConnection:
		return true
	default:
		return false
	}
}

// IsType checks if the error is of the given type
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// TypeOf returns the error type, or ErrorTypeInternal for foreign errors
func TypeOf(err error) ErrorType {
	var e *Error
	if !errors.As(err, &e) {
		return ErrorTypeInternal
	}
	return e.Type
}

// captureStack captures the current call stack
func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
