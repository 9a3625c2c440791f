package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors for engine operations.
var (
	// ErrInvalidDescriptor is returned when an image descriptor is missing,
	// has the wrong format, or does not match the configured resolution.
	ErrInvalidDescriptor = errors.New("engine: invalid image descriptor")

	// ErrNotSetup is returned when a context is used before Setup.
	ErrNotSetup = errors.New("engine: context not set up")

	// ErrInsufficientMemory is returned when state or scratch buffers are
	// smaller than QueryMemoryRequirements reported.
	ErrInsufficientMemory = errors.New("engine: insufficient state or scratch memory")

	// ErrContextDestroyed is returned by any call on a destroyed context.
	ErrContextDestroyed = errors.New("engine: context destroyed")

	// ErrUnknownBackend is returned by Open for an unregistered backend name.
	ErrUnknownBackend = errors.New("engine: unknown backend")
)

// ErrorCode classifies an EngineError.
type ErrorCode int

const (
	CodeInvalidDescriptor ErrorCode = iota + 1
	CodeNotSetup
	CodeInsufficientMemory
	CodeDestroyed
	CodeInvalidValue
)

// String returns the error code name.
func (c ErrorCode) String() string {
	switch c {
	case CodeInvalidDescriptor:
		return "INVALID_DESCRIPTOR"
	case CodeNotSetup:
		return "NOT_SETUP"
	case CodeInsufficientMemory:
		return "INSUFFICIENT_MEMORY"
	case CodeDestroyed:
		return "DESTROYED"
	case CodeInvalidValue:
		return "INVALID_VALUE"
	default:
		return "UNKNOWN"
	}
}

// EngineError is the error type returned by engine contexts. It records
// which operation failed and wraps a sentinel for errors.Is matching.
type EngineError struct {
	Op      string    // operation that failed, e.g. "invoke"
	Code    ErrorCode // classification
	Message string    // human-readable detail
	Err     error     // wrapped sentinel
}

func (e *EngineError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("engine: %s failed (%s): %s", e.Op, e.Code, e.Message)
	}
	return fmt.Sprintf("engine: %s failed (%s)", e.Op, e.Code)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

func newError(op string, code ErrorCode, format string, args ...any) *EngineError {
	var sentinel error
	switch code {
	case CodeInvalidDescriptor, CodeInvalidValue:
		sentinel = ErrInvalidDescriptor
	case CodeNotSetup:
		sentinel = ErrNotSetup
	case CodeInsufficientMemory:
		sentinel = ErrInsufficientMemory
	case CodeDestroyed:
		sentinel = ErrContextDestroyed
	}
	return &EngineError{
		Op:      op,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Err:     sentinel,
	}
}
