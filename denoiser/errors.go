package denoiser

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for denoiser operations.
var (
	// Construction errors
	ErrConfiguration = errors.New("denoiser: invalid configuration")
	ErrResource      = errors.New("denoiser: resource allocation failed")

	// Per-frame errors
	ErrMissingChannel   = errors.New("denoiser: missing channel")
	ErrEngineInvocation = errors.New("denoiser: engine invocation failed")
	ErrInvalidInput     = errors.New("denoiser: invalid input")

	// Lifecycle errors
	ErrClosed = errors.New("denoiser: denoiser is closed")

	// Pool errors
	ErrPoolClosed     = errors.New("denoiser: pool is closed")
	ErrAcquireTimeout = errors.New("denoiser: timeout acquiring denoiser from pool")
)

// ConfigurationError reports an invalid construction parameter.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("denoiser: invalid configuration: %s: %s", e.Field, e.Message)
}

// Is matches ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// ResourceError reports a failed engine context, buffer or setup step
// during construction.
type ResourceError struct {
	Op   string
	Size int // requested bytes, zero when not an allocation
	Err  error
}

func (e *ResourceError) Error() string {
	if e.Size > 0 {
		return fmt.Sprintf("denoiser: %s (%d bytes): %v", e.Op, e.Size, e.Err)
	}
	return fmt.Sprintf("denoiser: %s: %v", e.Op, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

// Is matches ErrResource.
func (e *ResourceError) Is(target error) bool {
	return target == ErrResource
}

// MissingChannelError reports a requested channel that the image does not
// contain. Available lists the image's layer names in order.
type MissingChannelError struct {
	Channel   string
	Role      string
	Available []string
	Image     string
}

func (e *MissingChannelError) Error() string {
	quoted := make([]string, len(e.Available))
	for i, name := range e.Available {
		quoted[i] = fmt.Sprintf("%q", name)
	}
	msg := fmt.Sprintf("denoiser: could not find %s channel %q, available layers: [%s]",
		e.Role, e.Channel, strings.Join(quoted, ", "))
	if e.Image != "" {
		msg += "\n" + e.Image
	}
	return msg
}

// Is matches ErrMissingChannel.
func (e *MissingChannelError) Is(target error) bool {
	return target == ErrMissingChannel
}

// EngineInvocationError wraps an error returned by the engine while
// processing a frame.
type EngineInvocationError struct {
	Op  string
	Err error
}

func (e *EngineInvocationError) Error() string {
	return fmt.Sprintf("denoiser: engine %s: %v", e.Op, e.Err)
}

func (e *EngineInvocationError) Unwrap() error { return e.Err }

// Is matches ErrEngineInvocation.
func (e *EngineInvocationError) Is(target error) bool {
	return target == ErrEngineInvocation
}
