// Package engine defines the contract between the denoiser and a denoising
// backend, plus a registry of available backends.
//
// A backend hands out Contexts bound to one model kind. A context is sized
// for a fixed resolution by Setup and then invoked once per frame. All
// image work is enqueued on the supplied device stream; calls return as
// soon as the work is issued.
package engine

import (
	"fmt"
	"sort"
	"sync"

	"go_denoiser/device"
)

// Engine creates denoiser contexts.
type Engine interface {
	// Name returns the backend name used in the registry.
	Name() string

	// CreateContext creates a context for the given model kind.
	CreateContext(kind ModelKind, opts Options) (Context, error)
}

// Context is one denoiser model instance.
type Context interface {
	// QueryMemoryRequirements reports the state and scratch buffer sizes
	// needed at the given resolution.
	QueryMemoryRequirements(width, height int) (MemorySizes, error)

	// Setup binds state and scratch buffers to the context at a resolution.
	Setup(s *device.Stream, width, height int, state, scratch *device.Buffer) error

	// EstimateIntensity writes the input's auto-exposure scalar into out.
	EstimateIntensity(s *device.Stream, input ImageDescriptor, out, scratch *device.Buffer) error

	// Invoke denoises layers. It writes only the layer outputs and state.
	// The history depth is len(layers).
	Invoke(s *device.Stream, p Params, state *device.Buffer, guide GuideLayer, layers []Layer, scratch *device.Buffer) error

	// Destroy releases the context. Later calls fail with ErrContextDestroyed.
	Destroy() error
}

// Factory creates an Engine.
type Factory func() (Engine, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a backend available under name. Registering the same name
// twice replaces the earlier factory.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Open creates the backend registered under name.
func Open(name string) (Engine, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnknownBackend, name, Backends())
	}
	return factory()
}

// Backends returns the registered backend names in sorted order.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
