package shutdown

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"go_denoiser/core"

	"go.uber.org/multierr"
)

// Teardown priorities for a denoise run. Lower runs first.
const (
	// PrioritySampler stops the device sampler, which takes a final sample.
	PrioritySampler = 10
	// PriorityLedgerWriter drains queued frame rows.
	PriorityLedgerWriter = 20
	// PriorityDenoisers closes the denoiser pool and frees device buffers.
	PriorityDenoisers = 30
	// PriorityLedger closes the run ledger database.
	PriorityLedger = 40
	// PriorityPartialOutputs removes outputs left half written.
	PriorityPartialOutputs = 45
	// PriorityLogger flushes the logger last.
	PriorityLogger = 50
)

type shutdownEntry struct {
	name     string
	fn       core.ShutdownFunc
	priority int
}

// ShutdownRegistry holds teardown functions ordered by priority. Entries
// with equal priority run in registration order.
type ShutdownRegistry struct {
	mu      sync.Mutex
	entries []shutdownEntry
	closed  bool
}

// NewShutdownRegistry creates an empty registry.
func NewShutdownRegistry() *ShutdownRegistry {
	return &ShutdownRegistry{}
}

// Register adds fn. Registration after Shutdown is ignored.
func (r *ShutdownRegistry) Register(name string, priority int, fn core.ShutdownFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.entries = append(r.entries, shutdownEntry{name: name, fn: fn, priority: priority})
}

func (r *ShutdownRegistry) sorted() []shutdownEntry {
	sorted := slices.Clone(r.entries)
	slices.SortStableFunc(sorted, func(a, b shutdownEntry) int {
		return cmp.Compare(a.priority, b.priority)
	})
	return sorted
}

// Shutdown runs every function in priority order, even after failures, and
// returns their combined errors prefixed with the handler name. Only the
// first call does anything.
func (r *ShutdownRegistry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	entries := r.sorted()
	r.mu.Unlock()

	var err error
	for _, entry := range entries {
		if ferr := entry.fn(ctx); ferr != nil {
			err = multierr.Append(err, fmt.Errorf("%s: %w", entry.name, ferr))
		}
	}
	return err
}

// Names returns handler names in execution order.
func (r *ShutdownRegistry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.sorted()
	names := make([]string, len(entries))
	for i, entry := range entries {
		names[i] = entry.name
	}
	return names
}

// Count returns the number of registered functions.
func (r *ShutdownRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// IsClosed reports whether Shutdown has run.
func (r *ShutdownRegistry) IsClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
