package shutdown

import (
	"os"
	"sync"
)

// SignalCounter remembers the first stop signal and fires a force callback
// when the same run is signalled forceAfter times.
type SignalCounter struct {
	mu         sync.Mutex
	count      int
	first      os.Signal
	forceAfter int
	onForce    func(first os.Signal)
}

// NewSignalCounter creates a counter. onForce may be nil.
func NewSignalCounter(forceAfter int, onForce func(first os.Signal)) *SignalCounter {
	return &SignalCounter{
		forceAfter: forceAfter,
		onForce:    onForce,
	}
}

// Record counts sig and returns the new count. The callback runs with the
// lock held when the count reaches forceAfter.
func (s *SignalCounter) Record(sig os.Signal) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.count++
	if s.first == nil {
		s.first = sig
	}
	if s.forceAfter > 0 && s.count >= s.forceAfter && s.onForce != nil {
		s.onForce(s.first)
	}
	return s.count
}

// Count returns how many signals were recorded.
func (s *SignalCounter) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// First returns the first recorded signal, or nil.
func (s *SignalCounter) First() os.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.first
}

// Reset forgets every recorded signal.
func (s *SignalCounter) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count = 0
	s.first = nil
}
