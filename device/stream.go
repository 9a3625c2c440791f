package device

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrStreamClosed is returned when enqueueing on a stopped stream.
	ErrStreamClosed = errors.New("device: stream is closed")

	// ErrKernelFault is the sticky error reported after a stream task panics.
	ErrKernelFault = errors.New("device: stream task faulted")
)

// Stream is an in-order asynchronous work queue backed by one worker
// goroutine. Tasks run in the order they were enqueued.
//
// A panic inside a task is recovered and recorded; the first such fault is
// returned by every later Synchronize, mirroring sticky device errors.
type Stream struct {
	tasks chan func()

	mu      sync.Mutex
	cond    *sync.Cond
	issued  uint64
	retired uint64
	fault   error

	closeMu sync.RWMutex
	closed  bool
	done    chan struct{}
}

func newStream(depth int) *Stream {
	s := &Stream{
		tasks: make(chan func(), depth),
		done:  make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.run()
	return s
}

func (s *Stream) run() {
	defer close(s.done)
	for fn := range s.tasks {
		s.execute(fn)
	}
}

func (s *Stream) execute(fn func()) {
	defer func() {
		r := recover()

		s.mu.Lock()
		if r != nil && s.fault == nil {
			s.fault = fmt.Errorf("%w: %v", ErrKernelFault, r)
		}
		s.retired++
		s.cond.Broadcast()
		s.mu.Unlock()
	}()
	fn()
}

// Enqueue schedules fn after all previously enqueued work. It blocks only
// when the queue is full.
func (s *Stream) Enqueue(fn func()) error {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()

	if s.closed {
		return ErrStreamClosed
	}

	s.mu.Lock()
	s.issued++
	s.mu.Unlock()

	s.tasks <- fn
	return nil
}

// Synchronize blocks until every task enqueued before the call has retired.
// It returns the sticky fault, if any task has panicked.
func (s *Stream) Synchronize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.issued
	for s.retired < target {
		s.cond.Wait()
	}
	return s.fault
}

// Pending returns the number of tasks issued but not yet retired.
func (s *Stream) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(s.issued - s.retired)
}

// Err returns the sticky fault without waiting.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fault
}

func (s *Stream) close() error {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return s.Err()
	}
	s.closed = true
	close(s.tasks)
	s.closeMu.Unlock()

	<-s.done
	return s.Err()
}
