package db

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultChannelCapacity is the default buffer size for async write channels.
const DefaultChannelCapacity = 100

// DefaultDrainTimeout is the maximum time to wait for pending writes during shutdown.
const DefaultDrainTimeout = 30 * time.Second

// WriteOperation is one queued write.
type WriteOperation struct {
	Data      any
	Timestamp time.Time
}

// WriteHandler processes a write operation.
type WriteHandler func(op WriteOperation) error

// AsyncWriterConfig holds configuration for the async writer.
type AsyncWriterConfig struct {
	ChannelCapacity int
	DrainTimeout    time.Duration
	// OnError is called from the writer goroutine when the handler fails.
	OnError func(op WriteOperation, err error)
}

// DefaultAsyncWriterConfig returns the default configuration.
func DefaultAsyncWriterConfig() AsyncWriterConfig {
	return AsyncWriterConfig{
		ChannelCapacity: DefaultChannelCapacity,
		DrainTimeout:    DefaultDrainTimeout,
	}
}

// AsyncWriterStats counts processed operations.
type AsyncWriterStats struct {
	Written int64
	Failed  int64
	Dropped int64
}

// AsyncWriter queues writes on a buffered channel and applies them on a
// background goroutine, so frame bookkeeping never blocks the denoise loop.
// Pending operations are drained on Stop.
type AsyncWriter struct {
	writeChan chan WriteOperation
	handler   WriteHandler
	config    AsyncWriterConfig

	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	started bool
	closed  atomic.Bool

	written atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

// NewAsyncWriter creates a new async writer with default configuration.
func NewAsyncWriter(handler WriteHandler) *AsyncWriter {
	return NewAsyncWriterWithConfig(handler, DefaultAsyncWriterConfig())
}

// NewAsyncWriterWithConfig creates a new async writer with custom configuration.
func NewAsyncWriterWithConfig(handler WriteHandler, config AsyncWriterConfig) *AsyncWriter {
	if config.ChannelCapacity <= 0 {
		config.ChannelCapacity = DefaultChannelCapacity
	}
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = DefaultDrainTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &AsyncWriter{
		writeChan: make(chan WriteOperation, config.ChannelCapacity),
		handler:   handler,
		config:    config,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins the background processing goroutine. Calling Start again has
// no effect.
func (w *AsyncWriter) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return
	}
	w.started = true
	w.wg.Add(1)
	go w.processWrites()
}

func (w *AsyncWriter) processWrites() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			w.drainChannel()
			return
		case op := <-w.writeChan:
			w.apply(op)
		}
	}
}

func (w *AsyncWriter) drainChannel() {
	for {
		select {
		case op := <-w.writeChan:
			w.apply(op)
		default:
			return
		}
	}
}

func (w *AsyncWriter) apply(op WriteOperation) {
	if err := w.handler(op); err != nil {
		w.failed.Add(1)
		if w.config.OnError != nil {
			w.config.OnError(op, err)
		}
		return
	}
	w.written.Add(1)
}

// Write queues data without blocking. It returns false when the buffer is
// full or the writer is closed.
func (w *AsyncWriter) Write(data any) bool {
	if w.closed.Load() {
		w.dropped.Add(1)
		return false
	}

	select {
	case w.writeChan <- WriteOperation{Data: data, Timestamp: time.Now()}:
		return true
	default:
		w.dropped.Add(1)
		return false
	}
}

// WriteWithTimeout queues data, waiting up to timeout for buffer space.
func (w *AsyncWriter) WriteWithTimeout(data any, timeout time.Duration) bool {
	if w.closed.Load() {
		w.dropped.Add(1)
		return false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case w.writeChan <- WriteOperation{Data: data, Timestamp: time.Now()}:
		return true
	case <-timer.C:
		w.dropped.Add(1)
		return false
	}
}

// Pending returns the number of operations waiting in the buffer.
func (w *AsyncWriter) Pending() int {
	return len(w.writeChan)
}

// Stats returns the operation counters.
func (w *AsyncWriter) Stats() AsyncWriterStats {
	return AsyncWriterStats{
		Written: w.written.Load(),
		Failed:  w.failed.Load(),
		Dropped: w.dropped.Load(),
	}
}

// Stop rejects new writes, then waits for pending operations to drain.
func (w *AsyncWriter) Stop() {
	w.closed.Store(true)
	w.cancel()
	w.wg.Wait()
}

// StopWithTimeout is Stop bounded by the configured drain timeout. It
// returns false if draining did not finish in time.
func (w *AsyncWriter) StopWithTimeout() bool {
	w.closed.Store(true)
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(w.config.DrainTimeout)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// Shutdown drains the writer within ctx. It satisfies core.ShutdownFunc.
func (w *AsyncWriter) Shutdown(ctx context.Context) error {
	w.closed.Store(true)
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsStarted returns whether the background processor is running.
func (w *AsyncWriter) IsStarted() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started && !w.closed.Load()
}
