package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go_denoiser/core"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// DefaultTimeout bounds the whole shutdown sequence.
const DefaultTimeout = 30 * time.Second

// Manager ties an OperationTracker, a ShutdownRegistry and a SignalCounter
// together for one denoise run.
//
//	mgr := shutdown.NewManager(logger, shutdown.WithTimeout(cfg.ShutdownTimeout))
//	mgr.Register("denoisers", shutdown.PriorityDenoisers, core.ErrorShutdown(pool.Close))
//	mgr.Start()
//	defer mgr.Shutdown()
//
//	err := mgr.WrapOperation(mgr.Context(), "frame_0001", denoiseFrame)
//
// The first SIGINT or SIGTERM cancels Context so the processor stops
// between frames. A second one calls the force-exit function.
type Manager struct {
	logger    *zap.Logger
	timeout   time.Duration
	forceExit func(code int)

	mu       sync.Mutex
	started  bool
	shutdown bool

	ctx    context.Context
	cancel context.CancelFunc

	tracker  *OperationTracker
	registry *ShutdownRegistry
	signals  *SignalCounter

	sigChan chan os.Signal
	stopped chan struct{}
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithTimeout sets the shutdown timeout. Non-positive values are ignored.
func WithTimeout(timeout time.Duration) ManagerOption {
	return func(m *Manager) {
		if timeout > 0 {
			m.timeout = timeout
		}
	}
}

// WithForceExit replaces os.Exit as the second-signal action.
func WithForceExit(fn func(code int)) ManagerOption {
	return func(m *Manager) {
		m.forceExit = fn
	}
}

// NewManager creates a Manager. logger must not be nil.
func NewManager(logger *zap.Logger, opts ...ManagerOption) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		logger:    logger,
		timeout:   DefaultTimeout,
		forceExit: os.Exit,
		ctx:       ctx,
		cancel:    cancel,
		tracker:   NewOperationTracker(),
		registry:  NewShutdownRegistry(),
		sigChan:   make(chan os.Signal, 2),
		stopped:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.signals = NewSignalCounter(2, func(first os.Signal) {
		m.logger.Warn("Received second signal, forcing exit")
		m.forceExit(core.ExitCodeForSignal(first))
	})
	return m
}

// Context is cancelled when a stop signal arrives or Shutdown begins.
func (m *Manager) Context() context.Context {
	return m.ctx
}

// Register adds a teardown function. See the Priority constants.
func (m *Manager) Register(name string, priority int, fn core.ShutdownFunc) {
	m.registry.Register(name, priority, fn)
	m.logger.Debug("Registered shutdown handler",
		zap.String("name", name),
		zap.Int("priority", priority),
	)
}

// Start listens for SIGINT and SIGTERM. Later calls do nothing.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return
	}
	m.started = true

	signal.Notify(m.sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		for {
			select {
			case sig := <-m.sigChan:
				m.Trigger(sig)
			case <-m.stopped:
				return
			}
		}
	}()
}

// Trigger handles sig as if it had been delivered to the process.
func (m *Manager) Trigger(sig os.Signal) {
	if m.signals.Record(sig) == 1 {
		m.logger.Info("Received stop signal, finishing current frame",
			zap.String("signal", sig.String()),
		)
		m.cancel()
	}
}

// Signal returns the first stop signal received, or nil.
func (m *Manager) Signal() os.Signal {
	return m.signals.First()
}

// ExitCode returns the exit code for the received signal, or
// core.ExitCodeSuccess when none arrived.
func (m *Manager) ExitCode() int {
	sig := m.signals.First()
	if sig == nil {
		return core.ExitCodeSuccess
	}
	return core.ExitCodeForSignal(sig)
}

// Shutdown stops new operations, waits for running ones and then runs the
// registered handlers, all within the configured timeout. Handlers run even
// if the wait times out. Only the first call does anything.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil
	}
	m.shutdown = true
	started := m.started
	m.mu.Unlock()

	defer func() {
		if started {
			signal.Stop(m.sigChan)
			close(m.stopped)
		}
	}()

	startTime := time.Now()
	m.logger.Info("Shutting down",
		zap.Duration("timeout", m.timeout),
		zap.Int("handlers", m.registry.Count()),
	)

	m.cancel()
	m.tracker.Close()

	waitCtx, cancelWait := context.WithTimeout(context.Background(), m.timeout)
	defer cancelWait()

	if active := m.tracker.ActiveCount(); active > 0 {
		m.logger.Info("Waiting for in-flight frames", zap.Int64("active", active))
	}
	if err := m.tracker.Wait(waitCtx); err != nil {
		m.logger.Warn("Timed out waiting for in-flight frames",
			zap.Int64("remaining", m.tracker.ActiveCount()),
		)
	}

	// Handlers always get at least a second.
	remaining := m.timeout - time.Since(startTime)
	if remaining < time.Second {
		remaining = time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), remaining)
	defer cancel()

	err := m.registry.Shutdown(ctx)
	for _, e := range multierr.Errors(err) {
		m.logger.Error("Shutdown handler failed", zap.Error(e))
	}

	m.logger.Info("Shutdown complete",
		zap.Duration("duration", time.Since(startTime)),
		zap.Int("errors", len(multierr.Errors(err))),
	)
	return err
}

// WrapOperation runs fn as a tracked operation. It returns
// ErrTrackerClosed after shutdown began, and the context error if ctx or
// the manager context is already done.
func (m *Manager) WrapOperation(ctx context.Context, name string, fn func(context.Context) error) error {
	if !m.tracker.Start() {
		m.logger.Debug("Operation rejected, shutting down", zap.String("operation", name))
		return ErrTrackerClosed
	}
	defer m.tracker.Done()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.ctx.Done():
		return context.Canceled
	default:
	}
	return fn(ctx)
}

// ActiveOperations returns the number of running operations.
func (m *Manager) ActiveOperations() int64 {
	return m.tracker.ActiveCount()
}

// IsShuttingDown reports whether Shutdown has begun.
func (m *Manager) IsShuttingDown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shutdown
}

// RegisteredHandlers returns handler names in execution order.
func (m *Manager) RegisteredHandlers() []string {
	return m.registry.Names()
}
