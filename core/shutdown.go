package core

import (
	"context"
	"io"
)

// ShutdownFunc is the function signature for cleanup handlers during graceful shutdown.
// The context may carry the shutdown deadline. Implementations should be
// idempotent.
//
//	var ledgerShutdown core.ShutdownFunc = func(ctx context.Context) error {
//	    return ledger.Close()
//	}
type ShutdownFunc func(ctx context.Context) error

// CloserShutdown adapts an io.Closer, ignoring the context.
func CloserShutdown(c io.Closer) ShutdownFunc {
	return func(context.Context) error {
		return c.Close()
	}
}

// ErrorShutdown adapts a func() error such as (*Denoiser).Close.
func ErrorShutdown(fn func() error) ShutdownFunc {
	return func(context.Context) error {
		return fn()
	}
}
