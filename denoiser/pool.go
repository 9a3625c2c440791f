package denoiser

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"

	"go_denoiser/bitmap"
)

// Factory creates a Denoiser for a Pool.
type Factory func() (*Denoiser, error)

// Pool manages interchangeable Denoiser instances so that independent
// frames can be denoised concurrently, one instance per caller at a time.
// Instances are created lazily on Acquire up to the pool size.
//
// Pools suit single-frame work. Temporal sequences carry history in the
// instance state and should use one Denoiser serially.
type Pool struct {
	mu        sync.Mutex
	denoisers chan *Denoiser
	maxSize   int
	factory   Factory
	closed    bool
	created   int
}

// NewPool creates a pool holding at most maxSize denoisers.
func NewPool(maxSize int, factory Factory) (*Pool, error) {
	if maxSize <= 0 {
		return nil, &ConfigurationError{
			Field:   "pool_size",
			Message: fmt.Sprintf("must be positive, got %d", maxSize),
		}
	}
	if factory == nil {
		return nil, &ConfigurationError{Field: "factory", Message: "a denoiser factory is required"}
	}

	return &Pool{
		denoisers: make(chan *Denoiser, maxSize),
		maxSize:   maxSize,
		factory:   factory,
	}, nil
}

// DenoiseBitmap acquires a denoiser, runs DenoiseBitmap on it and releases
// it. ctx bounds only the wait for a free instance.
func (p *Pool) DenoiseBitmap(ctx context.Context, img *bitmap.Bitmap, names ChannelNames) (*bitmap.Bitmap, error) {
	d, err := p.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire denoiser: %w", err)
	}
	defer p.Release(d)

	return d.DenoiseBitmap(img, names)
}

// Acquire returns an idle denoiser, creating one if the pool has capacity,
// or waits until one is released or ctx is done.
//
// Returns ErrPoolClosed if the pool is closed and ErrAcquireTimeout if ctx
// ends first.
func (p *Pool) Acquire(ctx context.Context) (*Denoiser, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}

	select {
	case d := <-p.denoisers:
		p.mu.Unlock()
		return d, nil
	default:
	}

	if p.created < p.maxSize {
		p.created++
		p.mu.Unlock()

		d, err := p.factory()
		if err != nil {
			p.mu.Lock()
			p.created--
			p.mu.Unlock()
			return nil, err
		}
		return d, nil
	}
	p.mu.Unlock()

	select {
	case d := <-p.denoisers:
		if d == nil {
			return nil, ErrPoolClosed
		}
		p.mu.Lock()
		if p.closed {
			p.created--
			p.mu.Unlock()
			_ = d.Close()
			return nil, ErrPoolClosed
		}
		p.mu.Unlock()
		return d, nil

	case <-ctx.Done():
		return nil, ErrAcquireTimeout
	}
}

// Release returns d to the pool. If the pool is closed, d is closed
// instead. Passing nil is a no-op.
func (p *Pool) Release(d *Denoiser) {
	if d == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		_ = d.Close()
		p.created--
		return
	}

	select {
	case p.denoisers <- d:
	default:
		_ = d.Close()
		p.created--
	}
}

// Close closes every idle denoiser. Instances still acquired are closed
// when released. Close is safe to call more than once.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	close(p.denoisers)

	var err error
	for d := range p.denoisers {
		err = multierr.Append(err, d.Close())
		p.created--
	}
	return err
}

// Idle returns the number of denoisers waiting in the pool.
func (p *Pool) Idle() int {
	return len(p.denoisers)
}

// Created returns the number of live denoisers, idle or acquired.
func (p *Pool) Created() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.created
}

// MaxSize returns the pool capacity.
func (p *Pool) MaxSize() int {
	return p.maxSize
}
