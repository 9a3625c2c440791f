// Package device models the memory and execution resources a denoising engine
// runs on: buffers that live in host or device memory, and a single in-order
// compute stream that executes enqueued work asynchronously.
//
// Allocation is synchronous. Copies, kernels and deferred frees are enqueued
// on the stream and retire in issue order. Host code must call Synchronize
// before reading bytes produced by enqueued work.
package device

import (
	"errors"
	"fmt"
	"sync"
)

// Default configuration values.
const (
	// DefaultMemoryLimit caps device-kind allocations (2 GiB).
	DefaultMemoryLimit int64 = 2 << 30

	// DefaultQueueDepth is the number of stream tasks that may be pending
	// before Enqueue applies backpressure.
	DefaultQueueDepth = 64
)

var (
	// ErrOutOfMemory is returned when a device allocation would exceed the memory limit.
	ErrOutOfMemory = errors.New("device: out of device memory")

	// ErrInvalidSize is returned for zero or negative allocation sizes.
	ErrInvalidSize = errors.New("device: invalid allocation size")

	// ErrDoubleFree is returned when a buffer is freed twice.
	ErrDoubleFree = errors.New("device: buffer already freed")

	// ErrForeignBuffer is returned when a buffer from another device is passed in.
	ErrForeignBuffer = errors.New("device: buffer belongs to a different device")

	// ErrDeviceClosed is returned by operations on a closed device.
	ErrDeviceClosed = errors.New("device: device is closed")
)

// Kind identifies the memory a buffer lives in.
type Kind int

const (
	// KindHost is host-addressable memory.
	KindHost Kind = iota
	// KindDevice is accelerator memory, only touched by stream work.
	KindDevice
)

// String returns the memory kind name.
func (k Kind) String() string {
	switch k {
	case KindHost:
		return "host"
	case KindDevice:
		return "device"
	default:
		return "unknown"
	}
}

// Config configures a Device.
type Config struct {
	// MemoryLimit caps the total bytes of live KindDevice buffers.
	// Zero means DefaultMemoryLimit.
	MemoryLimit int64

	// QueueDepth is the stream queue capacity. Zero means DefaultQueueDepth.
	QueueDepth int
}

// DefaultConfig returns the default device configuration.
func DefaultConfig() Config {
	return Config{
		MemoryLimit: DefaultMemoryLimit,
		QueueDepth:  DefaultQueueDepth,
	}
}

// MemoryStats is a snapshot of allocator bookkeeping.
type MemoryStats struct {
	DeviceBytes     int64 `json:"device_bytes"`
	HostBytes       int64 `json:"host_bytes"`
	PeakDeviceBytes int64 `json:"peak_device_bytes"`
	LiveBuffers     int   `json:"live_buffers"`
	Allocations     int64 `json:"allocations"`
	Frees           int64 `json:"frees"`
	Migrations      int64 `json:"migrations"`
}

// Device owns the allocator state and the current compute stream.
//
// All methods are safe for concurrent use.
type Device struct {
	mu     sync.Mutex
	cfg    Config
	stream *Stream
	nextID uint64
	live   map[uint64]*Buffer
	stats  MemoryStats
	closed bool
}

// New creates a device and starts its compute stream.
func New(cfg Config) *Device {
	if cfg.MemoryLimit <= 0 {
		cfg.MemoryLimit = DefaultMemoryLimit
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultQueueDepth
	}

	return &Device{
		cfg:    cfg,
		stream: newStream(cfg.QueueDepth),
		nextID: 1,
		live:   make(map[uint64]*Buffer),
	}
}

// Current returns the active compute stream.
func (d *Device) Current() *Stream {
	return d.stream
}

// Synchronize blocks until all work enqueued on the current stream has retired.
func (d *Device) Synchronize() error {
	return d.stream.Synchronize()
}

// Alloc allocates a zeroed buffer of size bytes in the given memory kind.
func (d *Device) Alloc(kind Kind, size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidSize, size)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrDeviceClosed
	}

	if kind == KindDevice && d.stats.DeviceBytes+int64(size) > d.cfg.MemoryLimit {
		return nil, fmt.Errorf("%w: requested %d bytes, %d of %d in use",
			ErrOutOfMemory, size, d.stats.DeviceBytes, d.cfg.MemoryLimit)
	}

	b := &Buffer{
		id:   d.nextID,
		kind: kind,
		size: size,
		data: make([]float32, (size+3)/4),
		dev:  d,
	}
	d.nextID++
	d.live[b.id] = b
	d.account(kind, int64(size))
	d.stats.Allocations++

	return b, nil
}

// Free releases a buffer immediately. Stream tasks read buffer storage
// without holding the device lock, so the caller must guarantee that no
// enqueued work still references b: call Synchronize first, or use
// FreeAsync.
func (d *Device) Free(b *Buffer) error {
	if b == nil {
		return nil
	}
	if b.dev != d {
		return ErrForeignBuffer
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.live[b.id]; !ok {
		return fmt.Errorf("%w: buffer %d", ErrDoubleFree, b.id)
	}
	delete(d.live, b.id)
	d.account(b.kind, -int64(b.size))
	d.stats.Frees++
	b.data = nil

	return nil
}

// FreeAsync enqueues the release of b on the current stream, so it happens
// after all previously issued work that may still reference it.
func (d *Device) FreeAsync(b *Buffer) error {
	if b == nil {
		return nil
	}
	if b.dev != d {
		return ErrForeignBuffer
	}
	return d.stream.Enqueue(func() {
		// A second free surfaces as ErrDoubleFree on the synchronous path;
		// here there is no caller left to report to.
		_ = d.Free(b)
	})
}

// Migrate returns a new buffer of the target kind holding a copy of b.
// The copy is enqueued on the current stream. When blocking is true,
// Migrate waits for the stream before returning.
//
// The source buffer is left untouched and still owned by the caller.
func (d *Device) Migrate(b *Buffer, target Kind, blocking bool) (*Buffer, error) {
	if b == nil {
		return nil, fmt.Errorf("%w: nil buffer", ErrInvalidSize)
	}
	if b.dev != d {
		return nil, ErrForeignBuffer
	}

	dst, err := d.Alloc(target, b.size)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.stats.Migrations++
	d.mu.Unlock()

	if err := d.stream.Enqueue(func() { copy(dst.data, b.data) }); err != nil {
		_ = d.Free(dst)
		return nil, err
	}

	if blocking {
		if err := d.stream.Synchronize(); err != nil {
			return dst, err
		}
	}

	return dst, nil
}

// Stats returns a snapshot of allocator statistics.
func (d *Device) Stats() MemoryStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := d.stats
	s.LiveBuffers = len(d.live)
	return s
}

// Close drains and stops the stream. Buffers still live are reported in the
// returned error but remain readable until garbage collected.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	syncErr := d.stream.close()

	d.mu.Lock()
	leaked := len(d.live)
	d.mu.Unlock()

	if leaked > 0 {
		return fmt.Errorf("device: closed with %d live buffers", leaked)
	}
	return syncErr
}

// account must be called with d.mu held.
func (d *Device) account(kind Kind, delta int64) {
	switch kind {
	case KindDevice:
		d.stats.DeviceBytes += delta
		if d.stats.DeviceBytes > d.stats.PeakDeviceBytes {
			d.stats.PeakDeviceBytes = d.stats.DeviceBytes
		}
	default:
		d.stats.HostBytes += delta
	}
}
