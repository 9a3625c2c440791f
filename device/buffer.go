package device

import "unsafe"

// Buffer is a block of memory owned by a Device.
//
// Storage is float32-aligned and its byte length is rounded up to a
// multiple of four. A freed buffer has no storage.
type Buffer struct {
	id   uint64
	kind Kind
	size int
	data []float32
	dev  *Device
}

// ID returns the allocation identifier, unique per device.
func (b *Buffer) ID() uint64 { return b.id }

// Kind returns the memory kind the buffer lives in.
func (b *Buffer) Kind() Kind { return b.kind }

// Size returns the requested size in bytes.
func (b *Buffer) Size() int { return b.size }

// Float32s returns the buffer contents as float32 values.
//
// For KindDevice buffers this view is only valid inside stream work or
// after Synchronize. It returns nil after the buffer is freed.
func (b *Buffer) Float32s() []float32 {
	return b.data
}

// Bytes returns the buffer contents as raw little-endian bytes, aliasing
// the float32 storage.
func (b *Buffer) Bytes() []byte {
	if len(b.data) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&b.data[0])), b.size)
}
