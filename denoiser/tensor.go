package denoiser

import (
	"fmt"

	"go_denoiser/device"
	"go_denoiser/engine"
)

// Tensor is a (height, width, channels) float32 image stored contiguously
// in channel-minor order in a device buffer.
//
// A Tensor owns its buffer. Release frees it once all work already enqueued
// against it has retired.
type Tensor struct {
	dev      *device.Device
	buf      *device.Buffer
	height   int
	width    int
	channels int
}

// NewTensor allocates a zeroed tensor in device memory.
func NewTensor(dev *device.Device, height, width, channels int) (*Tensor, error) {
	if err := checkShape(height, width, channels); err != nil {
		return nil, err
	}
	buf, err := dev.Alloc(device.KindDevice, height*width*channels*4)
	if err != nil {
		return nil, err
	}
	return &Tensor{dev: dev, buf: buf, height: height, width: width, channels: channels}, nil
}

// TensorFromHost uploads host data into a new device tensor. The copy is
// staged synchronously, so data may be reused as soon as this returns; the
// transfer to device memory is enqueued on the current stream.
func TensorFromHost(dev *device.Device, data []float32, height, width, channels int) (*Tensor, error) {
	if err := checkShape(height, width, channels); err != nil {
		return nil, err
	}
	if want := height * width * channels; len(data) != want {
		return nil, fmt.Errorf("%w: got %d values for shape (%d, %d, %d), want %d",
			ErrInvalidInput, len(data), height, width, channels, want)
	}

	staging, err := dev.Alloc(device.KindHost, len(data)*4)
	if err != nil {
		return nil, err
	}
	copy(staging.Float32s(), data)

	buf, err := dev.Migrate(staging, device.KindDevice, false)
	if err != nil {
		_ = dev.Free(staging)
		return nil, err
	}
	if err := dev.FreeAsync(staging); err != nil {
		return nil, err
	}

	return &Tensor{dev: dev, buf: buf, height: height, width: width, channels: channels}, nil
}

func checkShape(height, width, channels int) error {
	if height <= 0 || width <= 0 || channels <= 0 {
		return fmt.Errorf("%w: invalid tensor shape (%d, %d, %d)", ErrInvalidInput, height, width, channels)
	}
	return nil
}

// Shape returns (height, width, channels).
func (t *Tensor) Shape() (int, int, int) {
	return t.height, t.width, t.channels
}

// Height returns the number of rows.
func (t *Tensor) Height() int { return t.height }

// Width returns the number of columns.
func (t *Tensor) Width() int { return t.width }

// Channels returns the number of values per pixel.
func (t *Tensor) Channels() int { return t.channels }

// Len returns the number of float32 values.
func (t *Tensor) Len() int { return t.height * t.width * t.channels }

// Buffer returns the underlying storage.
func (t *Tensor) Buffer() *device.Buffer { return t.buf }

// Host migrates the tensor to host memory, waits for the stream and returns
// a copy of its values.
func (t *Tensor) Host() ([]float32, error) {
	if t.buf == nil {
		return nil, fmt.Errorf("%w: tensor has been released", ErrInvalidInput)
	}

	host, err := t.dev.Migrate(t.buf, device.KindHost, true)
	if err != nil {
		if host != nil {
			_ = t.dev.Free(host)
		}
		return nil, err
	}

	out := make([]float32, t.Len())
	copy(out, host.Float32s())
	return out, t.dev.Free(host)
}

// Copy returns a new device tensor holding the same values. The copy is
// enqueued on the current stream.
func (t *Tensor) Copy() (*Tensor, error) {
	if t.buf == nil {
		return nil, fmt.Errorf("%w: tensor has been released", ErrInvalidInput)
	}
	buf, err := t.dev.Migrate(t.buf, device.KindDevice, false)
	if err != nil {
		return nil, err
	}
	return &Tensor{dev: t.dev, buf: buf, height: t.height, width: t.width, channels: t.channels}, nil
}

// Release frees the storage after all previously enqueued work. Releasing
// twice is a no-op.
func (t *Tensor) Release() error {
	if t == nil || t.buf == nil {
		return nil
	}
	buf := t.buf
	t.buf = nil
	return t.dev.FreeAsync(buf)
}

func (t *Tensor) descriptor() (engine.ImageDescriptor, error) {
	return engine.Describe(t.buf, t.height, t.width, t.channels)
}
