// Package bitmap provides a multi-layer float image container.
//
// A Bitmap stores interleaved pixels with named channels. Channel names of
// the form "layer.suffix" group into named layers; channels without a dot
// belong to the root layer. Split and Merge convert between the combined
// image and its ordered layer list.
package bitmap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/x448/float16"
)

// RootLayer names the layer formed by channels without a prefix.
const RootLayer = "<root>"

var (
	ErrInvalidSize        = errors.New("bitmap: invalid image size")
	ErrChannelMismatch    = errors.New("bitmap: channel names do not match pixel format")
	ErrDataSize           = errors.New("bitmap: pixel data size mismatch")
	ErrDuplicateLayer     = errors.New("bitmap: duplicate layer name")
	ErrUnsupportedFormat  = errors.New("bitmap: unsupported pixel format")
	ErrUnsupportedFile    = errors.New("bitmap: unsupported file type")
	ErrMalformedPFM       = errors.New("bitmap: malformed PFM data")
	ErrDimensionsMismatch = errors.New("bitmap: layer dimensions differ")
)

// PixelFormat describes how channels are interpreted.
type PixelFormat int

const (
	Y PixelFormat = iota
	YA
	RGB
	RGBA
	XYZ
	MultiChannel
)

// String returns the lower-case format name.
func (f PixelFormat) String() string {
	switch f {
	case Y:
		return "y"
	case YA:
		return "ya"
	case RGB:
		return "rgb"
	case RGBA:
		return "rgba"
	case XYZ:
		return "xyz"
	case MultiChannel:
		return "multichannel"
	default:
		return "unknown"
	}
}

// DefaultChannels returns the channel names implied by a format, or nil
// for MultiChannel.
func (f PixelFormat) DefaultChannels() []string {
	switch f {
	case Y:
		return []string{"Y"}
	case YA:
		return []string{"Y", "A"}
	case RGB:
		return []string{"R", "G", "B"}
	case RGBA:
		return []string{"R", "G", "B", "A"}
	case XYZ:
		return []string{"X", "Y", "Z"}
	default:
		return nil
	}
}

// ComponentType is the storage type of one channel value.
type ComponentType int

const (
	Float32 ComponentType = iota
	Float16
)

// Size returns the byte size of one component.
func (c ComponentType) Size() int {
	if c == Float16 {
		return 2
	}
	return 4
}

// String returns the component type name.
func (c ComponentType) String() string {
	if c == Float16 {
		return "float16"
	}
	return "float32"
}

// Bitmap is an interleaved image with named channels.
//
// Float32 images keep their values in f32; Float16 images keep theirs in
// f16. Bitmaps are immutable after construction except through the slice
// returned by Float32Data on a caller-owned copy.
type Bitmap struct {
	format    PixelFormat
	component ComponentType
	width     int
	height    int
	channels  []string
	f32       []float32
	f16       []float16.Float16
}

// New builds an image from raw little-endian host bytes. channels may be
// nil for every format except MultiChannel.
func New(format PixelFormat, component ComponentType, width, height int, channels []string, raw []byte) (*Bitmap, error) {
	b, err := newHeader(format, component, width, height, channels)
	if err != nil {
		return nil, err
	}

	count := width * height * len(b.channels)
	if len(raw) != count*component.Size() {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrDataSize, len(raw), count*component.Size())
	}

	switch component {
	case Float16:
		b.f16 = make([]float16.Float16, count)
		for i := range b.f16 {
			b.f16[i] = float16.Frombits(binary.LittleEndian.Uint16(raw[i*2:]))
		}
	default:
		b.f32 = make([]float32, count)
		for i := range b.f32 {
			b.f32[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	}
	return b, nil
}

// FromFloat32 wraps interleaved float32 data. The bitmap takes ownership
// of data.
func FromFloat32(format PixelFormat, width, height int, channels []string, data []float32) (*Bitmap, error) {
	b, err := newHeader(format, Float32, width, height, channels)
	if err != nil {
		return nil, err
	}
	if want := width * height * len(b.channels); len(data) != want {
		return nil, fmt.Errorf("%w: got %d values, want %d", ErrDataSize, len(data), want)
	}
	b.f32 = data
	return b, nil
}

func newHeader(format PixelFormat, component ComponentType, width, height int, channels []string) (*Bitmap, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidSize, width, height)
	}
	if format < Y || format > MultiChannel {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedFormat, int(format))
	}

	defaults := format.DefaultChannels()
	if channels == nil {
		if defaults == nil {
			return nil, fmt.Errorf("%w: multichannel image needs channel names", ErrChannelMismatch)
		}
		channels = defaults
	}
	if len(channels) == 0 {
		return nil, fmt.Errorf("%w: no channels", ErrChannelMismatch)
	}
	if defaults != nil && len(channels) != len(defaults) {
		return nil, fmt.Errorf("%w: %s needs %d channels, got %d", ErrChannelMismatch, format, len(defaults), len(channels))
	}

	names := make([]string, len(channels))
	copy(names, channels)

	return &Bitmap{
		format:    format,
		component: component,
		width:     width,
		height:    height,
		channels:  names,
	}, nil
}

// PixelFormat returns the pixel format.
func (b *Bitmap) PixelFormat() PixelFormat { return b.format }

// ComponentType returns the storage type.
func (b *Bitmap) ComponentType() ComponentType { return b.component }

// Width returns the image width in pixels.
func (b *Bitmap) Width() int { return b.width }

// Height returns the image height in pixels.
func (b *Bitmap) Height() int { return b.height }

// ChannelCount returns the number of channels per pixel.
func (b *Bitmap) ChannelCount() int { return len(b.channels) }

// ChannelNames returns a copy of the channel names.
func (b *Bitmap) ChannelNames() []string {
	out := make([]string, len(b.channels))
	copy(out, b.channels)
	return out
}

// Float32Data returns a fresh float32 copy of the interleaved pixels.
func (b *Bitmap) Float32Data() []float32 {
	if b.component == Float16 {
		out := make([]float32, len(b.f16))
		for i, h := range b.f16 {
			out[i] = h.Float32()
		}
		return out
	}
	out := make([]float32, len(b.f32))
	copy(out, b.f32)
	return out
}

// Bytes returns the pixels as raw little-endian bytes in the image's
// component type.
func (b *Bitmap) Bytes() []byte {
	if b.component == Float16 {
		raw := make([]byte, len(b.f16)*2)
		for i, h := range b.f16 {
			binary.LittleEndian.PutUint16(raw[i*2:], h.Bits())
		}
		return raw
	}
	raw := make([]byte, len(b.f32)*4)
	for i, v := range b.f32 {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}
	return raw
}

// Convert returns a copy stored with the given component type.
func (b *Bitmap) Convert(component ComponentType) *Bitmap {
	out := &Bitmap{
		format:    b.format,
		component: component,
		width:     b.width,
		height:    b.height,
		channels:  b.ChannelNames(),
	}
	data := b.Float32Data()
	if component == Float16 {
		out.f16 = make([]float16.Float16, len(data))
		for i, v := range data {
			out.f16[i] = float16.Fromfloat32(v)
		}
	} else {
		out.f32 = data
	}
	return out
}

// String describes the image layout.
func (b *Bitmap) String() string {
	quoted := make([]string, len(b.channels))
	for i, c := range b.channels {
		quoted[i] = fmt.Sprintf("%q", c)
	}

	var sb strings.Builder
	sb.WriteString("Bitmap[\n")
	fmt.Fprintf(&sb, "  pixel_format = %s,\n", b.format)
	fmt.Fprintf(&sb, "  component_format = %s,\n", b.component)
	fmt.Fprintf(&sb, "  size = [%d, %d],\n", b.width, b.height)
	fmt.Fprintf(&sb, "  channels = [%s]\n", strings.Join(quoted, ", "))
	sb.WriteString("]")
	return sb.String()
}
