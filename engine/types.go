package engine

import (
	"fmt"

	"go_denoiser/device"
)

// ModelKind selects the denoising model variant a context is created for.
type ModelKind int

const (
	// ModelHDR is the single-frame HDR model.
	ModelHDR ModelKind = iota
	// ModelTemporal accumulates quality across frames using motion vectors
	// and the previous denoised output.
	ModelTemporal
)

// String returns the model kind name.
func (k ModelKind) String() string {
	switch k {
	case ModelHDR:
		return "hdr"
	case ModelTemporal:
		return "temporal"
	default:
		return "unknown"
	}
}

// PixelFormat is the element layout of an image descriptor.
type PixelFormat int

const (
	FormatInvalid PixelFormat = iota
	FormatFloat2
	FormatFloat3
	FormatFloat4
)

// Channels returns the number of float32 components per pixel.
func (f PixelFormat) Channels() int {
	switch f {
	case FormatFloat2:
		return 2
	case FormatFloat3:
		return 3
	case FormatFloat4:
		return 4
	default:
		return 0
	}
}

// String returns the pixel format name.
func (f PixelFormat) String() string {
	switch f {
	case FormatFloat2:
		return "float2"
	case FormatFloat3:
		return "float3"
	case FormatFloat4:
		return "float4"
	default:
		return "invalid"
	}
}

// FormatForChannels maps a channel count to a descriptor format.
func FormatForChannels(channels int) (PixelFormat, bool) {
	switch channels {
	case 2:
		return FormatFloat2, true
	case 3:
		return FormatFloat3, true
	case 4:
		return FormatFloat4, true
	default:
		return FormatInvalid, false
	}
}

// ImageDescriptor is a non-owning view over image storage, valid for the
// duration of one engine call.
type ImageDescriptor struct {
	Data        *device.Buffer
	Width       int
	Height      int
	RowStride   int // bytes between rows
	PixelStride int // bytes between pixels
	Format      PixelFormat
}

// Describe builds a tightly packed descriptor over a (height, width, channels)
// float32 buffer.
func Describe(buf *device.Buffer, height, width, channels int) (ImageDescriptor, error) {
	format, ok := FormatForChannels(channels)
	if !ok {
		return ImageDescriptor{}, fmt.Errorf("%w: unsupported channel count %d", ErrInvalidDescriptor, channels)
	}
	return ImageDescriptor{
		Data:        buf,
		Width:       width,
		Height:      height,
		RowStride:   width * channels * 4,
		PixelStride: channels * 4,
		Format:      format,
	}, nil
}

// IsZero reports whether the descriptor is unset.
func (d ImageDescriptor) IsZero() bool {
	return d.Data == nil
}

// Options configures which guide layers a context consumes.
type Options struct {
	GuideAlbedo  bool
	GuideNormals bool
}

// MemorySizes is the engine's buffer requirement at a given resolution.
type MemorySizes struct {
	StateSize   int
	ScratchSize int
}

// Params are the per-invocation denoiser parameters.
type Params struct {
	// HDRIntensity is a device buffer holding one float32 written by
	// EstimateIntensity.
	HDRIntensity *device.Buffer

	// HDRAverageColor optionally overrides the average color; nil disables it.
	HDRAverageColor *device.Buffer

	// BlendFactor mixes the unfiltered input back in (0 = fully denoised).
	BlendFactor float32

	// DenoiseAlpha filters the alpha channel of Float4 inputs instead of
	// copying it through.
	DenoiseAlpha bool
}

// GuideLayer holds the auxiliary images for an invocation. Unused guides
// are left zero.
type GuideLayer struct {
	Albedo ImageDescriptor
	Normal ImageDescriptor
	Flow   ImageDescriptor
}

// Layer is one input/output pair. PreviousOutput is required by temporal
// models.
type Layer struct {
	Input          ImageDescriptor
	Output         ImageDescriptor
	PreviousOutput ImageDescriptor
}
