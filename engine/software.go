package engine

import (
	"sync"

	"go_denoiser/device"
)

// SoftwareBackend is the registry name of the reference engine.
const SoftwareBackend = "software"

// stateHeaderFloats is the number of float32 slots before the per-pixel
// temporal history. Slot 0 holds the processed frame count.
const stateHeaderFloats = 4

func init() {
	Register(SoftwareBackend, func() (Engine, error) {
		return NewSoftware(), nil
	})
}

// Software is a CPU reference engine that satisfies the Context contract
// with an edge-aware joint bilateral filter. It runs all image work on the
// device stream like an accelerator backend would.
type Software struct{}

// NewSoftware returns the reference engine.
func NewSoftware() *Software {
	return &Software{}
}

// Name implements Engine.
func (e *Software) Name() string {
	return SoftwareBackend
}

// CreateContext implements Engine.
func (e *Software) CreateContext(kind ModelKind, opts Options) (Context, error) {
	if kind != ModelHDR && kind != ModelTemporal {
		return nil, newError("create context", CodeInvalidValue, "unknown model kind %d", int(kind))
	}
	if opts.GuideNormals && !opts.GuideAlbedo {
		return nil, newError("create context", CodeInvalidValue, "normal guide requires albedo guide")
	}
	return &softwareContext{kind: kind, opts: opts}, nil
}

type softwareContext struct {
	mu        sync.Mutex
	kind      ModelKind
	opts      Options
	width     int
	height    int
	state     *device.Buffer
	scratch   *device.Buffer
	ready     bool
	destroyed bool
}

func (c *softwareContext) requirements(width, height int) MemorySizes {
	pixels := width * height
	state := stateHeaderFloats
	if c.kind == ModelTemporal {
		state += pixels
	}
	return MemorySizes{
		StateSize:   state * 4,
		ScratchSize: pixels * 4 * 4,
	}
}

// QueryMemoryRequirements implements Context.
func (c *softwareContext) QueryMemoryRequirements(width, height int) (MemorySizes, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed {
		return MemorySizes{}, newError("query memory", CodeDestroyed, "")
	}
	if width <= 0 || height <= 0 {
		return MemorySizes{}, newError("query memory", CodeInvalidValue, "invalid resolution %dx%d", width, height)
	}
	return c.requirements(width, height), nil
}

// Setup implements Context.
func (c *softwareContext) Setup(s *device.Stream, width, height int, state, scratch *device.Buffer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed {
		return newError("setup", CodeDestroyed, "")
	}
	if width <= 0 || height <= 0 {
		return newError("setup", CodeInvalidValue, "invalid resolution %dx%d", width, height)
	}

	req := c.requirements(width, height)
	if state == nil || state.Size() < req.StateSize {
		return newError("setup", CodeInsufficientMemory, "state buffer needs %d bytes", req.StateSize)
	}
	if scratch == nil || scratch.Size() < req.ScratchSize {
		return newError("setup", CodeInsufficientMemory, "scratch buffer needs %d bytes", req.ScratchSize)
	}

	if err := s.Enqueue(func() { clear(state.Float32s()) }); err != nil {
		return newError("setup", CodeInvalidValue, "%v", err)
	}

	c.width, c.height = width, height
	c.state, c.scratch = state, scratch
	c.ready = true
	return nil
}

// EstimateIntensity implements Context.
func (c *softwareContext) EstimateIntensity(s *device.Stream, input ImageDescriptor, out, scratch *device.Buffer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	const op = "estimate intensity"
	if err := c.checkReady(op); err != nil {
		return err
	}
	if err := c.checkImage(op, "input", input, FormatInvalid); err != nil {
		return err
	}
	if input.Format.Channels() < 3 {
		return newError(op, CodeInvalidDescriptor, "input format %s has no color channels", input.Format)
	}
	if out == nil || out.Size() < 4 {
		return newError(op, CodeInvalidValue, "intensity buffer must hold one float")
	}
	if scratch == nil {
		return newError(op, CodeInsufficientMemory, "scratch buffer is nil")
	}

	pixels := c.width * c.height
	channels := input.Format.Channels()
	data := input.Data

	return c.enqueue(s, op, func() {
		out.Float32s()[0] = logAverageIntensity(data.Float32s(), pixels, channels)
	})
}

// Invoke implements Context.
func (c *softwareContext) Invoke(s *device.Stream, p Params, state *device.Buffer, guide GuideLayer, layers []Layer, scratch *device.Buffer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	const op = "invoke"
	if err := c.checkReady(op); err != nil {
		return err
	}
	if len(layers) != 1 {
		return newError(op, CodeInvalidValue, "history depth %d is not supported", len(layers))
	}
	layer := layers[0]

	if err := c.checkImage(op, "input", layer.Input, FormatInvalid); err != nil {
		return err
	}
	format := layer.Input.Format
	if format != FormatFloat3 && format != FormatFloat4 {
		return newError(op, CodeInvalidDescriptor, "input format %s, want float3 or float4", format)
	}
	if err := c.checkImage(op, "output", layer.Output, format); err != nil {
		return err
	}
	if c.opts.GuideAlbedo {
		if err := c.checkImage(op, "albedo", guide.Albedo, FormatFloat3); err != nil {
			return err
		}
	}
	if c.opts.GuideNormals {
		if err := c.checkImage(op, "normal", guide.Normal, FormatFloat3); err != nil {
			return err
		}
	}
	if c.kind == ModelTemporal {
		if err := c.checkImage(op, "flow", guide.Flow, FormatFloat2); err != nil {
			return err
		}
		if err := c.checkImage(op, "previous output", layer.PreviousOutput, format); err != nil {
			return err
		}
	}
	if p.HDRIntensity == nil || p.HDRIntensity.Size() < 4 {
		return newError(op, CodeInvalidValue, "hdr intensity buffer must hold one float")
	}
	if p.BlendFactor < 0 || p.BlendFactor > 1 {
		return newError(op, CodeInvalidValue, "blend factor %g outside [0, 1]", p.BlendFactor)
	}
	if state != c.state {
		return newError(op, CodeInvalidValue, "state buffer differs from the one bound at setup")
	}
	req := c.requirements(c.width, c.height)
	if scratch == nil || scratch.Size() < req.ScratchSize {
		return newError(op, CodeInsufficientMemory, "scratch buffer needs %d bytes", req.ScratchSize)
	}

	w, h := c.width, c.height
	channels := format.Channels()
	n := w * h * channels
	temporal := c.kind == ModelTemporal
	useAlbedo, useNormals := c.opts.GuideAlbedo, c.opts.GuideNormals

	return c.enqueue(s, op, func() {
		in := layer.Input.Data.Float32s()[:n]
		out := layer.Output.Data.Float32s()[:n]
		work := scratch.Float32s()[:n]
		intensity := sanitizeIntensity(p.HDRIntensity.Float32s()[0])

		var g guides
		if useAlbedo {
			g.albedo = guide.Albedo.Data.Float32s()[:w*h*3]
		}
		if useNormals {
			g.normal = guide.Normal.Data.Float32s()[:w*h*3]
		}

		toLog(work, in, channels, intensity)
		jointBilateral(out, work, w, h, channels, g, p.DenoiseAlpha)
		fromLog(out, channels, intensity)

		if temporal {
			st := state.Float32s()
			prev := layer.PreviousOutput.Data.Float32s()[:n]
			flow := guide.Flow.Data.Float32s()[:w*h*2]
			temporalBlend(out, prev, flow, st[stateHeaderFloats:stateHeaderFloats+w*h], w, h, channels, st[0] == 0)
			st[0]++
		}

		blendInput(out, in, channels, p.BlendFactor)
	})
}

// Destroy implements Context.
func (c *softwareContext) Destroy() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed {
		return newError("destroy", CodeDestroyed, "")
	}
	c.destroyed = true
	c.ready = false
	c.state, c.scratch = nil, nil
	return nil
}

func (c *softwareContext) checkReady(op string) error {
	if c.destroyed {
		return newError(op, CodeDestroyed, "")
	}
	if !c.ready {
		return newError(op, CodeNotSetup, "")
	}
	return nil
}

func (c *softwareContext) checkImage(op, role string, d ImageDescriptor, want PixelFormat) error {
	if d.Data == nil {
		return newError(op, CodeInvalidDescriptor, "%s image has no data", role)
	}
	if d.Width != c.width || d.Height != c.height {
		return newError(op, CodeInvalidDescriptor, "%s image is %dx%d, context is set up for %dx%d",
			role, d.Width, d.Height, c.width, c.height)
	}
	channels := d.Format.Channels()
	if channels == 0 {
		return newError(op, CodeInvalidDescriptor, "%s image has invalid format", role)
	}
	if want != FormatInvalid && d.Format != want {
		return newError(op, CodeInvalidDescriptor, "%s image format %s, want %s", role, d.Format, want)
	}
	if d.PixelStride != channels*4 || d.RowStride != d.Width*channels*4 {
		return newError(op, CodeInvalidDescriptor, "%s image is not tightly packed", role)
	}
	if need := d.Width * d.Height * channels * 4; d.Data.Size() < need {
		return newError(op, CodeInvalidDescriptor, "%s buffer holds %d bytes, need %d", role, d.Data.Size(), need)
	}
	return nil
}

func (c *softwareContext) enqueue(s *device.Stream, op string, fn func()) error {
	if err := s.Enqueue(fn); err != nil {
		return &EngineError{Op: op, Code: CodeInvalidValue, Message: err.Error(), Err: err}
	}
	return nil
}
