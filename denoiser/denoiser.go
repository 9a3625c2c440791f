package denoiser

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"go_denoiser/device"
	"go_denoiser/engine"
)

// hdrIntensitySize is the byte size of the auto-exposure scalar.
const hdrIntensitySize = 4

// Denoiser binds an engine context to one resolution and guide
// configuration, and owns the device buffers the context runs on.
//
// A Denoiser is not safe for overlapping Denoise calls: the temporal
// history and the intensity scalar are rewritten by every frame. Serialize
// calls per instance or use a Pool.
type Denoiser struct {
	dev    *device.Device
	ctx    engine.Context
	cfg    Config
	width  int
	height int

	state   *device.Buffer
	scratch *device.Buffer
	hdr     *device.Buffer

	logger *zap.Logger
	frames atomic.Int64

	closed    atomic.Bool
	closeOnce sync.Once
}

// Option configures a Denoiser.
type Option func(*Denoiser)

// WithLogger sets the logger used for lifecycle and per-frame debug output.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Denoiser) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// New creates a Denoiser for width x height frames.
//
// It validates cfg, creates an engine context of the matching model kind,
// allocates the state, scratch and intensity buffers at the sizes the
// engine reports, and binds them with Setup. Either every step succeeds or
// everything acquired so far is released and the error is returned.
//
// Error cases:
//   - *ConfigurationError: invalid guide combination or resolution
//   - *ResourceError: context creation, allocation or setup failed
func New(dev *device.Device, eng engine.Engine, width, height int, cfg Config, opts ...Option) (*Denoiser, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, &ConfigurationError{
			Field:   "resolution",
			Message: fmt.Sprintf("%dx%d is not a valid frame size", width, height),
		}
	}
	if dev == nil {
		return nil, &ConfigurationError{Field: "device", Message: "a device is required"}
	}
	if eng == nil {
		return nil, &ConfigurationError{Field: "engine", Message: "an engine is required"}
	}

	d := &Denoiser{
		dev:    dev,
		cfg:    cfg,
		width:  width,
		height: height,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}

	if err := d.acquire(eng); err != nil {
		if rerr := d.release(); rerr != nil {
			d.logger.Warn("Failed to release partially constructed denoiser", zap.Error(rerr))
		}
		return nil, err
	}

	d.logger.Info("Denoiser created",
		zap.String("backend", eng.Name()),
		zap.Int("width", width),
		zap.Int("height", height),
		zap.Bool("albedo", cfg.GuideAlbedo),
		zap.Bool("normals", cfg.GuideNormals),
		zap.Bool("temporal", cfg.Temporal),
		zap.Int("state_bytes", d.state.Size()),
		zap.Int("scratch_bytes", d.scratch.Size()))

	return d, nil
}

// acquire performs the construction steps in order, recording each
// resource on d as soon as it exists so release can undo a partial run.
func (d *Denoiser) acquire(eng engine.Engine) error {
	ctx, err := eng.CreateContext(d.cfg.modelKind(), d.cfg.engineOptions())
	if err != nil {
		return &ResourceError{Op: "create " + d.cfg.modelKind().String() + " context", Err: err}
	}
	d.ctx = ctx

	sizes, err := ctx.QueryMemoryRequirements(d.width, d.height)
	if err != nil {
		return &ResourceError{Op: "query memory requirements", Err: err}
	}

	if d.state, err = d.dev.Alloc(device.KindDevice, sizes.StateSize); err != nil {
		return &ResourceError{Op: "allocate state buffer", Size: sizes.StateSize, Err: err}
	}
	if d.scratch, err = d.dev.Alloc(device.KindDevice, sizes.ScratchSize); err != nil {
		return &ResourceError{Op: "allocate scratch buffer", Size: sizes.ScratchSize, Err: err}
	}

	if err := ctx.Setup(d.dev.Current(), d.width, d.height, d.state, d.scratch); err != nil {
		return &ResourceError{Op: "setup context", Err: err}
	}

	if d.hdr, err = d.dev.Alloc(device.KindDevice, hdrIntensitySize); err != nil {
		return &ResourceError{Op: "allocate hdr intensity buffer", Size: hdrIntensitySize, Err: err}
	}
	return nil
}

// release waits for outstanding stream work, then destroys the context and
// frees every buffer that was acquired.
func (d *Denoiser) release() error {
	err := d.dev.Synchronize()

	if d.ctx != nil {
		err = multierr.Append(err, d.ctx.Destroy())
		d.ctx = nil
	}
	for _, buf := range []**device.Buffer{&d.state, &d.scratch, &d.hdr} {
		if *buf != nil {
			err = multierr.Append(err, d.dev.Free(*buf))
			*buf = nil
		}
	}
	return err
}

// Close waits for in-flight work on the stream, destroys the engine context
// and frees the device buffers. Only the first call does any work; later
// calls return nil.
func (d *Denoiser) Close() error {
	var err error
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		err = d.release()
		d.logger.Info("Denoiser closed", zap.Int64("frames", d.frames.Load()), zap.Error(err))
	})
	return err
}

// Config returns the guide configuration.
func (d *Denoiser) Config() Config { return d.cfg }

// Size returns the bound resolution.
func (d *Denoiser) Size() (width, height int) { return d.width, d.height }

// Frames returns the number of frames successfully denoised.
func (d *Denoiser) Frames() int64 { return d.frames.Load() }

// Device returns the device the denoiser allocates on.
func (d *Denoiser) Device() *device.Device { return d.dev }

// String describes the guide configuration.
func (d *Denoiser) String() string {
	var sb strings.Builder
	sb.WriteString("Denoiser[\n")
	fmt.Fprintf(&sb, "  albedo = %t,\n", d.cfg.GuideAlbedo)
	fmt.Fprintf(&sb, "  normals = %t,\n", d.cfg.GuideNormals)
	fmt.Fprintf(&sb, "  temporal = %t\n", d.cfg.Temporal)
	sb.WriteString("]")
	return sb.String()
}
