package denoiser

import (
	"fmt"

	"go.uber.org/zap"

	"go_denoiser/engine"
)

// Inputs holds the per-frame tensors. Noisy is always required. Albedo,
// Normals, Flow and PreviousDenoised are required when the matching guide
// or temporal mode is configured and ignored otherwise.
type Inputs struct {
	Noisy            *Tensor
	Albedo           *Tensor
	Normals          *Tensor
	PreviousDenoised *Tensor
	Flow             *Tensor
}

// Denoise runs one frame and returns a new device tensor with the shape of
// in.Noisy. The work is enqueued on the device stream; call Host on the
// result, or Synchronize the device, before reading it.
//
// Error cases:
//   - ErrClosed: Close has been called
//   - ErrInvalidInput: a required tensor is missing or has the wrong shape
//   - *EngineInvocationError: the engine rejected the frame
func (d *Denoiser) Denoise(in Inputs) (*Tensor, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}
	if err := d.checkInputs(in); err != nil {
		return nil, err
	}

	s := d.dev.Current()
	h, w, c := in.Noisy.Shape()

	input, err := in.Noisy.descriptor()
	if err != nil {
		return nil, fmt.Errorf("%w: noisy: %v", ErrInvalidInput, err)
	}

	out, err := NewTensor(d.dev, h, w, c)
	if err != nil {
		return nil, &ResourceError{Op: "allocate output", Size: h * w * c * 4, Err: err}
	}
	output := input
	output.Data = out.buf

	if err := d.ctx.EstimateIntensity(s, input, d.hdr, d.scratch); err != nil {
		_ = out.Release()
		return nil, &EngineInvocationError{Op: "estimate intensity", Err: err}
	}

	var guide engine.GuideLayer
	layer := engine.Layer{Input: input, Output: output}

	if d.cfg.GuideAlbedo {
		if guide.Albedo, err = in.Albedo.descriptor(); err != nil {
			_ = out.Release()
			return nil, fmt.Errorf("%w: albedo: %v", ErrInvalidInput, err)
		}
	}

	var normals *Tensor
	if d.cfg.GuideNormals {
		if normals, err = correctedNormals(s, in.Normals); err != nil {
			_ = out.Release()
			return nil, &ResourceError{Op: "copy normals", Size: in.Normals.Len() * 4, Err: err}
		}
		// Enqueued release: retires after the invocation that reads the copy.
		defer normals.Release()

		if guide.Normal, err = normals.descriptor(); err != nil {
			_ = out.Release()
			return nil, fmt.Errorf("%w: normals: %v", ErrInvalidInput, err)
		}
	}

	if d.cfg.Temporal {
		if guide.Flow, err = in.Flow.descriptor(); err != nil {
			_ = out.Release()
			return nil, fmt.Errorf("%w: flow: %v", ErrInvalidInput, err)
		}
		if layer.PreviousOutput, err = in.PreviousDenoised.descriptor(); err != nil {
			_ = out.Release()
			return nil, fmt.Errorf("%w: previous denoised: %v", ErrInvalidInput, err)
		}
	}

	params := engine.Params{
		HDRIntensity: d.hdr,
		BlendFactor:  0,
		DenoiseAlpha: true,
	}
	if err := d.ctx.Invoke(s, params, d.state, guide, []engine.Layer{layer}, d.scratch); err != nil {
		_ = out.Release()
		return nil, &EngineInvocationError{Op: "invoke", Err: err}
	}

	frame := d.frames.Add(1)
	d.logger.Debug("Frame enqueued",
		zap.Int64("frame", frame),
		zap.Int("channels", c),
		zap.Int("pending", s.Pending()))

	return out, nil
}

// checkInputs validates the tensors the configuration requires. Tensors for
// guides that are not configured are ignored.
func (d *Denoiser) checkInputs(in Inputs) error {
	if in.Noisy == nil {
		return fmt.Errorf("%w: noisy tensor is required", ErrInvalidInput)
	}
	c := in.Noisy.Channels()
	if c != 3 && c != 4 {
		return fmt.Errorf("%w: noisy tensor has %d channels, want 3 or 4", ErrInvalidInput, c)
	}

	checks := []struct {
		role     string
		t        *Tensor
		required bool
		channels int
	}{
		{"noisy", in.Noisy, true, c},
		{"albedo", in.Albedo, d.cfg.GuideAlbedo, 3},
		{"normals", in.Normals, d.cfg.GuideNormals, 3},
		{"flow", in.Flow, d.cfg.Temporal, 2},
		{"previous denoised", in.PreviousDenoised, d.cfg.Temporal, c},
	}

	for _, chk := range checks {
		if !chk.required {
			continue
		}
		t := chk.t
		switch {
		case t == nil:
			return fmt.Errorf("%w: %s tensor is required", ErrInvalidInput, chk.role)
		case t.buf == nil:
			return fmt.Errorf("%w: %s tensor has been released", ErrInvalidInput, chk.role)
		case t.dev != d.dev:
			return fmt.Errorf("%w: %s tensor belongs to a different device", ErrInvalidInput, chk.role)
		case t.height != d.height || t.width != d.width:
			return fmt.Errorf("%w: %s tensor is %dx%d, denoiser is bound to %dx%d",
				ErrInvalidInput, chk.role, t.width, t.height, d.width, d.height)
		case t.channels != chk.channels:
			return fmt.Errorf("%w: %s tensor has %d channels, want %d",
				ErrInvalidInput, chk.role, t.channels, chk.channels)
		}
	}
	return nil
}
