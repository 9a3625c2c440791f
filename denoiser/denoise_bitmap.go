package denoiser

import (
	"fmt"

	"go.uber.org/multierr"

	"go_denoiser/bitmap"
	"go_denoiser/device"
)

// DenoiseBitmap denoises a multi-layer image and returns the result as an
// RGB or RGBA host image at the bound resolution.
//
// An image that is not multichannel is used directly as the noisy input
// and no guides are supplied. Otherwise the named layers are located with
// ResolveChannels and uploaded with fixed channel counts: 3 for albedo and
// normals, 2 for flow, and the noisy layer's own count for the previous
// frame. Layers for guides the denoiser is not configured for are not
// uploaded.
func (d *Denoiser) DenoiseBitmap(img *bitmap.Bitmap, names ChannelNames) (*bitmap.Bitmap, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}
	if img == nil {
		return nil, fmt.Errorf("%w: image is nil", ErrInvalidInput)
	}

	var uploads []*Tensor
	releaseUploads := func() {
		for _, t := range uploads {
			_ = t.Release()
		}
		uploads = nil
	}
	defer releaseUploads()

	upload := func(role string, sub *bitmap.Bitmap, channels int) (*Tensor, error) {
		if sub == nil {
			return nil, nil
		}
		if channels > 0 && sub.ChannelCount() != channels {
			return nil, fmt.Errorf("%w: %s layer has %d channels, want %d",
				ErrInvalidInput, role, sub.ChannelCount(), channels)
		}
		t, err := TensorFromHost(d.dev, sub.Float32Data(), sub.Height(), sub.Width(), sub.ChannelCount())
		if err != nil {
			return nil, &ResourceError{
				Op:   "upload " + role,
				Size: sub.Width() * sub.Height() * sub.ChannelCount() * 4,
				Err:  err,
			}
		}
		uploads = append(uploads, t)
		return t, nil
	}

	var in Inputs
	var err error

	if img.PixelFormat() != bitmap.MultiChannel {
		if in.Noisy, err = upload("noisy", img, 0); err != nil {
			return nil, err
		}
	} else {
		rc, err := ResolveChannels(img, names)
		if err != nil {
			return nil, err
		}
		if in.Noisy, err = upload("noisy", rc.Noisy, 0); err != nil {
			return nil, err
		}
		if d.cfg.GuideAlbedo {
			if in.Albedo, err = upload("albedo", rc.Albedo, 3); err != nil {
				return nil, err
			}
		}
		if d.cfg.GuideNormals {
			if in.Normals, err = upload("normals", rc.Normals, 3); err != nil {
				return nil, err
			}
		}
		if d.cfg.Temporal {
			if in.Flow, err = upload("flow", rc.Flow, 2); err != nil {
				return nil, err
			}
			if in.PreviousDenoised, err = upload("previous denoised", rc.PreviousDenoised, rc.Noisy.ChannelCount()); err != nil {
				return nil, err
			}
		}
	}

	out, err := d.Denoise(in)
	if err != nil {
		return nil, err
	}
	// The frees are enqueued behind the invocation, and retire at the
	// read-back barrier.
	releaseUploads()

	return d.readBack(out)
}

// readBack migrates out to host memory, waits for the stream and wraps the
// values as an image. out is released.
func (d *Denoiser) readBack(out *Tensor) (*bitmap.Bitmap, error) {
	size := out.Len() * 4
	host, err := d.dev.Migrate(out.buf, device.KindHost, false)
	if err != nil {
		return nil, multierr.Append(&ResourceError{Op: "migrate output to host", Size: size, Err: err}, out.Release())
	}
	if err := out.Release(); err != nil {
		return nil, multierr.Append(err, d.dev.Free(host))
	}

	// Host reads of device-produced data are only valid after the barrier.
	if err := d.dev.Synchronize(); err != nil {
		return nil, &EngineInvocationError{Op: "synchronize", Err: err}
	}

	data := make([]float32, out.Len())
	copy(data, host.Float32s())
	if err := d.dev.Free(host); err != nil {
		return nil, err
	}

	format := bitmap.RGB
	if out.Channels() == 4 {
		format = bitmap.RGBA
	}
	return bitmap.FromFloat32(format, d.width, d.height, nil, data)
}
