// Package denoiser orchestrates a denoising engine over device memory.
//
// A Denoiser is bound to one resolution and one guide configuration. It
// owns the engine context together with its persistent state, scratch and
// HDR intensity buffers, and exposes two entry points sharing one core:
//
//   - Denoise takes tensors already separated by role
//   - DenoiseBitmap takes a multi-layer image plus channel names, resolves
//     the named layers with ResolveChannels and delegates to Denoise
//
// # Quick Start
//
//	dev := device.New(device.DefaultConfig())
//	defer dev.Close()
//
//	eng, err := engine.Open("software")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	d, err := denoiser.New(dev, eng, 1920, 1080, denoiser.Config{
//	    GuideAlbedo:  true,
//	    GuideNormals: true,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer d.Close()
//
//	clean, err := d.DenoiseBitmap(img, denoiser.ChannelNames{
//	    Albedo:  "albedo",
//	    Normals: "nn",
//	})
//
// # Concurrency
//
// Work is enqueued on the device's compute stream and runs asynchronously
// in issue order. Results are only host-visible after a Synchronize, which
// DenoiseBitmap and Tensor.Host perform.
//
// A Denoiser must not run overlapping frames. Use a Pool to process
// independent frames in parallel with one instance per caller.
//
// # Errors
//
//   - ConfigurationError (ErrConfiguration): invalid guide combination
//   - ResourceError (ErrResource): context, buffer or setup failure
//   - MissingChannelError (ErrMissingChannel): named layer not in the image
//   - EngineInvocationError (ErrEngineInvocation): engine rejected a frame
//   - ErrInvalidInput: missing or mis-shaped tensor for the configuration
package denoiser
