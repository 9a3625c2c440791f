package denoiser

import (
	"go_denoiser/engine"
)

// Config selects the guide buffers and model variant of a Denoiser.
// It is fixed for the lifetime of the instance.
type Config struct {
	// GuideAlbedo feeds an albedo guide to the engine.
	GuideAlbedo bool

	// GuideNormals feeds a shading-normal guide. Requires GuideAlbedo.
	GuideNormals bool

	// Temporal selects the temporal model, which consumes motion vectors
	// and the previous denoised frame.
	Temporal bool
}

// Validate checks the guide combination.
func (c Config) Validate() error {
	if c.GuideNormals && !c.GuideAlbedo {
		return &ConfigurationError{
			Field:   "guide_normals",
			Message: "the normals guide requires the albedo guide to be enabled",
		}
	}
	return nil
}

func (c Config) modelKind() engine.ModelKind {
	if c.Temporal {
		return engine.ModelTemporal
	}
	return engine.ModelHDR
}

func (c Config) engineOptions() engine.Options {
	return engine.Options{
		GuideAlbedo:  c.GuideAlbedo,
		GuideNormals: c.GuideNormals,
	}
}
