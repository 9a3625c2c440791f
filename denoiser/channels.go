package denoiser

import (
	"go_denoiser/bitmap"
)

// ChannelNames names the layers of a multi-layer image to use for each
// role. An empty name means the role is not requested; an empty Noisy
// means the root layer.
type ChannelNames struct {
	Albedo           string
	Normals          string
	Flow             string
	PreviousDenoised string
	Noisy            string
}

func (n ChannelNames) withDefaults() ChannelNames {
	if n.Noisy == "" {
		n.Noisy = bitmap.RootLayer
	}
	return n
}

// ResolvedChannels holds the sub-images located by ResolveChannels.
// Roles that were not requested are nil.
type ResolvedChannels struct {
	Noisy            *bitmap.Bitmap
	Albedo           *bitmap.Bitmap
	Normals          *bitmap.Bitmap
	Flow             *bitmap.Bitmap
	PreviousDenoised *bitmap.Bitmap
}

// ResolveChannels matches the requested names against the image's layers
// in a single ordered scan, keeping the first match for each role and
// stopping once every requested role is found. A requested name with no
// matching layer returns a *MissingChannelError; roles are checked in the
// order noisy, albedo, normals, flow, previous denoised.
func ResolveChannels(img *bitmap.Bitmap, names ChannelNames) (*ResolvedChannels, error) {
	names = names.withDefaults()
	layers := img.Split()
	res := &ResolvedChannels{}

	roles := []struct {
		role string
		name string
		dst  **bitmap.Bitmap
	}{
		{"noisy", names.Noisy, &res.Noisy},
		{"albedo", names.Albedo, &res.Albedo},
		{"normals", names.Normals, &res.Normals},
		{"flow", names.Flow, &res.Flow},
		{"previous denoised", names.PreviousDenoised, &res.PreviousDenoised},
	}

	pending := 0
	for _, r := range roles {
		if r.name != "" {
			pending++
		}
	}

	for _, layer := range layers {
		if pending == 0 {
			break
		}
		// Two roles may name the same layer, so keep checking after a hit.
		for _, r := range roles {
			if r.name != "" && *r.dst == nil && layer.Name == r.name {
				*r.dst = layer.Image
				pending--
			}
		}
	}

	for _, r := range roles {
		if r.name != "" && *r.dst == nil {
			return nil, &MissingChannelError{
				Channel:   r.name,
				Role:      r.role,
				Available: bitmap.LayerNames(layers),
				Image:     img.String(),
			}
		}
	}
	return res, nil
}
