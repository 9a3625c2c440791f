package bitmap

import (
	"fmt"
	"strings"
)

// Layer is a named sub-image produced by Split.
type Layer struct {
	Name  string
	Image *Bitmap
}

// LayerNames returns the names of layers in order.
func LayerNames(layers []Layer) []string {
	names := make([]string, len(layers))
	for i, l := range layers {
		names[i] = l.Name
	}
	return names
}

// splitChannelName separates "layer.suffix" at the last dot. Names without
// a dot belong to the root layer.
func splitChannelName(name string) (layer, suffix string) {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return RootLayer, name
	}
	return name[:i], name[i+1:]
}

// formatFromSuffixes infers a pixel format from a layer's channel suffixes.
func formatFromSuffixes(suffixes []string) PixelFormat {
	upper := strings.ToUpper(strings.Join(suffixes, ","))
	switch upper {
	case "R,G,B":
		return RGB
	case "R,G,B,A":
		return RGBA
	case "X,Y,Z":
		return XYZ
	case "Y":
		return Y
	case "Y,A":
		return YA
	default:
		return MultiChannel
	}
}

// Split groups channels by prefix and returns one de-interleaved sub-image
// per layer, ordered by first appearance. A non-multichannel image yields a
// single root layer holding the image itself.
func (b *Bitmap) Split() []Layer {
	if b.format != MultiChannel {
		return []Layer{{Name: RootLayer, Image: b}}
	}

	var order []string
	indices := make(map[string][]int)
	suffixes := make(map[string][]string)
	for i, ch := range b.channels {
		layer, suffix := splitChannelName(ch)
		if _, ok := indices[layer]; !ok {
			order = append(order, layer)
		}
		indices[layer] = append(indices[layer], i)
		suffixes[layer] = append(suffixes[layer], suffix)
	}

	pixels := b.width * b.height
	stride := len(b.channels)
	src := b.Float32Data()

	layers := make([]Layer, 0, len(order))
	for _, name := range order {
		idx := indices[name]
		data := make([]float32, pixels*len(idx))
		for p := 0; p < pixels; p++ {
			for j, ch := range idx {
				data[p*len(idx)+j] = src[p*stride+ch]
			}
		}

		sub := &Bitmap{
			format:    formatFromSuffixes(suffixes[name]),
			component: Float32,
			width:     b.width,
			height:    b.height,
			channels:  suffixes[name],
			f32:       data,
		}
		if b.component == Float16 {
			sub = sub.Convert(Float16)
		}
		layers = append(layers, Layer{Name: name, Image: sub})
	}
	return layers
}

// Merge interleaves layers into one multichannel image. Channels of the
// root layer keep their bare names; others are prefixed "name.". The result
// uses the component type of the first layer.
func Merge(layers []Layer) (*Bitmap, error) {
	if len(layers) == 0 {
		return nil, fmt.Errorf("%w: no layers", ErrChannelMismatch)
	}

	width, height := layers[0].Image.width, layers[0].Image.height
	seen := make(map[string]bool, len(layers))
	var names []string
	for _, l := range layers {
		if seen[l.Name] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateLayer, l.Name)
		}
		seen[l.Name] = true
		if l.Image.width != width || l.Image.height != height {
			return nil, fmt.Errorf("%w: layer %q is %dx%d, want %dx%d",
				ErrDimensionsMismatch, l.Name, l.Image.width, l.Image.height, width, height)
		}
		for _, ch := range l.Image.channels {
			if l.Name == RootLayer {
				names = append(names, ch)
			} else {
				names = append(names, l.Name+"."+ch)
			}
		}
	}

	pixels := width * height
	stride := len(names)
	data := make([]float32, pixels*stride)
	offset := 0
	for _, l := range layers {
		src := l.Image.Float32Data()
		n := len(l.Image.channels)
		for p := 0; p < pixels; p++ {
			copy(data[p*stride+offset:p*stride+offset+n], src[p*n:p*n+n])
		}
		offset += n
	}

	merged := &Bitmap{
		format:    MultiChannel,
		component: Float32,
		width:     width,
		height:    height,
		channels:  names,
		f32:       data,
	}
	if layers[0].Image.component == Float16 {
		merged = merged.Convert(Float16)
	}
	return merged, nil
}

// AddLayer returns a new multichannel image with sub appended as layer name.
func (b *Bitmap) AddLayer(name string, sub *Bitmap) (*Bitmap, error) {
	return Merge(append(b.Split(), Layer{Name: name, Image: sub}))
}

// Channel returns the index of the named channel, or -1.
func (b *Bitmap) Channel(name string) int {
	for i, c := range b.channels {
		if c == name {
			return i
		}
	}
	return -1
}

// SelectChannels returns a new image holding the first len(names) channels
// of b, renamed to names. The format is inferred from the new names.
func (b *Bitmap) SelectChannels(names []string) (*Bitmap, error) {
	if len(names) == 0 || len(names) > len(b.channels) {
		return nil, fmt.Errorf("%w: cannot take %d of %d channels", ErrChannelMismatch, len(names), len(b.channels))
	}

	pixels := b.width * b.height
	stride := len(b.channels)
	src := b.Float32Data()
	data := make([]float32, pixels*len(names))
	for p := 0; p < pixels; p++ {
		copy(data[p*len(names):(p+1)*len(names)], src[p*stride:p*stride+len(names)])
	}

	out := &Bitmap{
		format:    formatFromSuffixes(names),
		component: Float32,
		width:     b.width,
		height:    b.height,
		channels:  append([]string(nil), names...),
		f32:       data,
	}
	if b.component == Float16 {
		out = out.Convert(Float16)
	}
	return out, nil
}
