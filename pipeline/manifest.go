// Package pipeline runs a manifest of frames through the denoiser: it
// assembles each frame from its layer files, denoises it alone or chained
// to the previous output, writes the results and records every frame in
// the metrics store and the run ledger.
package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"go_denoiser/bitmap"
	"go_denoiser/denoiser"
	"go_denoiser/metrics"
)

// ErrInvalidManifest is wrapped by every manifest validation failure.
var ErrInvalidManifest = errors.New("pipeline: invalid manifest")

// Default layer names used when a guide is enabled but the manifest leaves
// its channel name empty.
const (
	DefaultAlbedoLayer   = "albedo"
	DefaultNormalsLayer  = "normals"
	DefaultFlowLayer     = "flow"
	DefaultPreviousLayer = "previous"
)

// ManifestError describes one invalid manifest field.
type ManifestError struct {
	Field   string
	Message string
}

func (e *ManifestError) Error() string {
	return fmt.Sprintf("pipeline: manifest %s: %s", e.Field, e.Message)
}

func (e *ManifestError) Is(target error) bool {
	return target == ErrInvalidManifest
}

// Guides selects the auxiliary inputs for the whole sequence.
type Guides struct {
	Albedo   bool `yaml:"albedo"`
	Normals  bool `yaml:"normals"`
	Temporal bool `yaml:"temporal"`
}

// Channels names the layer that fills each role. Empty Noisy means the
// root layer. In temporal runs the pipeline injects the Previous layer
// itself from the prior output, so frames must not supply a layer with
// that name.
type Channels struct {
	Noisy    string `yaml:"noisy"`
	Albedo   string `yaml:"albedo"`
	Normals  string `yaml:"normals"`
	Flow     string `yaml:"flow"`
	Previous string `yaml:"previous"`
}

// LayerSpec is one input file of a frame. An empty Name is the root layer.
// Channels, when set, takes the first len(Channels) channels of the file
// and renames them.
type LayerSpec struct {
	Name     string   `yaml:"name"`
	File     string   `yaml:"file"`
	Channels []string `yaml:"channels,omitempty"`
}

// Frame is one image of the sequence. Output and Preview are relative to
// the output directory.
type Frame struct {
	Name    string      `yaml:"name"`
	Layers  []LayerSpec `yaml:"layers"`
	Output  string      `yaml:"output"`
	Preview string      `yaml:"preview,omitempty"`
}

// Manifest describes a denoise job.
//
//	width: 1920
//	height: 1080
//	guides: {albedo: true, normals: true}
//	frames:
//	  - name: shot010.0001
//	    layers:
//	      - {file: beauty/0001.pfm}
//	      - {name: albedo, file: albedo/0001.pfm}
//	      - {name: normals, file: normals/0001.pfm}
//	    output: shot010.0001.pfm
type Manifest struct {
	Width    int      `yaml:"width"`
	Height   int      `yaml:"height"`
	Guides   Guides   `yaml:"guides"`
	Channels Channels `yaml:"channels"`
	Frames   []Frame  `yaml:"frames"`

	// Dir resolves relative layer paths. LoadManifest sets it to the
	// manifest's directory.
	Dir string `yaml:"-"`
}

// LoadManifest reads and validates a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pipeline: read manifest: %w", err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.Dir = filepath.Dir(path)
	return m, nil
}

// ParseManifest decodes and validates manifest YAML. Unknown keys are
// rejected.
func ParseManifest(data []byte) (*Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

var outputExts = map[string]bool{".pfm": true, ".tif": true, ".tiff": true, ".png": true}

// Validate checks resolution, frame names, layers and output paths.
func (m *Manifest) Validate() error {
	if m.Width <= 0 || m.Height <= 0 {
		return &ManifestError{Field: "width/height", Message: fmt.Sprintf("%dx%d is not a valid frame size", m.Width, m.Height)}
	}
	if m.Guides.Normals && !m.Guides.Albedo {
		return &ManifestError{Field: "guides.normals", Message: "requires guides.albedo"}
	}
	if len(m.Frames) == 0 {
		return &ManifestError{Field: "frames", Message: "at least one frame is required"}
	}

	names := make(map[string]bool, len(m.Frames))
	outputs := make(map[string]bool, len(m.Frames))
	for i, f := range m.Frames {
		field := fmt.Sprintf("frames[%d]", i)
		if f.Name == "" {
			return &ManifestError{Field: field + ".name", Message: "is required"}
		}
		if names[f.Name] {
			return &ManifestError{Field: field + ".name", Message: fmt.Sprintf("duplicate frame %q", f.Name)}
		}
		names[f.Name] = true

		if len(f.Layers) == 0 {
			return &ManifestError{Field: field + ".layers", Message: "at least one layer is required"}
		}
		layers := make(map[string]bool, len(f.Layers))
		for j, l := range f.Layers {
			lf := fmt.Sprintf("%s.layers[%d]", field, j)
			if l.File == "" {
				return &ManifestError{Field: lf + ".file", Message: "is required"}
			}
			name := layerName(l.Name)
			if layers[name] {
				return &ManifestError{Field: lf + ".name", Message: fmt.Sprintf("duplicate layer %q", name)}
			}
			layers[name] = true
		}
		if m.Guides.Temporal && layers[m.previousLayer()] {
			return &ManifestError{
				Field:   field + ".layers",
				Message: fmt.Sprintf("layer %q is filled from the previous output in temporal runs", m.previousLayer()),
			}
		}

		for _, out := range []struct {
			field, path string
			required    bool
		}{
			{field + ".output", f.Output, true},
			{field + ".preview", f.Preview, false},
		} {
			if out.path == "" {
				if out.required {
					return &ManifestError{Field: out.field, Message: "is required"}
				}
				continue
			}
			if !outputExts[strings.ToLower(filepath.Ext(out.path))] {
				return &ManifestError{Field: out.field, Message: fmt.Sprintf("%q must end in .pfm, .tif, .tiff or .png", out.path)}
			}
			if filepath.IsAbs(out.path) || strings.HasPrefix(filepath.Clean(out.path), "..") {
				return &ManifestError{Field: out.field, Message: fmt.Sprintf("%q must stay inside the output directory", out.path)}
			}
			if outputs[out.path] {
				return &ManifestError{Field: out.field, Message: fmt.Sprintf("%q is written twice", out.path)}
			}
			outputs[out.path] = true
		}
	}
	return nil
}

func (m *Manifest) previousLayer() string {
	return orDefault(m.Channels.Previous, DefaultPreviousLayer)
}

// checkPreviousLayer rejects frames that carry the layer a temporal run
// injects. It covers temporal mode enabled outside the manifest.
func (m *Manifest) checkPreviousLayer() error {
	name := m.previousLayer()
	for i, f := range m.Frames {
		for _, l := range f.Layers {
			if layerName(l.Name) == name {
				return &ManifestError{
					Field:   fmt.Sprintf("frames[%d].layers", i),
					Message: fmt.Sprintf("layer %q is filled from the previous output in temporal runs", name),
				}
			}
		}
	}
	return nil
}

// DenoiserConfig returns the guide configuration the manifest asks for.
func (m *Manifest) DenoiserConfig() denoiser.Config {
	return denoiser.Config{
		GuideAlbedo:  m.Guides.Albedo,
		GuideNormals: m.Guides.Normals,
		Temporal:     m.Guides.Temporal,
	}
}

// ChannelNames maps the manifest channel names onto the roles cfg enables.
// Roles cfg does not use stay empty.
func (m *Manifest) ChannelNames(cfg denoiser.Config) denoiser.ChannelNames {
	names := denoiser.ChannelNames{Noisy: m.Channels.Noisy}
	if cfg.GuideAlbedo {
		names.Albedo = orDefault(m.Channels.Albedo, DefaultAlbedoLayer)
	}
	if cfg.GuideNormals {
		names.Normals = orDefault(m.Channels.Normals, DefaultNormalsLayer)
	}
	if cfg.Temporal {
		names.Flow = orDefault(m.Channels.Flow, DefaultFlowLayer)
		names.PreviousDenoised = m.previousLayer()
	}
	return names
}

// Mode reports how the sequence will be denoised under cfg.
func (m *Manifest) Mode(cfg denoiser.Config) string {
	if cfg.Temporal {
		return metrics.ModeTemporal
	}
	if cfg.GuideAlbedo || cfg.GuideNormals {
		return metrics.ModeStructured
	}
	for _, f := range m.Frames {
		if len(f.Layers) > 1 || layerName(f.Layers[0].Name) != bitmap.RootLayer {
			return metrics.ModeStructured
		}
	}
	return metrics.ModeSimple
}

// Path resolves a layer file against Dir.
func (m *Manifest) Path(file string) string {
	if filepath.IsAbs(file) || m.Dir == "" {
		return file
	}
	return filepath.Join(m.Dir, file)
}

// Assemble loads the layer files of f. A frame made of one root layer is
// returned as loaded; otherwise the layers are merged into a multichannel
// image. Every layer must match the manifest resolution.
func (m *Manifest) Assemble(f Frame) (*bitmap.Bitmap, error) {
	layers := make([]bitmap.Layer, 0, len(f.Layers))
	for _, ls := range f.Layers {
		img, err := bitmap.Load(m.Path(ls.File))
		if err != nil {
			return nil, fmt.Errorf("frame %s: %w", f.Name, err)
		}
		if len(ls.Channels) > 0 {
			if img, err = img.SelectChannels(ls.Channels); err != nil {
				return nil, fmt.Errorf("frame %s layer %s: %w", f.Name, layerName(ls.Name), err)
			}
		}
		if img.Width() != m.Width || img.Height() != m.Height {
			return nil, fmt.Errorf("%w: frame %s layer %s is %dx%d, want %dx%d",
				bitmap.ErrDimensionsMismatch, f.Name, layerName(ls.Name),
				img.Width(), img.Height(), m.Width, m.Height)
		}
		layers = append(layers, bitmap.Layer{Name: layerName(ls.Name), Image: img})
	}

	if len(layers) == 1 && layers[0].Name == bitmap.RootLayer {
		return layers[0].Image, nil
	}
	img, err := bitmap.Merge(layers)
	if err != nil {
		return nil, fmt.Errorf("frame %s: %w", f.Name, err)
	}
	return img, nil
}

func layerName(name string) string {
	if name == "" {
		return bitmap.RootLayer
	}
	return name
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
