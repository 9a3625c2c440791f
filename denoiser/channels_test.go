package denoiser

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"go_denoiser/bitmap"
)

// layered builds a multichannel image from (layer, suffixes, value) groups
// with every pixel of a layer set to value.
func layered(t *testing.T, w, h int, groups ...layerSpec) *bitmap.Bitmap {
	t.Helper()
	var names []string
	for _, g := range groups {
		for _, s := range g.suffixes {
			if g.name == "" {
				names = append(names, s)
			} else {
				names = append(names, g.name+"."+s)
			}
		}
	}

	data := make([]float32, 0, w*h*len(names))
	for p := 0; p < w*h; p++ {
		for _, g := range groups {
			for range g.suffixes {
				data = append(data, g.value)
			}
		}
	}

	img, err := bitmap.FromFloat32(bitmap.MultiChannel, w, h, names, data)
	if err != nil {
		t.Fatalf("FromFloat32() error: %v", err)
	}
	return img
}

type layerSpec struct {
	name     string
	suffixes []string
	value    float32
}

var (
	rgbSuffixes  = []string{"R", "G", "B"}
	rgbaSuffixes = []string{"R", "G", "B", "A"}
	xyzSuffixes  = []string{"X", "Y", "Z"}
	uvSuffixes   = []string{"U", "V"}
)

func fourLayerImage(t *testing.T) *bitmap.Bitmap {
	return layered(t, 3, 2,
		layerSpec{"diffuse", rgbSuffixes, 0.1},
		layerSpec{"albedo", rgbSuffixes, 0.2},
		layerSpec{"normals", xyzSuffixes, 0.3},
		layerSpec{"noisy", rgbSuffixes, 0.4},
	)
}

func TestResolveChannels(t *testing.T) {
	img := fourLayerImage(t)

	rc, err := ResolveChannels(img, ChannelNames{
		Noisy:   "noisy",
		Albedo:  "albedo",
		Normals: "normals",
	})
	if err != nil {
		t.Fatalf("ResolveChannels() error: %v", err)
	}

	tests := []struct {
		role  string
		got   *bitmap.Bitmap
		value float32
	}{
		{"noisy", rc.Noisy, 0.4},
		{"albedo", rc.Albedo, 0.2},
		{"normals", rc.Normals, 0.3},
	}
	for _, tt := range tests {
		if tt.got == nil {
			t.Errorf("%s not resolved", tt.role)
			continue
		}
		if v := tt.got.Float32Data()[0]; v != tt.value {
			t.Errorf("%s resolved to a layer holding %v, want %v", tt.role, v, tt.value)
		}
	}
	if rc.Flow != nil || rc.PreviousDenoised != nil {
		t.Error("unrequested flow or previous layers were resolved")
	}
}

func TestResolveChannels_Missing(t *testing.T) {
	img := fourLayerImage(t)
	available := []string{"diffuse", "albedo", "normals", "noisy"}

	tests := []struct {
		name        string
		names       ChannelNames
		wantChannel string
		wantRole    string
	}{
		{
			name:        "missing albedo layer",
			names:       ChannelNames{Noisy: "noisy", Albedo: "missing_layer"},
			wantChannel: "missing_layer",
			wantRole:    "albedo",
		},
		{
			name:        "default noisy is the root layer",
			names:       ChannelNames{Albedo: "albedo"},
			wantChannel: bitmap.RootLayer,
			wantRole:    "noisy",
		},
		{
			name:        "noisy reported before albedo",
			names:       ChannelNames{Noisy: "beauty", Albedo: "missing_layer"},
			wantChannel: "beauty",
			wantRole:    "noisy",
		},
		{
			name:        "flow reported before previous",
			names:       ChannelNames{Noisy: "noisy", Flow: "motion", PreviousDenoised: "prev"},
			wantChannel: "motion",
			wantRole:    "flow",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ResolveChannels(img, tt.names)
			if !errors.Is(err, ErrMissingChannel) {
				t.Fatalf("ResolveChannels() error = %v, want ErrMissingChannel", err)
			}

			var mcErr *MissingChannelError
			if !errors.As(err, &mcErr) {
				t.Fatalf("error %T is not *MissingChannelError", err)
			}
			if mcErr.Channel != tt.wantChannel || mcErr.Role != tt.wantRole {
				t.Errorf("missing = %s %q, want %s %q", mcErr.Role, mcErr.Channel, tt.wantRole, tt.wantChannel)
			}
			if diff := cmp.Diff(available, mcErr.Available); diff != "" {
				t.Errorf("Available mismatch (-want +got):\n%s", diff)
			}
			if !strings.Contains(err.Error(), tt.wantChannel) {
				t.Errorf("message %q does not name %q", err.Error(), tt.wantChannel)
			}
		})
	}
}

func TestResolveChannels_SharedLayer(t *testing.T) {
	img := layered(t, 1, 1, layerSpec{"", rgbSuffixes, 1})

	rc, err := ResolveChannels(img, ChannelNames{PreviousDenoised: bitmap.RootLayer})
	if err != nil {
		t.Fatalf("ResolveChannels() error: %v", err)
	}
	if rc.Noisy == nil || rc.PreviousDenoised == nil {
		t.Error("a layer named by two roles must resolve for both")
	}
}

func TestDenoiseBitmap_Simple(t *testing.T) {
	tests := []struct {
		name   string
		format bitmap.PixelFormat
		color  []float32
	}{
		{"rgb", bitmap.RGB, []float32{0.2, 0.4, 0.6}},
		{"rgba", bitmap.RGBA, []float32{0.2, 0.4, 0.6, 0.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			const w, h = 5, 4
			dev := newTestDevice(t)
			d := newTestDenoiser(t, dev, w, h, Config{})

			want := fill(w*h*len(tt.color), tt.color...)
			img, _ := bitmap.FromFloat32(tt.format, w, h, nil, want)

			out, err := d.DenoiseBitmap(img, ChannelNames{})
			if err != nil {
				t.Fatalf("DenoiseBitmap() error: %v", err)
			}
			if out.PixelFormat() != tt.format {
				t.Errorf("PixelFormat() = %v, want %v", out.PixelFormat(), tt.format)
			}
			if out.Width() != w || out.Height() != h {
				t.Errorf("size = %dx%d, want %dx%d", out.Width(), out.Height(), w, h)
			}
			if !approxEqual(want, out.Float32Data()) {
				t.Error("output differs from constant input")
			}

			if live := dev.Stats().LiveBuffers; live != 3 {
				t.Errorf("LiveBuffers = %d after DenoiseBitmap, want 3", live)
			}
		})
	}
}

func TestDenoiseBitmap_SimpleRequiresGuides(t *testing.T) {
	dev := newTestDevice(t)
	d := newTestDenoiser(t, dev, 2, 2, Config{GuideAlbedo: true})

	img, _ := bitmap.FromFloat32(bitmap.RGB, 2, 2, nil, make([]float32, 12))
	if _, err := d.DenoiseBitmap(img, ChannelNames{Albedo: "albedo"}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("DenoiseBitmap() error = %v, want ErrInvalidInput", err)
	}
}

func TestDenoiseBitmap_SimpleIgnoresGuideNames(t *testing.T) {
	dev := newTestDevice(t)
	d := newTestDenoiser(t, dev, 2, 2, Config{})

	want := fill(12, 0.3, 0.3, 0.3)
	img, _ := bitmap.FromFloat32(bitmap.RGB, 2, 2, nil, want)
	out, err := d.DenoiseBitmap(img, ChannelNames{Albedo: "albedo", Normals: "normals"})
	if err != nil {
		t.Fatalf("DenoiseBitmap() error = %v, want nil", err)
	}
	if !approxEqual(want, out.Float32Data()) {
		t.Error("output differs from constant input")
	}
}

func TestDenoiseBitmap_Structured(t *testing.T) {
	const w, h = 4, 3

	tests := []struct {
		name      string
		cfg       Config
		groups    []layerSpec
		names     ChannelNames
		component bitmap.ComponentType
		want      bitmap.PixelFormat
	}{
		{
			name: "albedo and normals",
			cfg:  Config{GuideAlbedo: true, GuideNormals: true},
			groups: []layerSpec{
				{"", rgbSuffixes, 0.5},
				{"albedo", rgbSuffixes, 0.5},
				{"nn", xyzSuffixes, 0.5},
			},
			names: ChannelNames{Albedo: "albedo", Normals: "nn"},
			want:  bitmap.RGB,
		},
		{
			name: "half float named noisy",
			cfg:  Config{GuideAlbedo: true},
			groups: []layerSpec{
				{"beauty", rgbaSuffixes, 0.5},
				{"albedo", rgbSuffixes, 0.5},
			},
			names:     ChannelNames{Albedo: "albedo", Noisy: "beauty"},
			component: bitmap.Float16,
			want:      bitmap.RGBA,
		},
		{
			name: "temporal",
			cfg:  Config{Temporal: true},
			groups: []layerSpec{
				{"", rgbSuffixes, 0.5},
				{"flow", uvSuffixes, 0},
				{"previous", rgbSuffixes, 0.5},
			},
			names: ChannelNames{Flow: "flow", PreviousDenoised: "previous"},
			want:  bitmap.RGB,
		},
		{
			name: "unconfigured guides are ignored",
			cfg:  Config{},
			groups: []layerSpec{
				{"", rgbSuffixes, 0.5},
				{"albedo", uvSuffixes, 0.5},
			},
			names: ChannelNames{Albedo: "albedo"},
			want:  bitmap.RGB,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := newTestDevice(t)
			d := newTestDenoiser(t, dev, w, h, tt.cfg)

			img := layered(t, w, h, tt.groups...)
			if tt.component == bitmap.Float16 {
				img = img.Convert(bitmap.Float16)
			}

			out, err := d.DenoiseBitmap(img, tt.names)
			if err != nil {
				t.Fatalf("DenoiseBitmap() error: %v", err)
			}
			if out.PixelFormat() != tt.want {
				t.Errorf("PixelFormat() = %v, want %v", out.PixelFormat(), tt.want)
			}
			if !approxEqual(fill(w*h*out.ChannelCount(), 0.5), out.Float32Data()) {
				t.Error("output differs from constant input")
			}
		})
	}
}

func TestDenoiseBitmap_Errors(t *testing.T) {
	const w, h = 2, 2

	tests := []struct {
		name    string
		cfg     Config
		groups  []layerSpec
		names   ChannelNames
		wantErr error
	}{
		{
			name:    "missing layer",
			cfg:     Config{GuideAlbedo: true},
			groups:  []layerSpec{{"", rgbSuffixes, 1}},
			names:   ChannelNames{Albedo: "albedo"},
			wantErr: ErrMissingChannel,
		},
		{
			name:    "two channel albedo",
			cfg:     Config{GuideAlbedo: true},
			groups:  []layerSpec{{"", rgbSuffixes, 1}, {"albedo", uvSuffixes, 1}},
			names:   ChannelNames{Albedo: "albedo"},
			wantErr: ErrInvalidInput,
		},
		{
			name:    "three channel flow",
			cfg:     Config{Temporal: true},
			groups:  []layerSpec{{"", rgbSuffixes, 1}, {"flow", rgbSuffixes, 0}, {"prev", rgbSuffixes, 1}},
			names:   ChannelNames{Flow: "flow", PreviousDenoised: "prev"},
			wantErr: ErrInvalidInput,
		},
		{
			name:    "previous alpha mismatch",
			cfg:     Config{Temporal: true},
			groups:  []layerSpec{{"", rgbSuffixes, 1}, {"flow", uvSuffixes, 0}, {"prev", rgbaSuffixes, 1}},
			names:   ChannelNames{Flow: "flow", PreviousDenoised: "prev"},
			wantErr: ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := newTestDevice(t)
			d := newTestDenoiser(t, dev, w, h, tt.cfg)

			_, err := d.DenoiseBitmap(layered(t, w, h, tt.groups...), tt.names)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("DenoiseBitmap() error = %v, want %v", err, tt.wantErr)
			}

			if err := dev.Synchronize(); err != nil {
				t.Fatalf("Synchronize() error: %v", err)
			}
			if live := dev.Stats().LiveBuffers; live != 3 {
				t.Errorf("LiveBuffers = %d after failed frame, want 3", live)
			}
		})
	}

	t.Run("nil image", func(t *testing.T) {
		d := newTestDenoiser(t, newTestDevice(t), w, h, Config{})
		if _, err := d.DenoiseBitmap(nil, ChannelNames{}); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("DenoiseBitmap(nil) error = %v, want ErrInvalidInput", err)
		}
	})
}
