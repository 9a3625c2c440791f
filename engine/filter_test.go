package engine

import (
	"math"
	"testing"
)

func TestLogAverageIntensity(t *testing.T) {
	tests := []struct {
		name     string
		pix      []float32
		channels int
		want     float32
	}{
		{"uniform grey", []float32{0.5, 0.5, 0.5, 0.5, 0.5, 0.5}, 3, 0.36},
		{"all black", []float32{0, 0, 0, 0, 0, 0}, 3, 1},
		{"black pixels skipped", []float32{0, 0, 0, 0, 1, 1, 1, 1}, 4, 0.18},
		{"geometric mean", []float32{1, 1, 1, 4, 4, 4}, 3, 0.09},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pixels := len(tt.pix) / tt.channels
			got := logAverageIntensity(tt.pix, pixels, tt.channels)
			if math.Abs(float64(got-tt.want)) > 1e-5 {
				t.Errorf("logAverageIntensity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSanitizeIntensity(t *testing.T) {
	tests := []struct {
		in   float32
		want float32
	}{
		{0.5, 0.5},
		{0, 1},
		{-2, 1},
		{float32(math.NaN()), 1},
		{float32(math.Inf(1)), 1},
	}

	for _, tt := range tests {
		if got := sanitizeIntensity(tt.in); got != tt.want {
			t.Errorf("sanitizeIntensity(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLogTransformInverse(t *testing.T) {
	src := []float32{0.1, 2, 30, 0.5}
	buf := make([]float32, len(src))

	toLog(buf, src, 4, 0.7)
	if buf[3] != 0.5 {
		t.Errorf("alpha changed by toLog: %v", buf[3])
	}
	fromLog(buf, 4, 0.7)

	for i := range src {
		if d := math.Abs(float64(buf[i]-src[i])) / float64(src[i]); d > 1e-5 {
			t.Errorf("round trip [%d] = %v, want %v", i, buf[i], src[i])
		}
	}
}

func TestJointBilateral_PreservesEdgeWithAlbedo(t *testing.T) {
	const w, h = 6, 1
	// Left half dark, right half bright; albedo marks the same boundary.
	src := make([]float32, w*h*3)
	albedo := make([]float32, w*h*3)
	for x := 0; x < w; x++ {
		v := float32(0.1)
		if x >= w/2 {
			v = 0.9
		}
		for k := 0; k < 3; k++ {
			src[x*3+k] = v
			albedo[x*3+k] = v
		}
	}

	dst := make([]float32, len(src))
	jointBilateral(dst, src, w, h, 3, guides{albedo: albedo}, false)

	for x := 0; x < w; x++ {
		if d := math.Abs(float64(dst[x*3] - src[x*3])); d > 1e-3 {
			t.Errorf("pixel %d = %v, want ~%v (edge blurred)", x, dst[x*3], src[x*3])
		}
	}
}

func TestJointBilateral_SmoothsNoise(t *testing.T) {
	const w, h = 5, 5
	src := make([]float32, w*h*3)
	for i := range src {
		src[i] = 0.5
	}
	// One speckle in the center, within the range kernel.
	center := (2*w + 2) * 3
	src[center] = 0.6

	dst := make([]float32, len(src))
	jointBilateral(dst, src, w, h, 3, guides{}, false)

	if !(dst[center] < 0.6 && dst[center] > 0.5) {
		t.Errorf("center = %v, want strictly between 0.5 and 0.6", dst[center])
	}
}

func TestTemporalBlend(t *testing.T) {
	const w, h, c = 3, 1, 3
	out := []float32{1, 1, 1, 1, 1, 1, 1, 1, 1}
	prev := []float32{0, 0, 0, 0, 0, 0, 0, 0, 0}
	hist := make([]float32, w*h)

	temporalBlend(out, prev, make([]float32, w*h*2), hist, w, h, c, true)
	for i, v := range hist {
		if v != 1 {
			t.Errorf("hist[%d] after first frame = %v, want 1", i, v)
		}
	}
	if out[0] != 1 {
		t.Errorf("first frame modified output: %v", out[0])
	}

	// Pixel 0 samples out of bounds (flow +1 in x), others sample in place.
	flow := []float32{1, 0, 0, 0, 0, 0}
	temporalBlend(out, prev, flow, hist, w, h, c, false)

	if out[0] != 1 {
		t.Errorf("disoccluded pixel = %v, want 1", out[0])
	}
	if hist[0] != 1 {
		t.Errorf("disoccluded history = %v, want 1", hist[0])
	}
	if out[3] != 0.5 {
		t.Errorf("blended pixel = %v, want 0.5", out[3])
	}
	if hist[1] != 2 {
		t.Errorf("history = %v, want 2", hist[1])
	}
}

func TestBlendInput(t *testing.T) {
	out := []float32{0, 0, 0, 0}
	in := []float32{1, 1, 1, 1}

	blendInput(out, in, 4, 0)
	if out[0] != 0 {
		t.Errorf("factor 0 modified output: %v", out)
	}

	blendInput(out, in, 4, 0.25)
	if out[0] != 0.25 || out[3] != 0 {
		t.Errorf("blendInput() = %v, want color 0.25 and alpha untouched", out)
	}
}
