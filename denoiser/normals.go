package denoiser

import (
	"go_denoiser/device"
)

// CorrectNormals converts shading normals in place from the renderer's
// left-handed frame (X left, Y up, Z forward) to the engine's right-handed
// frame (X right, Y up, Z backward) by negating the X and Z component of
// every 3-vector. Applying it twice restores the input.
func CorrectNormals(data []float32) {
	for i := 0; i < len(data); i += 3 {
		data[i] = -data[i]
		if i+2 < len(data) {
			data[i+2] = -data[i+2]
		}
	}
}

// correctedNormals returns a corrected device copy of t. The caller's
// tensor is never modified.
func correctedNormals(s *device.Stream, t *Tensor) (*Tensor, error) {
	cp, err := t.Copy()
	if err != nil {
		return nil, err
	}

	buf, n := cp.buf, cp.Len()
	if err := s.Enqueue(func() { CorrectNormals(buf.Float32s()[:n]) }); err != nil {
		_ = cp.Release()
		return nil, err
	}
	return cp, nil
}
