package engine

import "math"

// Reference filter tuning.
const (
	filterRadius     = 2
	sigmaSpatial     = 1.5
	sigmaRange       = 0.25
	sigmaAlbedo      = 0.1
	normalPower      = 8
	maxHistoryBlend  = 0.8
	maxHistoryFrames = 32

	// minLuminance excludes black pixels from the log average.
	minLuminance = 1e-8
	// exposureKey is the middle-grey target of the intensity estimate.
	exposureKey = 0.18
)

// guides carries the optional per-pixel guide planes, each 3 floats per pixel.
type guides struct {
	albedo []float32
	normal []float32
}

func luminance(r, g, b float32) float64 {
	return 0.2126*float64(r) + 0.7152*float64(g) + 0.0722*float64(b)
}

// logAverageIntensity returns exposureKey divided by the geometric mean
// luminance of the non-black pixels, or 1 when every pixel is black.
func logAverageIntensity(pix []float32, pixels, channels int) float32 {
	var sum float64
	n := 0
	for p := 0; p < pixels; p++ {
		base := p * channels
		l := luminance(pix[base], pix[base+1], pix[base+2])
		if l > minLuminance && !math.IsInf(l, 0) {
			sum += math.Log(l)
			n++
		}
	}
	if n == 0 {
		return 1
	}
	return float32(exposureKey / math.Exp(sum/float64(n)))
}

// sanitizeIntensity guards against a missing or degenerate exposure scalar.
func sanitizeIntensity(v float32) float32 {
	f := float64(v)
	if !(f > 0) || math.IsInf(f, 0) {
		return 1
	}
	return v
}

// toLog maps color channels into a compressed range for filtering. Alpha
// is copied through unchanged.
func toLog(dst, src []float32, channels int, intensity float32) {
	for i, v := range src {
		if channels == 4 && i%4 == 3 {
			dst[i] = v
			continue
		}
		if v < 0 {
			v = 0
		}
		dst[i] = float32(math.Log1p(float64(v) * float64(intensity)))
	}
}

// fromLog inverts toLog in place.
func fromLog(buf []float32, channels int, intensity float32) {
	for i, v := range buf {
		if channels == 4 && i%4 == 3 {
			continue
		}
		buf[i] = float32(math.Expm1(float64(v)) / float64(intensity))
	}
}

func spatialKernel() [2*filterRadius + 1][2*filterRadius + 1]float64 {
	var k [2*filterRadius + 1][2*filterRadius + 1]float64
	for dy := -filterRadius; dy <= filterRadius; dy++ {
		for dx := -filterRadius; dx <= filterRadius; dx++ {
			d2 := float64(dx*dx + dy*dy)
			k[dy+filterRadius][dx+filterRadius] = math.Exp(-d2 / (2 * sigmaSpatial * sigmaSpatial))
		}
	}
	return k
}

func dist2(a, b []float32) float64 {
	var s float64
	for i := 0; i < 3; i++ {
		d := float64(a[i]) - float64(b[i])
		s += d * d
	}
	return s
}

// jointBilateral filters src into dst. Color weights combine a spatial
// Gaussian, a range term on src, and the optional guide terms. The center
// pixel always has weight one. Alpha, when present, is averaged with the
// spatial weight only if denoiseAlpha is set.
func jointBilateral(dst, src []float32, w, h, channels int, g guides, denoiseAlpha bool) {
	spatial := spatialKernel()

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p := y*w + x
			base := p * channels

			var acc [3]float64
			var wsum, aacc, asum float64

			for dy := -filterRadius; dy <= filterRadius; dy++ {
				yy := y + dy
				if yy < 0 || yy >= h {
					continue
				}
				for dx := -filterRadius; dx <= filterRadius; dx++ {
					xx := x + dx
					if xx < 0 || xx >= w {
						continue
					}
					q := yy*w + xx
					qb := q * channels
					ws := spatial[dy+filterRadius][dx+filterRadius]

					wgt := ws
					if q != p {
						wgt *= math.Exp(-dist2(src[base:base+3], src[qb:qb+3]) / (2 * sigmaRange * sigmaRange))
						if g.albedo != nil {
							wgt *= math.Exp(-dist2(g.albedo[p*3:p*3+3], g.albedo[q*3:q*3+3]) / (2 * sigmaAlbedo * sigmaAlbedo))
						}
						if g.normal != nil {
							n, m := g.normal[p*3:p*3+3], g.normal[q*3:q*3+3]
							dot := float64(n[0])*float64(m[0]) + float64(n[1])*float64(m[1]) + float64(n[2])*float64(m[2])
							if dot <= 0 {
								wgt = 0
							} else {
								wgt *= math.Pow(dot, normalPower)
							}
						}
					}

					for k := 0; k < 3; k++ {
						acc[k] += wgt * float64(src[qb+k])
					}
					wsum += wgt

					if channels == 4 && denoiseAlpha {
						aacc += ws * float64(src[qb+3])
						asum += ws
					}
				}
			}

			for k := 0; k < 3; k++ {
				dst[base+k] = float32(acc[k] / wsum)
			}
			if channels == 4 {
				if denoiseAlpha {
					dst[base+3] = float32(aacc / asum)
				} else {
					dst[base+3] = src[base+3]
				}
			}
		}
	}
}

// temporalBlend mixes the flow-warped previous output into out. hist holds
// the per-pixel count of accumulated frames and is updated in place.
func temporalBlend(out, prev, flow, hist []float32, w, h, channels int, firstFrame bool) {
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p := y*w + x
			if firstFrame {
				hist[p] = 1
				continue
			}

			sx := x - int(math.Round(float64(flow[2*p])))
			sy := y - int(math.Round(float64(flow[2*p+1])))
			if sx < 0 || sx >= w || sy < 0 || sy >= h {
				// Disoccluded: restart accumulation.
				hist[p] = 1
				continue
			}

			hw := hist[p]
			alpha := hw / (hw + 1)
			if alpha > maxHistoryBlend {
				alpha = maxHistoryBlend
			}

			base, qb := p*channels, (sy*w+sx)*channels
			for k := 0; k < 3; k++ {
				out[base+k] = out[base+k]*(1-alpha) + prev[qb+k]*alpha
			}

			if hw+1 < maxHistoryFrames {
				hist[p] = hw + 1
			} else {
				hist[p] = maxHistoryFrames
			}
		}
	}
}

// blendInput mixes the unfiltered input back into the color channels.
func blendInput(out, in []float32, channels int, factor float32) {
	if factor <= 0 {
		return
	}
	for i := range out {
		if channels == 4 && i%4 == 3 {
			continue
		}
		out[i] = out[i]*(1-factor) + in[i]*factor
	}
}
