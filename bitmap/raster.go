package bitmap

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"io"
	"math"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"
)

// PreviewFormat selects the encoder used for tonemapped previews.
type PreviewFormat int

const (
	PreviewTIFF PreviewFormat = iota
	PreviewPNG
)

// DecodeRaster decodes an 8/16-bit PNG, JPEG, TIFF or BMP image into linear
// float32. Images with a non-opaque alpha channel decode as RGBA, others as
// RGB. Color channels are converted from sRGB; alpha stays linear.
func DecodeRaster(r io.Reader) (*Bitmap, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("bitmap: decode raster: %w", err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("%w: empty raster", ErrInvalidSize)
	}

	format, channels := RGB, 3
	if op, ok := img.(interface{ Opaque() bool }); ok && !op.Opaque() {
		format, channels = RGBA, 4
	}

	data := make([]float32, w*h*channels)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBA64Model.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA64)
			base := (y*w + x) * channels
			data[base] = srgbToLinear(float64(c.R) / 0xffff)
			data[base+1] = srgbToLinear(float64(c.G) / 0xffff)
			data[base+2] = srgbToLinear(float64(c.B) / 0xffff)
			if channels == 4 {
				data[base+3] = float32(float64(c.A) / 0xffff)
			}
		}
	}

	return FromFloat32(format, w, h, nil, data)
}

// EncodePreview writes a clamped, sRGB-encoded 16-bit preview of an RGB,
// RGBA, Y or YA image. When maxEdge is positive and the image is larger,
// it is downscaled with Catmull-Rom filtering to fit.
func EncodePreview(w io.Writer, b *Bitmap, format PreviewFormat, maxEdge int) error {
	img, err := toNRGBA64(b)
	if err != nil {
		return err
	}

	if maxEdge > 0 && (b.width > maxEdge || b.height > maxEdge) {
		scale := float64(maxEdge) / float64(max(b.width, b.height))
		dw := max(1, int(math.Round(float64(b.width)*scale)))
		dh := max(1, int(math.Round(float64(b.height)*scale)))
		dst := image.NewNRGBA64(image.Rect(0, 0, dw, dh))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
		img = dst
	}

	switch format {
	case PreviewPNG:
		return png.Encode(w, img)
	default:
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
	}
}

func toNRGBA64(b *Bitmap) (*image.NRGBA64, error) {
	var gray bool
	switch b.format {
	case RGB, RGBA:
	case Y, YA:
		gray = true
	default:
		return nil, fmt.Errorf("%w: cannot preview %s", ErrUnsupportedFormat, b.format)
	}
	hasAlpha := b.format == RGBA || b.format == YA

	src := b.Float32Data()
	stride := len(b.channels)
	img := image.NewNRGBA64(image.Rect(0, 0, b.width, b.height))

	for y := 0; y < b.height; y++ {
		for x := 0; x < b.width; x++ {
			p := (y*b.width + x) * stride
			var r, g, bl float32
			if gray {
				r, g, bl = src[p], src[p], src[p]
			} else {
				r, g, bl = src[p], src[p+1], src[p+2]
			}
			a := float32(1)
			if hasAlpha {
				a = src[p+stride-1]
			}
			img.SetNRGBA64(x, y, color.NRGBA64{
				R: quantize16(linearToSRGB(r)),
				G: quantize16(linearToSRGB(g)),
				B: quantize16(linearToSRGB(bl)),
				A: quantize16(float64(a)),
			})
		}
	}
	return img, nil
}

func srgbToLinear(v float64) float32 {
	if v <= 0.04045 {
		return float32(v / 12.92)
	}
	return float32(math.Pow((v+0.055)/1.055, 2.4))
}

func linearToSRGB(v float32) float64 {
	f := float64(v)
	if !(f > 0) {
		return 0
	}
	if f >= 1 {
		return 1
	}
	if f <= 0.0031308 {
		return f * 12.92
	}
	return 1.055*math.Pow(f, 1/2.4) - 0.055
}

func quantize16(v float64) uint16 {
	if !(v > 0) {
		return 0
	}
	if v >= 1 {
		return 0xffff
	}
	return uint16(math.Round(v * 0xffff))
}
