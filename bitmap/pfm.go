package bitmap

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
)

// ReadPFM decodes a Portable Float Map. "PF" files become RGB, "Pf" files Y.
// Rows are stored bottom-to-top in the file and returned top-to-bottom.
func ReadPFM(r io.Reader) (*Bitmap, error) {
	br := bufio.NewReader(r)

	magic, err := pfmToken(br)
	if err != nil {
		return nil, err
	}
	var format PixelFormat
	switch magic {
	case "PF":
		format = RGB
	case "Pf":
		format = Y
	default:
		return nil, fmt.Errorf("%w: bad magic %q", ErrMalformedPFM, magic)
	}

	width, err := pfmInt(br)
	if err != nil {
		return nil, err
	}
	height, err := pfmInt(br)
	if err != nil {
		return nil, err
	}
	scaleTok, err := pfmToken(br)
	if err != nil {
		return nil, err
	}
	scale, err := strconv.ParseFloat(scaleTok, 64)
	if err != nil || scale == 0 {
		return nil, fmt.Errorf("%w: bad scale %q", ErrMalformedPFM, scaleTok)
	}

	var order binary.ByteOrder = binary.BigEndian
	if scale < 0 {
		order = binary.LittleEndian
	}

	channels := len(format.DefaultChannels())
	rowLen := width * channels
	data := make([]float32, width*height*channels)
	row := make([]byte, rowLen*4)

	for y := height - 1; y >= 0; y-- {
		if _, err := io.ReadFull(br, row); err != nil {
			return nil, fmt.Errorf("%w: short pixel data: %v", ErrMalformedPFM, err)
		}
		dst := data[y*rowLen : (y+1)*rowLen]
		for i := range dst {
			dst[i] = math.Float32frombits(order.Uint32(row[i*4:]))
		}
	}

	return FromFloat32(format, width, height, nil, data)
}

// WritePFM encodes the first three channels of an RGB, RGBA or XYZ image,
// or the single channel of a Y/YA image, as little-endian PFM.
func WritePFM(w io.Writer, b *Bitmap) error {
	var magic string
	var channels int
	switch b.format {
	case RGB, RGBA, XYZ:
		magic, channels = "PF", 3
	case Y, YA:
		magic, channels = "Pf", 1
	default:
		return fmt.Errorf("%w: PFM cannot store %s", ErrUnsupportedFormat, b.format)
	}

	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintf(bw, "%s\n%d %d\n-1.0\n", magic, b.width, b.height); err != nil {
		return err
	}

	src := b.Float32Data()
	stride := len(b.channels)
	row := make([]byte, b.width*channels*4)
	for y := b.height - 1; y >= 0; y-- {
		for x := 0; x < b.width; x++ {
			p := (y*b.width + x) * stride
			for k := 0; k < channels; k++ {
				binary.LittleEndian.PutUint32(row[(x*channels+k)*4:], math.Float32bits(src[p+k]))
			}
		}
		if _, err := bw.Write(row); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// pfmToken reads one whitespace-delimited header token and consumes the
// single whitespace byte that terminates it.
func pfmToken(br *bufio.Reader) (string, error) {
	var tok []byte
	for {
		c, err := br.ReadByte()
		if err != nil {
			return "", fmt.Errorf("%w: truncated header: %v", ErrMalformedPFM, err)
		}
		if c == '#' && len(tok) == 0 {
			if _, err := br.ReadString('\n'); err != nil {
				return "", fmt.Errorf("%w: truncated comment: %v", ErrMalformedPFM, err)
			}
			continue
		}
		if c == ' ' || c == '\n' || c == '\r' || c == '\t' {
			if len(tok) == 0 {
				continue
			}
			return string(tok), nil
		}
		tok = append(tok, c)
	}
}

func pfmInt(br *bufio.Reader) (int, error) {
	tok, err := pfmToken(br)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(tok)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%w: bad dimension %q", ErrMalformedPFM, tok)
	}
	return v, nil
}
