package bitmap

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Load reads an image file, choosing the decoder from the extension.
// .pfm files load as float; .png, .jpg, .jpeg, .tif, .tiff and .bmp load
// through DecodeRaster.
func Load(path string) (*Bitmap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("bitmap: open %s: %w", path, err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".pfm":
		b, err := ReadPFM(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return b, nil
	case ".png", ".jpg", ".jpeg", ".tif", ".tiff", ".bmp":
		b, err := DecodeRaster(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFile, path)
	}
}

// PartialSuffix marks an output that is still being written. Save renames
// it into place once the encoder finishes.
const PartialSuffix = ".partial"

// Save writes b to path. .pfm keeps float precision; .tif, .tiff and .png
// write a tonemapped preview at full size. Parent directories are created.
func Save(path string, b *Bitmap) error {
	return save(path, b, 0)
}

// SavePreview writes a tonemapped preview downscaled to fit maxEdge.
func SavePreview(path string, b *Bitmap, maxEdge int) error {
	return save(path, b, maxEdge)
}

func save(path string, b *Bitmap, maxEdge int) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("bitmap: create %s: %w", dir, err)
		}
	}

	tmp := path + PartialSuffix
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("bitmap: create %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".pfm":
		err = WritePFM(f, b)
	case ".tif", ".tiff":
		err = EncodePreview(f, b, PreviewTIFF, maxEdge)
	case ".png":
		err = EncodePreview(f, b, PreviewPNG, maxEdge)
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupportedFile, path)
	}

	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("bitmap: %w", err)
	}
	return nil
}
