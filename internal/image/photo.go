package imagepkg

import (
	"fmt"
	"image"
	"io"
	"os"
)

// DefaultMaxPhotoPixels caps the decoded size of a photo at 25 megapixels.
const DefaultMaxPhotoPixels = 25_000_000

// CheckPhoto reads only the image header from r and rejects undecodable
// formats and images larger than maxPixels. A maxPixels of zero disables
// the size check.
func CheckPhoto(r io.Reader, maxPixels int) error {
	cfg, format, err := image.DecodeConfig(r)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPhoto, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("%w: %s has no pixels", ErrPhoto, format)
	}
	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return fmt.Errorf("%w: %dx%d %s exceeds %d pixels", ErrPhoto, cfg.Width, cfg.Height, format, maxPixels)
	}
	return nil
}

// CheckPhotoFile is CheckPhoto on the file at path.
func CheckPhotoFile(path string, maxPixels int) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPhoto, path, err)
	}
	defer f.Close()
	return CheckPhoto(f, maxPixels)
}
