package imagepkg

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
)

// savePNG writes img next to path under a temporary name and renames it into
// place, so a failed write never leaves a partial card behind.
func savePNG(img image.Image, path string) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".card-*.png.tmp")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOutput, err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = imaging.Encode(tmp, img, imaging.PNG); err != nil {
		return fmt.Errorf("%w: encode: %v", ErrOutput, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("%w: close: %v", ErrOutput, err)
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("%w: %v", ErrOutput, err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("%w: %v", ErrOutput, err)
	}
	return nil
}
