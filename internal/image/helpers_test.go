package imagepkg

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font/gofont/goregular"
)

var (
	templateGray = color.NRGBA{R: 40, G: 40, B: 60, A: 255}
	photoRed     = color.NRGBA{R: 200, G: 30, B: 30, A: 255}
)

// writeSolid saves a w x h PNG filled with c and returns its path.
func writeSolid(t *testing.T, dir, name string, w, h int, c color.Color) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, imaging.Save(imaging.New(w, h, c), path))
	return path
}

// writeGoFont drops the Go Regular TTF into dir as a font candidate.
func writeGoFont(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "goregular.ttf")
	require.NoError(t, os.WriteFile(path, goregular.TTF, 0o600))
	return path
}

type fixture struct {
	dir       string
	withPhoto string
	anon      string
	photo     string
	renderer  *Renderer
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	f := fixture{
		dir:       dir,
		withPhoto: writeSolid(t, dir, "with_photo.png", 1000, 600, templateGray),
		anon:      writeSolid(t, dir, "anon.png", 900, 640, templateGray),
		photo:     writeSolid(t, dir, "photo.png", 300, 300, photoRed),
	}
	f.renderer = NewRenderer(f.withPhoto, f.anon, Candidates{writeGoFont(t, dir)})
	f.renderer.Seed = 42
	return f
}

func openImage(t *testing.T, path string) image.Image {
	t.Helper()
	img, err := imaging.Open(path)
	require.NoError(t, err)
	return img
}

func nrgbaAt(img image.Image, x, y int) color.NRGBA {
	return color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
}

// hugePNGHeader is a PNG signature and IHDR chunk declaring a w x h RGBA
// image, with no pixel data behind it. It is a few dozen bytes however
// large the dimensions.
func hugePNGHeader(w, h uint32) []byte {
	var ihdr bytes.Buffer
	ihdr.WriteString("IHDR")
	_ = binary.Write(&ihdr, binary.BigEndian, w)
	_ = binary.Write(&ihdr, binary.BigEndian, h)
	ihdr.Write([]byte{8, 6, 0, 0, 0})

	var b bytes.Buffer
	b.WriteString("\x89PNG\r\n\x1a\n")
	_ = binary.Write(&b, binary.BigEndian, uint32(ihdr.Len()-4))
	b.Write(ihdr.Bytes())
	_ = binary.Write(&b, binary.BigEndian, crc32.ChecksumIEEE(ihdr.Bytes()))
	return b.Bytes()
}
