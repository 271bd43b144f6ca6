package imagepkg

import (
	"image"
	"math"
	"math/rand/v2"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
)

// PhotoPlacement returns the side of the largest square that fits in box and
// the top-left point that centers that square inside box.
func PhotoPlacement(box image.Rectangle) (diameter int, offset image.Point) {
	w, h := box.Dx(), box.Dy()
	diameter = min(w, h)
	offset = image.Pt(box.Min.X+(w-diameter)/2, box.Min.Y+(h-diameter)/2)
	return diameter, offset
}

// CropSquare scales and center-crops img to a side x side square.
func CropSquare(img image.Image, side int) *image.NRGBA {
	return imaging.Fill(img, side, side, imaging.Center, imaging.Lanczos)
}

// ApplyGrain blends a monochrome Gaussian noise field (mean 128, standard
// deviation sigma) into the color channels of img:
//
//	out = photo*(1-strength) + noise*strength
//
// Alpha is left as it was. A strength <= 0 leaves img untouched; strengths
// above 1 are clamped.
func ApplyGrain(img *image.NRGBA, strength float64, sigma int, rng *rand.Rand) {
	if strength <= 0 {
		return
	}
	strength = math.Min(strength, 1)
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		i := img.PixOffset(b.Min.X, y)
		for x := b.Min.X; x < b.Max.X; x++ {
			n := clamp8(128 + rng.NormFloat64()*float64(sigma))
			px := img.Pix[i : i+3 : i+3]
			for c := range px {
				px[c] = clamp8(float64(px[c])*(1-strength) + n*strength)
			}
			i += 4
		}
	}
}

func clamp8(v float64) uint8 {
	return uint8(math.Round(math.Max(0, math.Min(255, v))))
}

// CircleMask returns the coverage of a filled circle inscribed in a
// diameter x diameter square, one byte per pixel, row-major.
func CircleMask(diameter int) []uint8 {
	dc := gg.NewContext(diameter, diameter)
	r := float64(diameter) / 2
	dc.DrawCircle(r, r, r)
	dc.SetRGBA(1, 1, 1, 1)
	dc.Fill()

	rgba := dc.Image().(*image.RGBA)
	mask := make([]uint8, diameter*diameter)
	for y := 0; y < diameter; y++ {
		for x := 0; x < diameter; x++ {
			mask[y*diameter+x] = rgba.Pix[rgba.PixOffset(x, y)+3]
		}
	}
	return mask
}

// ApplyMask replaces the alpha channel of a square img with mask.
func ApplyMask(img *image.NRGBA, mask []uint8) {
	b := img.Bounds()
	w := b.Dx()
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < w; x++ {
			img.Pix[img.PixOffset(b.Min.X+x, b.Min.Y+y)+3] = mask[y*w+x]
		}
	}
}

// circularPhoto runs crop, grain and mask for one photo.
func circularPhoto(photo image.Image, diameter int, strength float64, sigma int, rng *rand.Rand) *image.NRGBA {
	square := CropSquare(photo, diameter)
	ApplyGrain(square, strength, sigma, rng)
	ApplyMask(square, CircleMask(diameter))
	return square
}
