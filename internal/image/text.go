package imagepkg

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
)

var (
	// Ink is the off-white fill used for both text fields.
	Ink = color.NRGBA{R: 255, G: 240, B: 230, A: 255}
	// Outline strokes the name field so it reads apart from the number.
	Outline = color.NRGBA{A: 255}
)

const strokeWidth = 1

// textField is one line of text anchored at its top-left corner.
type textField struct {
	text   string
	pos    image.Point
	face   font.Face
	fill   color.Color
	stroke color.Color
}

// drawText stamps each field straight onto dst. The stroke is the glyph
// drawn at every offset within strokeWidth, then the fill on top. Pixels no
// glyph covers are left as they were.
func drawText(dst draw.Image, fields ...textField) {
	for _, f := range fields {
		x := f.pos.X
		y := f.pos.Y + f.face.Metrics().Ascent.Ceil()
		d := &font.Drawer{Dst: dst, Face: f.face}

		d.Src = image.NewUniform(f.stroke)
		for dy := -strokeWidth; dy <= strokeWidth; dy++ {
			for dx := -strokeWidth; dx <= strokeWidth; dx++ {
				if dx == 0 && dy == 0 || dx*dx+dy*dy > 2*strokeWidth*strokeWidth {
					continue
				}
				d.Dot = fixed.P(x+dx, y+dy)
				d.DrawString(f.text)
			}
		}
		d.Src = image.NewUniform(f.fill)
		d.Dot = fixed.P(x, y)
		d.DrawString(f.text)
	}
}
