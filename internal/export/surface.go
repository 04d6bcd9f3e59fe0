package export

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/gbgbgb8/tesla-x-cam/internal/layout"
)

const labelPadding = 4

var labelBackground = color.RGBA{0, 0, 0, 160}

// Surface is the RGBA canvas the composite strategy draws each frame on.
type Surface struct {
	img  *image.RGBA
	face font.Face
}

func NewSurface(width, height int) *Surface {
	return &Surface{
		img:  image.NewRGBA(image.Rect(0, 0, width, height)),
		face: basicfont.Face7x13,
	}
}

// Image returns the backing canvas. It is reused across frames.
func (s *Surface) Image() *image.RGBA { return s.img }

// Clear paints the whole canvas black.
func (s *Surface) Clear() {
	draw.Draw(s.img, s.img.Bounds(), image.Black, image.Point{}, draw.Src)
}

// Draw scales src into dst. Sources already at dst's size are copied.
func (s *Surface) Draw(src image.Image, dst layout.Rect) {
	if src == nil || dst.Empty() {
		return
	}
	r := image.Rect(dst.X, dst.Y, dst.X+dst.W, dst.Y+dst.H)
	sb := src.Bounds()
	if sb.Dx() == dst.W && sb.Dy() == dst.H {
		draw.Draw(s.img, r, src, sb.Min, draw.Src)
		return
	}
	draw.ApproxBiLinear.Scale(s.img, r, src, sb, draw.Src, nil)
}

// Label writes text on a translucent box in the top-left corner of pane.
func (s *Surface) Label(text string, pane layout.Rect) {
	if text == "" || pane.Empty() {
		return
	}
	d := &font.Drawer{
		Dst:  s.img,
		Src:  image.NewUniform(color.White),
		Face: s.face,
	}
	metrics := s.face.Metrics()
	width := d.MeasureString(text).Ceil()
	height := metrics.Ascent.Ceil() + metrics.Descent.Ceil()

	x, y := pane.X+labelPadding, pane.Y+labelPadding
	box := image.Rect(x-2, y-2, x+width+2, y+height+2).Intersect(s.img.Bounds())
	draw.Draw(s.img, box, image.NewUniform(labelBackground), image.Point{}, draw.Over)

	d.Dot = fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y + metrics.Ascent.Ceil())}
	d.DrawString(text)
}

// Release drops the canvas. The surface must not be used afterwards.
func (s *Surface) Release() {
	s.img = nil
}
