package ui

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
)

var iconBytes = renderIcon()

// renderIcon draws the 22x22 tray glyph: a camera body with a lens.
func renderIcon() []byte {
	const size = 22
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	body := color.NRGBA{R: 0xe8, G: 0x21, B: 0x27, A: 0xff}
	lens := color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}

	for y := 6; y < 18; y++ {
		for x := 2; x < 20; x++ {
			img.Set(x, y, body)
		}
	}
	for x := 7; x < 12; x++ {
		img.Set(x, 5, body)
	}
	for y := 8; y < 16; y++ {
		for x := 7; x < 15; x++ {
			dx, dy := 2*x-21, 2*y-23
			if dx*dx+dy*dy <= 49 {
				img.Set(x, y, lens)
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
}
