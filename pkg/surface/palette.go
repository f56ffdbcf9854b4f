package surface

import "image/color"

// Scheme is the background and default element color of a color scheme
type Scheme struct {
	Background color.RGBA
	Element    color.RGBA
	Highlight  color.RGBA
}

var schemes = []Scheme{
	{ // multi-display
		Background: color.RGBA{0, 0, 0, 255},
		Element:    color.RGBA{0xff, 0x99, 0x00, 0xff},
		Highlight:  color.RGBA{0xff, 0xcc, 0x99, 0xff},
	},
	{ // red alert
		Background: color.RGBA{0x10, 0, 0, 255},
		Element:    color.RGBA{0xcc, 0x33, 0x33, 0xff},
		Highlight:  color.RGBA{0xff, 0x99, 0x99, 0xff},
	},
	{ // blue
		Background: color.RGBA{0, 0, 0x10, 255},
		Element:    color.RGBA{0x99, 0x99, 0xff, 0xff},
		Highlight:  color.RGBA{0xcc, 0xcc, 0xff, 0xff},
	},
}

// SchemeFor returns the palette for a panel color scheme. Unknown
// schemes fall back to the first one.
func SchemeFor(id int) Scheme {
	if id < 0 || id >= len(schemes) {
		return schemes[0]
	}
	return schemes[id]
}

// scaleAlpha multiplies the alpha of a premultiplied color by a
func scaleAlpha(c color.RGBA, a float32) color.RGBA {
	if a >= 1 {
		return c
	}
	if a <= 0 {
		return color.RGBA{}
	}
	return color.RGBA{
		R: uint8(float32(c.R) * a),
		G: uint8(float32(c.G) * a),
		B: uint8(float32(c.B) * a),
		A: uint8(float32(c.A) * a),
	}
}
