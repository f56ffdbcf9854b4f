package termscreen

import (
	"image"
	"image/color"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/image/draw"
)

// halfBlock paints the top half of a cell in the foreground color
const halfBlock = "▀"

type cellColors struct {
	top, bottom color.RGBA
}

// Cells downsamples img to a cols x rows grid of half-block cells, two
// pixels per cell stacked vertically
func Cells(img image.Image, cols, rows int) string {
	if img == nil || cols <= 0 || rows <= 0 {
		return ""
	}
	small := image.NewRGBA(image.Rect(0, 0, cols, rows*2))
	draw.ApproxBiLinear.Scale(small, small.Bounds(), img, img.Bounds(), draw.Src, nil)

	styles := make(map[cellColors]lipgloss.Style)
	var b strings.Builder
	for y := 0; y < rows; y++ {
		if y > 0 {
			b.WriteByte('\n')
		}
		for x := 0; x < cols; x++ {
			key := cellColors{small.RGBAAt(x, 2*y), small.RGBAAt(x, 2*y+1)}
			st, ok := styles[key]
			if !ok {
				st = lipgloss.NewStyle().
					Foreground(hexColor(key.top)).
					Background(hexColor(key.bottom))
				styles[key] = st
			}
			b.WriteString(st.Render(halfBlock))
		}
	}
	return b.String()
}

func hexColor(c color.RGBA) lipgloss.Color {
	const digits = "0123456789abcdef"
	buf := []byte{'#', 0, 0, 0, 0, 0, 0}
	for i, v := range []uint8{c.R, c.G, c.B} {
		buf[1+2*i] = digits[v>>4]
		buf[2+2*i] = digits[v&0x0f]
	}
	return lipgloss.Color(buf)
}
