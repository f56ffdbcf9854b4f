// Package panels holds the named panels the lcars command can show
package panels

import (
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/draw"
	"sort"
	"strconv"
	"time"

	"github.com/recera/lcars/pkg/element"
	"github.com/recera/lcars/pkg/panel"
	"github.com/recera/lcars/pkg/raster"
)

// Factory builds a panel of the given size
type Factory func(width, height int) *panel.Panel

var factories = map[string]Factory{
	"test":  Test,
	"clock": Clock,
}

var (
	orange = color.RGBA{R: 0xff, G: 0x99, A: 0xff}
	purple = color.RGBA{R: 0xcc, G: 0x99, B: 0xcc, A: 0xff}
	blue   = color.RGBA{R: 0x99, G: 0x99, B: 0xff, A: 0xff}
	red    = color.RGBA{R: 0xcc, G: 0x66, B: 0x66, A: 0xff}
	peach  = color.RGBA{R: 0xff, G: 0xcc, B: 0x99, A: 0xff}
)

// Names returns the known panel names in sorted order
func Names() []string {
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// New builds the named panel
func New(name string, width, height int) (*panel.Panel, error) {
	f, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown panel %q (known: %v)", name, Names())
	}
	return f(width, height), nil
}

// Next returns the panel after name in Names order, wrapping around
func Next(name string) string {
	names := Names()
	for i, n := range names {
		if n == name {
			return names[(i+1)%len(names)]
		}
	}
	return names[0]
}

func label(r image.Rectangle, text string) element.Shape {
	return element.Shape{Kind: element.ShapeText, Bounds: r.Inset(2), Foreground: true, Text: text}
}

// button is a rectangle with a rounded right end and a label
func button(r image.Rectangle, text string) []element.Shape {
	d := r.Dy()
	body := image.Rect(r.Min.X, r.Min.Y, r.Max.X-d/2, r.Max.Y)
	end := image.Rect(r.Max.X-d, r.Min.Y, r.Max.X, r.Max.Y)
	return []element.Shape{
		{Kind: element.ShapeRect, Bounds: body},
		{Kind: element.ShapeEllipse, Bounds: end},
		label(body, text),
	}
}

func visible(r image.Rectangle, c color.RGBA) element.State {
	return element.State{Bounds: r, Color: c, Visible: true}
}

// Test is the test panel: an elbow frame, a column of buttons, a blinking
// alert lamp, a clock and a rasterized bar display that changes every second.
func Test(width, height int) *panel.Panel {
	p := panel.New("test", panel.DefaultState(width, height))
	side := max(width/6, 40)
	bar := max(height/16, 12)

	elbow := image.Rect(0, 0, side, bar*3)
	p.Add(visible(elbow, orange),
		element.Shape{Kind: element.ShapeRect, Bounds: elbow},
		element.Shape{Kind: element.ShapeRect, Bounds: image.Rect(side, 0, side+bar*2, bar)},
	)
	header := image.Rect(side+bar*2+4, 0, width, bar)
	p.Add(visible(header, purple),
		element.Shape{Kind: element.ShapeRect, Bounds: header},
		label(header, "LCARS TEST PANEL"),
	)

	y := bar*3 + 4
	for i, name := range []string{"WARP", "IMPULSE", "SHIELDS", "SENSORS"} {
		r := image.Rect(0, y, side, y+bar*2)
		c := blue
		if i%2 == 1 {
			c = peach
		}
		p.Add(visible(r, c), button(r, name)...)
		y += bar*2 + 4
	}

	lampR := image.Rect(width-bar*3, bar+8, width-bar, bar*3+8)
	lamp := p.Add(visible(lampR, red), element.Shape{Kind: element.ShapeEllipse, Bounds: lampR})

	clockR := image.Rect(side+8, bar+8, side+8+120, bar*2+8)
	clock := p.Add(visible(clockR, peach), element.Shape{Kind: element.ShapeRect, Bounds: clockR}, label(clockR, "--:--:--"))

	barsR := image.Rect(side+8, bar*3+16, width-8, height-8)
	bars := p.Add(visible(barsR, orange), element.Shape{Kind: element.ShapeRaster, Bounds: barsR, Ref: "bars:0"})

	var lastSec int64
	p.OnTick(func(p *panel.Panel, now time.Time) {
		on := now.UnixMilli()/500%2 == 0
		p.Update(lamp, func(st *element.State) { st.Visible = on })
		sec := now.Unix()
		if sec == lastSec {
			return
		}
		lastSec = sec
		p.SetGeometry(clock, element.Shape{Kind: element.ShapeRect, Bounds: clockR}, label(clockR, now.Format("15:04:05")))
		p.SetGeometry(bars, element.Shape{Kind: element.ShapeRaster, Bounds: barsR, Ref: "bars:" + strconv.FormatInt(sec, 10)})
	})
	return p
}

// Clock shows the time in a large ellipse and blinks the panel once a second
func Clock(width, height int) *panel.Panel {
	st := panel.DefaultState(width, height)
	st.ColorScheme = 1
	p := panel.New("clock", st)

	face := image.Rect(width/4, height/4, width*3/4, height*3/4)
	p.Add(visible(face, blue), element.Shape{Kind: element.ShapeEllipse, Bounds: face})
	textR := image.Rect(face.Min.X+face.Dx()/4, face.Min.Y+face.Dy()/2-8, face.Max.X-face.Dx()/4, face.Min.Y+face.Dy()/2+8)
	text := p.Add(visible(textR, peach), label(textR, "--:--:--"))

	var lastSec int64
	p.OnTick(func(p *panel.Panel, now time.Time) {
		sec := now.Unix()
		if sec == lastSec {
			return
		}
		lastSec = sec
		p.SetGeometry(text, label(textR, now.Format("15:04:05")))
		p.SetState(func(s *panel.State) { s.Blink = int(sec % 2) })
	})
	return p
}

// RasterFuncs returns the rasterizers the panels reference by name
func RasterFuncs() map[string]raster.Func[string] {
	return map[string]raster.Func[string]{
		"bars": Bars,
	}
}

// Bars draws a bar chart whose heights are derived from seed
func Bars(dst *image.RGBA, seed string) error {
	b := dst.Bounds()
	const n = 16
	w := b.Dx() / n
	if w == 0 {
		return nil
	}
	h := fnv.New64a()
	h.Write([]byte(seed))
	v := h.Sum64()
	colors := []color.RGBA{orange, purple, blue, peach}
	for i := 0; i < n; i++ {
		v = v*6364136223846793005 + 1442695040888963407
		height := int(v>>33) % max(b.Dy(), 1)
		r := image.Rect(b.Min.X+i*w+1, b.Max.Y-height, b.Min.X+(i+1)*w-1, b.Max.Y)
		draw.Draw(dst, r, &image.Uniform{C: colors[i%len(colors)]}, image.Point{}, draw.Src)
	}
	return nil
}
