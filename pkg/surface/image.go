// Package surface provides render.Surface implementations backed by an
// in-memory RGBA image.
package surface

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"strings"
	"sync"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/recera/lcars/internal/resource"
	"github.com/recera/lcars/pkg/element"
	"github.com/recera/lcars/pkg/geom"
	"github.com/recera/lcars/pkg/panel"
)

// ErrNoRasterizer is returned for raster shapes naming an unregistered worker
var ErrNoRasterizer = errors.New("surface: no rasterizer registered")

// Rasterizer produces imagery off the paint goroutine. *raster.Worker[string]
// satisfies it.
type Rasterizer interface {
	Invalidate(in string) error
	View(fn func(img *image.RGBA))
}

// Image is a render.Surface drawing into an *image.RGBA. Draw calls come
// from the paint goroutine; Snapshot and WritePNG may be called from any
// goroutine.
type Image struct {
	mu   sync.Mutex
	img  *image.RGBA
	clip []image.Rectangle
	res  *resource.Cache
	face font.Face

	rasters    map[string]Rasterizer
	lastRaster map[string]string
	rasterAt   map[string]image.Rectangle
}

// NewImage creates a surface of the given size. res resolves background
// and image descriptors and may be nil.
func NewImage(width, height int, res *resource.Cache) *Image {
	return &Image{
		img:        image.NewRGBA(image.Rect(0, 0, width, height)),
		res:        res,
		face:       basicfont.Face7x13,
		rasters:    make(map[string]Rasterizer),
		lastRaster: make(map[string]string),
		rasterAt:   make(map[string]image.Rectangle),
	}
}

// RegisterRaster binds raster shapes with Ref "name:input" to r
func (s *Image) RegisterRaster(name string, r Rasterizer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rasters[name] = r
}

// RasterBounds returns where the named raster was last drawn
func (s *Image) RasterBounds(name string) (image.Rectangle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rasterAt[name]
	return r, ok
}

// Bounds returns the surface rectangle
func (s *Image) Bounds() image.Rectangle {
	return s.img.Bounds()
}

// Clip restricts drawing to r
func (s *Image) Clip(r geom.Region) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clip = r.Clip(s.img.Bounds()).Rects()
}

// DrawBackground fills the clip with the scheme background and, if ref is
// set, the background image scaled to the panel
func (s *Image) DrawBackground(ref string, st panel.State, changed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bg := image.NewUniform(SchemeFor(st.ColorScheme).Background)
	for _, r := range s.clip {
		draw.Draw(s.img, r, bg, image.Point{}, draw.Src)
	}
	if ref == "" || s.res == nil {
		return nil
	}
	img, err := s.res.Scaled(ref, st.Bounds().Size())
	if err != nil {
		return fmt.Errorf("background %q: %w", ref, err)
	}
	for _, r := range s.clip {
		draw.Draw(s.img, r, img, r.Min, draw.Over)
	}
	return nil
}

// DrawElement paints every shape of el inside the clip
func (s *Image) DrawElement(el *element.Element, st panel.State) error {
	if !el.Complete() {
		return fmt.Errorf("element %d: incomplete", el.ID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	col := s.elementColor(el.State, st)
	var errs []error
	for _, sh := range el.Geometry.Shapes {
		if err := s.drawShape(sh, col); err != nil {
			errs = append(errs, fmt.Errorf("%v shape: %w", sh.Kind, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Image) elementColor(es *element.State, st panel.State) color.RGBA {
	sc := SchemeFor(st.ColorScheme)
	col := es.Color
	if col.A == 0 {
		col = sc.Element
	}
	if es.Highlighted {
		col = sc.Highlight
	}
	return scaleAlpha(col, st.Alpha)
}

func (s *Image) drawShape(sh element.Shape, col color.RGBA) error {
	src := image.NewUniform(col)
	switch sh.Kind {
	case element.ShapeRect:
		s.each(sh.Bounds, func(r image.Rectangle) {
			draw.Draw(s.img, r, src, image.Point{}, draw.Over)
		})
	case element.ShapeEllipse:
		mask := ellipse{sh.Bounds}
		s.each(sh.Bounds, func(r image.Rectangle) {
			draw.DrawMask(s.img, r, src, image.Point{}, mask, r.Min, draw.Over)
		})
	case element.ShapeText:
		s.each(sh.Bounds, func(r image.Rectangle) {
			d := &font.Drawer{
				Dst:  s.img.SubImage(r).(*image.RGBA),
				Src:  src,
				Face: s.face,
				Dot:  fixed.P(sh.Bounds.Min.X, sh.Bounds.Min.Y+s.face.Metrics().Ascent.Ceil()),
			}
			d.DrawString(sh.Text)
		})
	case element.ShapeImage:
		if s.res == nil {
			return resource.ErrNotFound
		}
		img, err := s.res.Scaled(sh.Ref, sh.Bounds.Size())
		if err != nil {
			return err
		}
		s.each(sh.Bounds, func(r image.Rectangle) {
			draw.Draw(s.img, r, img, r.Min.Sub(sh.Bounds.Min), draw.Over)
		})
	case element.ShapeRaster:
		return s.drawRaster(sh)
	default:
		return fmt.Errorf("unknown shape kind %d", sh.Kind)
	}
	return nil
}

// drawRaster draws the last complete image of the named worker and asks
// it for a new one when the input changed
func (s *Image) drawRaster(sh element.Shape) error {
	name, input, _ := strings.Cut(sh.Ref, ":")
	r, ok := s.rasters[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoRasterizer, name)
	}
	if s.lastRaster[name] != input {
		if err := r.Invalidate(input); err != nil {
			return err
		}
		s.lastRaster[name] = input
	}
	s.rasterAt[name] = sh.Bounds
	r.View(func(img *image.RGBA) {
		s.each(sh.Bounds, func(c image.Rectangle) {
			draw.NearestNeighbor.Scale(s.img, c, img, srcRect(img.Bounds(), sh.Bounds, c), draw.Over, nil)
		})
	})
	return nil
}

// srcRect maps the clip part c of the destination dst back into src
func srcRect(src, dst, c image.Rectangle) image.Rectangle {
	if dst.Dx() == 0 || dst.Dy() == 0 {
		return image.Rectangle{}
	}
	sx := func(x int) int { return src.Min.X + (x-dst.Min.X)*src.Dx()/dst.Dx() }
	sy := func(y int) int { return src.Min.Y + (y-dst.Min.Y)*src.Dy()/dst.Dy() }
	return image.Rect(sx(c.Min.X), sy(c.Min.Y), sx(c.Max.X), sy(c.Max.Y))
}

// each calls fn with every non-empty intersection of b and the clip
func (s *Image) each(b image.Rectangle, fn func(r image.Rectangle)) {
	for _, c := range s.clip {
		if r := c.Intersect(b); !r.Empty() {
			fn(r)
		}
	}
}

// Snapshot returns a copy of the current pixels
func (s *Image) Snapshot() *image.RGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := image.NewRGBA(s.img.Bounds())
	copy(out.Pix, s.img.Pix)
	return out
}

// WritePNG encodes the current pixels as PNG
func (s *Image) WritePNG(w io.Writer) error {
	return png.Encode(w, s.Snapshot())
}

// ellipse is an alpha mask of the ellipse inscribed in r
type ellipse struct {
	r image.Rectangle
}

func (e ellipse) ColorModel() color.Model { return color.AlphaModel }
func (e ellipse) Bounds() image.Rectangle { return e.r }

func (e ellipse) At(x, y int) color.Color {
	rx := float64(e.r.Dx()) / 2
	ry := float64(e.r.Dy()) / 2
	if rx == 0 || ry == 0 {
		return color.Alpha{}
	}
	dx := (float64(x) + 0.5 - float64(e.r.Min.X) - rx) / rx
	dy := (float64(y) + 0.5 - float64(e.r.Min.Y) - ry) / ry
	if dx*dx+dy*dy <= 1 {
		return color.Alpha{A: 0xff}
	}
	return color.Alpha{}
}
