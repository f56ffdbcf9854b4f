package surface

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/recera/lcars/internal/resource"
	"github.com/recera/lcars/pkg/element"
	"github.com/recera/lcars/pkg/frame"
	"github.com/recera/lcars/pkg/geom"
	"github.com/recera/lcars/pkg/panel"
	"github.com/recera/lcars/pkg/raster"
	"github.com/recera/lcars/pkg/render"
)

var red = color.RGBA{R: 255, A: 255}

func rectElement(id element.Identity, r image.Rectangle, c color.RGBA) *element.Element {
	return element.New(id, element.State{Bounds: r, Color: c, Visible: true},
		element.Geometry{Shapes: []element.Shape{{Kind: element.ShapeRect, Bounds: r}}})
}

func TestImage_PaintFrame(t *testing.T) {
	s := NewImage(50, 50, nil)
	st := panel.DefaultState(50, 50)
	f := frame.Diff(&panel.Snapshot{
		PanelID: 1, State: st, Incremental: true,
		Elements: []*element.Element{rectElement(1, image.Rect(10, 10, 20, 20), red)},
	}, nil, frame.Options{Incremental: true, SelectiveRepaint: true})

	r := render.PaintFrame(f, s)
	if len(r.Failures) != 0 {
		t.Fatalf("unexpected failures %v", r.Failures)
	}
	img := s.Snapshot()
	if got := img.RGBAAt(15, 15); got != red {
		t.Errorf("inside element: %v, want red", got)
	}
	if got := img.RGBAAt(5, 5); got != SchemeFor(0).Background {
		t.Errorf("outside element: %v, want background", got)
	}
}

func TestImage_ClipRestrictsDrawing(t *testing.T) {
	s := NewImage(40, 40, nil)
	s.Clip(geom.RegionOf(image.Rect(0, 0, 20, 40)))
	if err := s.DrawElement(rectElement(1, image.Rect(0, 0, 40, 40), red), panel.DefaultState(40, 40)); err != nil {
		t.Fatal(err)
	}
	img := s.Snapshot()
	if img.RGBAAt(10, 10) != red {
		t.Error("pixel inside clip not painted")
	}
	if img.RGBAAt(30, 10) == red {
		t.Error("pixel outside clip painted")
	}
}

func TestImage_HighlightAndSchemeColor(t *testing.T) {
	s := NewImage(10, 10, nil)
	s.Clip(geom.RegionOf(s.Bounds()))
	st := panel.DefaultState(10, 10)

	e := rectElement(1, image.Rect(0, 0, 10, 10), color.RGBA{})
	s.DrawElement(e, st)
	if got := s.Snapshot().RGBAAt(5, 5); got != SchemeFor(0).Element {
		t.Errorf("element without color should use the scheme, got %v", got)
	}
	e.State.Highlighted = true
	s.DrawElement(e, st)
	if got := s.Snapshot().RGBAAt(5, 5); got != SchemeFor(0).Highlight {
		t.Errorf("highlighted element: %v", got)
	}
}

func TestImage_EllipseAndText(t *testing.T) {
	s := NewImage(60, 30, nil)
	s.Clip(geom.RegionOf(s.Bounds()))
	st := panel.DefaultState(60, 30)
	e := element.New(1, element.State{Color: red, Visible: true}, element.Geometry{Shapes: []element.Shape{
		{Kind: element.ShapeEllipse, Bounds: image.Rect(0, 0, 20, 20)},
		{Kind: element.ShapeText, Bounds: image.Rect(25, 0, 60, 20), Text: "LCARS", Foreground: true},
	}})
	if err := s.DrawElement(e, st); err != nil {
		t.Fatal(err)
	}
	img := s.Snapshot()
	if img.RGBAAt(10, 10) != red {
		t.Error("ellipse center not painted")
	}
	if img.RGBAAt(0, 0) == red {
		t.Error("ellipse corner painted")
	}
	found := false
	for y := 0; y < 20 && !found; y++ {
		for x := 25; x < 60; x++ {
			if img.RGBAAt(x, y) == red {
				found = true
				break
			}
		}
	}
	if !found {
		t.Error("text not drawn")
	}
}

func TestImage_BackgroundDescriptor(t *testing.T) {
	res := resource.New(resource.Config{})
	defer res.Close()
	s := NewImage(10, 10, res)
	s.Clip(geom.RegionOf(s.Bounds()))

	st := panel.DefaultState(10, 10)
	if err := s.DrawBackground("#00ff00", st, true); err != nil {
		t.Fatal(err)
	}
	if got := s.Snapshot().RGBAAt(3, 3); got != (color.RGBA{G: 255, A: 255}) {
		t.Errorf("background = %v", got)
	}
	if err := s.DrawBackground("nope.png", st, true); !errors.Is(err, resource.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

type inline struct{}

func (inline) Submit(fn func()) bool { fn(); return true }

func TestImage_RasterShape(t *testing.T) {
	var inputs []string
	w := raster.NewWorker(image.Rect(0, 0, 4, 4), inline{}, func(dst *image.RGBA, in string) error {
		inputs = append(inputs, in)
		c, err := resource.ParseColor(in)
		if err != nil {
			return err
		}
		for i := 0; i < len(dst.Pix); i += 4 {
			dst.Pix[i], dst.Pix[i+1], dst.Pix[i+2], dst.Pix[i+3] = c.R, c.G, c.B, c.A
		}
		return nil
	})

	s := NewImage(20, 20, nil)
	s.RegisterRaster("fill", w)
	s.Clip(geom.RegionOf(s.Bounds()))
	e := element.New(1, element.State{Visible: true}, element.Geometry{Shapes: []element.Shape{
		{Kind: element.ShapeRaster, Bounds: image.Rect(0, 0, 20, 20), Ref: "fill:#ff0000"},
	}})
	st := panel.DefaultState(20, 20)
	if err := s.DrawElement(e, st); err != nil {
		t.Fatal(err)
	}
	if got := s.Snapshot().RGBAAt(10, 10); got != red {
		t.Errorf("raster image not drawn: %v", got)
	}
	s.DrawElement(e, st)
	if len(inputs) != 1 {
		t.Errorf("unchanged input should not re-rasterize, got %v", inputs)
	}

	e.Geometry.Shapes[0].Ref = "missing:x"
	if err := s.DrawElement(e, st); !errors.Is(err, ErrNoRasterizer) {
		t.Errorf("expected ErrNoRasterizer, got %v", err)
	}
}

func TestImage_WritePNG(t *testing.T) {
	s := NewImage(8, 8, nil)
	var buf bytes.Buffer
	if err := s.WritePNG(&buf); err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Size() != image.Pt(8, 8) {
		t.Errorf("decoded size %v", img.Bounds().Size())
	}
}
