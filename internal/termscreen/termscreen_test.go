package termscreen

import (
	"image"
	"image/color"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/recera/lcars/pkg/render"
)

type fakePainter struct {
	tries  atomic.Int32
	paints atomic.Uint64
}

func (f *fakePainter) TryPaint() (*render.Report, bool) {
	f.tries.Add(1)
	return nil, false
}

func (f *fakePainter) Stats() render.Stats {
	return render.Stats{Paints: f.paints.Load()}
}

type fakeSource struct {
	snaps atomic.Int32
	img   *image.RGBA
}

func (f *fakeSource) Snapshot() *image.RGBA {
	f.snaps.Add(1)
	return f.img
}

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func TestCells_GridShape(t *testing.T) {
	grid := Cells(solid(64, 40, color.RGBA{R: 255, G: 153, A: 255}), 16, 5)
	lines := strings.Split(grid, "\n")
	if len(lines) != 5 {
		t.Fatalf("got %d rows, want 5", len(lines))
	}
	for i, l := range lines {
		if n := strings.Count(l, halfBlock); n != 16 {
			t.Errorf("row %d has %d cells, want 16", i, n)
		}
	}
	if Cells(nil, 10, 10) != "" || Cells(solid(1, 1, color.RGBA{}), 0, 3) != "" {
		t.Error("degenerate input should render nothing")
	}
}

func TestHexColor(t *testing.T) {
	if got := hexColor(color.RGBA{R: 0xff, G: 0x99, B: 0x0a, A: 0xff}); got != "#ff990a" {
		t.Errorf("hexColor = %q", got)
	}
}

func TestModel_TickPaintsAndRedraws(t *testing.T) {
	p := &fakePainter{}
	src := &fakeSource{img: solid(8, 8, color.RGBA{B: 255, A: 255})}
	var m tea.Model = New(p, src, Options{Interval: time.Millisecond})

	m, _ = m.Update(tea.WindowSizeMsg{Width: 4, Height: 3})
	snaps := src.snaps.Load()

	m, cmd := m.Update(tickMsg(time.Now()))
	if cmd == nil {
		t.Fatal("tick should schedule the next tick")
	}
	if p.tries.Load() != 1 {
		t.Errorf("TryPaint called %d times", p.tries.Load())
	}
	if src.snaps.Load() != snaps+1 {
		t.Error("first tick should redraw")
	}

	// nothing painted since: no redraw
	m, _ = m.Update(tickMsg(time.Now()))
	if src.snaps.Load() != snaps+1 {
		t.Error("redraw without a paint")
	}

	p.paints.Add(1)
	m, _ = m.Update(tickMsg(time.Now()))
	if src.snaps.Load() != snaps+2 {
		t.Error("paint did not trigger a redraw")
	}

	view := m.View()
	if strings.Count(view, halfBlock) != 4*2 {
		t.Errorf("view has %d cells, want 8", strings.Count(view, halfBlock))
	}
	if !strings.Contains(view, "local") {
		t.Error("status bar missing")
	}
}

func TestModel_Keys(t *testing.T) {
	var switched atomic.Int32
	status := "peer is down"
	m := New(&fakePainter{}, &fakeSource{img: solid(2, 2, color.RGBA{})}, Options{
		Status:   func() string { return status },
		OnSwitch: func() { switched.Add(1) },
	})

	if !strings.Contains(m.View(), "peer is down") {
		t.Error("status not shown")
	}

	_, _ = m.Update(tea.KeyMsg{Type: tea.KeyTab})
	if switched.Load() != 1 {
		t.Errorf("tab switched %d times", switched.Load())
	}

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("q should quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q did not produce a quit message")
	}
}
