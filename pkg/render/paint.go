// Package render paints frames onto a surface, either directly on the
// update path or through a background worker that diffs and collapses
// snapshots ahead of the paint goroutine.
package render

import (
	"errors"
	"fmt"
	"image"
	"runtime/debug"

	"github.com/recera/lcars/pkg/element"
	"github.com/recera/lcars/pkg/frame"
	"github.com/recera/lcars/pkg/geom"
	"github.com/recera/lcars/pkg/panel"
)

// ErrIncomplete is reported for elements painted without state or geometry
var ErrIncomplete = errors.New("render: incomplete element")

// Surface is the drawing target. All calls for one frame happen on the
// paint goroutine, clip first.
type Surface interface {
	Bounds() image.Rectangle
	// Clip restricts the following draw calls to r
	Clip(r geom.Region)
	// DrawBackground fills the clip with the panel background. ref is a
	// resource descriptor, changed is set when it differs from the last frame.
	DrawBackground(ref string, st panel.State, changed bool) error
	// DrawElement paints one element with the panel state
	DrawElement(el *element.Element, st panel.State) error
}

// Report summarizes one painted frame
type Report struct {
	Seq         uint64
	FullRepaint bool
	Clip        geom.Region
	Painted     int
	// Failures holds update failures from the diff and paint failures
	Failures []frame.ElementError
}

// PaintFrame paints f onto s. The clip is the whole panel on a full
// repaint and the dirty region otherwise. The background is drawn under
// the clip first, then the paint set in order. A failing or panicking
// element is recorded and the rest of the frame is still painted.
func PaintFrame(f *frame.Frame, s Surface) *Report {
	r := &Report{}
	if f == nil {
		return r
	}
	r.Seq = f.Seq
	r.FullRepaint = f.FullRepaint
	r.Failures = append(r.Failures, f.Failures...)

	if f.FullRepaint {
		r.Clip = geom.RegionOf(f.Bounds())
	} else {
		r.Clip = f.Dirty.Clone()
	}
	if r.Clip.Empty() && len(f.PaintSet) == 0 {
		return r
	}

	s.Clip(r.Clip)
	if err := guard(func() error {
		return s.DrawBackground(f.State.Background, f.State, f.BackgroundChanged)
	}); err != nil {
		r.Failures = append(r.Failures, frame.ElementError{Op: "background", Err: err})
	}

	for _, el := range f.PaintSet {
		if !el.Complete() {
			r.Failures = append(r.Failures, frame.ElementError{ID: el.ID, Op: "paint", Err: ErrIncomplete})
			continue
		}
		if !el.Visible() {
			continue
		}
		if err := guard(func() error { return s.DrawElement(el, f.State) }); err != nil {
			r.Failures = append(r.Failures, frame.ElementError{ID: el.ID, Op: "paint", Err: err})
			continue
		}
		r.Painted++
	}
	return r
}

// guard runs fn and turns a panic into an error
func guard(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v\n%s", rec, debug.Stack())
		}
	}()
	return fn()
}
