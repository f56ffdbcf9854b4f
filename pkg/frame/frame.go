// Package frame reconciles panel snapshots into paintable frames.
//
// Diff compares a snapshot with the last committed frame and produces the
// dirty region and the ordered set of elements to paint. Collapse merges a
// backlog of delta snapshots into the newest one so a slow consumer can
// skip frames without losing element data.
package frame

import (
	"fmt"
	"image"

	"github.com/recera/lcars/pkg/element"
	"github.com/recera/lcars/pkg/geom"
	"github.com/recera/lcars/pkg/panel"
)

// Frame is the result of diffing one snapshot. It is not modified after
// Diff returns.
type Frame struct {
	PanelID uint64
	Seq     uint64
	State   panel.State

	// Elements is the reconciled element list in paint order. It is the
	// predecessor lookup for the next Diff.
	Elements []*element.Element

	// Dirty always lies inside State.Bounds(). On a full repaint it is the
	// whole panel.
	Dirty             geom.Region
	FullRepaint       bool
	BackgroundChanged bool

	// PaintSet holds the elements to paint, in paint order
	PaintSet []*element.Element

	// Failures lists elements whose update could not be applied
	Failures []ElementError
}

// Options control how aggressively Diff skips work
type Options struct {
	Incremental      bool
	SelectiveRepaint bool
}

// ElementError records a failure isolated to one element
type ElementError struct {
	ID  element.Identity
	Op  string
	Err error
}

func (e ElementError) Error() string {
	return fmt.Sprintf("element %d: %s: %v", e.ID, e.Op, e.Err)
}

func (e ElementError) Unwrap() error {
	return e.Err
}

// Bounds returns the panel rectangle of the frame
func (f *Frame) Bounds() image.Rectangle {
	return f.State.Bounds()
}

// Empty reports whether painting the frame would touch no pixels
func (f *Frame) Empty() bool {
	return !f.FullRepaint && f.Dirty.Empty() && len(f.PaintSet) == 0
}

func (f *Frame) String() string {
	return fmt.Sprintf("frame seq=%d full=%v bg=%v dirty=%v paint=%d/%d failures=%d",
		f.Seq, f.FullRepaint, f.BackgroundChanged, f.Dirty.Bounds(),
		len(f.PaintSet), len(f.Elements), len(f.Failures))
}
