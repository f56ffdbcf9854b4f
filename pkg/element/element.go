// Package element defines the per-frame snapshot of one panel widget.
//
// An Element is a value published once per frame. A delta snapshot may
// omit its State or Geometry; ApplyUpdate fills the omitted parts from an
// older snapshot of the same widget before the element is painted.
package element

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync/atomic"
)

// Identity is the stable key of a widget instance. It is assigned once and
// never reused, even after the widget leaves its panel.
type Identity uint64

// IdentitySource hands out identities. The zero value is ready to use and
// the first identity it returns is 1.
type IdentitySource struct {
	next atomic.Uint64
}

// Next returns a fresh identity
func (s *IdentitySource) Next() Identity {
	return Identity(s.next.Add(1))
}

// ChangeMask is a bitset over the parts of an element snapshot
type ChangeMask uint8

const (
	// ChangeState marks the element state (bounds, color, flags)
	ChangeState ChangeMask = 1 << iota
	// ChangeGeometry marks the element's shapes
	ChangeGeometry
)

// ChangeAll covers every part of an element
const ChangeAll = ChangeState | ChangeGeometry

func (m ChangeMask) String() string {
	switch m {
	case 0:
		return "none"
	case ChangeState:
		return "state"
	case ChangeGeometry:
		return "geometry"
	case ChangeAll:
		return "state|geometry"
	}
	return fmt.Sprintf("ChangeMask(%#x)", uint8(m))
}

var (
	// ErrIdentityMismatch is returned when an update is applied across two widgets
	ErrIdentityMismatch = errors.New("element: identity mismatch")
	// ErrNoState is returned when neither snapshot carries state
	ErrNoState = errors.New("element: no state data present")
	// ErrNoGeometry is returned when neither snapshot carries geometry
	ErrNoGeometry = errors.New("element: no geometry data present")
)

// State is the mutable appearance of a widget. It is comparable with ==.
type State struct {
	Bounds      image.Rectangle
	Color       color.RGBA
	Style       uint32
	Visible     bool
	Highlighted bool
	Touch       int
}

// ShapeKind selects how a Shape is painted
type ShapeKind uint8

const (
	ShapeRect ShapeKind = iota
	ShapeEllipse
	ShapeText
	ShapeImage
	// ShapeRaster is produced off the paint path by a rasterization worker
	ShapeRaster
)

func (k ShapeKind) String() string {
	switch k {
	case ShapeRect:
		return "rect"
	case ShapeEllipse:
		return "ellipse"
	case ShapeText:
		return "text"
	case ShapeImage:
		return "image"
	case ShapeRaster:
		return "raster"
	}
	return fmt.Sprintf("ShapeKind(%d)", uint8(k))
}

// Shape is one drawing primitive of an element's geometry. Its contents are
// opaque to frame diffing, which only compares shapes for equality.
type Shape struct {
	Kind   ShapeKind
	Bounds image.Rectangle
	// Foreground shapes (labels) do not count towards the element bounds
	Foreground bool
	Text       string
	// Ref is a resource descriptor (image name or raster input)
	Ref string
}

// Geometry is the ordered shape list of an element
type Geometry struct {
	Shapes []Shape
}

// Equal reports whether two geometries hold the same shapes in the same order
func (g *Geometry) Equal(o *Geometry) bool {
	if g == nil || o == nil {
		return g == o
	}
	if len(g.Shapes) != len(o.Shapes) {
		return false
	}
	for i := range g.Shapes {
		if g.Shapes[i] != o.Shapes[i] {
			return false
		}
	}
	return true
}

// Bounds returns the union of all background shape bounds
func (g *Geometry) Bounds() image.Rectangle {
	var b image.Rectangle
	if g == nil {
		return b
	}
	for _, s := range g.Shapes {
		if s.Foreground {
			continue
		}
		b = b.Union(s.Bounds)
	}
	return b
}

// Element is the snapshot of one widget in one frame
type Element struct {
	ID       Identity
	State    *State
	Geometry *Geometry

	// Changes is set by ApplyUpdate. Zero means no visible change since
	// the predecessor.
	Changes ChangeMask
}

// New returns a complete element snapshot
func New(id Identity, st State, geo Geometry) *Element {
	return &Element{ID: id, State: &st, Geometry: &geo, Changes: ChangeAll}
}

// Missing reports which parts were not transmitted with this snapshot
func (e *Element) Missing() ChangeMask {
	var m ChangeMask
	if e.State == nil {
		m |= ChangeState
	}
	if e.Geometry == nil {
		m |= ChangeGeometry
	}
	return m
}

// Complete reports whether both state and geometry are present
func (e *Element) Complete() bool {
	return e.Missing() == 0
}

// Bounds returns the area the element occupies. Background shapes define
// it; an element without geometry falls back to its state bounds.
func (e *Element) Bounds() image.Rectangle {
	if b := e.Geometry.Bounds(); !b.Empty() {
		return b
	}
	if e.State != nil {
		return e.State.Bounds
	}
	return image.Rectangle{}
}

// Visible reports whether the element paints anything
func (e *Element) Visible() bool {
	return e.State != nil && e.State.Visible
}

// ApplyUpdate fills the parts this snapshot lacks from pred and returns the
// parts that were transmitted and differ from pred. A snapshot identical to
// pred yields 0.
//
// The receiver is modified; callers only apply updates to snapshots they
// have not yet published. State and Geometry values are shared with pred,
// never mutated.
func (e *Element) ApplyUpdate(pred *Element) (ChangeMask, error) {
	if pred == nil {
		if m := e.Missing(); m != 0 {
			return 0, e.missingErr(m)
		}
		return ChangeAll, nil
	}
	if e.ID != pred.ID {
		return 0, fmt.Errorf("%w: %d != %d", ErrIdentityMismatch, e.ID, pred.ID)
	}

	var changed ChangeMask
	if e.State == nil {
		if pred.State == nil {
			return 0, ErrNoState
		}
		e.State = pred.State
	} else if pred.State == nil || *e.State != *pred.State {
		changed |= ChangeState
	}
	if e.Geometry == nil {
		if pred.Geometry == nil {
			return changed, ErrNoGeometry
		}
		e.Geometry = pred.Geometry
	} else if !e.Geometry.Equal(pred.Geometry) {
		changed |= ChangeGeometry
	}
	return changed, nil
}

// Fill copies the parts this snapshot lacks from older without touching
// Changes. It reports which parts were filled.
func (e *Element) Fill(older *Element) ChangeMask {
	if older == nil || older.ID != e.ID {
		return 0
	}
	var filled ChangeMask
	if e.State == nil && older.State != nil {
		e.State = older.State
		filled |= ChangeState
	}
	if e.Geometry == nil && older.Geometry != nil {
		e.Geometry = older.Geometry
		filled |= ChangeGeometry
	}
	return filled
}

func (e *Element) missingErr(m ChangeMask) error {
	if m&ChangeState != 0 {
		return ErrNoState
	}
	return ErrNoGeometry
}

func (e *Element) String() string {
	return fmt.Sprintf("element#%d(missing=%v changes=%v)", e.ID, e.Missing(), e.Changes)
}
