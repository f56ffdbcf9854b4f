// Package panel defines one logical frame of a panel and the producer
// that emits it.
package panel

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/recera/lcars/pkg/element"
)

// State is the panel-wide part of a frame. Any difference between two
// states forces a full repaint.
type State struct {
	Width  int
	Height int
	// Background is a resource descriptor, empty for the plain scheme color
	Background  string
	ColorScheme int
	Blink       int
	Modal       bool
	Silent      bool
	Alpha       float32
}

// DefaultState returns a visible panel state of the given size
func DefaultState(width, height int) State {
	return State{Width: width, Height: height, Alpha: 1}
}

// Bounds returns the panel rectangle anchored at the origin
func (s State) Bounds() image.Rectangle {
	return image.Rect(0, 0, s.Width, s.Height)
}

// Snapshot is one logical frame of an entire panel. Element order is
// paint order. A snapshot is treated as immutable once published.
type Snapshot struct {
	PanelID  uint64
	Seq      uint64
	State    State
	Elements []*element.Element

	// Incremental snapshots may omit unchanged element parts
	Incremental bool
}

// ErrDuplicateIdentity is returned by Validate when two elements share an identity
var ErrDuplicateIdentity = errors.New("panel: duplicate element identity")

// Validate checks that identities are unique within the snapshot
func (s *Snapshot) Validate() error {
	seen := make(map[element.Identity]struct{}, len(s.Elements))
	for i, e := range s.Elements {
		if e == nil {
			return fmt.Errorf("panel: nil element at index %d", i)
		}
		if _, dup := seen[e.ID]; dup {
			return fmt.Errorf("%w %d", ErrDuplicateIdentity, e.ID)
		}
		seen[e.ID] = struct{}{}
	}
	return nil
}

// Complete reports whether every element carries all of its parts
func (s *Snapshot) Complete() bool {
	for _, e := range s.Elements {
		if !e.Complete() {
			return false
		}
	}
	return true
}

func (s *Snapshot) String() string {
	return fmt.Sprintf("panel#%d seq=%d %dx%d elements=%d incremental=%v",
		s.PanelID, s.Seq, s.State.Width, s.State.Height, len(s.Elements), s.Incremental)
}

// Screen consumes panel snapshots. Implementations include the local
// render pipeline and remote screen stubs.
type Screen interface {
	Update(ctx context.Context, snap *Snapshot) error
}
