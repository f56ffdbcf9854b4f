package frame

import (
	"github.com/recera/lcars/pkg/element"
	"github.com/recera/lcars/pkg/geom"
	"github.com/recera/lcars/pkg/panel"
)

// Diff reconciles cur against the committed frame pred.
//
// Without a predecessor, or when the predecessor belongs to another panel,
// the whole panel is repainted. Otherwise a change of
// panel state, a non-incremental diff or disabled selective repaint also
// force a full repaint. In selective mode an element is painted when its
// update changed something or when it overlaps the dirty region; elements
// missing from cur dirty their old bounds so they get erased.
//
// Elements of cur are completed in place from their predecessors. cur must
// not be shared with another goroutine while Diff runs.
func Diff(cur *panel.Snapshot, pred *Frame, opts Options) *Frame {
	if cur == nil {
		return nil
	}
	f := &Frame{
		PanelID:  cur.PanelID,
		Seq:      cur.Seq,
		State:    cur.State,
		Elements: cur.Elements,
	}
	bounds := cur.State.Bounds()
	if pred != nil && pred.PanelID != cur.PanelID {
		pred = nil
	}

	if pred == nil {
		f.FullRepaint = true
		f.BackgroundChanged = cur.State.Background != ""
		f.Dirty = geom.RegionOf(bounds)
		f.PaintSet = make([]*element.Element, 0, len(cur.Elements))
		for _, el := range cur.Elements {
			mask, err := el.ApplyUpdate(nil)
			if err != nil {
				f.Failures = append(f.Failures, ElementError{ID: el.ID, Op: "update", Err: err})
			}
			el.Changes = mask
			f.PaintSet = append(f.PaintSet, el)
		}
		return f
	}

	f.FullRepaint = pred.State != cur.State || !opts.Incremental || !opts.SelectiveRepaint
	f.BackgroundChanged = pred.State.Background != cur.State.Background

	lookup := make(map[element.Identity]*element.Element, len(pred.Elements))
	for _, el := range pred.Elements {
		lookup[el.ID] = el
	}

	var dirty geom.Region
	paint := make([]bool, len(cur.Elements))
	var unchanged []int

	for i, el := range cur.Elements {
		p, found := lookup[el.ID]
		if found {
			delete(lookup, el.ID)
		}
		mask, err := el.ApplyUpdate(p)
		el.Changes = mask
		if err != nil {
			f.Failures = append(f.Failures, ElementError{ID: el.ID, Op: "update", Err: err})
			if f.FullRepaint {
				paint[i] = true
			} else if p != nil {
				dirty.Add(p.Bounds())
			}
			continue
		}
		if f.FullRepaint {
			paint[i] = true
			continue
		}
		b := el.Bounds()
		if mask == 0 && !dirty.Intersects(b) {
			unchanged = append(unchanged, i)
			continue
		}
		if p != nil {
			dirty.Add(p.Bounds())
		}
		dirty.Add(b)
		paint[i] = true
	}

	// whatever is left in lookup was removed
	for _, p := range pred.Elements {
		if _, removed := lookup[p.ID]; removed {
			dirty.Add(p.Bounds())
		}
	}

	if f.FullRepaint {
		f.Dirty = geom.RegionOf(bounds)
	} else {
		f.Dirty = dirty.Clip(bounds)
		for _, i := range unchanged {
			if f.Dirty.Intersects(cur.Elements[i].Bounds()) {
				paint[i] = true
			}
		}
	}

	f.PaintSet = make([]*element.Element, 0, len(cur.Elements))
	for i, el := range cur.Elements {
		if paint[i] {
			f.PaintSet = append(f.PaintSet, el)
		}
	}
	return f
}

// Blank returns the frame painted after a reset: the whole surface cleared
// to the default background with nothing on it.
func Blank(st panel.State) *Frame {
	return &Frame{
		State:             st,
		Dirty:             geom.RegionOf(st.Bounds()),
		FullRepaint:       true,
		BackgroundChanged: true,
	}
}
