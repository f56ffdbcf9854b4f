package frame

import (
	"github.com/recera/lcars/pkg/element"
	"github.com/recera/lcars/pkg/panel"
)

// Collapse fills the parts missing from cur's elements using the backlog of
// snapshots that were queued before it and will never be diffed on their
// own. backlog is ordered oldest first and is walked newest first, so the
// most recent value of each part wins. Change masks of the merged snapshots
// are OR-ed into the surviving element.
//
// It reports whether every element of cur ended up complete. Incomplete
// elements are not an error; Diff fills them from the committed frame.
// A nil entry in backlog marks a reset and nothing older is used.
func Collapse(cur *panel.Snapshot, backlog []*panel.Snapshot) bool {
	if cur == nil || !cur.Incremental {
		return true
	}

	incomplete := make(map[element.Identity]*element.Element)
	for _, el := range cur.Elements {
		if !el.Complete() {
			incomplete[el.ID] = el
		}
	}
	if len(incomplete) == 0 {
		return true
	}

	for i := len(backlog) - 1; i >= 0; i-- {
		older := backlog[i]
		if older == nil {
			break
		}
		for _, oe := range older.Elements {
			el, ok := incomplete[oe.ID]
			if !ok {
				continue
			}
			el.Fill(oe)
			el.Changes |= oe.Changes
			if el.Complete() {
				delete(incomplete, oe.ID)
				if len(incomplete) == 0 {
					return true
				}
			}
		}
	}
	return len(incomplete) == 0
}
