package frame

import (
	"image"
	"testing"

	"github.com/recera/lcars/pkg/element"
	"github.com/recera/lcars/pkg/panel"
)

func stateOnly(id element.Identity, st element.State) *element.Element {
	return &element.Element{ID: id, State: &st, Changes: element.ChangeState}
}

func TestCollapse_FillsNewestFirst(t *testing.T) {
	older := snap(2, stateOnly(1, element.State{Touch: 1}), el(2, image.Rect(0, 0, 5, 5)))
	newer := snap(3, stateOnly(1, element.State{Touch: 2}), delta(2))
	cur := snap(4, delta(1), delta(2))

	if Collapse(cur, []*panel.Snapshot{older, newer}) {
		t.Error("element 1 never had geometry in the backlog, collapse should be incomplete")
	}
	e1, e2 := cur.Elements[0], cur.Elements[1]
	if e1.State == nil || e1.State.Touch != 2 {
		t.Errorf("element 1 should take the newest state, got %+v", e1.State)
	}
	if e1.Geometry != nil {
		t.Error("element 1 had no geometry anywhere in the backlog")
	}
	if !e2.Complete() {
		t.Error("element 2 should be completed from the older snapshot")
	}
	if e1.Changes != element.ChangeState {
		t.Errorf("change masks should be OR-ed, got %v", e1.Changes)
	}
}

func TestCollapse_ReturnValue(t *testing.T) {
	full := snap(1, el(1, image.Rect(0, 0, 5, 5)), el(2, image.Rect(5, 5, 9, 9)))

	cur := snap(2, delta(1), delta(2))
	if !Collapse(cur, []*panel.Snapshot{full}) {
		t.Error("expected every element to be completed")
	}

	cur = snap(3, delta(1), delta(7))
	if Collapse(cur, []*panel.Snapshot{full}) {
		t.Error("element 7 is not in the backlog, collapse should report incomplete")
	}

	nonIncremental := snap(4, delta(1))
	nonIncremental.Incremental = false
	if !Collapse(nonIncremental, nil) {
		t.Error("non-incremental snapshots are never collapsed")
	}
}

func TestCollapse_StopsAtReset(t *testing.T) {
	full := snap(1, el(1, image.Rect(0, 0, 5, 5)))
	cur := snap(3, delta(1))
	if Collapse(cur, []*panel.Snapshot{full, nil}) {
		t.Error("data older than a reset must not be used")
	}
	if cur.Elements[0].State != nil {
		t.Error("element should be untouched")
	}
}

// Collapsing a backlog and diffing once yields the same element state as
// diffing every snapshot in sequence. Intermediate dirty regions are lost.
func TestCollapse_MatchesSequentialApply(t *testing.T) {
	build := func() []*panel.Snapshot {
		return []*panel.Snapshot{
			snap(2, stateOnly(1, element.State{Bounds: image.Rect(0, 0, 10, 10), Visible: true, Touch: 1}), delta(2), delta(3)),
			snap(3, delta(1), el(2, image.Rect(40, 40, 60, 60)), delta(3)),
			snap(4, delta(1), delta(2), stateOnly(3, element.State{Bounds: image.Rect(70, 0, 80, 10), Highlighted: true})),
			snap(5, delta(1), delta(2), delta(3)),
		}
	}
	committed := func() *Frame {
		return Diff(snap(1,
			el(1, image.Rect(0, 0, 10, 10)),
			el(2, image.Rect(20, 20, 30, 30)),
			el(3, image.Rect(70, 0, 80, 10)),
		), nil, selective)
	}

	seq := committed()
	for _, s := range build() {
		seq = Diff(s, seq, selective)
	}

	backlog := build()
	newest := backlog[len(backlog)-1]
	Collapse(newest, backlog[:len(backlog)-1])
	collapsed := Diff(newest, committed(), selective)

	if len(seq.Elements) != len(collapsed.Elements) {
		t.Fatalf("element count differs: %d vs %d", len(seq.Elements), len(collapsed.Elements))
	}
	for i := range seq.Elements {
		a, b := seq.Elements[i], collapsed.Elements[i]
		if a.ID != b.ID {
			t.Fatalf("order differs at %d", i)
		}
		if *a.State != *b.State {
			t.Errorf("element %d state: sequential %+v, collapsed %+v", a.ID, *a.State, *b.State)
		}
		if !a.Geometry.Equal(b.Geometry) {
			t.Errorf("element %d geometry differs", a.ID)
		}
	}
	// the collapsed diff still repaints everything that moved
	if !collapsed.Dirty.Contains(image.Pt(25, 25)) || !collapsed.Dirty.Contains(image.Pt(50, 50)) {
		t.Errorf("collapsed dirty region misses element 2 move: %v", collapsed.Dirty.Rects())
	}
}
