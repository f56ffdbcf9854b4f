package render

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/recera/lcars/pkg/element"
	"github.com/recera/lcars/pkg/frame"
	"github.com/recera/lcars/pkg/geom"
	"github.com/recera/lcars/pkg/handoff"
	"github.com/recera/lcars/pkg/panel"
)

type call struct {
	op string
	id element.Identity
}

type fakeSurface struct {
	mu     sync.Mutex
	bounds image.Rectangle
	clips  []geom.Region
	calls  []call
	states map[element.Identity]element.State
	failOn map[element.Identity]error
	panics map[element.Identity]bool
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{
		bounds: image.Rect(0, 0, 100, 100),
		states: make(map[element.Identity]element.State),
		failOn: make(map[element.Identity]error),
		panics: make(map[element.Identity]bool),
	}
}

func (s *fakeSurface) Bounds() image.Rectangle { return s.bounds }

func (s *fakeSurface) Clip(r geom.Region) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clips = append(s.clips, r)
}

func (s *fakeSurface) DrawBackground(ref string, st panel.State, changed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call{op: "bg"})
	return nil
}

func (s *fakeSurface) DrawElement(el *element.Element, st panel.State) error {
	if s.panics[el.ID] {
		panic("broken widget")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failOn[el.ID]; err != nil {
		return err
	}
	s.calls = append(s.calls, call{op: "el", id: el.ID})
	s.states[el.ID] = *el.State
	return nil
}

func (s *fakeSurface) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
	s.clips = nil
}

func (s *fakeSurface) painted() []element.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []element.Identity
	for _, c := range s.calls {
		if c.op == "el" {
			out = append(out, c.id)
		}
	}
	return out
}

func el(id element.Identity, r image.Rectangle) *element.Element {
	return element.New(id, element.State{Bounds: r, Visible: true},
		element.Geometry{Shapes: []element.Shape{{Kind: element.ShapeRect, Bounds: r}}})
}

func snap(seq uint64, els ...*element.Element) *panel.Snapshot {
	return &panel.Snapshot{PanelID: 1, Seq: seq, State: panel.DefaultState(100, 100), Elements: els, Incremental: true}
}

func TestPaintFrame_ClipAndOrder(t *testing.T) {
	s := newFakeSurface()
	f := frame.Diff(snap(1, el(1, image.Rect(0, 0, 10, 10)), el(2, image.Rect(5, 5, 20, 20))), nil,
		frame.Options{Incremental: true, SelectiveRepaint: true})

	r := PaintFrame(f, s)
	if r.Painted != 2 {
		t.Errorf("painted %d, want 2", r.Painted)
	}
	if len(s.clips) != 1 || s.clips[0].Bounds() != image.Rect(0, 0, 100, 100) {
		t.Errorf("full repaint should clip to the panel, got %v", s.clips)
	}
	if len(s.calls) != 3 || s.calls[0].op != "bg" || s.calls[1].id != 1 || s.calls[2].id != 2 {
		t.Errorf("unexpected call order %v", s.calls)
	}

	s.reset()
	g := frame.Diff(snap(2, &element.Element{ID: 1}, el(2, image.Rect(5, 5, 30, 30))), f,
		frame.Options{Incremental: true, SelectiveRepaint: true})
	PaintFrame(g, s)
	if len(s.clips) != 1 || s.clips[0].Bounds() != image.Rect(5, 5, 30, 30) {
		t.Errorf("selective repaint should clip to the dirty region, got %v", s.clips[0].Rects())
	}
}

func TestPaintFrame_FailureIsolation(t *testing.T) {
	s := newFakeSurface()
	s.failOn[2] = errors.New("bad shape")
	s.panics[3] = true

	f := frame.Diff(snap(1,
		el(1, image.Rect(0, 0, 10, 10)),
		el(2, image.Rect(10, 0, 20, 10)),
		el(3, image.Rect(20, 0, 30, 10)),
		el(4, image.Rect(30, 0, 40, 10)),
	), nil, frame.Options{Incremental: true, SelectiveRepaint: true})

	r := PaintFrame(f, s)
	if r.Painted != 2 {
		t.Errorf("painted %d, want 2", r.Painted)
	}
	if len(r.Failures) != 2 {
		t.Fatalf("expected 2 failures, got %v", r.Failures)
	}
	if r.Failures[0].ID != 2 || r.Failures[1].ID != 3 {
		t.Errorf("unexpected failures %v", r.Failures)
	}
	got := s.painted()
	if len(got) != 2 || got[0] != 1 || got[1] != 4 {
		t.Errorf("healthy elements not painted: %v", got)
	}
}

func TestPaintFrame_EmptyFrameTouchesNothing(t *testing.T) {
	s := newFakeSurface()
	opts := frame.Options{Incremental: true, SelectiveRepaint: true}
	a := frame.Diff(snap(1, el(1, image.Rect(0, 0, 10, 10))), nil, opts)
	b := frame.Diff(snap(2, &element.Element{ID: 1}), a, opts)

	PaintFrame(b, s)
	if len(s.clips) != 0 || len(s.calls) != 0 {
		t.Errorf("idle frame touched the surface: clips=%v calls=%v", s.clips, s.calls)
	}
}

func TestPipeline_Sync(t *testing.T) {
	s := newFakeSurface()
	var reports []*Report
	p := New(s, WithStrategy(Sync), WithOnPaint(func(r *Report) { reports = append(reports, r) }))
	defer p.Close(context.Background())
	ctx := context.Background()

	p.Update(ctx, snap(1, el(1, image.Rect(0, 0, 10, 10)), el(2, image.Rect(50, 50, 60, 60))))
	p.Update(ctx, snap(2, &element.Element{ID: 1}, el(2, image.Rect(50, 50, 70, 70))))

	if len(reports) != 2 {
		t.Fatalf("expected 2 paints, got %d", len(reports))
	}
	if reports[1].Painted != 1 {
		t.Errorf("second frame painted %d elements, want 1", reports[1].Painted)
	}
	if _, ok := p.TryPaint(); ok {
		t.Error("sync pipeline has nothing to paint later")
	}

	p.Reset(ctx)
	if !reports[2].FullRepaint || reports[2].Painted != 0 {
		t.Errorf("reset should blank the surface: %+v", reports[2])
	}
	p.Update(ctx, snap(3, el(1, image.Rect(0, 0, 10, 10))))
	if !reports[3].FullRepaint {
		t.Error("first frame after reset should be a full repaint")
	}

	st := p.Stats()
	if st.Updates != 3 || st.Frames != 3 || st.Resets != 1 || st.Paints != 4 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestPipeline_SelectiveToggle(t *testing.T) {
	s := newFakeSurface()
	p := New(s)
	ctx := context.Background()
	p.Update(ctx, snap(1, el(1, image.Rect(0, 0, 10, 10)), el(2, image.Rect(50, 50, 60, 60))))

	p.SetSelectiveRepaint(false)
	s.reset()
	p.Update(ctx, snap(2, &element.Element{ID: 1}, &element.Element{ID: 2}))
	if got := s.painted(); len(got) != 2 {
		t.Errorf("non-selective repaint should paint everything, got %v", got)
	}
}

func TestPipeline_AsyncCollapsesBacklog(t *testing.T) {
	s := newFakeSurface()
	p := New(s, WithStrategy(Async), WithQueueCapacity(16))
	ctx := context.Background()

	// nobody paints yet: the worker holds at most one published frame and
	// one frame waiting to publish, the rest queues up
	p.Update(ctx, snap(1, el(1, image.Rect(0, 0, 10, 10)), el(2, image.Rect(50, 50, 60, 60))))
	for i := 2; i <= 6; i++ {
		st := element.State{Bounds: image.Rect(0, 0, 10, 10), Visible: true, Touch: i}
		if err := p.Update(ctx, snap(uint64(i), &element.Element{ID: 1, State: &st}, &element.Element{ID: 2})); err != nil {
			t.Fatal(err)
		}
	}
	time.Sleep(30 * time.Millisecond)

	var mu sync.Mutex
	var reports []*Report
	painterDone := make(chan struct{})
	go func() {
		defer close(painterDone)
		for {
			r, err := p.Paint(ctx)
			if err != nil {
				return
			}
			mu.Lock()
			reports = append(reports, r)
			mu.Unlock()
		}
	}()

	if err := p.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	<-painterDone

	st := p.Stats()
	if st.Updates != 6 {
		t.Errorf("updates = %d, want 6", st.Updates)
	}
	if st.Frames > 3 {
		t.Errorf("backlog was not collapsed: %d frames", st.Frames)
	}
	if st.Frames+st.Collapsed != st.Updates {
		t.Errorf("every snapshot must be diffed or collapsed: %+v", st)
	}
	mu.Lock()
	if uint64(len(reports)) != st.Frames {
		t.Errorf("painted %d frames, diffed %d", len(reports), st.Frames)
	}
	mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if got := s.states[1].Touch; got != 6 {
		t.Errorf("final state of element 1 has touch %d, want 6", got)
	}
}

func TestPipeline_UpdateAfterClose(t *testing.T) {
	p := New(newFakeSurface(), WithStrategy(Async))
	go func() {
		for {
			if _, err := p.Paint(context.Background()); err != nil {
				return
			}
		}
	}()
	if err := p.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := p.Update(context.Background(), snap(1)); !errors.Is(err, handoff.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if st := p.Stats(); st.Updates != 0 || st.Skipped() != 0 {
		t.Errorf("rejected update was counted: %+v", st)
	}
	if _, err := p.Paint(context.Background()); !errors.Is(err, handoff.ErrClosed) {
		t.Errorf("paint after drain: %v", err)
	}
}

func TestPipeline_PrepareResets(t *testing.T) {
	p := New(newFakeSurface())
	full := func(seq uint64) *panel.Snapshot {
		return snap(seq, el(1, image.Rect(0, 0, 10, 10)))
	}
	stateOnly := func(seq uint64, touch int) *panel.Snapshot {
		st := element.State{Bounds: image.Rect(0, 0, 10, 10), Visible: true, Touch: touch}
		return snap(seq, &element.Element{ID: 1, State: &st})
	}

	// newest reset blanks the screen but keeps the element data
	f := p.prepare([]*panel.Snapshot{full(1), nil})
	if !f.FullRepaint || len(f.PaintSet) != 0 || !f.BackgroundChanged {
		t.Errorf("trailing reset should yield a blank frame: %v", f)
	}
	if p.committed == nil {
		t.Fatal("reset dropped the committed frame")
	}

	// resets in the middle of a batch still leave a complete element
	f = p.prepare([]*panel.Snapshot{stateOnly(2, 1), nil, stateOnly(3, 2), nil, stateOnly(4, 3)})
	if !f.FullRepaint || !f.BackgroundChanged {
		t.Error("first frame after a reset must be a full repaint")
	}
	if len(f.Failures) != 0 {
		t.Errorf("delta after reset should be filled from the committed frame, got %v", f.Failures)
	}
	if len(f.PaintSet) != 1 || !f.PaintSet[0].Complete() || f.PaintSet[0].State.Touch != 3 {
		t.Errorf("unexpected paint set %v", f.PaintSet)
	}
	if st := p.Stats(); st.Resets != 3 {
		t.Errorf("resets = %d, want 3", st.Resets)
	}

	// the full repaint is forced once only
	f = p.prepare([]*panel.Snapshot{stateOnly(5, 4)})
	if f.FullRepaint {
		t.Error("second frame after a reset should be incremental")
	}
}

func TestPipeline_DeltasSurviveReset(t *testing.T) {
	for _, strategy := range []Strategy{Sync, Async} {
		t.Run(strategy.String(), func(t *testing.T) {
			s := newFakeSurface()
			p := New(s, WithStrategy(strategy))
			ctx := context.Background()

			src := panel.New("reset", panel.DefaultState(100, 100))
			id := src.Add(element.State{Bounds: image.Rect(0, 0, 10, 10), Visible: true},
				element.Shape{Kind: element.ShapeRect, Bounds: image.Rect(0, 0, 10, 10)})

			var failures uint64
			for i := 1; i <= 60; i++ {
				if err := src.Update(id, func(st *element.State) { st.Touch = i }); err != nil {
					t.Fatal(err)
				}
				if err := p.Update(ctx, src.Snapshot(true)); err != nil {
					t.Fatal(err)
				}
				if i%20 == 0 {
					if err := p.Reset(ctx); err != nil {
						t.Fatal(err)
					}
				}
				for strategy == Async {
					r, ok := p.TryPaint()
					if ok {
						failures += uint64(len(r.Failures))
						continue
					}
					if p.queue.Len() == 0 && !p.slot.Pending() {
						break
					}
					time.Sleep(time.Millisecond)
				}
			}
			// one more delta after the trailing reset
			if err := src.Update(id, func(st *element.State) { st.Touch = 61 }); err != nil {
				t.Fatal(err)
			}
			if err := p.Update(ctx, src.Snapshot(true)); err != nil {
				t.Fatal(err)
			}
			if strategy == Async {
				closeCtx, cancel := context.WithTimeout(ctx, time.Second)
				defer cancel()
				go func() {
					for {
						if _, err := p.Paint(closeCtx); err != nil {
							return
						}
					}
				}()
				if err := p.Close(closeCtx); err != nil {
					t.Fatal(err)
				}
			}

			if st := p.Stats(); st.Failures != 0 || failures != 0 {
				t.Errorf("elements failed after reset: stats %d, reports %d", st.Failures, failures)
			}
			s.mu.Lock()
			touch := s.states[id].Touch
			s.mu.Unlock()
			if touch != 61 {
				t.Errorf("last painted touch = %d, want 61", touch)
			}
		})
	}
}

func TestPipeline_Repaint(t *testing.T) {
	for _, strategy := range []Strategy{Sync, Async} {
		t.Run(strategy.String(), func(t *testing.T) {
			s := newFakeSurface()
			p := New(s, WithStrategy(strategy))
			defer p.Close(context.Background())
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()

			// nothing painted yet, nothing to repaint
			p.Repaint(image.Rect(0, 0, 100, 100))
			if _, ok := p.TryPaint(); ok {
				t.Fatal("repaint before the first frame painted something")
			}

			if err := p.Update(ctx, snap(1, el(1, image.Rect(0, 0, 10, 10)), el(2, image.Rect(50, 50, 60, 60)))); err != nil {
				t.Fatal(err)
			}
			if strategy == Async {
				if _, err := p.Paint(ctx); err != nil {
					t.Fatal(err)
				}
			}
			s.reset()

			p.Repaint(image.Rect(0, 0, 5, 5))
			if strategy == Async {
				r, err := p.Paint(ctx)
				if err != nil {
					t.Fatal(err)
				}
				if r.FullRepaint || r.Painted != 1 {
					t.Errorf("unexpected report %+v", r)
				}
			}
			if got := s.painted(); len(got) != 1 || got[0] != 1 {
				t.Errorf("painted %v, want [1]", got)
			}
			s.mu.Lock()
			clip := s.clips[len(s.clips)-1]
			s.mu.Unlock()
			if clip.Bounds() != image.Rect(0, 0, 5, 5) {
				t.Errorf("clip = %v", clip.Bounds())
			}
		})
	}
}

func TestParseStrategy(t *testing.T) {
	for name, want := range map[string]Strategy{"": Sync, "sync": Sync, "async": Async} {
		got, err := ParseStrategy(name)
		if err != nil || got != want {
			t.Errorf("ParseStrategy(%q) = %v, %v", name, got, err)
		}
	}
	if _, err := ParseStrategy("threaded"); err == nil {
		t.Error("unknown strategy accepted")
	}
}
