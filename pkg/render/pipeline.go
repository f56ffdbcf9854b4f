package render

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/recera/lcars/internal/logging"
	"github.com/recera/lcars/pkg/frame"
	"github.com/recera/lcars/pkg/geom"
	"github.com/recera/lcars/pkg/handoff"
	"github.com/recera/lcars/pkg/panel"
)

// Strategy selects where diffing happens
type Strategy uint8

const (
	// Sync diffs and paints inside Update
	Sync Strategy = iota
	// Async diffs on a worker goroutine; the paint goroutine calls Paint
	Async
)

func (s Strategy) String() string {
	if s == Async {
		return "async"
	}
	return "sync"
}

// ParseStrategy maps a config name to a Strategy
func ParseStrategy(name string) (Strategy, error) {
	switch name {
	case "sync", "":
		return Sync, nil
	case "async":
		return Async, nil
	}
	return Sync, errors.New("render: unknown strategy " + name)
}

// statsInterval is the number of paints between skipped-frame log lines
const statsInterval = 500

// DefaultQueueCapacity is the handoff queue size used by Async pipelines
const DefaultQueueCapacity = 8

// Option configures a Pipeline
type Option func(*Pipeline)

// WithStrategy selects sync or async operation
func WithStrategy(s Strategy) Option {
	return func(p *Pipeline) { p.strategy = s }
}

// WithQueueCapacity sets the handoff queue size of an async pipeline
func WithQueueCapacity(n int) Option {
	return func(p *Pipeline) { p.capacity = n }
}

// WithSelectiveRepaint sets the initial selective repaint hint
func WithSelectiveRepaint(on bool) Option {
	return func(p *Pipeline) { p.selective.Store(on) }
}

// WithOnPaint registers a hook called on the paint goroutine after every frame
func WithOnPaint(fn func(*Report)) Option {
	return func(p *Pipeline) { p.onPaint = fn }
}

// Stats are cumulative pipeline counters
type Stats struct {
	Updates   uint64 // snapshots received
	Frames    uint64 // frames diffed
	Collapsed uint64 // snapshots merged into a newer one
	Resets    uint64
	Paints    uint64
	Painted   uint64 // elements painted
	Failures  uint64
}

// Skipped returns the number of snapshots that never became a frame
func (s Stats) Skipped() uint64 {
	if s.Updates < s.Frames {
		return 0
	}
	return s.Updates - s.Frames
}

// Pipeline turns panel snapshots into painted frames. It implements
// panel.Screen.
type Pipeline struct {
	surface   Surface
	strategy  Strategy
	capacity  int
	selective atomic.Bool
	onPaint   func(*Report)
	log       *slog.Logger

	// sync strategy: guards committed and the surface
	mu sync.Mutex

	// committed is owned by the worker in async mode. It survives a reset
	// so later delta snapshots can still be completed from it.
	committed *frame.Frame
	lastState panel.State
	// forceFull makes the next diff repaint everything after a reset
	forceFull bool

	// shown is the last painted frame, owned by the paint side
	shown *frame.Frame
	// damage collects Repaint requests for the paint side
	damageMu sync.Mutex
	damage   geom.Region
	wake     chan struct{}

	queue  *handoff.Queue[*panel.Snapshot]
	slot   *handoff.Slot[*frame.Frame]
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	updates   atomic.Uint64
	frames    atomic.Uint64
	collapsed atomic.Uint64
	resets    atomic.Uint64
	paints    atomic.Uint64
	painted   atomic.Uint64
	failures  atomic.Uint64
}

// New creates a pipeline painting onto s. Async pipelines start their
// worker immediately; call Close to stop it.
func New(s Surface, opts ...Option) *Pipeline {
	p := &Pipeline{
		surface:  s,
		capacity: DefaultQueueCapacity,
		log:      logging.For("render"),
		done:     make(chan struct{}),
		wake:     make(chan struct{}, 1),
	}
	p.selective.Store(true)
	for _, opt := range opts {
		opt(p)
	}
	b := s.Bounds()
	p.lastState = panel.DefaultState(b.Dx(), b.Dy())
	p.ctx, p.cancel = context.WithCancel(context.Background())

	if p.strategy == Async {
		p.queue = handoff.NewQueue[*panel.Snapshot](p.capacity)
		p.slot = handoff.NewSlot[*frame.Frame]()
		go p.work()
	} else {
		close(p.done)
	}
	p.log.Info("pipeline started", "strategy", p.strategy, "selective", p.selective.Load())
	return p
}

// Strategy returns the pipeline strategy
func (p *Pipeline) Strategy() Strategy { return p.strategy }

// SetSelectiveRepaint toggles selective repaint at runtime
func (p *Pipeline) SetSelectiveRepaint(on bool) {
	if p.selective.Swap(on) != on {
		p.log.Info("selective repaint changed", "selective", on)
	}
}

// Update hands a snapshot to the pipeline. In async mode it blocks while
// the handoff queue is full.
func (p *Pipeline) Update(ctx context.Context, snap *panel.Snapshot) error {
	if snap == nil {
		return p.Reset(ctx)
	}
	if p.strategy == Async {
		if err := p.queue.Put(ctx, snap); err != nil {
			return err
		}
		p.updates.Add(1)
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates.Add(1)
	p.paint(p.commit(snap))
	return nil
}

// Reset clears the screen to the default background. The next snapshot
// is painted in full; its missing parts are still filled from the last
// committed frame.
func (p *Pipeline) Reset(ctx context.Context) error {
	if p.strategy == Async {
		return p.queue.Put(ctx, nil)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resets.Add(1)
	p.forceFull = true
	p.paint(frame.Blank(p.lastState))
	return nil
}

// Paint waits for the next prepared frame and paints it. It returns
// handoff.ErrClosed once the pipeline is closed and drained. Sync
// pipelines paint inside Update and return immediately.
func (p *Pipeline) Paint(ctx context.Context) (*Report, error) {
	if p.strategy != Async {
		return nil, nil
	}
	for {
		if f := p.takeDamage(); f != nil {
			return p.paint(f), nil
		}
		f, ok, err := p.slot.ConsumeOr(ctx, p.wake)
		if err != nil {
			return nil, err
		}
		if ok {
			return p.paint(f), nil
		}
	}
}

// TryPaint paints a prepared frame if one is waiting
func (p *Pipeline) TryPaint() (*Report, bool) {
	if p.strategy != Async {
		return nil, false
	}
	if f, ok := p.slot.TryConsume(); ok {
		return p.paint(f), true
	}
	if f := p.takeDamage(); f != nil {
		return p.paint(f), true
	}
	return nil, false
}

// Repaint asks for r to be painted again from the last painted frame. It
// serves content that changes outside the snapshots, such as a finished
// raster image. Async pipelines paint it on the next Paint or TryPaint.
func (p *Pipeline) Repaint(r image.Rectangle) {
	if p.strategy != Async {
		p.mu.Lock()
		defer p.mu.Unlock()
		if f := p.damaged(geom.RegionOf(r)); f != nil {
			p.paint(f)
		}
		return
	}
	p.damageMu.Lock()
	p.damage.Add(r)
	p.damageMu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pipeline) takeDamage() *frame.Frame {
	p.damageMu.Lock()
	d := p.damage
	p.damage = geom.Region{}
	p.damageMu.Unlock()
	return p.damaged(d)
}

// damaged builds a frame repainting d from the last painted frame, or
// nil when there is nothing to repaint
func (p *Pipeline) damaged(d geom.Region) *frame.Frame {
	prev := p.shown
	if prev == nil || d.Empty() {
		return nil
	}
	f := &frame.Frame{
		PanelID:  prev.PanelID,
		Seq:      prev.Seq,
		State:    prev.State,
		Elements: prev.Elements,
		Dirty:    d.Clip(prev.State.Bounds()),
	}
	if f.Dirty.Empty() {
		return nil
	}
	for _, el := range prev.Elements {
		if el.Complete() && f.Dirty.Intersects(el.Bounds()) {
			f.PaintSet = append(f.PaintSet, el)
		}
	}
	return f
}

// Stats returns a snapshot of the counters
func (p *Pipeline) Stats() Stats {
	return Stats{
		Updates:   p.updates.Load(),
		Frames:    p.frames.Load(),
		Collapsed: p.collapsed.Load(),
		Resets:    p.resets.Load(),
		Paints:    p.paints.Load(),
		Painted:   p.painted.Load(),
		Failures:  p.failures.Load(),
	}
}

// Close stops accepting snapshots and waits until every queued snapshot
// has been diffed and handed to the paint side. If ctx ends first the
// worker is abandoned and ctx.Err is returned.
func (p *Pipeline) Close(ctx context.Context) error {
	if p.strategy != Async {
		p.cancel()
		return nil
	}
	p.queue.Close()
	select {
	case <-p.done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-p.done
		return ctx.Err()
	}
}

// Done is closed when the worker has exited
func (p *Pipeline) Done() <-chan struct{} {
	return p.done
}

// work is the async worker loop. It keeps running after Close until the
// queue is empty.
func (p *Pipeline) work() {
	defer close(p.done)
	defer p.slot.Close()

	for {
		items, err := p.queue.TakeAll(p.ctx)
		if err != nil {
			if errors.Is(err, handoff.ErrClosed) || p.ctx.Err() != nil {
				return
			}
			p.log.Error("handoff failed", "error", err)
			continue
		}
		f := p.prepare(items)
		if err := p.slot.Publish(p.ctx, f); err != nil {
			return
		}
	}
}

// prepare turns a drained batch into one frame. A nil item is a reset.
// Snapshots around a reset are still merged so no element data is lost,
// and the frame after a reset is a full repaint. If the newest item is a
// reset the screen is blanked.
func (p *Pipeline) prepare(items []*panel.Snapshot) *frame.Frame {
	snaps := make([]*panel.Snapshot, 0, len(items))
	for _, s := range items {
		if s == nil {
			p.forceFull = true
			p.resets.Add(1)
			continue
		}
		snaps = append(snaps, s)
	}
	blank := len(items) > 0 && items[len(items)-1] == nil
	if len(snaps) == 0 {
		return frame.Blank(p.lastState)
	}

	newest := snaps[len(snaps)-1]
	if backlog := snaps[:len(snaps)-1]; len(backlog) > 0 {
		complete := frame.Collapse(newest, backlog)
		p.collapsed.Add(uint64(len(backlog)))
		p.log.Debug("collapsed backlog", "snapshots", len(backlog), "complete", complete)
	}
	f := p.commit(newest)
	if blank {
		p.forceFull = true
		return frame.Blank(f.State)
	}
	return f
}

// commit diffs snap against the committed frame and makes the result
// the new committed frame
func (p *Pipeline) commit(snap *panel.Snapshot) *frame.Frame {
	f := frame.Diff(snap, p.committed, frame.Options{
		Incremental:      snap.Incremental && !p.forceFull,
		SelectiveRepaint: p.selective.Load(),
	})
	if p.forceFull {
		f.BackgroundChanged = true
		p.forceFull = false
	}
	p.committed = f
	p.lastState = f.State
	p.frames.Add(1)
	return f
}

func (p *Pipeline) paint(f *frame.Frame) *Report {
	r := PaintFrame(f, p.surface)
	if f != nil {
		p.shown = f
	}
	n := p.paints.Add(1)
	p.painted.Add(uint64(r.Painted))
	if len(r.Failures) > 0 {
		p.failures.Add(uint64(len(r.Failures)))
		for _, fe := range r.Failures {
			p.log.Warn("element failed", "element", uint64(fe.ID), "op", fe.Op, "error", fe.Err)
		}
	}
	if n%statsInterval == 0 {
		st := p.Stats()
		p.log.Debug("pipeline stats", "paints", st.Paints, "updates", st.Updates,
			"skipped", st.Skipped(), "collapsed", st.Collapsed)
	}
	if p.onPaint != nil {
		p.onPaint(r)
	}
	return r
}
