package panel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/recera/lcars/internal/logging"
	"github.com/recera/lcars/pkg/element"
)

// ErrUnknownElement is returned for operations on identities the panel does not hold
var ErrUnknownElement = errors.New("panel: unknown element")

var (
	identities element.IdentitySource
	panelIDs   atomic.Uint64
)

type entry struct {
	id           element.Identity
	state        element.State
	geometry     []element.Shape
	stateChanged bool
	geoChanged   bool
}

// Panel is the logic side of a panel. It owns the widget list and emits
// full or delta snapshots. Identities are unique across all panels of the
// process so a screen switching panels never matches foreign widgets.
type Panel struct {
	mu       sync.Mutex
	id       uint64
	name     string
	state    State
	entries  []*entry
	byID     map[element.Identity]*entry
	seq      uint64
	dirty    bool
	forceAll bool

	onTick func(p *Panel, now time.Time)
}

// New creates an empty panel
func New(name string, st State) *Panel {
	return &Panel{
		id:       panelIDs.Add(1),
		name:     name,
		state:    st,
		byID:     make(map[element.Identity]*entry),
		dirty:    true,
		forceAll: true,
	}
}

// ID returns the process-unique panel id
func (p *Panel) ID() uint64 { return p.id }

// Name returns the panel name
func (p *Panel) Name() string { return p.name }

// OnTick registers a hook called by Run before each snapshot
func (p *Panel) OnTick(fn func(p *Panel, now time.Time)) {
	p.mu.Lock()
	p.onTick = fn
	p.mu.Unlock()
}

// Tick runs the OnTick hook for now
func (p *Panel) Tick(now time.Time) {
	p.mu.Lock()
	tick := p.onTick
	p.mu.Unlock()
	if tick != nil {
		tick(p, now)
	}
}

// State returns the current panel state
func (p *Panel) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// SetState updates the panel state through fn
func (p *Panel) SetState(fn func(*State)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	old := p.state
	fn(&p.state)
	if p.state != old {
		p.dirty = true
	}
}

// Add appends a widget on top of the z-order and returns its identity
func (p *Panel) Add(st element.State, shapes ...element.Shape) element.Identity {
	e := &entry{
		id:           identities.Next(),
		state:        st,
		geometry:     append([]element.Shape(nil), shapes...),
		stateChanged: true,
		geoChanged:   true,
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, e)
	p.byID[e.id] = e
	p.dirty = true
	return e.id
}

// Update modifies a widget's state through fn
func (p *Panel) Update(id element.Identity, fn func(*element.State)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.byID[id]
	if !ok {
		return ErrUnknownElement
	}
	old := e.state
	fn(&e.state)
	if e.state != old {
		e.stateChanged = true
		p.dirty = true
	}
	return nil
}

// SetGeometry replaces a widget's shapes
func (p *Panel) SetGeometry(id element.Identity, shapes ...element.Shape) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.byID[id]
	if !ok {
		return ErrUnknownElement
	}
	e.geometry = append([]element.Shape(nil), shapes...)
	e.geoChanged = true
	p.dirty = true
	return nil
}

// Remove drops a widget. Its identity is never handed out again.
func (p *Panel) Remove(id element.Identity) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.byID[id]; !ok {
		return false
	}
	delete(p.byID, id)
	for i, e := range p.entries {
		if e.id == id {
			p.entries = append(p.entries[:i], p.entries[i+1:]...)
			break
		}
	}
	p.dirty = true
	return true
}

// Len returns the number of widgets
func (p *Panel) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Invalidate makes the next snapshot a full one
func (p *Panel) Invalidate() {
	p.mu.Lock()
	p.forceAll = true
	p.dirty = true
	p.mu.Unlock()
}

// Dirty reports whether anything changed since the last snapshot
func (p *Panel) Dirty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dirty
}

// Snapshot emits the current frame. An incremental snapshot carries a
// widget's state only if it changed and its geometry only if it was
// replaced since the previous snapshot; everything else is left missing
// for the screen to fill from its last frame. A pending Invalidate turns
// the snapshot into a full one.
func (p *Panel) Snapshot(incremental bool) *Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.forceAll {
		incremental = false
		p.forceAll = false
	}
	p.seq++
	snap := &Snapshot{
		PanelID:     p.id,
		Seq:         p.seq,
		State:       p.state,
		Elements:    make([]*element.Element, 0, len(p.entries)),
		Incremental: incremental,
	}
	for _, e := range p.entries {
		el := &element.Element{ID: e.id}
		if e.stateChanged || !incremental {
			st := e.state
			el.State = &st
			el.Changes |= element.ChangeState
		}
		if e.geoChanged || !incremental {
			el.Geometry = &element.Geometry{Shapes: append([]element.Shape(nil), e.geometry...)}
			el.Changes |= element.ChangeGeometry
		}
		e.stateChanged = false
		e.geoChanged = false
		snap.Elements = append(snap.Elements, el)
	}
	p.dirty = false
	return snap
}

// Run publishes snapshots to screen every interval until ctx is done. The
// first snapshot and the one after any delivery failure are full.
func (p *Panel) Run(ctx context.Context, screen Screen, interval time.Duration) error {
	log := logging.For("panel").With("panel", p.name)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.Invalidate()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			p.Tick(now)
			if !p.Dirty() {
				continue
			}
			snap := p.Snapshot(true)
			if err := screen.Update(ctx, snap); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Warn("screen update failed", "seq", snap.Seq, "error", err)
				p.Invalidate()
			}
		}
	}
}
