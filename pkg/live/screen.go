package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/recera/lcars/internal/logging"
	"github.com/recera/lcars/pkg/adapter"
	"github.com/recera/lcars/pkg/panel"
)

// ErrNoPeer is returned by remote stubs that are not connected
var ErrNoPeer = errors.New("live: no peer")

// statWindow is the number of updates MeanUpdateSize averages over
const statWindow = 10

// RemoteScreen is the panel-side stub of a screen on another host. It
// implements panel.Screen. The peer is swapped as the adapter reconnects.
type RemoteScreen struct {
	mu   sync.RWMutex
	peer adapter.Peer
}

// NewRemoteScreen returns a stub calling peer, which may be nil
func NewRemoteScreen(peer adapter.Peer) *RemoteScreen {
	return &RemoteScreen{peer: peer}
}

// SetPeer replaces the peer
func (r *RemoteScreen) SetPeer(p adapter.Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peer = p
}

// Connected reports whether a peer is set
func (r *RemoteScreen) Connected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.peer != nil
}

// Update sends snap to the screen. A nil snapshot resets it.
func (r *RemoteScreen) Update(ctx context.Context, snap *panel.Snapshot) error {
	r.mu.RLock()
	peer := r.peer
	r.mu.RUnlock()
	if peer == nil {
		return ErrNoPeer
	}
	if snap == nil {
		_, err := peer.Call(ctx, adapter.MethodReset, nil)
		return err
	}
	_, err := peer.Call(ctx, adapter.MethodUpdate, EncodeSnapshot(snap))
	return err
}

// RemotePanel is the screen-side stub of a panel adapter
type RemotePanel struct {
	mu   sync.RWMutex
	peer adapter.Peer
}

// NewRemotePanel returns a stub calling peer, which may be nil
func NewRemotePanel(peer adapter.Peer) *RemotePanel {
	return &RemotePanel{peer: peer}
}

// SetPeer replaces the peer
func (r *RemotePanel) SetPeer(p adapter.Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peer = p
}

// SetPanel asks the remote side to serve the named panel
func (r *RemotePanel) SetPanel(ctx context.Context, name string) error {
	r.mu.RLock()
	peer := r.peer
	r.mu.RUnlock()
	if peer == nil {
		return ErrNoPeer
	}
	_, err := peer.Call(ctx, adapter.MethodSetPanel, []byte(name))
	return err
}

// Target receives decoded snapshots; *render.Pipeline satisfies it
type Target interface {
	Update(ctx context.Context, snap *panel.Snapshot) error
	Reset(ctx context.Context) error
}

// ScreenHandler serves update, reset and ping calls for a screen
type ScreenHandler struct {
	target Target
	log    *slog.Logger

	mu      sync.Mutex
	sizes   [statWindow]int
	n       int
	updates uint64
}

// NewScreenHandler returns a handler feeding target
func NewScreenHandler(target Target) *ScreenHandler {
	return &ScreenHandler{target: target, log: logging.For("live")}
}

// Serve implements adapter.Handler
func (h *ScreenHandler) Serve(ctx context.Context, method string, body []byte) ([]byte, error) {
	switch method {
	case adapter.MethodPing:
		return nil, nil
	case adapter.MethodReset:
		return nil, h.target.Reset(ctx)
	case adapter.MethodUpdate:
		snap, err := DecodeSnapshot(body)
		if err != nil {
			return nil, err
		}
		if err := snap.Validate(); err != nil {
			return nil, err
		}
		h.record(len(body))
		return nil, h.target.Update(ctx, snap)
	}
	return nil, fmt.Errorf("%w: %s", adapter.ErrUnknownMethod, method)
}

func (h *ScreenHandler) record(size int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sizes[h.updates%statWindow] = size
	h.updates++
	if h.n < statWindow {
		h.n++
	}
	if h.updates%statWindow == 0 {
		h.log.Debug("update size", "mean", h.meanLocked(), "updates", h.updates)
	}
}

// MeanUpdateSize returns the mean encoded size of the last ten updates
func (h *ScreenHandler) MeanUpdateSize() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.meanLocked()
}

func (h *ScreenHandler) meanLocked() float64 {
	if h.n == 0 {
		return 0
	}
	total := 0
	for _, s := range h.sizes[:h.n] {
		total += s
	}
	return float64(total) / float64(h.n)
}

// Updates returns the number of updates received
func (h *ScreenHandler) Updates() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.updates
}

// PanelHandler serves ping and setPanel calls for a panel adapter
type PanelHandler struct {
	setPanel func(ctx context.Context, name string) error
}

// NewPanelHandler returns a handler switching panels with setPanel.
// A nil setPanel rejects switching.
func NewPanelHandler(setPanel func(ctx context.Context, name string) error) *PanelHandler {
	return &PanelHandler{setPanel: setPanel}
}

// Serve implements adapter.Handler
func (h *PanelHandler) Serve(ctx context.Context, method string, body []byte) ([]byte, error) {
	switch method {
	case adapter.MethodPing:
		return nil, nil
	case adapter.MethodSetPanel:
		if h.setPanel == nil {
			return nil, errors.New("live: panel switching not supported")
		}
		return nil, h.setPanel(ctx, string(body))
	}
	return nil, fmt.Errorf("%w: %s", adapter.ErrUnknownMethod, method)
}
