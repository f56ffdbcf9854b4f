package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/recera/lcars/cmd/lcars/internal/panels"
	"github.com/recera/lcars/internal/logging"
	"github.com/recera/lcars/pkg/panel"
)

// panelHost runs one panel at a time against a screen and swaps it on
// request
type panelHost struct {
	screen   panel.Screen
	width    int
	height   int
	interval time.Duration
	log      *slog.Logger

	mu      sync.Mutex
	current *panel.Panel
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

func newPanelHost(screen panel.Screen, width, height int, interval time.Duration) *panelHost {
	return &panelHost{
		screen:   screen,
		width:    width,
		height:   height,
		interval: interval,
		log:      logging.For("panel"),
	}
}

// SetPanel replaces the running panel with the named one
func (h *panelHost) SetPanel(ctx context.Context, name string) error {
	p, err := panels.New(name, h.width, h.height)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return context.Canceled
	}
	h.stopLocked()
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	h.current, h.cancel, h.done = p, cancel, done
	go func() {
		defer close(done)
		p.Run(runCtx, h.screen, h.interval)
	}()
	h.log.Info("panel switched", "panel", name)
	return nil
}

// Next switches to the panel after the current one
func (h *panelHost) Next(ctx context.Context) error {
	return h.SetPanel(ctx, panels.Next(h.Name()))
}

// Name returns the running panel's name
func (h *panelHost) Name() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current == nil {
		return ""
	}
	return h.current.Name()
}

// Invalidate makes the running panel send a full snapshot next
func (h *panelHost) Invalidate() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current != nil {
		h.current.Invalidate()
	}
}

// Stop ends the running panel. The host cannot be restarted.
func (h *panelHost) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
	h.stopLocked()
}

func (h *panelHost) stopLocked() {
	if h.cancel == nil {
		return
	}
	h.cancel()
	<-h.done
	h.current, h.cancel, h.done = nil, nil, nil
}
