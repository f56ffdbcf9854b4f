package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/recera/lcars/internal/logging"
)

// State is the lifecycle state of an Adapter
type State int32

const (
	Starting State = iota
	Running
	Terminating
	Stopped
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Terminating:
		return "terminating"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Status messages. A status is only logged when it changes.
const (
	StatusConnected   = "connected"
	StatusPeerDown    = "peer is down"
	StatusPeerMissing = "peer not found"
	StatusBroken      = "connection broken"
	StatusInvalidURL  = "invalid peer url"
)

// Defaults
const (
	DefaultInterval        = time.Second
	DefaultShutdownTimeout = 1500 * time.Millisecond
)

// ErrShutdownTimeout is returned when the adapter loop does not stop in time
var ErrShutdownTimeout = errors.New("adapter: shutdown timed out")

// ServerLink makes an adapter re-register with a central registry every
// tick and deregister on shutdown
type ServerLink struct {
	Host     string
	ScreenID int
	Payload  []byte
}

// Config configures an Adapter
type Config struct {
	Role     Role
	PeerHost string
	ScreenID int
	Locator  Locator

	// Interval between ticks; CallTimeout bounds each heartbeat and
	// lookup. Both default to one second.
	Interval        time.Duration
	CallTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Handler serves calls from the peer
	Handler Handler

	// OnPeerChanged is called from the adapter loop when a peer is found
	// (non-nil) or lost (nil)
	OnPeerChanged func(ctx context.Context, p Peer)
	// OnStatus is called from the adapter loop when the status changes
	OnStatus func(status string)
	// OnStopped is called at the end of Shutdown
	OnStopped func()

	Server *ServerLink
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = c.Interval
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
}

// Adapter runs the export/lookup/heartbeat loop for one side of a pair
type Adapter struct {
	cfg     Config
	tr      Transport
	name    string
	log     *slog.Logger
	state   atomic.Int32
	started atomic.Bool

	mu           sync.Mutex
	peer         Peer
	status       string
	serverStatus string
	server       Peer

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an adapter in the Starting state
func New(cfg Config, tr Transport) (*Adapter, error) {
	if cfg.PeerHost == "" {
		return nil, errors.New("adapter: peer host required")
	}
	if cfg.Handler == nil {
		return nil, errors.New("adapter: handler required")
	}
	cfg.applyDefaults()
	a := &Adapter{
		cfg:  cfg,
		tr:   tr,
		name: cfg.Locator.AdapterName(cfg.Role, cfg.PeerHost),
		done: make(chan struct{}),
	}
	a.log = logging.For("adapter").With("name", a.name)
	a.state.Store(int32(Starting))
	return a, nil
}

// Name returns the exported name
func (a *Adapter) Name() string { return a.name }

// PeerURL returns the URL the adapter looks its peer up at
func (a *Adapter) PeerURL() string {
	l := a.cfg.Locator
	return URL(a.cfg.PeerHost, l.Port, l.AdapterName(a.cfg.Role.Peer(), l.HostName))
}

// State returns the lifecycle state
func (a *Adapter) State() State {
	return State(a.state.Load())
}

// Status returns the last peer status message
func (a *Adapter) Status() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// ServerStatus returns the last registry status message
func (a *Adapter) ServerStatus() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.serverStatus
}

// Peer returns the connected peer or nil
func (a *Adapter) Peer() Peer {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.peer
}

// Start exports the handler and launches the loop. A failed export is
// fatal for the adapter, which ends up Stopped.
func (a *Adapter) Start(ctx context.Context) error {
	if !a.started.CompareAndSwap(false, true) {
		return fmt.Errorf("adapter: start in state %v", a.State())
	}
	if err := a.tr.Export(a.name, a.cfg.Handler); err != nil {
		a.state.Store(int32(Stopped))
		close(a.done)
		a.log.Error("export failed", "error", err)
		return fmt.Errorf("export %s: %w", a.name, err)
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel
	a.state.Store(int32(Running))
	a.log.Info("adapter started", "peer", a.PeerURL())
	go a.loop(loopCtx)
	return nil
}

// Shutdown stops the loop, unexports the handler and deregisters from the
// server. It waits for the loop at most ShutdownTimeout.
func (a *Adapter) Shutdown() error {
	if !a.state.CompareAndSwap(int32(Running), int32(Terminating)) {
		return nil
	}
	a.cancel()

	var errs []error
	if err := a.tr.Unexport(a.name); err != nil {
		errs = append(errs, fmt.Errorf("unexport: %w", err))
	}

	timer := time.NewTimer(a.cfg.ShutdownTimeout)
	defer timer.Stop()
	select {
	case <-a.done:
	case <-timer.C:
		a.log.Warn("adapter loop did not stop", "timeout", a.cfg.ShutdownTimeout)
		errs = append(errs, ErrShutdownTimeout)
	}

	a.mu.Lock()
	peer, server := a.peer, a.server
	a.peer, a.server = nil, nil
	a.mu.Unlock()

	if a.cfg.Server != nil {
		if err := a.deregister(server); err != nil {
			errs = append(errs, err)
		}
	}
	if peer != nil {
		peer.Close()
	}
	a.state.Store(int32(Stopped))
	a.log.Info("adapter stopped")
	if a.cfg.OnStopped != nil {
		a.cfg.OnStopped()
	}
	return errors.Join(errs...)
}

func (a *Adapter) loop(ctx context.Context) {
	defer close(a.done)
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	a.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.tick(ctx)
		}
	}
}

// tick runs one round of lookup, heartbeat and registration. It never
// fails; problems end up in the status messages.
func (a *Adapter) tick(ctx context.Context) {
	a.mu.Lock()
	peer := a.peer
	a.mu.Unlock()

	if peer == nil {
		cctx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout)
		p, err := a.tr.Lookup(cctx, a.PeerURL())
		cancel()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			a.setStatus(lookupStatus(err), err)
		} else {
			a.mu.Lock()
			a.peer = p
			a.mu.Unlock()
			peer = p
			if a.cfg.OnPeerChanged != nil {
				a.cfg.OnPeerChanged(ctx, p)
			}
		}
	}

	if peer != nil {
		cctx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout)
		_, err := peer.Call(cctx, MethodPing, nil)
		cancel()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			a.mu.Lock()
			a.peer = nil
			a.mu.Unlock()
			peer.Close()
			a.setStatus(StatusBroken, err)
			if a.cfg.OnPeerChanged != nil {
				a.cfg.OnPeerChanged(ctx, nil)
			}
		} else {
			a.setStatus(StatusConnected, nil)
		}
	}

	if a.cfg.Server != nil {
		a.register(ctx)
	}
}

// register re-registers with the server so a restarted server relearns
// the live adapters
func (a *Adapter) register(ctx context.Context) {
	a.mu.Lock()
	server := a.server
	a.mu.Unlock()

	l := a.cfg.Locator
	if server == nil {
		cctx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout)
		p, err := a.tr.Lookup(cctx, URL(a.cfg.Server.Host, l.Port, l.ServerName()))
		cancel()
		if err != nil {
			a.setServerStatus("server "+lookupStatus(err), err)
			return
		}
		server = p
		a.mu.Lock()
		a.server = p
		a.mu.Unlock()
	}

	cctx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout)
	_, err := server.Call(cctx, MethodServe, a.registration())
	cancel()
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		a.mu.Lock()
		a.server = nil
		a.mu.Unlock()
		server.Close()
		a.setServerStatus("server "+StatusBroken, err)
		return
	}
	a.setServerStatus("server "+StatusConnected, nil)
}

// deregister tells the server to drop this adapter. Without a cached
// handle the server is looked up again; an unreachable server is only
// logged.
func (a *Adapter) deregister(server Peer) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.CallTimeout)
	defer cancel()
	if server == nil {
		l := a.cfg.Locator
		p, err := a.tr.Lookup(ctx, URL(a.cfg.Server.Host, l.Port, l.ServerName()))
		if err != nil {
			a.log.Info("server not reachable for deregistration", "error", err)
			return nil
		}
		server = p
	}
	defer server.Close()
	if _, err := server.Call(ctx, MethodDestroy, a.registration()); err != nil {
		return &CallError{Method: MethodDestroy, Err: err}
	}
	return nil
}

func (a *Adapter) registration() []byte {
	return EncodeRegistration(Registration{
		Host:     a.cfg.Locator.HostName,
		ScreenID: a.cfg.Server.ScreenID,
		Payload:  a.cfg.Server.Payload,
	})
}

func (a *Adapter) setStatus(status string, err error) {
	a.mu.Lock()
	changed := a.status != status
	a.status = status
	a.mu.Unlock()
	if !changed {
		return
	}
	if err != nil {
		a.log.Info("peer status", "status", status, "error", err)
	} else {
		a.log.Info("peer status", "status", status)
	}
	if a.cfg.OnStatus != nil {
		a.cfg.OnStatus(status)
	}
}

func (a *Adapter) setServerStatus(status string, err error) {
	a.mu.Lock()
	changed := a.serverStatus != status
	a.serverStatus = status
	a.mu.Unlock()
	if changed {
		a.log.Info("server status", "status", status, "error", err)
	}
}

func lookupStatus(err error) string {
	switch {
	case errors.Is(err, ErrNotBound):
		return StatusPeerDown
	case errors.Is(err, ErrInvalidURL):
		return StatusInvalidURL
	default:
		return StatusPeerMissing
	}
}
