package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/recera/lcars/cmd/lcars/internal/panels"
	"github.com/recera/lcars/internal/config"
	"github.com/recera/lcars/internal/logging"
	"github.com/recera/lcars/pkg/adapter"
	"github.com/recera/lcars/pkg/live"
)

// options holds the command line. Flags that were set win over the file.
type options struct {
	configPath string
	debug      bool
	server     bool
	panel      string
	clientOf   string
	display    string
	capture    string
	port       int
	hostName   string

	flags *pflag.FlagSet
}

func (o options) changed(name string) bool {
	return o.flags != nil && o.flags.Changed(name)
}

// apply overrides cfg with the flags that were set
func (o options) apply(cfg *config.Config) {
	if o.changed("panel") {
		cfg.Screen.Panel = o.panel
	}
	if o.changed("display") {
		cfg.Screen.Display = o.display
	}
	if o.changed("capture") {
		cfg.Screen.Capture = o.capture
	}
	if o.changed("port") {
		cfg.Net.Port = o.port
	}
	if o.changed("host-name") {
		cfg.Net.HostName = o.hostName
	}
	if o.debug {
		cfg.Log.Level = "debug"
	}
}

func (o options) validate() error {
	if o.server && o.clientOf != "" {
		return errors.New("--server and --clientof are mutually exclusive")
	}
	return nil
}

// app carries what every mode shares
type app struct {
	opts     options
	cfg      *config.Config
	level    *slog.LevelVar
	log      *slog.Logger
	terminal bool
}

func run(ctx context.Context, opts options) error {
	if err := opts.validate(); err != nil {
		return err
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", opts.configPath, err)
	}
	opts.apply(cfg)
	if cfg.Net.HostName == "" {
		if cfg.Net.HostName, err = os.Hostname(); err != nil {
			return fmt.Errorf("no host name: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a := &app{
		opts:     opts,
		cfg:      cfg,
		level:    new(slog.LevelVar),
		terminal: cfg.Screen.Display == "terminal" && !opts.server,
	}
	closeLog, err := a.setupLogging()
	if err != nil {
		return err
	}
	defer closeLog()

	g, gctx := errgroup.WithContext(ctx)
	switch {
	case opts.server:
		a.log.Info("starting", "mode", "server", "host", cfg.Net.HostName, "port", cfg.Net.Port)
		g.Go(func() error { return a.runServer(gctx) })
	case opts.clientOf != "":
		a.log.Info("starting", "mode", "clientof", "server", opts.clientOf)
		g.Go(func() error { return a.runClient(gctx, opts.clientOf) })
	default:
		a.log.Info("starting", "mode", "local", "panel", cfg.Screen.Panel)
		g.Go(func() error { return a.runLocal(gctx) })
	}

	err = g.Wait()
	if errors.Is(err, errQuit) || ctx.Err() != nil {
		a.log.Info("stopped")
		return nil
	}
	return err
}

// errQuit ends the errgroup when the user closes the display
var errQuit = errors.New("quit")

func (a *app) setupLogging() (func(), error) {
	a.level.Set(logging.ParseLevel(a.cfg.Log.Level))
	var w io.Writer = os.Stderr
	closer := func() {}
	if a.terminal {
		// the terminal display owns stderr
		if a.cfg.Log.File == "" {
			w = io.Discard
		} else {
			f, err := os.OpenFile(a.cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				return nil, fmt.Errorf("failed to open log file: %w", err)
			}
			w = f
			closer = func() { f.Close() }
		}
	}
	logging.SetLogger(logging.New(w, a.cfg.Log.Format, a.level))
	a.log = logging.For("lcars")
	return closer, nil
}

// watchConfig applies live-tunable settings when the file changes. Other
// settings need a restart.
func (a *app) watchConfig(ctx context.Context, onRender func(*config.RenderConfig)) {
	if _, err := os.Stat(a.opts.configPath); err != nil {
		return
	}
	err := config.Watch(ctx, a.opts.configPath, func(c *config.Config) {
		if !a.opts.debug {
			a.level.Set(logging.ParseLevel(c.Log.Level))
		}
		if onRender != nil {
			onRender(c.Render)
		}
	})
	if err != nil && ctx.Err() == nil {
		a.log.Warn("config watch stopped", "error", err)
	}
}

func (a *app) locator() adapter.Locator {
	return adapter.Locator{
		HostName:    a.cfg.Net.HostName,
		Port:        a.cfg.Net.Port,
		ServiceName: a.cfg.Net.ServiceName,
	}
}

func (a *app) adapterConfig(role adapter.Role, peerHost string) adapter.Config {
	return adapter.Config{
		Role:            role,
		PeerHost:        peerHost,
		Locator:         a.locator(),
		Interval:        a.cfg.Net.HeartbeatInterval,
		CallTimeout:     a.cfg.Net.CallTimeout,
		ShutdownTimeout: a.cfg.Net.ShutdownTimeout,
	}
}

func (a *app) listenAddr() string {
	return ":" + strconv.Itoa(a.cfg.Net.Port)
}

// runLocal drives a panel and a screen in one process
func (a *app) runLocal(ctx context.Context) error {
	scr, err := a.newScreen()
	if err != nil {
		return err
	}
	defer scr.Close()

	host := newPanelHost(scr.pipeline, a.cfg.Screen.Width, a.cfg.Screen.Height, a.cfg.Screen.UpdateInterval)
	if err := host.SetPanel(ctx, a.cfg.Screen.Panel); err != nil {
		return err
	}
	defer host.Stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.watchConfig(ctx, scr.applyRender)
		return nil
	})
	g.Go(func() error {
		return scr.display(ctx, a.terminal, nil, func() {
			if err := host.Next(ctx); err != nil {
				a.log.Warn("panel switch failed", "error", err)
			}
		})
	})
	return g.Wait()
}

// runServer serves a panel to every screen that registers
func (a *app) runServer(ctx context.Context) error {
	srv := live.NewServer()
	tr := live.NewTransport(srv)
	cfg := a.cfg

	registry := adapter.NewRegistry(func(reg adapter.Registration) (*adapter.Adapter, error) {
		name := string(reg.Payload)
		if name == "" {
			name = cfg.Screen.Panel
		}
		remote := live.NewRemoteScreen(nil)
		host := newPanelHost(remote, cfg.Screen.Width, cfg.Screen.Height, cfg.Screen.UpdateInterval)
		if err := host.SetPanel(ctx, name); err != nil {
			return nil, err
		}
		ac := a.adapterConfig(adapter.RolePanel, reg.Host)
		ac.ScreenID = reg.ScreenID
		ac.Handler = live.NewPanelHandler(host.SetPanel)
		ac.OnPeerChanged = func(ctx context.Context, p adapter.Peer) {
			remote.SetPeer(p)
			if p != nil {
				host.Invalidate()
			}
		}
		ac.OnStopped = host.Stop
		ad, err := adapter.New(ac, tr)
		if err != nil {
			host.Stop()
			return nil, err
		}
		return ad, nil
	})
	defer registry.Close()

	serverName := a.locator().ServerName()
	if err := tr.Export(serverName, registry.Handler()); err != nil {
		return err
	}
	defer tr.Unexport(serverName)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.watchConfig(ctx, nil)
		return nil
	})
	g.Go(func() error { return srv.ListenAndServe(ctx, a.listenAddr()) })
	return g.Wait()
}

// runClient shows the panels served by server
func (a *app) runClient(ctx context.Context, server string) error {
	scr, err := a.newScreen()
	if err != nil {
		return err
	}
	defer scr.Close()

	srv := live.NewServer()
	tr := live.NewTransport(srv)
	remote := live.NewRemotePanel(nil)

	ac := a.adapterConfig(adapter.RoleScreen, server)
	ac.Handler = live.NewScreenHandler(scr.pipeline)
	ac.OnPeerChanged = func(ctx context.Context, p adapter.Peer) {
		remote.SetPeer(p)
	}
	ac.Server = &adapter.ServerLink{Host: server, Payload: []byte(a.cfg.Screen.Panel)}
	ad, err := adapter.New(ac, tr)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ListenAndServe(ctx, a.listenAddr()) })
	if err := ad.Start(ctx); err != nil {
		return err
	}
	defer ad.Shutdown()

	var (
		mu      sync.Mutex
		current = a.cfg.Screen.Panel
	)
	g.Go(func() error {
		a.watchConfig(ctx, scr.applyRender)
		return nil
	})
	g.Go(func() error {
		return scr.display(ctx, a.terminal, ad.Status, func() {
			mu.Lock()
			defer mu.Unlock()
			next := panels.Next(current)
			cctx, cancel := context.WithTimeout(ctx, a.cfg.Net.CallTimeout)
			defer cancel()
			if err := remote.SetPanel(cctx, next); err != nil {
				a.log.Warn("panel switch failed", "error", err)
				return
			}
			current = next
		})
	})
	return g.Wait()
}
