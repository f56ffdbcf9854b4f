package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/recera/lcars/cmd/lcars/internal/panels"
	"github.com/recera/lcars/internal/config"
	"github.com/recera/lcars/internal/logging"
	"github.com/recera/lcars/internal/parallel"
	"github.com/recera/lcars/internal/resource"
	"github.com/recera/lcars/internal/termscreen"
	"github.com/recera/lcars/pkg/raster"
	"github.com/recera/lcars/pkg/render"
	"github.com/recera/lcars/pkg/surface"
)

// closeTimeout bounds draining the pipeline on exit
const closeTimeout = time.Second

// screen is the local display side: an image surface, its pipeline and
// the workers behind it
type screen struct {
	img      *surface.Image
	pipeline *render.Pipeline
	pool     *parallel.Pool
	res      *resource.Cache
	capture  string
	title    string
	log      *slog.Logger
}

func (a *app) newScreen() (*screen, error) {
	cfg := a.cfg
	strategy, err := render.ParseStrategy(cfg.Render.Strategy)
	if err != nil {
		return nil, err
	}
	eviction, err := resource.ParseStrategy(cfg.Resources.Strategy)
	if err != nil {
		return nil, err
	}

	s := &screen{
		pool: parallel.NewPool(cfg.Render.RasterWorkers),
		res: resource.New(resource.Config{
			Dir:        cfg.Resources.Dir,
			MaxEntries: cfg.Resources.MaxEntries,
			MaxAge:     cfg.Resources.MaxAge,
			Strategy:   eviction,
		}),
		title: "LCARS " + cfg.Net.HostName,
		log:   logging.For("screen"),
	}
	s.img = surface.NewImage(cfg.Screen.Width, cfg.Screen.Height, s.res)
	for name, fn := range panels.RasterFuncs() {
		w := raster.NewWorker(s.img.Bounds(), s.pool, fn)
		w.OnDone(func() { s.rasterDone(name) })
		s.img.RegisterRaster(name, w)
	}

	opts := []render.Option{
		render.WithStrategy(strategy),
		render.WithQueueCapacity(cfg.Render.QueueCapacity),
		render.WithSelectiveRepaint(cfg.Render.SelectiveRepaint),
	}
	if cfg.Screen.Display == "headless" && cfg.Screen.Capture != "" {
		s.capture = cfg.Screen.Capture
		opts = append(opts, render.WithOnPaint(func(*render.Report) { s.writeCapture() }))
	}
	s.pipeline = render.New(s.img, opts...)
	return s, nil
}

// rasterDone repaints the area of a raster whose new image is complete
func (s *screen) rasterDone(name string) {
	if r, ok := s.img.RasterBounds(name); ok && s.pipeline != nil {
		s.pipeline.Repaint(r)
	}
}

func (s *screen) applyRender(rc *config.RenderConfig) {
	s.pipeline.SetSelectiveRepaint(rc.SelectiveRepaint)
}

func (s *screen) writeCapture() {
	tmp := s.capture + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		s.log.Warn("capture failed", "error", err)
		return
	}
	err = s.img.WritePNG(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp, s.capture)
	}
	if err != nil {
		s.log.Warn("capture failed", "error", err)
	}
}

// display runs the paint side until ctx is done or the user quits.
// status may be nil in local mode.
func (s *screen) display(ctx context.Context, terminal bool, status func() string, onSwitch func()) error {
	if terminal {
		m := termscreen.New(s.pipeline, s.img, termscreen.Options{
			Title:    s.title,
			Status:   status,
			OnSwitch: func() { go onSwitch() },
		})
		if err := termscreen.Run(ctx, m); err != nil {
			return fmt.Errorf("terminal display: %w", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errQuit
	}

	if s.pipeline.Strategy() != render.Async {
		<-ctx.Done()
		return ctx.Err()
	}
	for {
		if _, err := s.pipeline.Paint(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
}

// Close drains the pipeline and stops the workers
func (s *screen) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := s.pipeline.Close(ctx); err != nil {
		s.log.Debug("pipeline closed before draining", "error", err)
	}
	s.pool.Close()
	s.res.Close()
	st := s.pipeline.Stats()
	s.log.Info("screen closed", "updates", st.Updates, "paints", st.Paints, "skipped", st.Skipped())
}
