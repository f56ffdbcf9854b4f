// Package raster renders expensive imagery off the paint goroutine.
package raster

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"sync"
	"sync/atomic"

	"github.com/recera/lcars/internal/logging"
)

// ErrRejected is returned when the executor no longer accepts tasks
var ErrRejected = errors.New("raster: executor rejected task")

// Executor runs tasks on some goroutine. *parallel.Pool satisfies it.
type Executor interface {
	Submit(fn func()) bool
}

// Func rasterizes in into dst. dst is cleared before each call.
type Func[T any] func(dst *image.RGBA, in T) error

// Worker keeps two equally sized buffers. One holds the last complete
// image, the other is the target of the running task. At most one task is
// queued at a time: invalidating while a task is pending only replaces its
// input, so bursts coalesce and the newest input wins.
type Worker[T any] struct {
	exec Executor
	fn   Func[T]

	// pendMu guards the pending input
	pendMu     sync.Mutex
	pending    T
	hasPending bool

	// rasterMu serializes tasks
	rasterMu sync.Mutex

	// bufMu guards the front index against readers in View
	bufMu sync.RWMutex
	bufs  [2]*image.RGBA
	front int

	rasterized atomic.Uint64
	onDone     func()
}

// NewWorker creates a worker for images of the given size
func NewWorker[T any](size image.Rectangle, exec Executor, fn Func[T]) *Worker[T] {
	return &Worker[T]{
		exec: exec,
		fn:   fn,
		bufs: [2]*image.RGBA{image.NewRGBA(size), image.NewRGBA(size)},
	}
}

// OnDone registers a callback run after each completed rasterization
func (w *Worker[T]) OnDone(fn func()) {
	w.pendMu.Lock()
	w.onDone = fn
	w.pendMu.Unlock()
}

// Invalidate requests a new image for in. If a task is already pending,
// its input is replaced and no new task is submitted.
func (w *Worker[T]) Invalidate(in T) error {
	w.pendMu.Lock()
	w.pending = in
	if w.hasPending {
		w.pendMu.Unlock()
		return nil
	}
	w.hasPending = true
	w.pendMu.Unlock()

	// submitted outside pendMu so an executor may run the task inline
	if !w.exec.Submit(w.run) {
		w.pendMu.Lock()
		w.hasPending = false
		w.pendMu.Unlock()
		return ErrRejected
	}
	return nil
}

// run rasterizes the pending input into the back buffer and exposes it
// once complete
func (w *Worker[T]) run() {
	w.rasterMu.Lock()
	defer w.rasterMu.Unlock()

	w.pendMu.Lock()
	in := w.pending
	var zero T
	w.pending = zero
	w.hasPending = false
	done := w.onDone
	w.pendMu.Unlock()

	w.bufMu.RLock()
	back := w.bufs[1-w.front]
	w.bufMu.RUnlock()

	draw.Draw(back, back.Bounds(), image.Transparent, image.Point{}, draw.Src)
	if err := w.rasterize(back, in); err != nil {
		logging.For("raster").Warn("rasterization failed", "error", err)
		return
	}

	w.bufMu.Lock()
	w.front = 1 - w.front
	w.bufMu.Unlock()
	w.rasterized.Add(1)
	if done != nil {
		done()
	}
}

func (w *Worker[T]) rasterize(dst *image.RGBA, in T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.fn(dst, in)
}

// View calls fn with the last complete image. The image stays valid and
// unchanged until fn returns.
func (w *Worker[T]) View(fn func(img *image.RGBA)) {
	w.bufMu.RLock()
	defer w.bufMu.RUnlock()
	fn(w.bufs[w.front])
}

// Image returns a copy of the last complete image
func (w *Worker[T]) Image() *image.RGBA {
	var out *image.RGBA
	w.View(func(img *image.RGBA) {
		out = image.NewRGBA(img.Bounds())
		copy(out.Pix, img.Pix)
	})
	return out
}

// Rasterized returns the number of completed rasterizations
func (w *Worker[T]) Rasterized() uint64 {
	return w.rasterized.Load()
}

// Pending reports whether a task is queued but not yet started
func (w *Worker[T]) Pending() bool {
	w.pendMu.Lock()
	defer w.pendMu.Unlock()
	return w.hasPending
}
