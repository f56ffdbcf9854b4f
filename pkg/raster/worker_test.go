package raster

import (
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/recera/lcars/internal/parallel"
)

// manualExec holds submitted tasks until the test runs them
type manualExec struct {
	mu     sync.Mutex
	tasks  []func()
	closed bool
}

func (m *manualExec) Submit(fn func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.tasks = append(m.tasks, fn)
	return true
}

func (m *manualExec) runAll() int {
	m.mu.Lock()
	tasks := m.tasks
	m.tasks = nil
	m.mu.Unlock()
	for _, fn := range tasks {
		fn()
	}
	return len(tasks)
}

func fill(dst *image.RGBA, c color.RGBA) error {
	for i := 0; i < len(dst.Pix); i += 4 {
		dst.Pix[i], dst.Pix[i+1], dst.Pix[i+2], dst.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return nil
}

func TestWorker_CoalescesInvalidations(t *testing.T) {
	exec := &manualExec{}
	var inputs []color.RGBA
	w := NewWorker(image.Rect(0, 0, 4, 4), exec, func(dst *image.RGBA, c color.RGBA) error {
		inputs = append(inputs, c)
		return fill(dst, c)
	})

	red := color.RGBA{R: 255, A: 255}
	blue := color.RGBA{B: 255, A: 255}
	w.Invalidate(red)
	w.Invalidate(blue)
	if !w.Pending() {
		t.Fatal("a task should be pending")
	}

	if n := exec.runAll(); n != 1 {
		t.Fatalf("submitted %d tasks, want 1", n)
	}
	if len(inputs) != 1 || inputs[0] != blue {
		t.Errorf("rasterized %v, want only the second input", inputs)
	}
	if got := w.Image().RGBAAt(1, 1); got != blue {
		t.Errorf("image = %v, want blue", got)
	}
	if w.Rasterized() != 1 {
		t.Errorf("rasterized = %d, want 1", w.Rasterized())
	}
}

func TestWorker_FrontStaysCompleteWhileRasterizing(t *testing.T) {
	exec := &manualExec{}
	green := color.RGBA{G: 255, A: 255}
	gate := make(chan struct{})
	started := make(chan struct{})
	w := NewWorker(image.Rect(0, 0, 2, 2), exec, func(dst *image.RGBA, c color.RGBA) error {
		if c == green {
			close(started)
			<-gate
		}
		return fill(dst, c)
	})

	white := color.RGBA{255, 255, 255, 255}
	w.Invalidate(white)
	exec.runAll()

	w.Invalidate(green)
	go exec.runAll()
	<-started
	if got := w.Image().RGBAAt(0, 0); got != white {
		t.Errorf("half-finished buffer exposed: %v", got)
	}
	close(gate)

	deadline := time.Now().Add(time.Second)
	for w.Rasterized() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := w.Image().RGBAAt(0, 0); got != green {
		t.Errorf("completed image not exposed: %v", got)
	}
}

func TestWorker_FailureKeepsLastImage(t *testing.T) {
	exec := &manualExec{}
	w := NewWorker(image.Rect(0, 0, 2, 2), exec, func(dst *image.RGBA, c color.RGBA) error {
		if c.A == 0 {
			return errors.New("transparent input")
		}
		return fill(dst, c)
	})
	red := color.RGBA{R: 255, A: 255}
	w.Invalidate(red)
	exec.runAll()
	w.Invalidate(color.RGBA{})
	exec.runAll()
	if got := w.Image().RGBAAt(0, 0); got != red {
		t.Errorf("failed task replaced the image: %v", got)
	}
}

func TestWorker_Rejected(t *testing.T) {
	exec := &manualExec{closed: true}
	w := NewWorker(image.Rect(0, 0, 1, 1), exec, func(*image.RGBA, int) error { return nil })
	if err := w.Invalidate(1); !errors.Is(err, ErrRejected) {
		t.Errorf("expected ErrRejected, got %v", err)
	}
	if w.Pending() {
		t.Error("rejected task left pending")
	}
}

func TestWorker_WithPool(t *testing.T) {
	pool := parallel.NewPool(2)
	defer pool.Close()

	done := make(chan struct{}, 16)
	w := NewWorker(image.Rect(0, 0, 8, 8), pool, func(dst *image.RGBA, n int) error {
		return fill(dst, color.RGBA{R: uint8(n), A: 255})
	})
	w.OnDone(func() { done <- struct{}{} })

	for i := 1; i <= 10; i++ {
		w.Invalidate(i)
	}
	deadline := time.After(time.Second)
	for {
		select {
		case <-done:
		case <-deadline:
			t.Fatal("rasterization never completed")
		}
		if !w.Pending() && w.Image().RGBAAt(0, 0).R == 10 {
			break
		}
	}
	if w.Rasterized() > 10 {
		t.Errorf("more tasks than invalidations: %d", w.Rasterized())
	}
}
