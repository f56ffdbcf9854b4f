package handoff

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSlot_ProducerStaysOneAhead(t *testing.T) {
	ctx := context.Background()
	s := NewSlot[int]()

	var published atomic.Int32
	go func() {
		for i := 1; i <= 3; i++ {
			if err := s.Publish(ctx, i); err != nil {
				return
			}
			published.Add(1)
		}
	}()

	time.Sleep(30 * time.Millisecond)
	if n := published.Load(); n != 1 {
		t.Fatalf("producer published %d values before any consume, want 1", n)
	}

	for want := 1; want <= 3; want++ {
		v, err := s.Consume(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if v != want {
			t.Errorf("consume = %d, want %d", v, want)
		}
	}
}

func TestSlot_TryConsume(t *testing.T) {
	s := NewSlot[string]()
	if _, ok := s.TryConsume(); ok {
		t.Error("empty slot returned a value")
	}
	s.Publish(context.Background(), "frame")
	if !s.Pending() {
		t.Error("published value should be pending")
	}
	v, ok := s.TryConsume()
	if !ok || v != "frame" {
		t.Errorf("TryConsume = %q, %v", v, ok)
	}
}

func TestSlot_Close(t *testing.T) {
	ctx := context.Background()
	s := NewSlot[int]()
	s.Publish(ctx, 7)
	s.Close()

	if err := s.Publish(ctx, 8); !errors.Is(err, ErrClosed) {
		t.Errorf("publish after close: %v", err)
	}
	v, err := s.Consume(ctx)
	if err != nil || v != 7 {
		t.Errorf("value published before close lost: %d, %v", v, err)
	}
	if _, err := s.Consume(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
