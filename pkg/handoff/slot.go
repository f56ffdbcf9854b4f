package handoff

import (
	"context"
	"sync"
)

// Slot passes one value at a time from a producer to a consumer. Publish
// blocks until the previously published value has been consumed, so the
// producer is never more than one value ahead; Consume blocks until a
// value is published.
type Slot[T any] struct {
	ch        chan T
	done      chan struct{}
	closeOnce sync.Once
}

// NewSlot creates an empty slot
func NewSlot[T any]() *Slot[T] {
	return &Slot[T]{
		ch:   make(chan T, 1),
		done: make(chan struct{}),
	}
}

// Publish stores v once the slot is empty
func (s *Slot[T]) Publish(ctx context.Context, v T) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	select {
	case s.ch <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
}

// Consume takes the published value, waiting for one if the slot is empty.
// A value published before Close is still returned.
func (s *Slot[T]) Consume(ctx context.Context) (T, error) {
	v, _, err := s.ConsumeOr(ctx, nil)
	return v, err
}

// ConsumeOr is Consume that also returns, with ok false, when wake fires
func (s *Slot[T]) ConsumeOr(ctx context.Context, wake <-chan struct{}) (v T, ok bool, err error) {
	select {
	case v = <-s.ch:
		return v, true, nil
	case <-wake:
		return v, false, nil
	case <-ctx.Done():
		return v, false, ctx.Err()
	case <-s.done:
		select {
		case v = <-s.ch:
			return v, true, nil
		default:
			return v, false, ErrClosed
		}
	}
}

// TryConsume takes the published value without waiting
func (s *Slot[T]) TryConsume() (T, bool) {
	select {
	case v := <-s.ch:
		return v, true
	default:
		var zero T
		return zero, false
	}
}

// Pending reports whether a value waits to be consumed
func (s *Slot[T]) Pending() bool {
	return len(s.ch) > 0
}

// Close wakes blocked callers. Safe to call more than once.
func (s *Slot[T]) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}
