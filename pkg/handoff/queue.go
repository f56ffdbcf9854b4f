// Package handoff provides the two primitives that move frames between
// goroutines: a bounded queue with backpressure and batch draining, and a
// single-slot cell that keeps a producer at most one value ahead of its
// consumer.
package handoff

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by operations on a closed queue or slot once no
// buffered value is left
var ErrClosed = errors.New("handoff: closed")

// Queue is a bounded FIFO. Put blocks while the queue is full and Take
// blocks while it is empty. The zero value of T is a valid payload.
//
// After Close, Put fails and Take keeps returning buffered items until the
// queue is empty, so a consumer loop drains everything enqueued before
// shutdown.
type Queue[T any] struct {
	ch        chan T
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueue creates a queue holding at most capacity items. A capacity
// below 1 is raised to 1.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{
		ch:   make(chan T, capacity),
		done: make(chan struct{}),
	}
}

// Put appends v, blocking while the queue is full
func (q *Queue[T]) Put(ctx context.Context, v T) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case q.ch <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return ErrClosed
	}
}

// Take removes the oldest item, blocking while the queue is empty
func (q *Queue[T]) Take(ctx context.Context) (T, error) {
	var zero T
	select {
	case v := <-q.ch:
		return v, nil
	default:
	}
	select {
	case v := <-q.ch:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-q.done:
		select {
		case v := <-q.ch:
			return v, nil
		default:
			return zero, ErrClosed
		}
	}
}

// TakeAll blocks for one item and then removes every item that was
// buffered at that moment, oldest first. Each removed item frees one slot.
// It is meant for a single consumer.
func (q *Queue[T]) TakeAll(ctx context.Context) ([]T, error) {
	first, err := q.Take(ctx)
	if err != nil {
		return nil, err
	}
	n := len(q.ch)
	items := make([]T, 1, n+1)
	items[0] = first

drainLoop:
	for i := 0; i < n; i++ {
		select {
		case v := <-q.ch:
			items = append(items, v)
		default:
			break drainLoop
		}
	}
	return items, nil
}

// Len returns the number of buffered items
func (q *Queue[T]) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity
func (q *Queue[T]) Cap() int {
	return cap(q.ch)
}

// Close stops accepting items and wakes blocked callers. It is safe to
// call more than once.
func (q *Queue[T]) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}

// Closed reports whether Close was called
func (q *Queue[T]) Closed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}
