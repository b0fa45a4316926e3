// Package queue provides the FIFO that bridges a connection's reader goroutine
// and the goroutine that owns the session.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrTimeout = errors.New("queue: pop timed out")

// TimedQueue is an unbounded FIFO with non-blocking Push and bounded-wait Pop.
type TimedQueue[T any] struct {
	mu     sync.Mutex
	items  []T
	signal chan struct{}
}

func New[T any]() *TimedQueue[T] {
	return &TimedQueue[T]{
		items:  make([]T, 0),
		signal: make(chan struct{}, 1),
	}
}

// Push appends item and wakes a waiting Pop.
func (q *TimedQueue[T]) Push(item T) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()

	// signal holds at most one pending wakeup; a waiter re-checks items after it.
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Pop returns the head item, waiting up to timeout for one to arrive.
func (q *TimedQueue[T]) Pop(ctx context.Context, timeout time.Duration) (T, error) {
	if item, ok := q.tryPop(); ok {
		return item, nil
	}

	var zero T
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-q.signal:
			if item, ok := q.tryPop(); ok {
				return item, nil
			}
		case <-timer.C:
			if item, ok := q.tryPop(); ok {
				return item, nil
			}
			return zero, fmt.Errorf("%w after %s", ErrTimeout, timeout)
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

func (q *TimedQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *TimedQueue[T]) tryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return item, true
}
