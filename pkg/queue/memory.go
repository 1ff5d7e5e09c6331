package queue

import (
	"context"
	"sync"
	"time"
)

const (
	// DefaultQueueSize is the capacity used when a non-positive size is requested.
	DefaultQueueSize = 1024
)

// InMemoryQueue implements a bounded in-memory queue.
type InMemoryQueue[T any] struct {
	ch     chan T
	lock   sync.RWMutex
	closed bool
}

// NewInMemoryQueue creates a new queue holding at most size items.
func NewInMemoryQueue[T any](size int) *InMemoryQueue[T] {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &InMemoryQueue[T]{
		ch: make(chan T, size),
	}
}

// Enqueue adds an item to the end of the queue.
// A zero timeout only admits the item if there is space right now.
func (q *InMemoryQueue[T]) Enqueue(item T, timeout time.Duration) error {
	// The read lock is held while waiting so Close cannot close the channel under a sender.
	q.lock.RLock()
	defer q.lock.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.ch <- item:
		return nil
	default:
	}
	if timeout <= 0 {
		return ErrQueueFull
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case q.ch <- item:
		return nil
	case <-timer.C:
		return ErrQueueFull
	}
}

// Dequeue removes and returns the item from the front of the queue.
func (q *InMemoryQueue[T]) Dequeue(ctx context.Context) (T, error) {
	select {
	case item, ok := <-q.ch:
		if !ok {
			var zero T
			return zero, ErrQueueClosed
		}
		return item, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Size returns the current size of the queue.
func (q *InMemoryQueue[T]) Size() int {
	return len(q.ch)
}

// Close stops admission of new items. It waits for in-flight Enqueue calls,
// which are bounded by their timeouts.
func (q *InMemoryQueue[T]) Close() {
	q.lock.Lock()
	defer q.lock.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}
