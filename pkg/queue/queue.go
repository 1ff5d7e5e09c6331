package queue

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrQueueFull is returned when an item could not be admitted before the timeout.
	ErrQueueFull = errors.New("queue is full")
	// ErrQueueClosed is returned by Enqueue after Close, and by Dequeue once a closed queue is drained.
	ErrQueueClosed = errors.New("queue is closed")
)

// Queue represents a bounded FIFO queue.
type Queue[T any] interface {
	// Enqueue adds an item to the end of the queue, waiting at most timeout for space.
	Enqueue(item T, timeout time.Duration) error
	// Dequeue removes and returns the item at the front of the queue, blocking until one is available.
	Dequeue(ctx context.Context) (T, error)
	Size() int
	// Close stops admission. Items already queued can still be dequeued.
	Close()
}
