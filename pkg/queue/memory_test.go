package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryQueue_FIFO(t *testing.T) {
	q := NewInMemoryQueue[int](4)
	for i := 1; i <= 3; i++ {
		require.NoError(t, q.Enqueue(i, 0))
	}
	assert.Equal(t, 3, q.Size())

	ctx := context.Background()
	for want := 1; want <= 3; want++ {
		got, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestInMemoryQueue_FullTimesOut(t *testing.T) {
	q := NewInMemoryQueue[string](1)
	require.NoError(t, q.Enqueue("a", 0))

	assert.ErrorIs(t, q.Enqueue("b", 0), ErrQueueFull)

	start := time.Now()
	err := q.Enqueue("b", 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestInMemoryQueue_WaitsForSpace(t *testing.T) {
	q := NewInMemoryQueue[int](1)
	require.NoError(t, q.Enqueue(1, 0))

	go func() {
		time.Sleep(10 * time.Millisecond)
		_, _ = q.Dequeue(context.Background())
	}()

	assert.NoError(t, q.Enqueue(2, time.Second))
}

func TestInMemoryQueue_CloseDrains(t *testing.T) {
	q := NewInMemoryQueue[int](4)
	require.NoError(t, q.Enqueue(1, 0))
	require.NoError(t, q.Enqueue(2, 0))
	q.Close()
	q.Close()

	assert.ErrorIs(t, q.Enqueue(3, 0), ErrQueueClosed)

	ctx := context.Background()
	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, got)
	got, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, got)
	_, err = q.Dequeue(ctx)
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestInMemoryQueue_DequeueCanceled(t *testing.T) {
	q := NewInMemoryQueue[int](1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestInMemoryQueue_ConcurrentProducers(t *testing.T) {
	q := NewInMemoryQueue[int](16)
	const producers, perProducer = 8, 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				assert.NoError(t, q.Enqueue(i, time.Second))
			}
		}()
	}

	received := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		for received < producers*perProducer {
			if _, err := q.Dequeue(context.Background()); err == nil {
				received++
			}
		}
	}()

	wg.Wait()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for consumer")
	}
	assert.Equal(t, producers*perProducer, received)
}
