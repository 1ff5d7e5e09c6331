package workers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cbodonnell/flywheel-stats/pkg/config"
	"github.com/cbodonnell/flywheel-stats/pkg/events"
	"github.com/cbodonnell/flywheel-stats/pkg/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	online []stats.OnlineEntity
	block  bool
	calls  atomic.Int32
}

func (s *fakeSource) OnlineEntities() []stats.OnlineEntity {
	return s.online
}

func (s *fakeSource) Status(ctx context.Context, id string) (stats.LiveSnapshot, error) {
	s.calls.Add(1)
	if s.block {
		<-ctx.Done()
		return stats.LiveSnapshot{}, ctx.Err()
	}
	if id == "broken" {
		return stats.LiveSnapshot{}, errors.New("no reply")
	}
	return stats.LiveSnapshot{Health: 10, World: "world", LastUpdated: 1}, nil
}

type fakeSnapshotWriter struct {
	mu      sync.Mutex
	written map[string]int
}

func (w *fakeSnapshotWriter) WriteSnapshot(id string, snapshot stats.LiveSnapshot) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.written[id]++
}

func (w *fakeSnapshotWriter) count(id string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written[id]
}

type staticSettings struct {
	s *config.Settings
}

func (p staticSettings) Settings() *config.Settings {
	return p.s
}

func waitDone(t *testing.T, done <-chan struct{}, within time.Duration) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(within):
		t.Fatal("worker did not stop in time")
	}
}

func TestSnapshotWorker_WritesOnlineEntities(t *testing.T) {
	source := &fakeSource{online: []stats.OnlineEntity{{ID: "a"}, {ID: "broken"}, {ID: "b"}}}
	writer := &fakeSnapshotWriter{written: map[string]int{}}
	w := NewSnapshotWorker(NewSnapshotWorkerOptions{
		Source:   source,
		Writer:   writer,
		Settings: staticSettings{s: config.DefaultSettings()},
		Interval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go w.Start(ctx)
	assert.Eventually(t, func() bool { return writer.count("a") >= 2 && writer.count("b") >= 2 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	waitDone(t, w.Done(), time.Second)

	assert.Equal(t, 0, writer.count("broken"))
}

func TestSnapshotWorker_NoTickAfterStop(t *testing.T) {
	source := &fakeSource{online: []stats.OnlineEntity{{ID: "a"}}}
	writer := &fakeSnapshotWriter{written: map[string]int{}}
	w := NewSnapshotWorker(NewSnapshotWorkerOptions{Source: source, Writer: writer, Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	go w.Start(ctx)
	assert.Eventually(t, func() bool { return writer.count("a") > 0 }, 5*time.Second, time.Millisecond)
	cancel()
	waitDone(t, w.Done(), time.Second)

	after := writer.count("a")
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, writer.count("a"))
}

func TestSnapshotWorker_AbandonsTickAfterGrace(t *testing.T) {
	source := &fakeSource{online: []stats.OnlineEntity{{ID: "a"}, {ID: "b"}}, block: true}
	writer := &fakeSnapshotWriter{written: map[string]int{}}
	w := NewSnapshotWorker(NewSnapshotWorkerOptions{
		Source:   source,
		Writer:   writer,
		Interval: 5 * time.Millisecond,
		Grace:    50 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go w.Start(ctx)
	assert.Eventually(t, func() bool { return source.calls.Load() > 0 }, 5*time.Second, time.Millisecond)

	start := time.Now()
	cancel()
	waitDone(t, w.Done(), 5*time.Second)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond, "the tick in flight gets the grace period")
	assert.Equal(t, int32(1), source.calls.Load(), "the rest of the abandoned tick is skipped")
	assert.Equal(t, 0, writer.count("a"))
}

func TestSnapshotWorker_LiveTrackingDisabled(t *testing.T) {
	c := config.Default()
	c.Tracking.Location = false
	c.Tracking.HealthFood = false
	settings, err := c.Settings()
	require.NoError(t, err)

	source := &fakeSource{online: []stats.OnlineEntity{{ID: "a"}}}
	writer := &fakeSnapshotWriter{written: map[string]int{}}
	w := NewSnapshotWorker(NewSnapshotWorkerOptions{Source: source, Writer: writer, Settings: staticSettings{s: settings}, Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	go w.Start(ctx)
	time.Sleep(40 * time.Millisecond)
	cancel()
	waitDone(t, w.Done(), time.Second)

	assert.Equal(t, int32(0), source.calls.Load())
	assert.Equal(t, 0, writer.count("a"))
}

type recordingHandler struct {
	mu   sync.Mutex
	seen []events.Event
}

func (h *recordingHandler) Handle(e events.Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, e)
	return nil
}

func TestEventWorker_AppliesInOrder(t *testing.T) {
	ch := make(chan events.Event, 8)
	h := &recordingHandler{}
	w := NewEventWorker(NewEventWorkerOptions{Handler: h, EventChan: ch})
	go w.Start(context.Background())

	ch <- events.Event{EntityID: "a", Kind: events.EventJoin, Timestamp: 1}
	ch <- events.Event{EntityID: "a", Kind: "bogus"}
	ch <- events.Event{EntityID: "a", Kind: events.EventQuit, Timestamp: 2}
	close(ch)
	waitDone(t, w.Done(), time.Second)

	require.Len(t, h.seen, 2)
	assert.Equal(t, events.EventJoin, h.seen[0].Kind)
	assert.Equal(t, events.EventQuit, h.seen[1].Kind)
}

func TestEventWorker_DrainsOnCancel(t *testing.T) {
	ch := make(chan events.Event, 8)
	h := &recordingHandler{}
	w := NewEventWorker(NewEventWorkerOptions{Handler: h, EventChan: ch})

	for i := 0; i < 5; i++ {
		ch <- events.Event{EntityID: "a", Kind: events.EventCraft, Timestamp: int64(i + 1)}
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.Start(ctx)

	assert.Len(t, h.seen, 5)
}
