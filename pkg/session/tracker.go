package session

import (
	"context"
	"sync"

	"github.com/cbodonnell/flywheel-stats/pkg/log"
)

// PlaytimeWriter receives playtime produced by closed sessions.
type PlaytimeWriter interface {
	AddPlaytime(id string, deltaMs int64)
	FlushPlaytime(ctx context.Context, id string, deltaMs int64) error
}

// Tracker holds the start time of every open session. A repeated join for the
// same id replaces the earlier start time.
type Tracker struct {
	writer PlaytimeWriter
	lock   sync.Mutex
	starts map[string]int64
}

func NewTracker(writer PlaytimeWriter) *Tracker {
	return &Tracker{
		writer: writer,
		starts: make(map[string]int64),
	}
}

// OnJoin opens a session for id at now (Unix milliseconds).
func (t *Tracker) OnJoin(id string, now int64) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if prev, ok := t.starts[id]; ok {
		log.Debug("Replacing open session of %s started at %d", id, prev)
	}
	t.starts[id] = now
}

// OnQuit closes the session of id and adds its duration to the playtime.
func (t *Tracker) OnQuit(id string, now int64) {
	t.lock.Lock()
	start, ok := t.starts[id]
	delete(t.starts, id)
	t.lock.Unlock()

	if !ok {
		log.Warn("Quit for %s without an open session, playtime not updated", id)
		return
	}
	t.writer.AddPlaytime(id, delta(id, start, now))
}

// FlushAll closes every open session at now and waits for each playtime write.
// It returns the number of sessions whose playtime could not be written.
func (t *Tracker) FlushAll(ctx context.Context, now int64) int {
	t.lock.Lock()
	starts := t.starts
	t.starts = make(map[string]int64)
	t.lock.Unlock()

	failed := 0
	for id, start := range starts {
		if err := t.writer.FlushPlaytime(ctx, id, delta(id, start, now)); err != nil {
			failed++
		}
	}
	log.Info("Flushed %d open sessions (%d failed)", len(starts), failed)
	return failed
}

// Active returns the number of open sessions.
func (t *Tracker) Active() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return len(t.starts)
}

func delta(id string, start, now int64) int64 {
	d := now - start
	if d < 0 {
		log.Warn("Session of %s ends before it starts (%d < %d), counting 0", id, now, start)
		return 0
	}
	return d
}

// Discard closes the session of id without recording playtime.
func (t *Tracker) Discard(id string) {
	t.lock.Lock()
	defer t.lock.Unlock()
	delete(t.starts, id)
}
