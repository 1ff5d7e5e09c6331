package workers

import (
	"context"
	"time"

	"github.com/cbodonnell/flywheel-stats/pkg/config"
	"github.com/cbodonnell/flywheel-stats/pkg/log"
	"github.com/cbodonnell/flywheel-stats/pkg/stats"
)

const DefaultShutdownGrace = 5 * time.Second

// StatusSource is the event source side of the live snapshot refresh.
type StatusSource interface {
	// OnlineEntities returns the entities the event source currently reports online.
	OnlineEntities() []stats.OnlineEntity
	Status(ctx context.Context, id string) (stats.LiveSnapshot, error)
}

type SnapshotWriter interface {
	WriteSnapshot(id string, snapshot stats.LiveSnapshot)
}

type SettingsProvider interface {
	Settings() *config.Settings
}

type SnapshotWorker struct {
	source   StatusSource
	writer   SnapshotWriter
	settings SettingsProvider
	interval time.Duration
	grace    time.Duration
	done     chan struct{}
}

type NewSnapshotWorkerOptions struct {
	Source   StatusSource
	Writer   SnapshotWriter
	Settings SettingsProvider
	Interval time.Duration
	// Grace bounds how long a tick in flight may run after the worker is stopped.
	Grace time.Duration
}

// NewSnapshotWorker creates a new SnapshotWorker.
// The worker periodically refreshes the live snapshot of every online entity.
func NewSnapshotWorker(opts NewSnapshotWorkerOptions) *SnapshotWorker {
	if opts.Grace <= 0 {
		opts.Grace = DefaultShutdownGrace
	}
	return &SnapshotWorker{
		source:   opts.Source,
		writer:   opts.Writer,
		settings: opts.Settings,
		interval: opts.Interval,
		grace:    opts.Grace,
		done:     make(chan struct{}),
	}
}

// Start runs until ctx is done. A tick in flight when ctx is canceled may
// finish within the grace period; no tick starts after cancellation.
func (w *SnapshotWorker) Start(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// tickCtx outlives ctx by the grace period
	tickCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := context.AfterFunc(ctx, func() {
		time.AfterFunc(w.grace, cancel)
	})
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			w.tick(tickCtx)
		}
	}
}

// Done is closed when Start has returned.
func (w *SnapshotWorker) Done() <-chan struct{} {
	return w.done
}

func (w *SnapshotWorker) tick(ctx context.Context) {
	if w.settings != nil && !w.settings.Settings().LiveTracking() {
		return
	}

	online := w.source.OnlineEntities()
	written := 0
	for _, e := range online {
		if ctx.Err() != nil {
			log.Warn("Abandoning live snapshot refresh after %d of %d entities", written, len(online))
			return
		}
		snapshot, err := w.source.Status(ctx, e.ID)
		if err != nil {
			log.Warn("Failed to get status of %s: %v", e.ID, err)
			continue
		}
		w.writer.WriteSnapshot(e.ID, snapshot)
		written++
	}
	if len(online) > 0 {
		log.Debug("Updated live data for %d of %d online entities", written, len(online))
	}
}
