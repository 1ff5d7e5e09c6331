package workers

import (
	"context"
	"errors"

	"github.com/cbodonnell/flywheel-stats/pkg/events"
	"github.com/cbodonnell/flywheel-stats/pkg/log"
)

type EventHandler interface {
	Handle(e events.Event) error
}

// EventWorker is the single event-delivery context: it applies events one at
// a time in the order they were received.
type EventWorker struct {
	handler   EventHandler
	eventChan <-chan events.Event
	done      chan struct{}
}

type NewEventWorkerOptions struct {
	Handler   EventHandler
	EventChan <-chan events.Event
}

// NewEventWorker creates a new EventWorker.
// The worker processes events from the event source until its channel is closed.
func NewEventWorker(opts NewEventWorkerOptions) *EventWorker {
	return &EventWorker{
		handler:   opts.Handler,
		eventChan: opts.EventChan,
		done:      make(chan struct{}),
	}
}

// Start processes events until the channel is closed or ctx is done.
// After ctx is done, events already in the channel are still applied.
func (w *EventWorker) Start(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return
		case e, ok := <-w.eventChan:
			if !ok {
				return
			}
			w.handle(e)
		}
	}
}

func (w *EventWorker) drain() {
	for {
		select {
		case e, ok := <-w.eventChan:
			if !ok {
				return
			}
			w.handle(e)
		default:
			return
		}
	}
}

func (w *EventWorker) handle(e events.Event) {
	if err := w.handler.Handle(e); err != nil {
		if errors.Is(err, events.ErrInvalidEvent) {
			log.Warn("Dropping event: %v", err)
			return
		}
		log.Error("Failed to handle %s event for %s: %v", e.Kind, e.EntityID, err)
	}
}

// Done is closed when Start has returned.
func (w *EventWorker) Done() <-chan struct{} {
	return w.done
}
