package broker

import (
	"fmt"
	"sync"

	"github.com/cbodonnell/flywheel-stats/pkg/events"
	"github.com/cbodonnell/flywheel-stats/pkg/log"
	"github.com/cbodonnell/flywheel-stats/pkg/messages"
	"github.com/nats-io/nats.go"
)

// Subscriber receives event envelopes from NATS and hands them, in arrival
// order, to the event channel.
type Subscriber struct {
	conn    *nats.Conn
	subject string
	out     chan<- events.Event

	lock    sync.Mutex
	sub     *nats.Subscription
	stopped chan struct{}
}

type NewSubscriberOptions struct {
	Conn *nats.Conn
	// Subject is the prefix shared by every subject of this service.
	Subject   string
	EventChan chan<- events.Event
}

func NewSubscriber(opts NewSubscriberOptions) *Subscriber {
	return &Subscriber{
		conn:    opts.Conn,
		subject: EventsSubject(opts.Subject),
		out:     opts.EventChan,
		stopped: make(chan struct{}),
	}
}

func (s *Subscriber) Start() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.sub != nil {
		return fmt.Errorf("subscriber already started")
	}

	// NATS invokes the handler of one subscription sequentially, which keeps event order.
	sub, err := s.conn.Subscribe(s.subject, s.handle)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.subject, err)
	}
	s.sub = sub
	log.Info("Subscribed to %s", s.subject)
	return nil
}

func (s *Subscriber) handle(msg *nats.Msg) {
	m, err := messages.DeserializeMessage(msg.Data)
	if err != nil {
		log.Warn("Dropping undecodable message on %s: %v", msg.Subject, err)
		return
	}
	e, err := m.ToEvent()
	if err != nil {
		log.Warn("Dropping invalid %q event for %q: %v", m.Type, m.EntityID, err)
		return
	}

	select {
	case s.out <- e:
	case <-s.stopped:
		log.Warn("Dropping %s event for %s received during shutdown", e.Kind, e.EntityID)
	}
}

// Stop unsubscribes. Events already handed over stay in the channel.
func (s *Subscriber) Stop() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	select {
	case <-s.stopped:
		return nil
	default:
		close(s.stopped)
	}
	if s.sub == nil {
		return nil
	}
	if err := s.sub.Unsubscribe(); err != nil {
		return fmt.Errorf("failed to unsubscribe from %s: %w", s.subject, err)
	}
	return nil
}
