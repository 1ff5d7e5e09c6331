package broker

import (
	"fmt"
	"time"

	"github.com/cbodonnell/flywheel-stats/pkg/log"
	"github.com/nats-io/nats.go"
)

// Connect opens a client connection that keeps reconnecting while the process runs.
func Connect(url string, name string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(name),
		nats.Timeout(10 * time.Second),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("Disconnected from NATS: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("Reconnected to NATS at %s", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			log.Error("NATS error on %q: %v", subject, err)
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", url, err)
	}
	return nc, nil
}

// EventsSubject is the subject the event source publishes event envelopes on.
func EventsSubject(prefix string) string {
	return prefix + ".events"
}

// StatusSubject is the request subject answered with the live status of id.
func StatusSubject(prefix string, id string) string {
	return prefix + ".status." + id
}
