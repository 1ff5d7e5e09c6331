package broker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cbodonnell/flywheel-stats/pkg/messages"
	"github.com/cbodonnell/flywheel-stats/pkg/state"
	"github.com/cbodonnell/flywheel-stats/pkg/stats"
	"github.com/nats-io/nats.go"
)

const DefaultRequestTimeout = 2 * time.Second

// StatusSource answers the snapshot worker: the online set comes from the
// presence tracked from join and quit events, and each status is requested
// from the event source over NATS.
type StatusSource struct {
	conn     *nats.Conn
	subject  string
	presence state.PresenceManager
	timeout  time.Duration
	now      func() time.Time
}

type NewStatusSourceOptions struct {
	Conn           *nats.Conn
	Subject        string
	Presence       state.PresenceManager
	RequestTimeout time.Duration
	Clock          func() time.Time
}

func NewStatusSource(opts NewStatusSourceOptions) *StatusSource {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &StatusSource{
		conn:     opts.Conn,
		subject:  opts.Subject,
		presence: opts.Presence,
		timeout:  opts.RequestTimeout,
		now:      opts.Clock,
	}
}

func (s *StatusSource) OnlineEntities() []stats.OnlineEntity {
	return s.presence.Snapshot()
}

// Status requests the live status of id and converts it into a snapshot.
func (s *StatusSource) Status(ctx context.Context, id string) (stats.LiveSnapshot, error) {
	if id == "" || strings.ContainsAny(id, ".*> \t\r\n") {
		return stats.LiveSnapshot{}, fmt.Errorf("entity id %q is not a valid subject token", id)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	msg, err := s.conn.RequestWithContext(ctx, StatusSubject(s.subject, id), nil)
	if err != nil {
		return stats.LiveSnapshot{}, fmt.Errorf("failed to request status of %s: %w", id, err)
	}
	status, err := messages.DeserializeStatus(msg.Data)
	if err != nil {
		return stats.LiveSnapshot{}, err
	}
	return status.Snapshot(s.now().UnixMilli()), nil
}
