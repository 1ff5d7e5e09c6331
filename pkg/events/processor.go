package events

import (
	"sync/atomic"
	"time"

	"github.com/cbodonnell/flywheel-stats/pkg/config"
	"github.com/cbodonnell/flywheel-stats/pkg/log"
	"github.com/cbodonnell/flywheel-stats/pkg/state"
	"github.com/cbodonnell/flywheel-stats/pkg/stats"
)

// Ledger is the write side used by the processor. Calls must not block for long.
type Ledger interface {
	UpsertOnline(id string, displayName string, now int64)
	MarkOffline(id string, now int64)
	IncrementCounter(id string, kind stats.CounterKind, amount float64)
}

type SessionTracker interface {
	OnJoin(id string, now int64)
	OnQuit(id string, now int64)
	Discard(id string)
}

// Processor turns events into ledger mutations. It is meant to be driven from a
// single goroutine so the events of one entity keep their order.
type Processor struct {
	ledger   Ledger
	sessions SessionTracker
	presence state.PresenceManager
	settings atomic.Pointer[config.Settings]
	now      func() time.Time
}

type NewProcessorOptions struct {
	Ledger   Ledger
	Sessions SessionTracker
	Presence state.PresenceManager
	Settings *config.Settings
	Clock    func() time.Time
}

func NewProcessor(opts NewProcessorOptions) *Processor {
	if opts.Settings == nil {
		opts.Settings = config.DefaultSettings()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	p := &Processor{
		ledger:   opts.Ledger,
		sessions: opts.Sessions,
		presence: opts.Presence,
		now:      opts.Clock,
	}
	p.settings.Store(opts.Settings)
	return p
}

// SetSettings swaps the tracking settings used for every following event.
func (p *Processor) SetSettings(s *config.Settings) {
	p.settings.Store(s)
}

func (p *Processor) Settings() *config.Settings {
	return p.settings.Load()
}

// Handle applies one event. Invalid events are rejected without side effects.
func (p *Processor) Handle(e Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if e.Timestamp == 0 {
		e.Timestamp = p.now().UnixMilli()
	}
	settings := p.settings.Load()

	switch e.Kind {
	case EventJoin:
		p.sessions.OnJoin(e.EntityID, e.Timestamp)
		p.presence.Add(e.EntityID, e.DisplayName)
		p.ledger.UpsertOnline(e.EntityID, e.DisplayName, e.Timestamp)
	case EventQuit:
		if settings.TracksPlaytime() {
			p.sessions.OnQuit(e.EntityID, e.Timestamp)
		} else {
			p.sessions.Discard(e.EntityID)
		}
		p.ledger.MarkOffline(e.EntityID, e.Timestamp)
		p.presence.Remove(e.EntityID)
	case EventDeath:
		p.increment(settings, e.EntityID, stats.CounterDeaths, 1)
		if e.KillerID != "" && e.KillerID != e.EntityID {
			p.increment(settings, e.KillerID, stats.CounterPlayerKills, 1)
		}
	case EventMove:
		if e.Amount > 0 {
			p.increment(settings, e.EntityID, stats.CounterDistanceTraveled, e.Amount)
		}
	default:
		kind, _ := e.Kind.Counter()
		amount := 1.0
		if e.Amount > 0 {
			amount = e.Amount
		}
		p.increment(settings, e.EntityID, kind, amount)
	}
	return nil
}

func (p *Processor) increment(settings *config.Settings, id string, kind stats.CounterKind, amount float64) {
	if !settings.Tracks(kind) {
		log.Trace("Skipping untracked %s for %s", kind, id)
		return
	}
	p.ledger.IncrementCounter(id, kind, amount)
}
