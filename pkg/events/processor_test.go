package events

import (
	"context"
	"testing"
	"time"

	"github.com/cbodonnell/flywheel-stats/pkg/config"
	"github.com/cbodonnell/flywheel-stats/pkg/ledger"
	"github.com/cbodonnell/flywheel-stats/pkg/repositories"
	"github.com/cbodonnell/flywheel-stats/pkg/session"
	"github.com/cbodonnell/flywheel-stats/pkg/state"
	"github.com/cbodonnell/flywheel-stats/pkg/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type increment struct {
	id     string
	kind   stats.CounterKind
	amount float64
}

type fakeLedger struct {
	upserts    []string
	offline    []string
	increments []increment
}

func (l *fakeLedger) UpsertOnline(id string, displayName string, now int64) {
	l.upserts = append(l.upserts, id+"/"+displayName)
}

func (l *fakeLedger) MarkOffline(id string, now int64) {
	l.offline = append(l.offline, id)
}

func (l *fakeLedger) IncrementCounter(id string, kind stats.CounterKind, amount float64) {
	l.increments = append(l.increments, increment{id: id, kind: kind, amount: amount})
}

type fakeSessions struct {
	joins, quits, discards []string
}

func (s *fakeSessions) OnJoin(id string, now int64) { s.joins = append(s.joins, id) }
func (s *fakeSessions) OnQuit(id string, now int64) { s.quits = append(s.quits, id) }
func (s *fakeSessions) Discard(id string)           { s.discards = append(s.discards, id) }

func newTestProcessor(settings *config.Settings) (*Processor, *fakeLedger, *fakeSessions, *state.InMemoryPresenceManager) {
	l := &fakeLedger{}
	s := &fakeSessions{}
	presence := state.NewInMemoryPresenceManager()
	p := NewProcessor(NewProcessorOptions{
		Ledger:   l,
		Sessions: s,
		Presence: presence,
		Settings: settings,
		Clock:    func() time.Time { return time.UnixMilli(42) },
	})
	return p, l, s, presence
}

func settingsWith(t *testing.T, statistics map[string]bool) *config.Settings {
	t.Helper()
	c := config.Default()
	c.Statistics = statistics
	s, err := c.Settings()
	require.NoError(t, err)
	return s
}

func TestProcessor_JoinAndQuit(t *testing.T) {
	p, l, s, presence := newTestProcessor(nil)

	require.NoError(t, p.Handle(Event{EntityID: "a", Kind: EventJoin, Timestamp: 10, DisplayName: "Alice"}))
	assert.Equal(t, []string{"a/Alice"}, l.upserts)
	assert.Equal(t, []string{"a"}, s.joins)
	assert.Equal(t, 1, presence.Len())

	require.NoError(t, p.Handle(Event{EntityID: "a", Kind: EventQuit, Timestamp: 20}))
	assert.Equal(t, []string{"a"}, l.offline)
	assert.Equal(t, []string{"a"}, s.quits)
	assert.Equal(t, 0, presence.Len())
}

func TestProcessor_CounterEvents(t *testing.T) {
	p, l, _, _ := newTestProcessor(nil)

	events := []Event{
		{EntityID: "a", Kind: EventBlockBreak},
		{EntityID: "a", Kind: EventBlockPlace, Amount: 4},
		{EntityID: "a", Kind: EventMobKill},
		{EntityID: "a", Kind: EventCraft, Amount: 3},
		{EntityID: "a", Kind: EventConsume},
		{EntityID: "a", Kind: EventMove, Amount: 2.5},
		{EntityID: "a", Kind: EventMove},
	}
	for _, e := range events {
		require.NoError(t, p.Handle(e))
	}

	assert.Equal(t, []increment{
		{id: "a", kind: stats.CounterBlocksBroken, amount: 1},
		{id: "a", kind: stats.CounterBlocksPlaced, amount: 4},
		{id: "a", kind: stats.CounterMobKills, amount: 1},
		{id: "a", kind: stats.CounterItemsCrafted, amount: 3},
		{id: "a", kind: stats.CounterFoodConsumed, amount: 1},
		{id: "a", kind: stats.CounterDistanceTraveled, amount: 2.5},
	}, l.increments)
}

func TestProcessor_DeathCreditsKiller(t *testing.T) {
	p, l, _, _ := newTestProcessor(nil)

	require.NoError(t, p.Handle(Event{EntityID: "victim", Kind: EventDeath, KillerID: "killer"}))
	require.NoError(t, p.Handle(Event{EntityID: "victim", Kind: EventDeath}))
	require.NoError(t, p.Handle(Event{EntityID: "victim", Kind: EventDeath, KillerID: "victim"}))

	assert.Equal(t, []increment{
		{id: "victim", kind: stats.CounterDeaths, amount: 1},
		{id: "killer", kind: stats.CounterPlayerKills, amount: 1},
		{id: "victim", kind: stats.CounterDeaths, amount: 1},
		{id: "victim", kind: stats.CounterDeaths, amount: 1},
	}, l.increments)
}

func TestProcessor_SkipsUntrackedCounters(t *testing.T) {
	p, l, s, _ := newTestProcessor(settingsWith(t, map[string]bool{"player-kills": false, "blocks-broken": false, "playtime": false}))

	require.NoError(t, p.Handle(Event{EntityID: "victim", Kind: EventDeath, KillerID: "killer"}))
	require.NoError(t, p.Handle(Event{EntityID: "a", Kind: EventBlockBreak}))
	require.NoError(t, p.Handle(Event{EntityID: "a", Kind: EventJoin}))
	require.NoError(t, p.Handle(Event{EntityID: "a", Kind: EventQuit}))

	assert.Equal(t, []increment{{id: "victim", kind: stats.CounterDeaths, amount: 1}}, l.increments)
	assert.Empty(t, s.quits)
	assert.Equal(t, []string{"a"}, s.discards)
	assert.Equal(t, []string{"a"}, l.offline, "presence changes are always recorded")
}

func TestProcessor_ReloadSwapsSettings(t *testing.T) {
	p, l, _, _ := newTestProcessor(nil)

	require.NoError(t, p.Handle(Event{EntityID: "a", Kind: EventCraft}))
	p.SetSettings(settingsWith(t, map[string]bool{"items-crafted": false}))
	require.NoError(t, p.Handle(Event{EntityID: "a", Kind: EventCraft}))

	assert.Len(t, l.increments, 1)
	assert.False(t, p.Settings().Tracks(stats.CounterItemsCrafted))
}

func TestProcessor_RejectsInvalid(t *testing.T) {
	p, l, s, _ := newTestProcessor(nil)

	for _, e := range []Event{
		{Kind: EventJoin},
		{EntityID: "a", Kind: "teleport"},
		{EntityID: "a", Kind: EventCraft, Amount: -1},
		{EntityID: "a", Kind: EventJoin, Timestamp: -5},
	} {
		assert.ErrorIs(t, p.Handle(e), ErrInvalidEvent)
	}
	assert.Empty(t, l.increments)
	assert.Empty(t, l.upserts)
	assert.Empty(t, s.joins)
}

func TestProcessor_SessionScenario(t *testing.T) {
	repo := repositories.NewMemoryRepository()
	l := ledger.NewLedger(ledger.NewLedgerOptions{Repository: repo})
	l.Start()
	defer l.Stop(context.Background())
	p := NewProcessor(NewProcessorOptions{
		Ledger:   l,
		Sessions: session.NewTracker(l),
		Presence: state.NewInMemoryPresenceManager(),
		Clock:    func() time.Time { return time.UnixMilli(0) },
	})

	events := []Event{{EntityID: "A", Kind: EventJoin, Timestamp: 0, DisplayName: "Alex"}}
	for i := 0; i < 3; i++ {
		events = append(events, Event{EntityID: "A", Kind: EventBlockBreak, Timestamp: int64(1000 + i)})
	}
	for i := 0; i < 2; i++ {
		events = append(events, Event{EntityID: "A", Kind: EventBlockPlace, Timestamp: int64(2000 + i)})
	}
	events = append(events,
		Event{EntityID: "A", Kind: EventDeath, Timestamp: 3000},
		Event{EntityID: "A", Kind: EventQuit, Timestamp: 100000},
	)
	for _, e := range events {
		require.NoError(t, p.Handle(e))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, l.Sync(ctx))

	view, err := repo.GetView(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, int64(100000), view.Identity.PlaytimeMs)
	assert.Equal(t, int64(3), view.Counters.BlocksBroken)
	assert.Equal(t, int64(2), view.Counters.BlocksPlaced)
	assert.Equal(t, int64(1), view.Counters.Deaths)
	assert.False(t, view.Identity.Online)
	assert.Equal(t, int64(100000), view.Identity.LastSeen)
}
