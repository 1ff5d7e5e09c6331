package repositories

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cbodonnell/flywheel-stats/pkg/stats"
)

type memoryEntity struct {
	identity stats.IdentityRecord
	counters stats.CounterRecord
	live     stats.LiveSnapshot
}

// MemoryRepository keeps every record in process memory. Nothing survives a restart.
type MemoryRepository struct {
	lock     sync.RWMutex
	entities map[string]*memoryEntity
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		entities: make(map[string]*memoryEntity),
	}
}

func (r *MemoryRepository) Close(ctx context.Context) error {
	return nil
}

func (r *MemoryRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

// ensure must be called with the write lock held.
func (r *MemoryRepository) ensure(id string, now int64) *memoryEntity {
	e, ok := r.entities[id]
	if !ok {
		e = &memoryEntity{
			identity: stats.IdentityRecord{ID: id, FirstSeen: now, LastSeen: now},
			live:     stats.DefaultLiveSnapshot(),
		}
		r.entities[id] = e
	}
	return e
}

func (r *MemoryRepository) UpsertOnline(ctx context.Context, id string, displayName string, now int64) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	e := r.ensure(id, now)
	e.identity.DisplayName = displayName
	e.identity.LastSeen = max(e.identity.FirstSeen, now)
	e.identity.Online = true
	return nil
}

func (r *MemoryRepository) MarkOffline(ctx context.Context, id string, now int64) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if e, ok := r.entities[id]; ok {
		e.identity.Online = false
		e.identity.LastSeen = max(e.identity.FirstSeen, now)
	}
	return nil
}

func (r *MemoryRepository) IncrementCounter(ctx context.Context, id string, kind stats.CounterKind, amount float64, now int64) error {
	if err := stats.ValidateIncrement(kind, amount); err != nil {
		return err
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	r.ensure(id, now).counters.Add(kind, amount)
	return nil
}

func (r *MemoryRepository) AddPlaytime(ctx context.Context, id string, deltaMs int64) error {
	if deltaMs < 0 {
		return fmt.Errorf("negative playtime delta: %d", deltaMs)
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	if e, ok := r.entities[id]; ok {
		e.identity.PlaytimeMs += deltaMs
	}
	return nil
}

func (r *MemoryRepository) WriteSnapshot(ctx context.Context, id string, snapshot stats.LiveSnapshot) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if e, ok := r.entities[id]; ok && e.identity.Online {
		e.live = snapshot
	}
	return nil
}

func (r *MemoryRepository) GetView(ctx context.Context, identifier string) (*stats.EntityView, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	e, ok := r.entities[identifier]
	if !ok {
		for _, candidate := range r.entities {
			if candidate.identity.DisplayName != identifier {
				continue
			}
			if e == nil || candidate.identity.LastSeen > e.identity.LastSeen {
				e = candidate
			}
		}
	}
	if e == nil {
		return nil, &ErrNotFound{}
	}

	view := &stats.EntityView{
		Identity: e.identity,
		Counters: e.counters,
	}
	if e.identity.Online {
		live := e.live
		view.Live = &live
	}
	return view, nil
}

func (r *MemoryRepository) ListOnline(ctx context.Context) ([]stats.OnlineEntity, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	online := []stats.OnlineEntity{}
	for _, e := range r.entities {
		if e.identity.Online {
			online = append(online, stats.OnlineEntity{ID: e.identity.ID, DisplayName: e.identity.DisplayName})
		}
	}
	sort.Slice(online, func(i, j int) bool {
		if online[i].DisplayName != online[j].DisplayName {
			return online[i].DisplayName < online[j].DisplayName
		}
		return online[i].ID < online[j].ID
	})
	return online, nil
}

func (r *MemoryRepository) AggregateCounts(ctx context.Context) (stats.Aggregate, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	agg := stats.Aggregate{TotalEntities: len(r.entities)}
	for _, e := range r.entities {
		if e.identity.Online {
			agg.OnlineCount++
		}
	}
	return agg, nil
}

func (r *MemoryRepository) TopCounters(ctx context.Context, kind stats.CounterKind, limit int) ([]stats.LeaderboardEntry, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %d", stats.ErrInvalidCounter, int(kind))
	}
	r.lock.RLock()
	entries := make([]stats.LeaderboardEntry, 0, len(r.entities))
	for _, e := range r.entities {
		entries = append(entries, stats.LeaderboardEntry{
			ID:          e.identity.ID,
			DisplayName: e.identity.DisplayName,
			Value:       e.counters.Get(kind),
		})
	}
	r.lock.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Value != entries[j].Value {
			return entries[i].Value > entries[j].Value
		}
		return entries[i].ID < entries[j].ID
	})
	if limit >= 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}
