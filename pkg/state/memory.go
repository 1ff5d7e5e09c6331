package state

import (
	"sort"
	"sync"

	"github.com/cbodonnell/flywheel-stats/pkg/stats"
)

type InMemoryPresenceManager struct {
	lock   sync.RWMutex
	online map[string]string
}

func NewInMemoryPresenceManager() *InMemoryPresenceManager {
	return &InMemoryPresenceManager{
		online: make(map[string]string),
	}
}

func (m *InMemoryPresenceManager) Add(id string, displayName string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.online[id] = displayName
}

func (m *InMemoryPresenceManager) Remove(id string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	delete(m.online, id)
}

func (m *InMemoryPresenceManager) Snapshot() []stats.OnlineEntity {
	m.lock.RLock()
	entities := make([]stats.OnlineEntity, 0, len(m.online))
	for id, name := range m.online {
		entities = append(entities, stats.OnlineEntity{ID: id, DisplayName: name})
	}
	m.lock.RUnlock()

	sort.Slice(entities, func(i, j int) bool { return entities[i].ID < entities[j].ID })
	return entities
}

func (m *InMemoryPresenceManager) Len() int {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return len(m.online)
}
