package eventgraph

import (
	"sort"
	"sync"

	cm "github.com/mosaicnetworks/murmur/src/common"
)

// InmemStore implements the Store interface in memory. Nothing is ever
// evicted since the event graph is never pruned.
type InmemStore struct {
	cacheSize int

	mu     sync.RWMutex
	events map[string]*Event
	topo   []*Event // sorted by topological index
}

// NewInmemStore creates a new InmemStore. cacheSize is only reported through
// CacheSize.
func NewInmemStore(cacheSize int) *InmemStore {
	return &InmemStore{
		cacheSize: cacheSize,
		events:    make(map[string]*Event),
	}
}

// CacheSize implements the Store interface.
func (s *InmemStore) CacheSize() int {
	return s.cacheSize
}

// GetEvent implements the Store interface.
func (s *InmemStore) GetEvent(id string) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ev, ok := s.events[id]
	if !ok {
		return nil, cm.NewStoreErr("EventStore", cm.KeyNotFound, id)
	}
	return ev, nil
}

// SetEvent implements the Store interface.
func (s *InmemStore) SetEvent(event *Event) error {
	id := event.Hex()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[id]; ok {
		return cm.NewStoreErr("EventStore", cm.KeyAlreadyExists, id)
	}

	s.events[id] = event

	// Insertions mostly arrive in increasing topological order.
	n := len(s.topo)
	if n == 0 || s.topo[n-1].topologicalIndex < event.topologicalIndex {
		s.topo = append(s.topo, event)
		return nil
	}

	i := sort.Search(n, func(i int) bool {
		return s.topo[i].topologicalIndex > event.topologicalIndex
	})
	s.topo = append(s.topo, nil)
	copy(s.topo[i+1:], s.topo[i:])
	s.topo[i] = event

	return nil
}

// TopologicalEvents implements the Store interface.
func (s *InmemStore) TopologicalEvents(skip int, limit int) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if skip >= len(s.topo) {
		return []*Event{}, nil
	}

	end := len(s.topo)
	if limit > 0 && skip+limit < end {
		end = skip + limit
	}

	res := make([]*Event, end-skip)
	copy(res, s.topo[skip:end])
	return res, nil
}

// EventCount implements the Store interface.
func (s *InmemStore) EventCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// NeedBootstrap implements the Store interface. An InmemStore always starts
// empty.
func (s *InmemStore) NeedBootstrap() bool {
	return false
}

// Close implements the Store interface.
func (s *InmemStore) Close() error {
	return nil
}

// StorePath implements the Store interface.
func (s *InmemStore) StorePath() string {
	return ""
}
