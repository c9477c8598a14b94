package eventgraph

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	cm "github.com/mosaicnetworks/murmur/src/common"
	"github.com/sirupsen/logrus"
)

// insertStripes is the number of locks that serialize insertions. Two
// insertions of the same id always contend on the same stripe.
const insertStripes = 64

// node is an entry of the graph arena. Links between nodes are ids, never
// pointers.
type node struct {
	parents  []string
	children []string
	topo     int
	logical  uint64
}

// EventGraph is the local replica of the event graph.
type EventGraph struct {
	store  Store
	replay ReplayLog
	logger *logrus.Entry

	stripes [insertStripes]sync.Mutex

	// idxLock guards nodes and frontier. It is only held for in-memory
	// operations, never across store or network I/O.
	idxLock  sync.RWMutex
	nodes    map[string]*node
	frontier map[string]struct{}

	nextTopo int64
}

// NewEventGraph creates an EventGraph on top of store. replay may be nil, in
// which case replay mode is off.
func NewEventGraph(store Store, replay ReplayLog, logger *logrus.Entry) *EventGraph {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &EventGraph{
		store:    store,
		replay:   replay,
		logger:   logger,
		nodes:    make(map[string]*node),
		frontier: make(map[string]struct{}),
	}
}

// Store returns the underlying Store.
func (g *EventGraph) Store() Store {
	return g.store
}

// ReplayMode is true when accepted events are also written to a ReplayLog.
func (g *EventGraph) ReplayMode() bool {
	return g.replay != nil
}

// Bootstrap rebuilds the arena from the events already present in the store.
// It must be called before any Insert.
func (g *EventGraph) Bootstrap() error {
	const batch = 1000

	skip := 0
	for {
		events, err := g.store.TopologicalEvents(skip, batch)
		if err != nil {
			return err
		}

		g.idxLock.Lock()
		for _, ev := range events {
			g.index(ev.Hex(), ev)
			if next := int64(ev.topologicalIndex) + 1; next > g.nextTopo {
				g.nextTopo = next
			}
		}
		g.idxLock.Unlock()

		skip += len(events)
		if len(events) < batch {
			break
		}
	}

	g.logger.WithFields(logrus.Fields{
		"events":   skip,
		"frontier": len(g.Frontier()),
	}).Debug("Bootstrapped event graph")

	return nil
}

// Insert adds an event to the graph. source describes where the event came
// from and is only used for the replay log.
//
// The possible outcomes are:
//   - nil: the event is now in the graph and the frontier was updated,
//   - ErrDuplicateEvent: the event was already there, nothing changed,
//   - a *MissingParentError: some parents are unknown, nothing changed,
//   - an *InvalidEventError: the event can never be accepted.
//
// Insertions of the same id are serialized. Insertions of unrelated ids only
// contend for the short in-memory index update.
func (g *EventGraph) Insert(ev *Event, source string) error {
	id := ev.Hex()

	stripe := &g.stripes[xxhash.Sum64String(id)%insertStripes]
	stripe.Lock()
	defer stripe.Unlock()

	if err := ev.validate(); err != nil {
		return err
	}

	g.idxLock.RLock()
	_, exists := g.nodes[id]
	var missing []string
	var maxLogical uint64
	for _, p := range ev.Body.Parents {
		pn, ok := g.nodes[p]
		if !ok {
			missing = append(missing, p)
			continue
		}
		if pn.logical > maxLogical {
			maxLogical = pn.logical
		}
	}
	g.idxLock.RUnlock()

	if exists {
		return ErrDuplicateEvent
	}

	if len(missing) > 0 {
		return &MissingParentError{Event: id, Missing: missing}
	}

	if !ev.IsGenesis() && ev.Body.Timestamp.Logical != maxLogical+1 {
		return &InvalidEventError{Event: id, Reason: "logical clock is not one more than the highest parent"}
	}

	// Parents were indexed before their own topological index was reserved,
	// so the reserved index is always greater than theirs.
	ev.topologicalIndex = int(atomic.AddInt64(&g.nextTopo, 1) - 1)

	if err := g.store.SetEvent(ev); err != nil {
		if cm.IsStore(err, cm.KeyAlreadyExists) {
			return ErrDuplicateEvent
		}
		return err
	}

	g.idxLock.Lock()
	g.index(id, ev)
	g.idxLock.Unlock()

	if g.replay != nil {
		if err := g.replay.Append(ev, source); err != nil {
			g.logger.WithError(err).WithField("event", id).Error("Appending to replay log")
		}
	}

	return nil
}

// index adds ev to the arena and updates the frontier. The caller holds
// idxLock for writing.
func (g *EventGraph) index(id string, ev *Event) {
	n := &node{
		parents: ev.Body.Parents,
		topo:    ev.topologicalIndex,
		logical: ev.Body.Timestamp.Logical,
	}
	g.nodes[id] = n

	for _, p := range ev.Body.Parents {
		if pn, ok := g.nodes[p]; ok {
			pn.children = append(pn.children, id)
		}
		delete(g.frontier, p)
	}

	if len(n.children) == 0 {
		g.frontier[id] = struct{}{}
	}
}

// Create builds a new local event on top of the current frontier and inserts
// it. It retries if a concurrent insertion moved the frontier in between.
func (g *EventGraph) Create(layer Layer, payload []byte) (*Event, error) {
	for {
		g.idxLock.RLock()
		parents := make([]string, 0, len(g.frontier))
		var maxLogical uint64
		for id := range g.frontier {
			parents = append(parents, id)
			if l := g.nodes[id].logical; l > maxLogical {
				maxLogical = l
			}
		}
		g.idxLock.RUnlock()

		logical := uint64(0)
		if len(parents) > 0 {
			logical = maxLogical + 1
		}

		ev := NewEvent(parents,
			Timestamp{Logical: logical, Wall: time.Now().UnixNano()},
			layer,
			payload)

		err := g.Insert(ev, "local")
		if err == nil {
			return ev, nil
		}
		if errors.Is(err, ErrDuplicateEvent) {
			// Same parents, same nanosecond, same payload: try again later.
			continue
		}
		return nil, err
	}
}

// Get returns an event by id.
func (g *EventGraph) Get(id string) (*Event, error) {
	if !g.Contains(id) {
		return nil, cm.NewStoreErr("Event", cm.KeyNotFound, id)
	}
	return g.store.GetEvent(id)
}

// Contains is true if the event is in the graph.
func (g *EventGraph) Contains(id string) bool {
	g.idxLock.RLock()
	defer g.idxLock.RUnlock()
	_, ok := g.nodes[id]
	return ok
}

// Unknown returns the ids, among ids, that are not in the graph.
func (g *EventGraph) Unknown(ids []string) []string {
	g.idxLock.RLock()
	defer g.idxLock.RUnlock()

	res := []string{}
	for _, id := range ids {
		if _, ok := g.nodes[id]; !ok {
			res = append(res, id)
		}
	}
	return res
}

// Frontier returns the sorted ids of the events that have no known child.
func (g *EventGraph) Frontier() []string {
	g.idxLock.RLock()
	defer g.idxLock.RUnlock()

	res := make([]string, 0, len(g.frontier))
	for id := range g.frontier {
		res = append(res, id)
	}
	sort.Strings(res)
	return res
}

// Len returns the number of events in the graph.
func (g *EventGraph) Len() int {
	g.idxLock.RLock()
	defer g.idxLock.RUnlock()
	return len(g.nodes)
}

// AncestorsMissingFrom returns the events that a peer reporting
// remoteFrontier is missing, in topological order, truncated to limit events
// when limit is positive.
//
// An event is considered known to the peer if it is an ancestor of, or equal
// to, one of the remote frontier ids that we also know. Remote ids that we do
// not know are ignored: they can only hide events that we do not have either.
// Truncating a topologically sorted list keeps it causally closed on the
// peer's side, so the peer can apply the result in order.
func (g *EventGraph) AncestorsMissingFrom(remoteFrontier []string, limit int) ([]*Event, error) {
	g.idxLock.RLock()

	known := make(map[string]bool)
	queue := make([]string, 0, len(remoteFrontier))
	for _, id := range remoteFrontier {
		if _, ok := g.nodes[id]; ok && !known[id] {
			known[id] = true
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		id := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		for _, p := range g.nodes[id].parents {
			if !known[p] {
				known[p] = true
				queue = append(queue, p)
			}
		}
	}

	// Everything the peer lacks is reachable from our frontier through
	// events the peer lacks, because known is closed under ancestry.
	type entry struct {
		id   string
		topo int
	}
	missing := []entry{}
	visited := make(map[string]bool)
	for id := range g.frontier {
		if !known[id] {
			visited[id] = true
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		id := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		n := g.nodes[id]
		missing = append(missing, entry{id, n.topo})
		for _, p := range n.parents {
			if !known[p] && !visited[p] {
				visited[p] = true
				queue = append(queue, p)
			}
		}
	}

	g.idxLock.RUnlock()

	sort.Slice(missing, func(i, j int) bool { return missing[i].topo < missing[j].topo })

	if limit > 0 && len(missing) > limit {
		missing = missing[:limit]
	}

	res := make([]*Event, 0, len(missing))
	for _, m := range missing {
		ev, err := g.store.GetEvent(m.id)
		if err != nil {
			return nil, err
		}
		res = append(res, ev)
	}

	return res, nil
}

// Events returns the events with the given ids, skipping unknown ids, in
// topological order.
func (g *EventGraph) Events(ids []string) ([]*Event, error) {
	res := make([]*Event, 0, len(ids))
	for _, id := range ids {
		if !g.Contains(id) {
			continue
		}
		ev, err := g.store.GetEvent(id)
		if err != nil {
			return nil, err
		}
		res = append(res, ev)
	}
	sort.Sort(ByTopologicalOrder(res))
	return res, nil
}

// Close closes the store and the replay log.
func (g *EventGraph) Close() error {
	var err error
	if g.replay != nil {
		err = g.replay.Close()
	}
	if serr := g.store.Close(); serr != nil {
		err = serr
	}
	return err
}
