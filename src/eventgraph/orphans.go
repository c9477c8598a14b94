package eventgraph

import (
	"sort"
	"sync"
)

// OrphanPool buffers events that arrived before some of their parents. Events
// are indexed by the parents they wait for, so that accepting a parent
// releases exactly the orphans that may now be insertable. The pool is bounded;
// when it is full the oldest orphan is dropped (it will be requested again on
// the next sync round).
type OrphanPool struct {
	mu      sync.Mutex
	max     int
	orphans map[string]*Event
	waiting map[string][]string //missing parent => orphan ids
	order   []string
}

// NewOrphanPool creates an OrphanPool holding at most max events.
func NewOrphanPool(max int) *OrphanPool {
	return &OrphanPool{
		max:     max,
		orphans: make(map[string]*Event),
		waiting: make(map[string][]string),
	}
}

// Add buffers ev until all ids in missing are accepted. It returns false if ev
// was already buffered.
func (p *OrphanPool) Add(ev *Event, missing []string) bool {
	id := ev.Hex()

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.orphans[id]; ok {
		return false
	}

	p.orphans[id] = ev
	p.order = append(p.order, id)
	for _, m := range missing {
		p.waiting[m] = append(p.waiting[m], id)
	}

	for p.max > 0 && len(p.orphans) > p.max {
		oldest := p.order[0]
		p.order = p.order[1:]
		delete(p.orphans, oldest)
	}

	return true
}

// Release removes and returns the orphans that were waiting for parent, in
// topological-friendly order (lowest logical clock first). A released orphan
// may still miss other parents, in which case the caller adds it back.
func (p *OrphanPool) Release(parent string) []*Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := p.waiting[parent]
	delete(p.waiting, parent)

	res := []*Event{}
	for _, id := range ids {
		ev, ok := p.orphans[id]
		if !ok {
			continue
		}
		delete(p.orphans, id)
		p.removeFromOrder(id)
		res = append(res, ev)
	}

	sort.Slice(res, func(i, j int) bool {
		return res[i].Body.Timestamp.Logical < res[j].Body.Timestamp.Logical
	})

	return res
}

// Wanted returns the sorted parent ids that buffered orphans are waiting for
// and that are not buffered themselves.
func (p *OrphanPool) Wanted() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	res := []string{}
	for parent, ids := range p.waiting {
		if _, ok := p.orphans[parent]; ok {
			continue
		}
		live := false
		for _, id := range ids {
			if _, ok := p.orphans[id]; ok {
				live = true
				break
			}
		}
		if live {
			res = append(res, parent)
		} else {
			delete(p.waiting, parent)
		}
	}
	sort.Strings(res)
	return res
}

// Contains is true if ev is buffered.
func (p *OrphanPool) Contains(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.orphans[id]
	return ok
}

// Len returns the number of buffered orphans.
func (p *OrphanPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.orphans)
}

func (p *OrphanPool) removeFromOrder(id string) {
	for i, o := range p.order {
		if o == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			return
		}
	}
}
