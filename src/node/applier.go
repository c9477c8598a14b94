package node

import (
	"errors"

	"github.com/mosaicnetworks/murmur/src/common"
	"github.com/mosaicnetworks/murmur/src/eventgraph"
	"github.com/sirupsen/logrus"
)

// AcceptFunc is called with the events newly accepted from a batch, in
// insertion order. source is the source the batch was applied with.
type AcceptFunc func(events []*eventgraph.Event, source string)

// Applier inserts received events in the event graph. Events that arrive
// before their parents wait in the orphan pool and are inserted as soon as the
// parents land; a child is never rejected for a missing parent.
type Applier struct {
	graph    *eventgraph.EventGraph
	orphans  *eventgraph.OrphanPool
	onAccept AcceptFunc
	logger   *logrus.Entry
}

// NewApplier creates an Applier. onAccept may be nil.
func NewApplier(graph *eventgraph.EventGraph, orphans *eventgraph.OrphanPool, onAccept AcceptFunc, logger *logrus.Entry) *Applier {
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}
	return &Applier{
		graph:    graph,
		orphans:  orphans,
		onAccept: onAccept,
		logger:   logger,
	}
}

// Graph returns the event graph.
func (a *Applier) Graph() *eventgraph.EventGraph {
	return a.graph
}

// Orphans returns the orphan pool.
func (a *Applier) Orphans() *eventgraph.OrphanPool {
	return a.orphans
}

// Apply inserts events, in order, along with the orphans they release. It
// returns the number of events accepted. Invalid events are skipped; the first
// such error is returned once the whole batch has been processed.
func (a *Applier) Apply(events []*eventgraph.Event, source string) (int, error) {
	accepted := []*eventgraph.Event{}
	var firstErr error

	for _, ev := range events {
		if err := a.insert(ev, source, &accepted); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if len(accepted) > 0 && a.onAccept != nil {
		a.onAccept(accepted, source)
	}

	return len(accepted), firstErr
}

func (a *Applier) insert(ev *eventgraph.Event, source string, accepted *[]*eventgraph.Event) error {
	var firstErr error

	queue := []*eventgraph.Event{ev}
	for len(queue) > 0 {
		ev := queue[0]
		queue = queue[1:]

		err := a.graph.Insert(ev, source)
		switch {
		case err == nil:
			*accepted = append(*accepted, ev)
			queue = append(queue, a.orphans.Release(ev.Hex())...)
		case errors.Is(err, eventgraph.ErrDuplicateEvent):
		case errors.Is(err, eventgraph.ErrMissingParent):
			missing := eventgraph.MissingParents(err)
			if a.orphans.Add(ev, missing) {
				// A parent may have been inserted by another link between
				// Insert and Add.
				for _, m := range missing {
					if a.graph.Contains(m) {
						queue = append(queue, a.orphans.Release(m)...)
					}
				}
			}
		default:
			a.logger.WithFields(logrus.Fields{
				"event":  common.ShortID(ev.Hex()),
				"source": source,
			}).WithError(err).Warn("Rejected event")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}

// Wanted returns the ids that orphans are waiting for and that are not in the
// graph.
func (a *Applier) Wanted() []string {
	res := []string{}
	for _, id := range a.orphans.Wanted() {
		if !a.graph.Contains(id) {
			res = append(res, id)
		}
	}
	return res
}
