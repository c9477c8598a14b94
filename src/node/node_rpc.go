package node

import (
	"context"
	"fmt"
	"time"

	"github.com/mosaicnetworks/murmur/src/net"
	"github.com/sirupsen/logrus"
)

// serveRPC processes requests from peers until ctx is cancelled.
func (n *Node) serveRPC(ctx context.Context) {
	for {
		select {
		case rpc := <-n.netCh:
			n.processRPC(rpc)
		case <-ctx.Done():
			return
		}
	}
}

func (n *Node) processRPC(rpc net.RPC) {
	switch cmd := rpc.Command.(type) {
	case *net.FrontierRequest:
		rpc.Respond(&net.FrontierResponse{Frontier: n.graph.Frontier()}, nil)
	case *net.SyncRequest:
		n.processSyncRequest(rpc, cmd)
	case *net.EventsRequest:
		n.processEventsRequest(rpc, cmd)
	case *net.EventPush:
		n.processEventPush(rpc, cmd)
	case *net.GetAddrsRequest:
		n.processGetAddrsRequest(rpc, cmd)
	case *net.PingRequest:
		rpc.Respond(&net.PongResponse{Nonce: cmd.Nonce}, nil)
	default:
		n.logger.WithField("cmd", rpc.Command).Error("Unexpected RPC command")
		rpc.Respond(nil, fmt.Errorf("unexpected command"))
	}
}

// responseLimit is the lower of the requested limit and sync_limit, where 0
// means no limit.
func (n *Node) responseLimit(requested int) int {
	limit := n.conf.SyncLimit
	if requested > 0 && (limit <= 0 || requested < limit) {
		limit = requested
	}
	return limit
}

func (n *Node) processSyncRequest(rpc net.RPC, cmd *net.SyncRequest) {
	start := time.Now()

	events, err := n.graph.AncestorsMissingFrom(cmd.Frontier, n.responseLimit(cmd.Limit))
	if err != nil {
		n.logger.WithError(err).Error("Computing events missing from peer")
		rpc.Respond(nil, err)
		return
	}

	n.logger.WithFields(logrus.Fields{
		"frontier": len(cmd.Frontier),
		"events":   len(events),
		"duration": time.Since(start).Nanoseconds(),
	}).Debug("process SyncRequest")

	rpc.Respond(&net.SyncResponse{Events: net.ToWire(events)}, nil)
}

func (n *Node) processEventsRequest(rpc net.RPC, cmd *net.EventsRequest) {
	ids := cmd.IDs
	if limit := n.responseLimit(0); limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	events, err := n.graph.Events(ids)
	if err != nil {
		n.logger.WithError(err).Error("Retrieving requested events")
		rpc.Respond(nil, err)
		return
	}

	rpc.Respond(&net.EventsResponse{Events: net.ToWire(events)}, nil)
}

// processEventPush applies pushed events. If some of them are orphans, the
// session of the link is woken up to fetch their ancestors.
func (n *Node) processEventPush(rpc net.RPC, cmd *net.EventPush) {
	source := ""
	if rpc.Link != nil {
		source = rpc.Link.ID()
	}

	accepted, err := n.applier.Apply(net.FromWire(cmd.Events), source)
	if err != nil {
		n.logger.WithError(err).WithField("link", source).Debug("Pushed invalid events")
	}

	n.logger.WithFields(logrus.Fields{
		"events":   len(cmd.Events),
		"accepted": accepted,
	}).Debug("process EventPush")

	if len(n.applier.Wanted()) > 0 && source != "" {
		n.kickSession(source)
	}
}

func (n *Node) processGetAddrsRequest(rpc net.RPC, cmd *net.GetAddrsRequest) {
	max := cmd.Max
	if max <= 0 || max > n.conf.Net.PeerExchange {
		max = n.conf.Net.PeerExchange
	}

	rpc.Respond(&net.AddrsResponse{Addrs: n.book.Exchangeable(max)}, nil)
}
