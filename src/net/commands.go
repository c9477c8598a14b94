package net

import (
	"fmt"

	"github.com/mosaicnetworks/murmur/src/eventgraph"
)

// Command identifies the type of a request or notification on a Link.
type Command uint8

const (
	// CmdFrontier asks for the peer's frontier.
	CmdFrontier Command = iota + 1
	// CmdSync asks for the events the requester is missing, given its
	// frontier.
	CmdSync
	// CmdEvents asks for specific events by id.
	CmdEvents
	// CmdPush floods new events. It is a notification.
	CmdPush
	// CmdGetAddrs asks for known peer addresses.
	CmdGetAddrs
	// CmdPing checks that the peer is alive.
	CmdPing
)

// String ...
func (c Command) String() string {
	switch c {
	case CmdFrontier:
		return "Frontier"
	case CmdSync:
		return "Sync"
	case CmdEvents:
		return "Events"
	case CmdPush:
		return "Push"
	case CmdGetAddrs:
		return "GetAddrs"
	case CmdPing:
		return "Ping"
	default:
		return fmt.Sprintf("Command(%d)", uint8(c))
	}
}

// newRequest returns an empty request body for the command, or nil if the
// command is unknown.
func newRequest(c Command) interface{} {
	switch c {
	case CmdFrontier:
		return &FrontierRequest{}
	case CmdSync:
		return &SyncRequest{}
	case CmdEvents:
		return &EventsRequest{}
	case CmdPush:
		return &EventPush{}
	case CmdGetAddrs:
		return &GetAddrsRequest{}
	case CmdPing:
		return &PingRequest{}
	default:
		return nil
	}
}

// FrontierRequest asks a peer for its frontier.
type FrontierRequest struct{}

// FrontierResponse carries the ids of the responder's frontier events.
type FrontierResponse struct {
	Frontier []string
}

// SyncRequest is the pull part of the synchronisation. Frontier is the
// requester's frontier; the responder returns what the requester is missing,
// at most Limit events.
type SyncRequest struct {
	Frontier []string
	Limit    int
}

// SyncResponse returns, in topological order, the events missing from the
// frontier in the SyncRequest.
type SyncResponse struct {
	Events []eventgraph.EventBody
}

// EventsRequest asks for specific events. It is used to walk back to the
// parents of orphaned events.
type EventsRequest struct {
	IDs []string
}

// EventsResponse returns the requested events that the responder has, in
// topological order.
type EventsResponse struct {
	Events []eventgraph.EventBody
}

// EventPush floods new events to a peer without waiting for it to ask.
type EventPush struct {
	Events []eventgraph.EventBody
}

// GetAddrsRequest asks for at most Max peer addresses.
type GetAddrsRequest struct {
	Max int
}

// AddrsResponse returns peer addresses in URL form.
type AddrsResponse struct {
	Addrs []string
}

// PingRequest ...
type PingRequest struct {
	Nonce uint64
}

// PongResponse echoes the nonce of a PingRequest.
type PongResponse struct {
	Nonce uint64
}

// ToWire strips the local metadata of events before sending them.
func ToWire(events []*eventgraph.Event) []eventgraph.EventBody {
	res := make([]eventgraph.EventBody, len(events))
	for i, ev := range events {
		res[i] = ev.Body
	}
	return res
}

// FromWire converts received bodies to events, ready to be inserted.
func FromWire(bodies []eventgraph.EventBody) []*eventgraph.Event {
	res := make([]*eventgraph.Event, len(bodies))
	for i, b := range bodies {
		res[i] = eventgraph.FromBody(b)
	}
	return res
}
