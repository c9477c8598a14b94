package slots

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/mosaicnetworks/murmur/src/peers"
)

// Direction of a slot.
type Direction uint8

const (
	// Outbound slots hold links that we dialed.
	Outbound Direction = iota
	// Inbound slots hold links that peers dialed.
	Inbound
)

// String ...
func (d Direction) String() string {
	switch d {
	case Outbound:
		return "outbound"
	case Inbound:
		return "inbound"
	default:
		return fmt.Sprintf("Direction(%d)", uint8(d))
	}
}

// State of a slot.
type State uint8

const (
	// Empty slots are free.
	Empty State = iota
	// Connecting slots are reserved while a dial or handshake is running.
	Connecting
	// Established slots hold a live link.
	Established
	// Draining slots hold a link that is being closed.
	Draining
)

// String ...
func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Connecting:
		return "connecting"
	case Established:
		return "established"
	case Draining:
		return "draining"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Link is what the Manager needs to know about an established link.
type Link interface {
	ID() string
	Done() <-chan struct{}
	Close() error
}

// Connector establishes links.
type Connector interface {
	// Connect dials addr and runs the handshake.
	Connect(ctx context.Context, addr peers.Addr) (Link, error)
	// Accept runs the handshake on an inbound connection. It returns the
	// address the peer advertises, if any.
	Accept(ctx context.Context, conn net.Conn) (Link, *peers.Addr, error)
}

// Handler is called, in its own goroutine, for every established link. The
// slot is released when the link is closed, not when the Handler returns.
type Handler func(s Slot, link Link)

// Slot is a snapshot of a connection slot.
type Slot struct {
	Index     int
	Direction Direction
	State     State
	Peer      *peers.PeerRecord
	Remote    string
	LinkID    string
	Since     time.Time
}

type slot struct {
	index     int
	direction Direction
	state     State
	peer      *peers.PeerRecord
	remote    string
	link      Link
	since     time.Time
}

func (s *slot) snapshot() Slot {
	res := Slot{
		Index:     s.index,
		Direction: s.direction,
		State:     s.state,
		Remote:    s.remote,
		Since:     s.since,
	}
	if s.peer != nil {
		p := *s.peer
		res.Peer = &p
	}
	if s.link != nil {
		res.LinkID = s.link.ID()
	}
	return res
}

func (s *slot) reset() {
	s.state = Empty
	s.peer = nil
	s.remote = ""
	s.link = nil
	s.since = time.Time{}
}

// isGold is true for slots that count towards the gold target.
func (s *slot) isGold() bool {
	return s.peer != nil && (s.peer.Class == peers.Gold || s.peer.Protected())
}
