package peers

import (
	"fmt"
	"time"
)

// Class is the trust classification of a peer.
type Class uint8

const (
	// Gold peers are seeds, pinned peers and peers we synced with.
	Gold Class = iota
	// White peers are untested.
	White
	// Grey peers are white peers demoted after repeated failures.
	Grey
	// Black peers match the blacklist and are never dialed.
	Black
)

// String ...
func (c Class) String() string {
	switch c {
	case Gold:
		return "gold"
	case White:
		return "white"
	case Grey:
		return "grey"
	case Black:
		return "black"
	default:
		return fmt.Sprintf("Class(%d)", uint8(c))
	}
}

// ParseClass is the inverse of Class.String.
func ParseClass(s string) (Class, error) {
	switch s {
	case "gold":
		return Gold, nil
	case "white":
		return White, nil
	case "grey":
		return Grey, nil
	case "black":
		return Black, nil
	}
	return 0, fmt.Errorf("unknown peer class %q", s)
}

// Source tells how an address entered the book.
type Source uint8

const (
	// FromExchange addresses were advertised by another peer.
	FromExchange Source = iota
	// FromInbound addresses were advertised by an inbound peer about itself.
	FromInbound
	// FromSeed addresses come from the seeds configuration.
	FromSeed
	// FromPinned addresses come from the peers configuration.
	FromPinned
)

// String ...
func (s Source) String() string {
	switch s {
	case FromExchange:
		return "exchange"
	case FromInbound:
		return "inbound"
	case FromSeed:
		return "seed"
	case FromPinned:
		return "pinned"
	default:
		return fmt.Sprintf("Source(%d)", uint8(s))
	}
}

// ParseSource is the inverse of Source.String.
func ParseSource(s string) (Source, error) {
	switch s {
	case "exchange":
		return FromExchange, nil
	case "inbound":
		return FromInbound, nil
	case "seed":
		return FromSeed, nil
	case "pinned":
		return FromPinned, nil
	}
	return 0, fmt.Errorf("unknown peer source %q", s)
}

// PeerRecord is what the AddressBook knows about an address.
type PeerRecord struct {
	Addr     Addr
	Class    Class
	Source   Source
	LastSeen time.Time
	Failures int
}

// Key returns the canonical address string.
func (p PeerRecord) Key() string {
	return p.Addr.String()
}

// Protected is true for seeds and pinned peers, which are never demoted.
func (p PeerRecord) Protected() bool {
	return p.Source == FromSeed || p.Source == FromPinned
}

// Scheme returns the transport scheme of the address.
func (p PeerRecord) Scheme() string {
	return p.Addr.Scheme
}
