package net

import (
	"context"
	"fmt"
	"net"

	"github.com/mosaicnetworks/murmur/src/peers"
	"github.com/sirupsen/logrus"
)

// Transport dials and listens for one address scheme.
type Transport interface {
	// Dial connects to addr. The address scheme may differ from the
	// transport's own scheme when the transport carries another one.
	Dial(ctx context.Context, addr peers.Addr) (net.Conn, error)

	// Listen binds to addr and returns a listener for inbound connections.
	Listen(addr peers.Addr) (net.Listener, error)
}

// Transports is a registry of transports by scheme, behind a Policy.
type Transports struct {
	policy   *Policy
	byScheme map[string]Transport
}

// NewTransports creates an empty registry.
func NewTransports(policy *Policy) *Transports {
	return &Transports{
		policy:   policy,
		byScheme: make(map[string]Transport),
	}
}

// Register sets the transport used for scheme.
func (t *Transports) Register(scheme string, tr Transport) {
	t.byScheme[scheme] = tr
}

// Policy returns the registry's Policy.
func (t *Transports) Policy() *Policy {
	return t.policy
}

// Dial checks addr against the Policy and dials it with the carrier
// transport.
func (t *Transports) Dial(ctx context.Context, addr peers.Addr) (net.Conn, error) {
	carrier, err := t.policy.Carrier(addr)
	if err != nil {
		return nil, err
	}

	tr, ok := t.byScheme[carrier]
	if !ok {
		return nil, fmt.Errorf("no transport registered for %s", carrier)
	}

	return tr.Dial(ctx, addr)
}

// Listen binds addr with the transport of its scheme. Inbound addresses are
// not subject to the allowed-transports list, which only governs dialing.
func (t *Transports) Listen(addr peers.Addr) (net.Listener, error) {
	tr, ok := t.byScheme[addr.Scheme]
	if !ok {
		return nil, fmt.Errorf("no transport registered for %s", addr.Scheme)
	}
	return tr.Listen(addr)
}

// Connect dials addr, runs the handshake and returns the resulting Link.
// Requests from the peer are delivered to consumer.
func (t *Transports) Connect(ctx context.Context, addr peers.Addr, id *Identity, consumer chan<- RPC, conf LinkConfig, logger *logrus.Entry) (*Link, error) {
	conn, err := t.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}

	remote, err := Handshake(ctx, conn, id, true)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return NewLink(conn, remote, true, consumer, conf, logger), nil
}

// Accept runs the handshake on an inbound connection and returns the
// resulting Link.
func Accept(ctx context.Context, conn net.Conn, id *Identity, consumer chan<- RPC, conf LinkConfig, logger *logrus.Entry) (*Link, error) {
	remote, err := Handshake(ctx, conn, id, false)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return NewLink(conn, remote, false, consumer, conf, logger), nil
}
