package net

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/mosaicnetworks/murmur/src/peers"
)

// InmemNetwork connects InmemTransports inside one process, to allow murmur
// nodes to be tested without going over a network.
type InmemNetwork struct {
	sync.RWMutex
	listeners map[string]*inmemListener
}

// NewInmemNetwork creates an empty in-memory network.
func NewInmemNetwork() *InmemNetwork {
	return &InmemNetwork{
		listeners: make(map[string]*inmemListener),
	}
}

// Transport returns a Transport attached to the network.
func (n *InmemNetwork) Transport() *InmemTransport {
	return &InmemTransport{network: n}
}

// InmemTransport implements the Transport interface with net.Pipe.
type InmemTransport struct {
	network *InmemNetwork
}

// Dial implements the Transport interface.
func (t *InmemTransport) Dial(ctx context.Context, addr peers.Addr) (net.Conn, error) {
	t.network.RLock()
	l, ok := t.network.listeners[addr.Host]
	t.network.RUnlock()

	if !ok {
		return nil, fmt.Errorf("failed to connect to peer: %v", addr)
	}

	local, remote := net.Pipe()

	select {
	case l.connCh <- remote:
		return local, nil
	case <-l.done:
		return nil, fmt.Errorf("failed to connect to peer: %v", addr)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Listen implements the Transport interface.
func (t *InmemTransport) Listen(addr peers.Addr) (net.Listener, error) {
	t.network.Lock()
	defer t.network.Unlock()

	if _, ok := t.network.listeners[addr.Host]; ok {
		return nil, fmt.Errorf("address already in use: %v", addr)
	}

	l := &inmemListener{
		network: t.network,
		addr:    inmemAddr(addr.Host),
		connCh:  make(chan net.Conn),
		done:    make(chan struct{}),
	}
	t.network.listeners[addr.Host] = l

	return l, nil
}

type inmemAddr string

func (a inmemAddr) Network() string { return peers.SchemeInmem }
func (a inmemAddr) String() string  { return string(a) }

type inmemListener struct {
	network *InmemNetwork
	addr    inmemAddr
	connCh  chan net.Conn
	done    chan struct{}
	once    sync.Once
}

func (l *inmemListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.connCh:
		return c, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

func (l *inmemListener) Close() error {
	l.once.Do(func() {
		l.network.Lock()
		delete(l.network.listeners, string(l.addr))
		l.network.Unlock()
		close(l.done)
	})
	return nil
}

func (l *inmemListener) Addr() net.Addr {
	return l.addr
}
