package net

import (
	"context"
	"net"

	"github.com/mosaicnetworks/murmur/src/peers"
	"golang.org/x/net/proxy"
)

// TorTransport reaches peers through the SOCKS5 proxy of a local Tor daemon.
// Onion addresses are resolved by Tor, never locally.
type TorTransport struct {
	socksAddr string
}

// NewTorTransport returns a TorTransport that uses the SOCKS5 proxy at
// socksAddr, usually 127.0.0.1:9050.
func NewTorTransport(socksAddr string) *TorTransport {
	return &TorTransport{socksAddr: socksAddr}
}

// Dial implements the Transport interface.
func (t *TorTransport) Dial(ctx context.Context, addr peers.Addr) (net.Conn, error) {
	d, err := proxy.SOCKS5("tcp", t.socksAddr, nil, proxy.Direct)
	if err != nil {
		return nil, err
	}

	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, "tcp", addr.HostPort())
	}

	return d.Dial("tcp", addr.HostPort())
}

// Listen implements the Transport interface. Inbound Tor traffic arrives from
// the hidden service that Tor forwards to a local TCP port, so listening is
// plain TCP on that port.
func (t *TorTransport) Listen(addr peers.Addr) (net.Listener, error) {
	return net.Listen("tcp", addr.HostPort())
}
