package net

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/mosaicnetworks/murmur/src/peers"
)

// TCPTransport dials and listens on plain TCP.
type TCPTransport struct {
	dialer net.Dialer
}

// NewTCPTransport returns a TCPTransport.
func NewTCPTransport() *TCPTransport {
	return &TCPTransport{}
}

// Dial implements the Transport interface.
func (t *TCPTransport) Dial(ctx context.Context, addr peers.Addr) (net.Conn, error) {
	return t.dialer.DialContext(ctx, "tcp", addr.HostPort())
}

// Listen implements the Transport interface.
func (t *TCPTransport) Listen(addr peers.Addr) (net.Listener, error) {
	return net.Listen("tcp", addr.HostPort())
}

// TLSTransport adds TLS on top of another transport, TCP or Tor.
type TLSTransport struct {
	inner Transport
}

// NewTLSTransport wraps inner with TLS.
func NewTLSTransport(inner Transport) *TLSTransport {
	return &TLSTransport{inner: inner}
}

// Dial implements the Transport interface.
func (t *TLSTransport) Dial(ctx context.Context, addr peers.Addr) (net.Conn, error) {
	raw, err := t.inner.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}

	conn := tls.Client(raw, clientTLSConfig(addr.Host))
	if err := conn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, err
	}

	return conn, nil
}

// Listen implements the Transport interface. The certificate is generated
// when the listener is created.
func (t *TLSTransport) Listen(addr peers.Addr) (net.Listener, error) {
	conf, err := serverTLSConfig()
	if err != nil {
		return nil, err
	}

	inner, err := t.inner.Listen(addr)
	if err != nil {
		return nil, err
	}

	return tls.NewListener(inner, conf), nil
}
