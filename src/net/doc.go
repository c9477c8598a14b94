// Package net implements the transports and the wire protocol that murmur
// nodes use to talk to each other.
//
// Addresses are URLs whose scheme selects a transport:
//
//	tcp://host:port      plain TCP
//	tcp+tls://host:port  TLS over TCP
//	tor://host:port      TCP through a Tor SOCKS5 proxy
//	tor+tls://host:port  TLS through a Tor SOCKS5 proxy
//	quic://host:port     a single bidirectional QUIC stream
//	inmem://name         in-memory pipes, for tests
//
// Before any connection attempt, the Policy checks the address against the
// allowed transports, the transport-mixing rule and the blacklist.
//
// Once connected, both ends run a signed Version handshake and wrap the
// connection in a Link. A Link multiplexes request/response pairs and
// notifications over the connection, in both directions. Incoming requests
// are delivered as RPCs on a consumer channel, the same way for every link, so
// that the node can serve them without caring which transport they came from.
//
// TLS transports use ephemeral self-signed certificates and do not verify the
// peer certificate. Peer identity comes from the signed handshake; TLS only
// protects the traffic from passive observers.
package net
