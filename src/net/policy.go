package net

import (
	"fmt"

	"github.com/mosaicnetworks/murmur/src/peers"
)

// TransportRejected is returned by Policy.Check for addresses that must not
// be dialed. During peer selection it is not an error path: the candidate is
// simply skipped.
type TransportRejected struct {
	Addr   string
	Reason string
}

// Error implements the error interface
func (e *TransportRejected) Error() string {
	return fmt.Sprintf("transport rejected %s: %s", e.Addr, e.Reason)
}

// mixingCarriers lists, for each scheme, the schemes that can carry its
// traffic when transport mixing is enabled. Tor reaches any TCP endpoint,
// and Tor+TLS any TLS endpoint.
var mixingCarriers = map[string][]string{
	peers.SchemeTCP: {peers.SchemeTor},
	peers.SchemeTLS: {peers.SchemeTorTLS},
}

// Policy decides which addresses may be dialed, and with which transport.
type Policy struct {
	allowed   map[string]bool
	order     []string
	mixing    bool
	blacklist peers.Blacklist
}

// NewPolicy creates a Policy. allowed is the ordered list of permitted
// schemes.
func NewPolicy(allowed []string, mixing bool, blacklist peers.Blacklist) *Policy {
	p := &Policy{
		allowed:   make(map[string]bool),
		mixing:    mixing,
		blacklist: blacklist,
	}
	for _, s := range allowed {
		if !p.allowed[s] {
			p.allowed[s] = true
			p.order = append(p.order, s)
		}
	}
	return p
}

// Allowed returns the permitted schemes in configuration order.
func (p *Policy) Allowed() []string {
	return p.order
}

// Check returns nil if addr may be dialed, and a *TransportRejected otherwise.
func (p *Policy) Check(addr peers.Addr) error {
	_, err := p.Carrier(addr)
	return err
}

// Carrier returns the scheme of the transport that must be used to dial addr.
// It is the address scheme itself, or with transport mixing, an allowed
// scheme able to carry it.
func (p *Policy) Carrier(addr peers.Addr) (string, error) {
	if p.blacklist.Matches(addr) {
		return "", &TransportRejected{Addr: addr.String(), Reason: "blacklisted"}
	}

	if p.allowed[addr.Scheme] {
		return addr.Scheme, nil
	}

	if p.mixing {
		for _, c := range mixingCarriers[addr.Scheme] {
			if p.allowed[c] {
				return c, nil
			}
		}
	}

	return "", &TransportRejected{Addr: addr.String(), Reason: fmt.Sprintf("scheme %s not allowed", addr.Scheme)}
}

// AcceptsHost is false if inbound connections from host must be refused.
func (p *Policy) AcceptsHost(host string) bool {
	return !p.blacklist.MatchesHost(host)
}
