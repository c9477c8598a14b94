package peers

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Transport schemes.
const (
	SchemeTCP    = "tcp"
	SchemeTLS    = "tcp+tls"
	SchemeTor    = "tor"
	SchemeTorTLS = "tor+tls"
	SchemeQUIC   = "quic"
	SchemeInmem  = "inmem"
)

// KnownSchemes lists the transport schemes an address may use.
var KnownSchemes = []string{SchemeTCP, SchemeTLS, SchemeTor, SchemeTorTLS, SchemeQUIC, SchemeInmem}

// IsKnownScheme ...
func IsKnownScheme(s string) bool {
	for _, k := range KnownSchemes {
		if k == s {
			return true
		}
	}
	return false
}

// Addr is a parsed peer address of the form scheme://host:port.
type Addr struct {
	Scheme string
	Host   string
	Port   uint16
}

// ParseAddr parses a peer address. The port is mandatory except for the inmem
// scheme, which is only used in tests.
func ParseAddr(s string) (Addr, error) {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return Addr{}, fmt.Errorf("invalid address %q: %v", s, err)
	}

	if !IsKnownScheme(u.Scheme) {
		return Addr{}, fmt.Errorf("invalid address %q: unknown scheme %q", s, u.Scheme)
	}

	if u.Path != "" && u.Path != "/" || u.RawQuery != "" || u.User != nil {
		return Addr{}, fmt.Errorf("invalid address %q: unexpected path, query or user info", s)
	}

	host := u.Hostname()
	if host == "" {
		return Addr{}, fmt.Errorf("invalid address %q: missing host", s)
	}

	a := Addr{Scheme: u.Scheme, Host: strings.ToLower(host)}

	portStr := u.Port()
	if portStr == "" {
		if u.Scheme != SchemeInmem {
			return Addr{}, fmt.Errorf("invalid address %q: missing port", s)
		}
		return a, nil
	}

	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return Addr{}, fmt.Errorf("invalid address %q: bad port %q", s, portStr)
	}
	a.Port = uint16(port)

	return a, nil
}

// MustParseAddr is ParseAddr for literals known to be valid. It panics on
// error.
func MustParseAddr(s string) Addr {
	a, err := ParseAddr(s)
	if err != nil {
		panic(err)
	}
	return a
}

// HostPort returns host:port, as expected by net.Dial.
func (a Addr) HostPort() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(int(a.Port)))
}

// String returns the canonical URL form of the address. It is the key of the
// address in the AddressBook.
func (a Addr) String() string {
	if a.Port == 0 {
		return fmt.Sprintf("%s://%s", a.Scheme, a.Host)
	}
	return fmt.Sprintf("%s://%s", a.Scheme, a.HostPort())
}

// IsOnion is true for Tor hidden service hosts.
func (a Addr) IsOnion() bool {
	return strings.HasSuffix(a.Host, ".onion")
}
