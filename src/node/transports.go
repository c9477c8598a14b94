package node

import (
	"github.com/mosaicnetworks/murmur/src/config"
	"github.com/mosaicnetworks/murmur/src/net"
	"github.com/mosaicnetworks/murmur/src/peers"
)

// NewTransports registers a transport for every scheme murmur speaks, behind
// the Policy described by conf. The inmem scheme is only registered when
// inmem is not nil.
func NewTransports(conf *config.Config, inmem *net.InmemNetwork) *net.Transports {
	policy := net.NewPolicy(conf.Net.AllowedTransports,
		conf.Net.TransportMixing,
		peers.Blacklist(conf.Net.Blacklist))

	tcp := net.NewTCPTransport()
	tor := net.NewTorTransport(conf.Net.TorSocksAddr)

	transports := net.NewTransports(policy)
	transports.Register(peers.SchemeTCP, tcp)
	transports.Register(peers.SchemeTLS, net.NewTLSTransport(tcp))
	transports.Register(peers.SchemeTor, tor)
	transports.Register(peers.SchemeTorTLS, net.NewTLSTransport(tor))
	transports.Register(peers.SchemeQUIC, net.NewQUICTransport())

	if inmem != nil {
		transports.Register(peers.SchemeInmem, inmem.Transport())
	}

	return transports
}
