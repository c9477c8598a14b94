package node

import (
	"context"
	gonet "net"

	"github.com/mosaicnetworks/murmur/src/net"
	"github.com/mosaicnetworks/murmur/src/peers"
	"github.com/mosaicnetworks/murmur/src/slots"
	"github.com/sirupsen/logrus"
)

// linkConnector establishes links for the slot manager through the node's
// transports.
type linkConnector struct {
	transports *net.Transports
	identity   *net.Identity
	consumer   chan<- net.RPC
	linkConf   net.LinkConfig
	logger     *logrus.Entry
}

// Connect implements slots.Connector
func (c *linkConnector) Connect(ctx context.Context, addr peers.Addr) (slots.Link, error) {
	link, err := c.transports.Connect(ctx, addr, c.identity, c.consumer, c.linkConf, c.logger)
	if err != nil {
		return nil, err
	}
	return link, nil
}

// Accept implements slots.Connector. The advertised address is the first
// external address of the peer that parses.
func (c *linkConnector) Accept(ctx context.Context, conn gonet.Conn) (slots.Link, *peers.Addr, error) {
	link, err := net.Accept(ctx, conn, c.identity, c.consumer, c.linkConf, c.logger)
	if err != nil {
		return nil, nil, err
	}

	for _, s := range link.Remote().ExternalAddrs {
		if addr, err := peers.ParseAddr(s); err == nil {
			return link, &addr, nil
		}
	}

	return link, nil, nil
}
