package slots

import (
	"context"
	"net"
	"time"

	"github.com/mosaicnetworks/murmur/src/peers"
	"github.com/sirupsen/logrus"
)

// AcceptInbound claims an inbound slot for conn, runs the handshake through
// the Connector and starts the Handler. If no slot is free, or the remote
// host is blacklisted, conn is closed at once and an error is returned.
func (m *Manager) AcceptInbound(ctx context.Context, conn net.Conn) error {
	host := remoteHost(conn)

	s, err := m.reserveInbound(host, conn.RemoteAddr().String())
	if err != nil {
		m.logger.WithError(err).WithField("remote", conn.RemoteAddr().String()).Debug("Refusing inbound connection")
		conn.Close()
		return err
	}

	timeout := m.conf.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	link, advertised, err := m.connector.Accept(hctx, conn)
	if err != nil {
		m.lock.Lock()
		s.reset()
		m.lock.Unlock()
		return err
	}

	var key string

	if advertised != nil {
		rec, _ := m.book.Add(*advertised, peers.FromInbound)
		m.book.Touch(rec.Key())
		key = rec.Key()
	}

	m.lock.Lock()
	if advertised != nil {
		if rec, ok := m.book.Get(key); ok {
			s.peer = &rec
		}
		// A peer that dialed us while we dial it keeps both links, but only
		// the outbound one reserves the address.
		if _, ok := m.busy[key]; !ok {
			m.busy[key] = s
		} else {
			key = ""
		}
	}
	s.state = Established
	s.link = link
	s.since = time.Now()
	snap := s.snapshot()
	m.lock.Unlock()

	m.logger.WithFields(logrus.Fields{
		"remote": conn.RemoteAddr().String(),
		"link":   link.ID(),
		"slot":   s.index,
	}).Info("Inbound link established")

	m.track(s, link, key)
	if m.handler != nil {
		go m.handler(snap, link)
	}

	return nil
}

func (m *Manager) reserveInbound(host, remote string) (*slot, error) {
	if host != "" && m.book.Blacklist().MatchesHost(host) {
		return nil, ErrBlacklisted
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	for _, s := range m.inbound {
		if s.state == Empty {
			s.state = Connecting
			s.remote = remote
			s.since = time.Now()
			return s, nil
		}
	}

	return nil, ErrInboundFull
}

func remoteHost(conn net.Conn) string {
	addr := conn.RemoteAddr()
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
