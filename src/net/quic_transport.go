package net

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/mosaicnetworks/murmur/src/peers"
	"github.com/quic-go/quic-go"
)

const (
	quicMaxIdleTimeout = 60 * time.Second
	quicKeepAlive      = 15 * time.Second
)

func quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:  quicMaxIdleTimeout,
		KeepAlivePeriod: quicKeepAlive,
	}
}

// QUICTransport carries each link on a single bidirectional QUIC stream.
type QUICTransport struct{}

// NewQUICTransport returns a QUICTransport.
func NewQUICTransport() *QUICTransport {
	return &QUICTransport{}
}

// Dial implements the Transport interface.
func (t *QUICTransport) Dial(ctx context.Context, addr peers.Addr) (net.Conn, error) {
	conn, err := quic.DialAddr(ctx, addr.HostPort(), clientTLSConfig(addr.Host), quicConfig())
	if err != nil {
		return nil, err
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "open stream failed")
		return nil, err
	}

	return &quicConn{Stream: stream, conn: conn}, nil
}

// Listen implements the Transport interface.
func (t *QUICTransport) Listen(addr peers.Addr) (net.Listener, error) {
	tlsConf, err := serverTLSConfig()
	if err != nil {
		return nil, err
	}

	ln, err := quic.ListenAddr(addr.HostPort(), tlsConf, quicConfig())
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &quicListener{
		ln:     ln,
		connCh: make(chan net.Conn),
		ctx:    ctx,
		cancel: cancel,
	}
	go l.acceptLoop()

	return l, nil
}

// quicConn adapts a QUIC stream to net.Conn. Closing it closes the whole QUIC
// connection.
type quicConn struct {
	*quic.Stream
	conn *quic.Conn
}

func (c *quicConn) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *quicConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *quicConn) Close() error {
	c.Stream.Close()
	return c.conn.CloseWithError(0, "")
}

type quicListener struct {
	ln     *quic.Listener
	connCh chan net.Conn
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func (l *quicListener) acceptLoop() {
	for {
		conn, err := l.ln.Accept(l.ctx)
		if err != nil {
			return
		}

		go func(c *quic.Conn) {
			// The dialer writes its handshake first, so the stream shows up
			// promptly or not at all.
			ctx, cancel := context.WithTimeout(l.ctx, quicMaxIdleTimeout)
			defer cancel()

			stream, err := c.AcceptStream(ctx)
			if err != nil {
				_ = c.CloseWithError(0, "no stream")
				return
			}

			select {
			case l.connCh <- &quicConn{Stream: stream, conn: c}:
			case <-l.ctx.Done():
				_ = c.CloseWithError(0, "shutdown")
			}
		}(conn)
	}
}

func (l *quicListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.connCh:
		return c, nil
	case <-l.ctx.Done():
		return nil, net.ErrClosed
	}
}

func (l *quicListener) Close() error {
	var err error
	l.once.Do(func() {
		l.cancel()
		err = l.ln.Close()
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}
	})
	return err
}

func (l *quicListener) Addr() net.Addr {
	return l.ln.Addr()
}
