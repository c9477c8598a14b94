package net

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mosaicnetworks/murmur/src/common"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

var (
	// ErrLinkClosed is returned by requests on a closed link.
	ErrLinkClosed = errors.New("link closed")

	// ErrUnknownCommand drops links that send commands we do not know.
	ErrUnknownCommand = errors.New("unknown command")
)

// RemoteError is an error returned by the peer in response to a request.
type RemoteError struct {
	Cmd Command
	Msg string
}

// Error implements the error interface
func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error on %s: %s", e.Cmd, e.Msg)
}

// LinkConfig holds the tunables of a Link.
type LinkConfig struct {
	// RateLimit bounds the number of inbound frames per second. Zero means
	// no limit.
	RateLimit float64
	// RateBurst is the burst size of the inbound limiter.
	RateBurst int
	// WriteTimeout bounds a single frame write.
	WriteTimeout time.Duration
}

// DefaultLinkConfig returns the default LinkConfig.
func DefaultLinkConfig() LinkConfig {
	return LinkConfig{
		RateLimit:    200,
		RateBurst:    400,
		WriteTimeout: 10 * time.Second,
	}
}

// Link is an established, handshaken connection with a peer. It carries
// requests, responses and notifications in both directions. Requests from the
// peer are delivered to the consumer channel.
type Link struct {
	id       string
	conn     net.Conn
	remote   *Version
	outbound bool
	conf     LinkConfig

	consumer chan<- RPC
	limiter  *rate.Limiter

	writeLock sync.Mutex

	pendingLock sync.Mutex
	pending     map[uint64]chan *envelope
	nextID      uint64

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	err       error

	logger *logrus.Entry
}

// NewLink wraps a handshaken connection and starts reading from it.
func NewLink(conn net.Conn, remote *Version, outbound bool, consumer chan<- RPC, conf LinkConfig, logger *logrus.Entry) *Link {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	id := uuid.New().String()

	limit := rate.Inf
	if conf.RateLimit > 0 {
		limit = rate.Limit(conf.RateLimit)
	}

	ctx, cancel := context.WithCancel(context.Background())

	l := &Link{
		id:       id,
		conn:     conn,
		remote:   remote,
		outbound: outbound,
		conf:     conf,
		consumer: consumer,
		limiter:  rate.NewLimiter(limit, conf.RateBurst),
		pending:  make(map[uint64]chan *envelope),
		ctx:      ctx,
		cancel:   cancel,
		logger: logger.WithFields(logrus.Fields{
			"link":   id[:8],
			"remote": conn.RemoteAddr().String(),
		}),
	}

	go l.readLoop()

	return l
}

// ID returns the unique id of the link.
func (l *Link) ID() string {
	return l.id
}

// Remote returns the Version message sent by the peer.
func (l *Link) Remote() *Version {
	return l.remote
}

// RemoteKey returns a short printable form of the peer's node key.
func (l *Link) RemoteKey() string {
	return common.ShortID(common.EncodeToString(l.remote.NodeKey))
}

// Outbound is true if we dialed the peer.
func (l *Link) Outbound() bool {
	return l.outbound
}

// Done is closed when the link is closed.
func (l *Link) Done() <-chan struct{} {
	return l.ctx.Done()
}

// Err returns the reason the link was closed, or nil while it is open.
func (l *Link) Err() error {
	select {
	case <-l.ctx.Done():
	default:
		return nil
	}
	l.pendingLock.Lock()
	defer l.pendingLock.Unlock()
	return l.err
}

// Close closes the link. Pending requests fail with ErrLinkClosed.
func (l *Link) Close() error {
	l.closeWithError(ErrLinkClosed)
	return nil
}

func (l *Link) closeWithError(err error) {
	l.closeOnce.Do(func() {
		l.pendingLock.Lock()
		l.err = err
		for id, ch := range l.pending {
			close(ch)
			delete(l.pending, id)
		}
		l.pendingLock.Unlock()

		l.cancel()
		l.conn.Close()

		if err != ErrLinkClosed {
			l.logger.WithError(err).Debug("Link closed")
		}
	})
}

/*******************************************************************************
Outbound
*******************************************************************************/

// Request sends a request and decodes the response into resp. The context
// bounds the whole exchange.
func (l *Link) Request(ctx context.Context, cmd Command, req interface{}, resp interface{}) error {
	body, err := encode(req)
	if err != nil {
		return err
	}

	id := atomic.AddUint64(&l.nextID, 1)
	respCh := make(chan *envelope, 1)

	l.pendingLock.Lock()
	if l.err != nil {
		l.pendingLock.Unlock()
		return ErrLinkClosed
	}
	l.pending[id] = respCh
	l.pendingLock.Unlock()

	defer func() {
		l.pendingLock.Lock()
		delete(l.pending, id)
		l.pendingLock.Unlock()
	}()

	if err := l.write(&envelope{Kind: kindRequest, Cmd: cmd, ID: id, Body: body}); err != nil {
		return err
	}

	select {
	case env, ok := <-respCh:
		if !ok {
			return ErrLinkClosed
		}
		if env.Err != "" {
			return &RemoteError{Cmd: cmd, Msg: env.Err}
		}
		return decode(env.Body, resp)
	case <-ctx.Done():
		return ctx.Err()
	case <-l.ctx.Done():
		return ErrLinkClosed
	}
}

// Notify sends a notification, which gets no response.
func (l *Link) Notify(cmd Command, msg interface{}) error {
	body, err := encode(msg)
	if err != nil {
		return err
	}
	return l.write(&envelope{Kind: kindNotify, Cmd: cmd, Body: body})
}

func (l *Link) write(env *envelope) error {
	l.writeLock.Lock()
	defer l.writeLock.Unlock()

	select {
	case <-l.ctx.Done():
		return ErrLinkClosed
	default:
	}

	if l.conf.WriteTimeout > 0 {
		l.conn.SetWriteDeadline(time.Now().Add(l.conf.WriteTimeout))
	}

	if err := writeFrame(l.conn, env); err != nil {
		l.closeWithError(err)
		return err
	}

	return nil
}

// Frontier requests the peer's frontier.
func (l *Link) Frontier(ctx context.Context) (*FrontierResponse, error) {
	var resp FrontierResponse
	if err := l.Request(ctx, CmdFrontier, &FrontierRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Sync requests the events missing from our frontier.
func (l *Link) Sync(ctx context.Context, req *SyncRequest) (*SyncResponse, error) {
	var resp SyncResponse
	if err := l.Request(ctx, CmdSync, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Events requests specific events by id.
func (l *Link) Events(ctx context.Context, ids []string) (*EventsResponse, error) {
	var resp EventsResponse
	if err := l.Request(ctx, CmdEvents, &EventsRequest{IDs: ids}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetAddrs requests at most max peer addresses.
func (l *Link) GetAddrs(ctx context.Context, max int) (*AddrsResponse, error) {
	var resp AddrsResponse
	if err := l.Request(ctx, CmdGetAddrs, &GetAddrsRequest{Max: max}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Ping checks that the peer answers.
func (l *Link) Ping(ctx context.Context, nonce uint64) error {
	var resp PongResponse
	if err := l.Request(ctx, CmdPing, &PingRequest{Nonce: nonce}, &resp); err != nil {
		return err
	}
	if resp.Nonce != nonce {
		return fmt.Errorf("pong nonce %d, expected %d", resp.Nonce, nonce)
	}
	return nil
}

// Push floods events to the peer.
func (l *Link) Push(push *EventPush) error {
	return l.Notify(CmdPush, push)
}

/*******************************************************************************
Inbound
*******************************************************************************/

func (l *Link) readLoop() {
	for {
		var env envelope
		if err := readFrame(l.conn, &env); err != nil {
			l.closeWithError(err)
			return
		}

		if err := l.limiter.Wait(l.ctx); err != nil {
			l.closeWithError(ErrLinkClosed)
			return
		}

		switch env.Kind {
		case kindResponse:
			// Sent under the lock so that closeWithError cannot close the
			// channel in between. Duplicates are dropped.
			l.pendingLock.Lock()
			if ch, ok := l.pending[env.ID]; ok {
				select {
				case ch <- &env:
				default:
				}
			}
			l.pendingLock.Unlock()
		case kindRequest, kindNotify:
			if err := l.dispatch(&env); err != nil {
				l.closeWithError(err)
				return
			}
		default:
			l.closeWithError(fmt.Errorf("unknown frame kind %d", env.Kind))
			return
		}
	}
}

// dispatch decodes a request or notification and hands it to the consumer.
// It returns an error if the link must be dropped.
func (l *Link) dispatch(env *envelope) error {
	cmd := newRequest(env.Cmd)
	if cmd == nil {
		return fmt.Errorf("%w: %d", ErrUnknownCommand, env.Cmd)
	}

	if (env.Cmd == CmdPush) != (env.Kind == kindNotify) {
		return fmt.Errorf("%s sent as wrong frame kind %d", env.Cmd, env.Kind)
	}

	if err := decode(env.Body, cmd); err != nil {
		return fmt.Errorf("decoding %s: %v", env.Cmd, err)
	}

	rpc := RPC{
		Command: cmd,
		Link:    l,
	}

	if env.Kind == kindRequest {
		respCh := make(chan RPCResponse, 1)
		rpc.RespChan = respCh
		go l.respond(env.Cmd, env.ID, respCh)
	}

	select {
	case l.consumer <- rpc:
	case <-l.ctx.Done():
	}

	return nil
}

// respond waits for the consumer to answer a request and sends the answer.
func (l *Link) respond(cmd Command, id uint64, respCh <-chan RPCResponse) {
	select {
	case r := <-respCh:
		env := &envelope{Kind: kindResponse, Cmd: cmd, ID: id}
		if r.Error != nil {
			env.Err = r.Error.Error()
		} else {
			body, err := encode(r.Response)
			if err != nil {
				env.Err = err.Error()
			} else {
				env.Body = body
			}
		}
		if err := l.write(env); err != nil {
			l.logger.WithError(err).Debug("Writing response")
		}
	case <-l.ctx.Done():
	}
}
