package net

import (
	"context"
	"errors"
	"net"
	"reflect"
	"testing"
	"time"

	"github.com/mosaicnetworks/murmur/src/common"
	"github.com/mosaicnetworks/murmur/src/crypto/keys"
	"github.com/mosaicnetworks/murmur/src/eventgraph"
	"github.com/mosaicnetworks/murmur/src/peers"
)

func newIdentity(t *testing.T) *Identity {
	key, err := keys.GenerateKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	return &Identity{Key: key}
}

// serve answers requests on consumer with canned responses until the test
// ends.
func serve(t *testing.T, consumer <-chan RPC, pushes chan<- *EventPush) {
	go func() {
		for rpc := range consumer {
			switch cmd := rpc.Command.(type) {
			case *FrontierRequest:
				rpc.Respond(&FrontierResponse{Frontier: []string{"0XAA", "0XBB"}}, nil)
			case *SyncRequest:
				if cmd.Limit < 0 {
					rpc.Respond(nil, errors.New("bad limit"))
					continue
				}
				ev := eventgraph.NewEvent(cmd.Frontier, eventgraph.Timestamp{Logical: 1}, eventgraph.LayerChannel, []byte("hi"))
				rpc.Respond(&SyncResponse{Events: ToWire([]*eventgraph.Event{ev})}, nil)
			case *PingRequest:
				rpc.Respond(&PongResponse{Nonce: cmd.Nonce}, nil)
			case *GetAddrsRequest:
				// never answered
			case *EventPush:
				if pushes != nil {
					pushes <- cmd
				}
			}
		}
	}()
}

func linkPair(t *testing.T, network *InmemNetwork, name string, server *Identity, serverConsumer chan RPC) (*Link, net.Listener) {
	ts := NewTransports(NewPolicy([]string{"inmem"}, false, nil))
	ts.Register(peers.SchemeInmem, network.Transport())

	addr := peers.MustParseAddr("inmem://" + name)

	ln, err := ts.Listen(addr)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				l, err := Accept(context.Background(), conn, server, serverConsumer, DefaultLinkConfig(), common.NewTestEntry(t))
				if err != nil {
					return
				}
				<-l.Done()
			}()
		}
	}()

	client := newIdentity(t)
	clientConsumer := make(chan RPC)

	link, err := ts.Connect(context.Background(), addr, client, clientConsumer, DefaultLinkConfig(), common.NewTestEntry(t))
	if err != nil {
		ln.Close()
		t.Fatalf("err: %v", err)
	}

	return link, ln
}

func TestLinkRequests(t *testing.T) {
	network := NewInmemNetwork()
	server := newIdentity(t)
	consumer := make(chan RPC)
	pushes := make(chan *EventPush, 1)
	serve(t, consumer, pushes)

	link, ln := linkPair(t, network, "server", server, consumer)
	defer ln.Close()
	defer link.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	t.Run("Frontier", func(t *testing.T) {
		resp, err := link.Frontier(ctx)
		if err != nil {
			t.Fatalf("err: %v", err)
		}
		if !reflect.DeepEqual(resp.Frontier, []string{"0XAA", "0XBB"}) {
			t.Fatalf("wrong frontier: %v", resp.Frontier)
		}
	})

	t.Run("Sync", func(t *testing.T) {
		resp, err := link.Sync(ctx, &SyncRequest{Frontier: []string{"0XAA"}, Limit: 10})
		if err != nil {
			t.Fatalf("err: %v", err)
		}
		if len(resp.Events) != 1 {
			t.Fatalf("expected 1 event, got %d", len(resp.Events))
		}
		ev := FromWire(resp.Events)[0]
		expected := eventgraph.NewEvent([]string{"0XAA"}, eventgraph.Timestamp{Logical: 1}, eventgraph.LayerChannel, []byte("hi"))
		if ev.Hex() != expected.Hex() {
			t.Fatalf("event id changed on the wire: %s != %s", ev.Hex(), expected.Hex())
		}
	})

	t.Run("RemoteError", func(t *testing.T) {
		_, err := link.Sync(ctx, &SyncRequest{Limit: -1})
		var rerr *RemoteError
		if !errors.As(err, &rerr) {
			t.Fatalf("expected RemoteError, got %v", err)
		}
		if rerr.Msg != "bad limit" {
			t.Fatalf("wrong message: %s", rerr.Msg)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := link.Ping(ctx, 42); err != nil {
			t.Fatalf("err: %v", err)
		}
	})

	t.Run("Timeout", func(t *testing.T) {
		short, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := link.GetAddrs(short, 10)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline exceeded, got %v", err)
		}
	})

	t.Run("Push", func(t *testing.T) {
		ev := eventgraph.NewEvent(nil, eventgraph.Timestamp{}, eventgraph.LayerDM, []byte("x"))
		if err := link.Push(&EventPush{Events: ToWire([]*eventgraph.Event{ev})}); err != nil {
			t.Fatalf("err: %v", err)
		}
		select {
		case p := <-pushes:
			if len(p.Events) != 1 || FromWire(p.Events)[0].Hex() != ev.Hex() {
				t.Fatalf("wrong push: %v", p.Events)
			}
		case <-time.After(time.Second):
			t.Fatalf("push not delivered")
		}
	})
}

func TestLinkCloseFailsRequests(t *testing.T) {
	network := NewInmemNetwork()
	consumer := make(chan RPC)
	serve(t, consumer, nil)

	link, ln := linkPair(t, network, "server", newIdentity(t), consumer)
	defer ln.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := link.GetAddrs(context.Background(), 1)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	link.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrLinkClosed) {
			t.Fatalf("expected ErrLinkClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("pending request not released")
	}

	select {
	case <-link.Done():
	default:
		t.Fatalf("Done should be closed")
	}

	if _, err := link.Frontier(context.Background()); !errors.Is(err, ErrLinkClosed) {
		t.Fatalf("expected ErrLinkClosed, got %v", err)
	}
}

// An unknown command drops the link that sent it, and nothing else.
func TestLinkUnknownCommand(t *testing.T) {
	network := NewInmemNetwork()
	consumer := make(chan RPC)
	serve(t, consumer, nil)

	link, ln := linkPair(t, network, "server", newIdentity(t), consumer)
	defer ln.Close()

	if err := link.write(&envelope{Kind: kindRequest, Cmd: Command(99), ID: 1}); err != nil {
		t.Fatalf("err: %v", err)
	}

	select {
	case <-link.Done():
	case <-time.After(time.Second):
		t.Fatalf("link should be dropped by the peer")
	}

	other, ln2 := linkPair(t, network, "other", newIdentity(t), consumer)
	defer ln2.Close()
	defer other.Close()

	if err := other.Ping(context.Background(), 1); err != nil {
		t.Fatalf("err: %v", err)
	}
}

func TestHandshakeSelfConnection(t *testing.T) {
	id := newIdentity(t)
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := Handshake(context.Background(), b, id, false)
		errCh <- err
	}()

	if _, err := Handshake(context.Background(), a, id, true); !errors.Is(err, ErrSelfConnection) {
		t.Fatalf("expected ErrSelfConnection, got %v", err)
	}
	if err := <-errCh; !errors.Is(err, ErrSelfConnection) {
		t.Fatalf("expected ErrSelfConnection, got %v", err)
	}
}

func TestHandshakeBadSignature(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	forged, err := newVersion(newIdentity(t))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	forged.ExternalAddrs = []string{"tcp://1.2.3.4:5"}

	go func() {
		var v Version
		readFrame(b, &v)
		writeFrame(b, forged)
	}()

	if _, err := Handshake(context.Background(), a, newIdentity(t), true); !errors.Is(err, ErrBadHandshake) {
		t.Fatalf("expected ErrBadHandshake, got %v", err)
	}
}

func TestTLSLoopback(t *testing.T) {
	tcp := NewTCPTransport()
	ts := NewTransports(NewPolicy([]string{"tcp+tls"}, false, nil))
	ts.Register(peers.SchemeTCP, tcp)
	ts.Register(peers.SchemeTLS, NewTLSTransport(tcp))

	ln, err := ts.Listen(peers.Addr{Scheme: peers.SchemeTLS, Host: "127.0.0.1"})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer ln.Close()

	server := newIdentity(t)
	consumer := make(chan RPC)
	serve(t, consumer, nil)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		l, err := Accept(context.Background(), conn, server, consumer, DefaultLinkConfig(), common.NewTestEntry(t))
		if err != nil {
			return
		}
		<-l.Done()
	}()

	port := uint16(ln.Addr().(*net.TCPAddr).Port)
	addr := peers.Addr{Scheme: peers.SchemeTLS, Host: "127.0.0.1", Port: port}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	link, err := ts.Connect(ctx, addr, newIdentity(t), make(chan RPC), DefaultLinkConfig(), common.NewTestEntry(t))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer link.Close()

	if err := link.Ping(ctx, 7); err != nil {
		t.Fatalf("err: %v", err)
	}

	if !reflect.DeepEqual(link.Remote().NodeKey, keys.PublicKeyBytes(server.Key.PubKey())) {
		t.Fatalf("wrong remote key")
	}
}

func TestQUICLoopback(t *testing.T) {
	ts := NewTransports(NewPolicy([]string{"quic"}, false, nil))
	ts.Register(peers.SchemeQUIC, NewQUICTransport())

	ln, err := ts.Listen(peers.Addr{Scheme: peers.SchemeQUIC, Host: "127.0.0.1"})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer ln.Close()

	server := newIdentity(t)
	consumer := make(chan RPC)
	serve(t, consumer, nil)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		l, err := Accept(context.Background(), conn, server, consumer, DefaultLinkConfig(), common.NewTestEntry(t))
		if err != nil {
			return
		}
		<-l.Done()
	}()

	port := uint16(ln.Addr().(*net.UDPAddr).Port)
	addr := peers.Addr{Scheme: peers.SchemeQUIC, Host: "127.0.0.1", Port: port}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	link, err := ts.Connect(ctx, addr, newIdentity(t), make(chan RPC), DefaultLinkConfig(), common.NewTestEntry(t))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer link.Close()

	resp, err := link.Frontier(ctx)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(resp.Frontier) != 2 {
		t.Fatalf("wrong frontier: %v", resp.Frontier)
	}
}
