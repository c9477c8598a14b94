package node

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/mosaicnetworks/murmur/src/config"
	"github.com/mosaicnetworks/murmur/src/crypto"
	"github.com/mosaicnetworks/murmur/src/crypto/box"
	"github.com/mosaicnetworks/murmur/src/crypto/keys"
	"github.com/mosaicnetworks/murmur/src/eventgraph"
	"github.com/mosaicnetworks/murmur/src/messaging"
	"github.com/mosaicnetworks/murmur/src/net"
	"github.com/mosaicnetworks/murmur/src/peers"
	"github.com/sirupsen/logrus"
)

func newSecret(t *testing.T) string {
	s, err := box.GenerateSecret()
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	return crypto.EncodeKey(s[:])
}

func newTestNode(t *testing.T, network *net.InmemNetwork, name string, secret string, pinned ...string) (*Node, messaging.ChanSink) {
	conf := config.NewTestConfig(t, logrus.WarnLevel)
	conf.Nick = name
	conf.Net.Inbound = []string{"inmem://" + name}
	conf.Net.ExternalAddrs = []string{"inmem://" + name}
	conf.Net.Peers = pinned
	conf.Channels = map[string]messaging.ChannelConfig{
		"#murmur": {Secret: secret},
	}

	key, err := keys.GenerateKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	graph := eventgraph.NewEventGraph(eventgraph.NewInmemStore(conf.CacheSize), nil, conf.Logger())
	book := peers.NewAddressBook(nil, nil, nil, conf.Logger())
	sink := make(messaging.ChanSink, 32)

	n, err := NewNode(conf, key, graph, book, NewTransports(conf, network), sink)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if err := n.Init(); err != nil {
		t.Fatalf("err: %v", err)
	}

	return n, sink
}

func waitMessages(t *testing.T, sink messaging.ChanSink, count int, timeout time.Duration) map[string]messaging.Message {
	res := make(map[string]messaging.Message)
	deadline := time.After(timeout)
	for len(res) < count {
		select {
		case m := <-sink:
			res[m.Text] = m
		case <-deadline:
			t.Fatalf("received %d messages out of %d", len(res), count)
		}
	}
	return res
}

func waitConverged(t *testing.T, nodes []*Node, events int, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for {
		converged := true
		for _, n := range nodes {
			if n.Graph().Len() != events ||
				!reflect.DeepEqual(n.GetFrontier(), nodes[0].GetFrontier()) {
				converged = false
				break
			}
		}
		if converged {
			return
		}
		if time.Now().After(deadline) {
			for _, n := range nodes {
				t.Logf("%s: %d events, frontier %v", n.conf.Nick, n.Graph().Len(), n.GetFrontier())
			}
			t.Fatalf("nodes did not converge")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestNodesConverge(t *testing.T) {
	network := net.NewInmemNetwork()
	secret := newSecret(t)

	alpha, alphaSink := newTestNode(t, network, "alpha", secret)
	bravo, bravoSink := newTestNode(t, network, "bravo", secret, "inmem://alpha")

	// both nodes write before they ever meet
	for i := 0; i < 3; i++ {
		if _, err := alpha.Publish("#murmur", fmt.Sprintf("alpha %d", i)); err != nil {
			t.Fatalf("err: %v", err)
		}
	}
	for i := 0; i < 2; i++ {
		if _, err := bravo.Publish("#murmur", fmt.Sprintf("bravo %d", i)); err != nil {
			t.Fatalf("err: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alpha.RunAsync(ctx)
	bravo.RunAsync(ctx)
	defer alpha.Shutdown()
	defer bravo.Shutdown()

	fromAlpha := waitMessages(t, bravoSink, 3, 5*time.Second)
	for i := 0; i < 3; i++ {
		m, ok := fromAlpha[fmt.Sprintf("alpha %d", i)]
		if !ok {
			t.Fatalf("bravo did not receive alpha %d", i)
		}
		if m.Channel != "#murmur" || m.Nick != "alpha" || !m.Sealed {
			t.Fatalf("unexpected message %#v", m)
		}
	}

	waitMessages(t, alphaSink, 2, 5*time.Second)

	waitConverged(t, []*Node{alpha, bravo}, 5, 5*time.Second)

	// once linked, new events are pushed
	if _, err := alpha.Publish("#murmur", "live"); err != nil {
		t.Fatalf("err: %v", err)
	}

	live := waitMessages(t, bravoSink, 1, 5*time.Second)
	if _, ok := live["live"]; !ok {
		t.Fatalf("bravo did not receive the live message")
	}

	waitConverged(t, []*Node{alpha, bravo}, 6, 5*time.Second)

	// bravo dialed alpha, which is pinned, so alpha must be gold
	rec, ok := bravo.AddressBook().Get("inmem://alpha")
	if !ok || rec.Class != peers.Gold {
		t.Fatalf("alpha should be a gold peer of bravo: %#v", rec)
	}

	// alpha learned bravo's advertised address from the inbound link
	if _, ok := alpha.AddressBook().Get("inmem://bravo"); !ok {
		t.Fatalf("alpha should know bravo's address")
	}

	stats := bravo.GetStats()
	if stats["events"] != "6" {
		t.Fatalf("stats report %s events", stats["events"])
	}
	if stats["state"] != Running.String() {
		t.Fatalf("stats report state %s", stats["state"])
	}
}

func TestProcessRPC(t *testing.T) {
	network := net.NewInmemNetwork()
	n, sink := newTestNode(t, network, "alpha", newSecret(t))
	defer n.Shutdown()

	ev, err := n.Publish("#murmur", "hello")
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	call := func(cmd interface{}) net.RPCResponse {
		respCh := make(chan net.RPCResponse, 1)
		n.processRPC(net.RPC{Command: cmd, RespChan: respCh})
		select {
		case r := <-respCh:
			return r
		case <-time.After(time.Second):
			t.Fatalf("no response to %T", cmd)
		}
		return net.RPCResponse{}
	}

	t.Run("Frontier", func(t *testing.T) {
		r := call(&net.FrontierRequest{})
		resp := r.Response.(*net.FrontierResponse)
		if !reflect.DeepEqual(resp.Frontier, []string{ev.Hex()}) {
			t.Fatalf("frontier should be [%s], not %v", ev.Hex(), resp.Frontier)
		}
	})

	t.Run("Sync", func(t *testing.T) {
		r := call(&net.SyncRequest{})
		resp := r.Response.(*net.SyncResponse)
		if len(resp.Events) != 1 {
			t.Fatalf("sync response should have 1 event, not %d", len(resp.Events))
		}

		r = call(&net.SyncRequest{Frontier: []string{ev.Hex()}})
		resp = r.Response.(*net.SyncResponse)
		if len(resp.Events) != 0 {
			t.Fatalf("peer knows everything, got %d events", len(resp.Events))
		}
	})

	t.Run("Events", func(t *testing.T) {
		r := call(&net.EventsRequest{IDs: []string{"0XUNKNOWN", ev.Hex()}})
		resp := r.Response.(*net.EventsResponse)
		if len(resp.Events) != 1 || resp.Events[0].Timestamp != ev.Timestamp() {
			t.Fatalf("unexpected events %#v", resp.Events)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		r := call(&net.PingRequest{Nonce: 42})
		if r.Response.(*net.PongResponse).Nonce != 42 {
			t.Fatalf("pong should echo the nonce")
		}
	})

	t.Run("GetAddrs", func(t *testing.T) {
		n.AddressBook().Add(peers.MustParseAddr("tcp://10.0.0.1:7337"), peers.FromExchange)
		r := call(&net.GetAddrsRequest{Max: 10})
		resp := r.Response.(*net.AddrsResponse)
		if !reflect.DeepEqual(resp.Addrs, []string{"tcp://10.0.0.1:7337"}) {
			t.Fatalf("unexpected addresses %v", resp.Addrs)
		}
	})

	t.Run("Push", func(t *testing.T) {
		remote := newTestGraph(t)
		a := child("pushed a")
		b := child("pushed b", a)
		for _, e := range []*eventgraph.Event{a, b} {
			if err := remote.Insert(e, "test"); err != nil {
				t.Fatalf("err: %v", err)
			}
		}

		// child first: it waits for its parent
		n.processRPC(net.RPC{Command: &net.EventPush{Events: net.ToWire([]*eventgraph.Event{b})}})
		if n.Graph().Contains(b.Hex()) {
			t.Fatalf("orphan should not be inserted")
		}

		n.processRPC(net.RPC{Command: &net.EventPush{Events: net.ToWire([]*eventgraph.Event{a})}})
		if !n.Graph().Contains(a.Hex()) || !n.Graph().Contains(b.Hex()) {
			t.Fatalf("pushed events should be inserted")
		}

		// undecryptable payloads are still delivered, as such
		got := waitMessages(t, sink, 1, time.Second)
		for _, m := range got {
			if !m.Undecryptable {
				t.Fatalf("unexpected message %#v", m)
			}
		}
	})
}

func TestReloadTables(t *testing.T) {
	network := net.NewInmemNetwork()
	n, _ := newTestNode(t, network, "alpha", newSecret(t))
	defer n.Shutdown()

	path := filepath.Join(n.conf.DataDir, "murmur.toml")
	content := fmt.Sprintf("[channel.news]\nsecret = %q\ntopic = \"fresh\"\n", newSecret(t))
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("err: %v", err)
	}
	n.conf.ConfigFile = path

	if err := n.ReloadTables(); err != nil {
		t.Fatalf("err: %v", err)
	}

	if _, ok := n.Messenger().Tables().Channel("news"); !ok {
		t.Fatalf("news should be loaded")
	}
	if _, ok := n.Messenger().Tables().Channel("#murmur"); ok {
		t.Fatalf("#murmur should be gone")
	}

	// a broken file keeps the current tables
	if err := os.WriteFile(path, []byte("[channel.bad]\nsecret = \"not base58 0OIl\"\n"), 0600); err != nil {
		t.Fatalf("err: %v", err)
	}
	if err := n.ReloadTables(); err == nil {
		t.Fatalf("reloading a bad secret should fail")
	}
	if _, ok := n.Messenger().Tables().Channel("news"); !ok {
		t.Fatalf("news should still be loaded")
	}
}

func TestShutdown(t *testing.T) {
	network := net.NewInmemNetwork()
	n, _ := newTestNode(t, network, "alpha", newSecret(t))

	n.Shutdown()
	n.Shutdown()

	if n.GetState() != Shutdown {
		t.Fatalf("state should be Shutdown, not %s", n.GetState())
	}

	if err := n.Run(context.Background()); err == nil {
		t.Fatalf("Run after Shutdown should fail")
	}
}
