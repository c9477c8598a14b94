package murmur

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mosaicnetworks/murmur/src/config"
	"github.com/mosaicnetworks/murmur/src/crypto"
	"github.com/mosaicnetworks/murmur/src/crypto/box"
	"github.com/mosaicnetworks/murmur/src/crypto/keys"
	"github.com/mosaicnetworks/murmur/src/eventgraph"
	"github.com/mosaicnetworks/murmur/src/messaging"
	"github.com/mosaicnetworks/murmur/src/net"
	"github.com/sirupsen/logrus"
)

func newTestConfig(t *testing.T, secret string) *config.Config {
	conf := config.NewTestConfig(t, logrus.WarnLevel)
	conf.Channels = map[string]messaging.ChannelConfig{
		"#murmur": {Secret: secret},
	}
	return conf
}

func newSecret(t *testing.T) string {
	s, err := box.GenerateSecret()
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	return crypto.EncodeKey(s[:])
}

func TestInitStore(t *testing.T) {
	conf := newTestConfig(t, newSecret(t))
	conf.Datastore = config.DefaultBadgerFile
	conf.ReplayMode = true

	m := NewMurmur(conf)
	if err := m.Init(); err != nil {
		t.Fatalf("err: %v", err)
	}

	if _, ok := m.Store.(*eventgraph.BadgerStore); !ok {
		t.Fatalf("store should be a BadgerStore, not %T", m.Store)
	}

	for _, text := range []string{"one", "two"} {
		if _, err := m.Node.Publish("#murmur", text); err != nil {
			t.Fatalf("err: %v", err)
		}
	}
	frontier := m.Node.GetFrontier()
	pub := m.Node.PublicKey()

	m.Node.Shutdown()

	// the key, the events and the replay log survive a restart
	m2 := NewMurmur(conf)
	if err := m2.Init(); err != nil {
		t.Fatalf("err: %v", err)
	}

	if m2.Node.PublicKey() != pub {
		t.Fatalf("node key should be reloaded")
	}
	if m2.Graph.Len() != 2 {
		t.Fatalf("reloaded graph has %d events, expected 2", m2.Graph.Len())
	}
	if got := m2.Node.GetFrontier(); len(got) != 1 || got[0] != frontier[0] {
		t.Fatalf("reloaded frontier %v, expected %v", got, frontier)
	}

	m2.Node.Shutdown()

	replay, err := eventgraph.OpenReplayLog(conf.ReplayPath(), conf.Logger())
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer replay.Close()

	records := 0
	err = replay.Iterate(func(r eventgraph.ReplayRecord) error {
		records++
		if r.Source != "local" {
			t.Fatalf("record source should be local, not %s", r.Source)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if records != 2 {
		t.Fatalf("replay log has %d records, expected 2", records)
	}
}

func TestInitInvalidConfig(t *testing.T) {
	conf := newTestConfig(t, "not base58 0OIl")

	err := NewMurmur(conf).Init()

	var cerr *config.ConfigError
	if !errors.As(err, &cerr) {
		t.Fatalf("err should be a ConfigError, not %v", err)
	}
}

func TestKeygen(t *testing.T) {
	conf := newTestConfig(t, newSecret(t))

	key, err := Keygen(conf.Keyfile())
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if _, err := Keygen(conf.Keyfile()); err == nil {
		t.Fatalf("a second Keygen should fail")
	}

	m := NewMurmur(conf)
	if err := m.Init(); err != nil {
		t.Fatalf("err: %v", err)
	}
	defer m.Node.Shutdown()

	if m.Node.PublicKey() != keys.PublicKeyHex(key.PubKey()) {
		t.Fatalf("node should use the generated key")
	}
}

func TestRun(t *testing.T) {
	network := net.NewInmemNetwork()
	secret := newSecret(t)

	newPeer := func(name string, peers ...string) (*Murmur, messaging.ChanSink) {
		conf := newTestConfig(t, secret)
		conf.Nick = name
		conf.Net.Inbound = []string{"inmem://" + name}
		conf.Net.ExternalAddrs = []string{"inmem://" + name}
		conf.Net.Peers = peers

		sink := make(messaging.ChanSink, 8)

		m := NewMurmur(conf)
		m.Inmem = network
		m.Sink = sink
		if err := m.Init(); err != nil {
			t.Fatalf("err: %v", err)
		}
		return m, sink
	}

	alpha, _ := newPeer("alpha")
	bravo, bravoSink := newPeer("bravo", "inmem://alpha")

	if _, err := alpha.Node.Publish("#murmur", "hello bravo"); err != nil {
		t.Fatalf("err: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 2)
	go func() { errCh <- alpha.Run(ctx) }()
	go func() { errCh <- bravo.Run(ctx) }()

	select {
	case msg := <-bravoSink:
		if msg.Text != "hello bravo" || msg.Nick != "alpha" {
			t.Fatalf("unexpected message %#v", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("bravo did not receive the message")
	}

	cancel()

	for i := 0; i < 2; i++ {
		select {
		case <-errCh:
		case <-time.After(5 * time.Second):
			t.Fatalf("Run did not return after cancel")
		}
	}
}
