package service

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mosaicnetworks/murmur/src/config"
	"github.com/mosaicnetworks/murmur/src/crypto"
	"github.com/mosaicnetworks/murmur/src/crypto/box"
	"github.com/mosaicnetworks/murmur/src/crypto/keys"
	"github.com/mosaicnetworks/murmur/src/eventgraph"
	"github.com/mosaicnetworks/murmur/src/messaging"
	"github.com/mosaicnetworks/murmur/src/net"
	"github.com/mosaicnetworks/murmur/src/node"
	"github.com/mosaicnetworks/murmur/src/peers"
	"github.com/sirupsen/logrus"
)

func newTestService(t *testing.T) (*Service, *node.Node) {
	conf := config.NewTestConfig(t, logrus.WarnLevel)
	conf.Nick = "alpha"
	conf.Net.Peers = []string{"tcp://10.0.0.1:7337"}

	secret, err := box.GenerateSecret()
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	conf.Channels = map[string]messaging.ChannelConfig{
		"#murmur": {Secret: crypto.EncodeKey(secret[:])},
	}

	key, err := keys.GenerateKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	graph := eventgraph.NewEventGraph(eventgraph.NewInmemStore(conf.CacheSize), nil, conf.Logger())
	book := peers.NewAddressBook(nil, nil, nil, conf.Logger())

	n, err := node.NewNode(conf, key, graph, book, node.NewTransports(conf, net.NewInmemNetwork()), make(messaging.ChanSink, 8))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if err := n.Init(); err != nil {
		t.Fatalf("err: %v", err)
	}

	return NewService("127.0.0.1:0", n, conf.Logger()), n
}

func get(t *testing.T, s *Service, path string, v interface{}) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if v != nil && rec.Code == http.StatusOK {
		if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
			t.Fatalf("err: %v", err)
		}
	}

	return rec
}

func TestService(t *testing.T) {
	s, n := newTestService(t)
	defer n.Shutdown()

	ev, err := n.Publish("#murmur", "hello")
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	t.Run("Stats", func(t *testing.T) {
		stats := map[string]string{}
		rec := get(t, s, "/stats", &stats)
		if rec.Code != http.StatusOK {
			t.Fatalf("status %d", rec.Code)
		}
		if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
			t.Fatalf("CORS header missing")
		}
		if stats["events"] != "1" {
			t.Fatalf("stats report %s events", stats["events"])
		}
	})

	t.Run("Frontier", func(t *testing.T) {
		frontier := []string{}
		get(t, s, "/frontier", &frontier)
		if len(frontier) != 1 || frontier[0] != ev.Hex() {
			t.Fatalf("unexpected frontier %v", frontier)
		}
	})

	t.Run("Event", func(t *testing.T) {
		var view EventView
		rec := get(t, s, "/event/"+ev.Hex(), &view)
		if rec.Code != http.StatusOK {
			t.Fatalf("status %d", rec.Code)
		}
		if view.ID != ev.Hex() || view.Layer != ev.Layer().String() || view.Logical != ev.Timestamp().Logical {
			t.Fatalf("unexpected event %#v", view)
		}

		rec = get(t, s, "/event/0XUNKNOWN", nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("unknown event should be 404, not %d", rec.Code)
		}
	})

	t.Run("Peers", func(t *testing.T) {
		views := []PeerView{}
		get(t, s, "/peers", &views)
		if len(views) != 1 || views[0].Addr != "tcp://10.0.0.1:7337" {
			t.Fatalf("unexpected peers %#v", views)
		}
		if views[0].Source != peers.FromPinned.String() {
			t.Fatalf("peer source should be %s, not %s", peers.FromPinned, views[0].Source)
		}
	})

	t.Run("Slots", func(t *testing.T) {
		views := []SlotView{}
		get(t, s, "/slots", &views)
		if len(views) != len(n.GetSlots()) {
			t.Fatalf("%d slots, expected %d", len(views), len(n.GetSlots()))
		}
	})

	t.Run("Sessions", func(t *testing.T) {
		views := []node.SessionInfo{}
		rec := get(t, s, "/sessions", &views)
		if rec.Code != http.StatusOK || len(views) != 0 {
			t.Fatalf("unexpected sessions %d %#v", rec.Code, views)
		}
	})

	t.Run("Method", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/stats", nil)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("POST should be refused, got %d", rec.Code)
		}
	})
}
