package slots

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/mosaicnetworks/murmur/src/common"
	mnet "github.com/mosaicnetworks/murmur/src/net"
	"github.com/mosaicnetworks/murmur/src/peers"
)

type fakeLink struct {
	id   string
	done chan struct{}
	once sync.Once
}

func newFakeLink(id string) *fakeLink {
	return &fakeLink{id: id, done: make(chan struct{})}
}

func (l *fakeLink) ID() string            { return l.id }
func (l *fakeLink) Done() <-chan struct{} { return l.done }
func (l *fakeLink) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}

type fakeConnector struct {
	sync.Mutex
	dials []string
	fail  map[string]bool
	links map[string]*fakeLink
	n     int
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{
		fail:  make(map[string]bool),
		links: make(map[string]*fakeLink),
	}
}

func (c *fakeConnector) Connect(ctx context.Context, addr peers.Addr) (Link, error) {
	c.Lock()
	defer c.Unlock()

	c.dials = append(c.dials, addr.String())
	if c.fail[addr.String()] {
		return nil, errors.New("connection refused")
	}

	c.n++
	l := newFakeLink(fmt.Sprintf("link-%d", c.n))
	c.links[addr.String()] = l
	return l, nil
}

func (c *fakeConnector) Accept(ctx context.Context, conn net.Conn) (Link, *peers.Addr, error) {
	c.Lock()
	defer c.Unlock()

	c.n++
	return newFakeLink(fmt.Sprintf("in-%d", c.n)), nil, nil
}

func (c *fakeConnector) dialCount() int {
	c.Lock()
	defer c.Unlock()
	return len(c.dials)
}

func (c *fakeConnector) dialed(addr string) bool {
	c.Lock()
	defer c.Unlock()
	for _, d := range c.dials {
		if d == addr {
			return true
		}
	}
	return false
}

func (c *fakeConnector) link(addr string) *fakeLink {
	c.Lock()
	defer c.Unlock()
	return c.links[addr]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func countState(m *Manager, d Direction, st State) int {
	n := 0
	for _, s := range m.Slots() {
		if s.Direction == d && s.State == st {
			n++
		}
	}
	return n
}

func newTestManager(t *testing.T, conf Config, book *peers.AddressBook, conn Connector) *Manager {
	policy := mnet.NewPolicy([]string{"tcp", "tcp+tls"}, false, book.Blacklist())
	return NewManager(conf, book, policy, conn, nil, nil, common.NewTestEntry(t))
}

func TestGoldTarget(t *testing.T) {
	cases := []struct {
		outbound, gold, white, expected int
	}{
		{8, 2, 25, 6},
		{8, 7, 25, 7},
		{4, 10, 0, 4},
		{10, 0, 100, 0},
		{10, 3, 100, 3},
		{10, 1, 33, 7},
	}

	for _, c := range cases {
		if got := GoldTarget(c.outbound, c.gold, c.white); got != c.expected {
			t.Fatalf("GoldTarget(%d, %d, %d) should be %d, not %d", c.outbound, c.gold, c.white, c.expected, got)
		}
	}
}

func TestFillRespectsSlotLimit(t *testing.T) {
	book := peers.NewAddressBook(nil, nil, nil, common.NewTestEntry(t))
	for i := 0; i < 10; i++ {
		book.Add(peers.MustParseAddr(fmt.Sprintf("tcp://10.0.0.%d:1337", i+1)), peers.FromExchange)
	}

	conn := newFakeConnector()
	m := newTestManager(t, Config{Outbound: 3, Inbound: 1}, book, conn)

	m.Fill(context.Background())
	waitFor(t, "3 established slots", func() bool { return countState(m, Outbound, Established) == 3 })

	m.Fill(context.Background())
	time.Sleep(20 * time.Millisecond)

	if c := conn.dialCount(); c != 3 {
		t.Fatalf("expected 3 dials, got %d", c)
	}

	seen := make(map[string]bool)
	for _, s := range m.Slots() {
		if s.Direction == Outbound {
			if seen[s.Peer.Key()] {
				t.Fatalf("peer %s holds two slots", s.Peer.Key())
			}
			seen[s.Peer.Key()] = true
		}
	}

	if len(m.Links()) != 3 {
		t.Fatalf("expected 3 links, got %d", len(m.Links()))
	}
}

func TestBlacklistedNeverDialed(t *testing.T) {
	blacklist := peers.Blacklist{
		{Host: "example.com", Schemes: []string{"tcp"}, Ports: []uint16{8551, 23331}},
	}
	book := peers.NewAddressBook(blacklist, nil, nil, common.NewTestEntry(t))

	banned := []string{"tcp://example.com:8551", "tcp://example.com:23331"}
	for _, a := range banned {
		book.Add(peers.MustParseAddr(a), peers.FromSeed)
	}
	book.Add(peers.MustParseAddr("tcp://example.com:8552"), peers.FromExchange)
	book.Add(peers.MustParseAddr("quic://10.0.0.1:4242"), peers.FromExchange)

	conn := newFakeConnector()
	m := newTestManager(t, Config{Outbound: 4}, book, conn)

	for i := 0; i < 3; i++ {
		m.Fill(context.Background())
		time.Sleep(10 * time.Millisecond)
	}

	for _, a := range banned {
		if conn.dialed(a) {
			t.Fatalf("%s was dialed", a)
		}
	}
	if conn.dialed("quic://10.0.0.1:4242") {
		t.Fatalf("address with a disallowed transport was dialed")
	}
	if !conn.dialed("tcp://example.com:8552") {
		t.Fatalf("allowed port should be dialed")
	}
}

func TestSelectionPrefersGold(t *testing.T) {
	book := peers.NewAddressBook(nil, nil, nil, common.NewTestEntry(t))

	for i := 0; i < 4; i++ {
		book.Add(peers.MustParseAddr(fmt.Sprintf("tcp://10.0.1.%d:1", i+1)), peers.FromExchange)
	}
	for i := 0; i < 4; i++ {
		rec, _ := book.Add(peers.MustParseAddr(fmt.Sprintf("tcp://10.0.2.%d:1", i+1)), peers.FromExchange)
		book.Classify(rec.Key(), peers.Gold)
	}

	conn := newFakeConnector()
	// gold target = max(1, 4 - 2) = 2, white quota = 2
	m := newTestManager(t, Config{Outbound: 4, GoldConnectCount: 1, WhiteConnectPercent: 50}, book, conn)

	m.Fill(context.Background())
	waitFor(t, "4 established slots", func() bool { return countState(m, Outbound, Established) == 4 })

	gold, white := 0, 0
	for _, s := range m.Slots() {
		switch s.Peer.Class {
		case peers.Gold:
			gold++
		case peers.White:
			white++
		}
	}
	if gold != 2 || white != 2 {
		t.Fatalf("expected 2 gold and 2 white links, got %d and %d", gold, white)
	}
}

// With no white peers available, free slots fall back to gold peers.
func TestSelectionFallback(t *testing.T) {
	book := peers.NewAddressBook(nil, nil, nil, common.NewTestEntry(t))
	for i := 0; i < 3; i++ {
		book.Add(peers.MustParseAddr(fmt.Sprintf("tcp://10.0.3.%d:1", i+1)), peers.FromSeed)
	}

	conn := newFakeConnector()
	m := newTestManager(t, Config{Outbound: 3, WhiteConnectPercent: 100}, book, conn)

	m.Fill(context.Background())
	waitFor(t, "3 established slots", func() bool { return countState(m, Outbound, Established) == 3 })
}

func TestDialFailureDemotes(t *testing.T) {
	book := peers.NewAddressBook(nil, nil, nil, common.NewTestEntry(t))

	rec, _ := book.Add(peers.MustParseAddr("tcp://10.0.4.1:1"), peers.FromExchange)
	book.Classify(rec.Key(), peers.Gold)
	seed, _ := book.Add(peers.MustParseAddr("tcp://10.0.4.2:1"), peers.FromSeed)

	conn := newFakeConnector()
	conn.fail[rec.Key()] = true
	conn.fail[seed.Key()] = true

	m := newTestManager(t, Config{Outbound: 2, MaxFailures: 2}, book, conn)

	for i := 0; i < 2; i++ {
		m.Fill(context.Background())
		waitFor(t, "slots released", func() bool { return countState(m, Outbound, Empty) == 2 })
	}

	r, _ := book.Get(rec.Key())
	if r.Class != peers.White {
		t.Fatalf("peer should be demoted to white, is %s", r.Class)
	}
	if r.Failures != 0 {
		t.Fatalf("failures should be reset on demotion, got %d", r.Failures)
	}

	s, _ := book.Get(seed.Key())
	if s.Class != peers.Gold {
		t.Fatalf("seed should never be demoted, is %s", s.Class)
	}
}

func TestBackoff(t *testing.T) {
	book := peers.NewAddressBook(nil, nil, nil, common.NewTestEntry(t))
	rec, _ := book.Add(peers.MustParseAddr("tcp://10.0.5.1:1"), peers.FromExchange)

	conn := newFakeConnector()
	conn.fail[rec.Key()] = true

	m := newTestManager(t, Config{Outbound: 1, Backoff: time.Hour}, book, conn)

	m.Fill(context.Background())
	waitFor(t, "slot released", func() bool { return countState(m, Outbound, Empty) == 1 })

	m.Fill(context.Background())
	time.Sleep(20 * time.Millisecond)

	if c := conn.dialCount(); c != 1 {
		t.Fatalf("peer in backoff should not be redialed, got %d dials", c)
	}
}

func TestReportSyncedAndFailure(t *testing.T) {
	book := peers.NewAddressBook(nil, nil, nil, common.NewTestEntry(t))
	rec, _ := book.Add(peers.MustParseAddr("tcp://10.0.6.1:1"), peers.FromExchange)

	conn := newFakeConnector()
	m := newTestManager(t, Config{Outbound: 1, MaxFailures: 1}, book, conn)

	m.Fill(context.Background())
	waitFor(t, "established slot", func() bool { return countState(m, Outbound, Established) == 1 })

	link := conn.link(rec.Key())

	m.ReportSynced(link.ID())
	if r, _ := book.Get(rec.Key()); r.Class != peers.Gold {
		t.Fatalf("synced peer should be gold, is %s", r.Class)
	}
	if s := m.Slots()[0]; s.Peer.Class != peers.Gold {
		t.Fatalf("slot should see the promotion, got %s", s.Peer.Class)
	}

	m.ReportFailure(link.ID())

	select {
	case <-link.Done():
	default:
		t.Fatalf("failed link should be closed")
	}

	waitFor(t, "slot released", func() bool { return countState(m, Outbound, Empty) == 1 })

	if r, _ := book.Get(rec.Key()); r.Class != peers.White {
		t.Fatalf("peer should be demoted to white, is %s", r.Class)
	}
}

func TestInboundFull(t *testing.T) {
	book := peers.NewAddressBook(nil, nil, nil, common.NewTestEntry(t))
	conn := newFakeConnector()
	m := newTestManager(t, Config{Outbound: 1, Inbound: 1}, book, conn)

	a1, b1 := net.Pipe()
	defer b1.Close()
	if err := m.AcceptInbound(context.Background(), a1); err != nil {
		t.Fatalf("err: %v", err)
	}

	a2, b2 := net.Pipe()
	defer b2.Close()
	if err := m.AcceptInbound(context.Background(), a2); !errors.Is(err, ErrInboundFull) {
		t.Fatalf("expected ErrInboundFull, got %v", err)
	}

	// The refused connection is closed.
	b2.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := b2.Read(make([]byte, 1)); err == nil {
		t.Fatalf("refused connection should be closed")
	}

	if countState(m, Inbound, Established) != 1 {
		t.Fatalf("expected 1 established inbound slot")
	}

	for _, l := range m.Links() {
		l.Close()
	}
	waitFor(t, "inbound slot released", func() bool { return countState(m, Inbound, Empty) == 1 })

	a3, b3 := net.Pipe()
	defer b3.Close()
	if err := m.AcceptInbound(context.Background(), a3); err != nil {
		t.Fatalf("err: %v", err)
	}
}

func TestRebalance(t *testing.T) {
	book := peers.NewAddressBook(nil, nil, nil, common.NewTestEntry(t))
	for i := 0; i < 2; i++ {
		book.Add(peers.MustParseAddr(fmt.Sprintf("tcp://10.0.7.%d:1", i+1)), peers.FromExchange)
	}

	conn := newFakeConnector()
	m := newTestManager(t, Config{Outbound: 2, GoldConnectCount: 2}, book, conn)

	m.Fill(context.Background())
	waitFor(t, "2 established slots", func() bool { return countState(m, Outbound, Established) == 2 })

	if m.Rebalance() {
		t.Fatalf("nothing to rebalance without gold candidates")
	}

	book.Add(peers.MustParseAddr("tcp://10.0.7.100:1"), peers.FromSeed)

	if !m.Rebalance() {
		t.Fatalf("a white link should be evicted for the gold peer")
	}

	waitFor(t, "free slot", func() bool { return countState(m, Outbound, Empty) == 1 })

	m.Fill(context.Background())
	waitFor(t, "gold peer dialed", func() bool { return conn.dialed("tcp://10.0.7.100:1") })
}
