package eventgraph

import (
	"io/ioutil"
	"os"
	"reflect"
	"testing"

	"github.com/mosaicnetworks/murmur/src/common"
)

func testDir(t *testing.T) string {
	os.Mkdir("test_data", os.ModeDir|0777)
	dir, err := ioutil.TempDir("test_data", "badger")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	return dir
}

func TestBadgerStoreBootstrap(t *testing.T) {
	dir := testDir(t)
	defer os.RemoveAll(dir)

	logger := common.NewTestEntry(t)

	store, err := NewBadgerStore(2, dir, logger)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if store.NeedBootstrap() {
		t.Fatalf("a new store does not need bootstrapping")
	}

	g := NewEventGraph(store, nil, logger)
	a, b, c, d := diamond(t, g)

	if store.EventCount() != 4 {
		t.Fatalf("store should count 4 events, got %d", store.EventCount())
	}

	// past the cache
	got, err := store.GetEvent(a.Hex())
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if got.Hex() != a.Hex() || got.TopologicalIndex() != 0 {
		t.Fatalf("event a was not read back correctly")
	}

	if _, err := store.GetEvent("0XDEAD"); !common.IsStore(err, common.KeyNotFound) {
		t.Fatalf("expected KeyNotFound, got %v", err)
	}

	frontier := g.Frontier()
	if err := store.Close(); err != nil {
		t.Fatalf("err: %v", err)
	}

	store, err = NewBadgerStore(2, dir, logger)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer store.Close()

	if !store.NeedBootstrap() {
		t.Fatalf("a populated store needs bootstrapping")
	}

	g2 := NewEventGraph(store, nil, logger)
	if err := g2.Bootstrap(); err != nil {
		t.Fatalf("err: %v", err)
	}

	if g2.Len() != 4 || !reflect.DeepEqual(g2.Frontier(), frontier) {
		t.Fatalf("bootstrapped graph differs from the original")
	}

	topo, err := store.TopologicalEvents(1, 2)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if !reflect.DeepEqual(ids(topo), ids([]*Event{b, c})) {
		t.Fatalf("TopologicalEvents(1, 2) should return b and c")
	}

	// new inserts keep counting after the bootstrapped events
	e := child(g2, "e", d)
	if err := g2.Insert(e, "test"); err != nil {
		t.Fatalf("err: %v", err)
	}
	if e.TopologicalIndex() != 4 {
		t.Fatalf("topological index should be 4, got %d", e.TopologicalIndex())
	}
}

func TestBadgerReplayLog(t *testing.T) {
	dir := testDir(t)
	defer os.RemoveAll(dir)

	logger := common.NewTestEntry(t)

	replay, err := NewBadgerReplayLog(dir, logger)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	g := NewEventGraph(NewInmemStore(10), replay, logger)
	if !g.ReplayMode() {
		t.Fatalf("graph should be in replay mode")
	}

	a, b, c, d := diamond(t, g)

	// duplicates and rejected events are not recorded
	g.Insert(a, "test")
	g.Insert(child(g, "x", child(g, "ghost")), "test")

	if err := replay.Close(); err != nil {
		t.Fatalf("err: %v", err)
	}

	replay, err = NewBadgerReplayLog(dir, logger)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer replay.Close()

	if replay.Len() != 4 {
		t.Fatalf("replay log should hold 4 records, got %d", replay.Len())
	}

	var recorded []*Event
	err = replay.Iterate(func(r ReplayRecord) error {
		if r.Seq != uint64(len(recorded)) {
			t.Fatalf("sequence numbers should be consecutive")
		}
		if r.Source != "test" {
			t.Fatalf("source should be recorded")
		}
		recorded = append(recorded, r.Event)
		return nil
	})
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if !reflect.DeepEqual(ids(recorded), ids([]*Event{a, b, c, d})) {
		t.Fatalf("replay log should hold the events in receipt order")
	}
}
