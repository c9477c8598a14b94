package node

import (
	"context"
	"fmt"
	gonet "net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/btcec"
	"github.com/mosaicnetworks/murmur/src/config"
	"github.com/mosaicnetworks/murmur/src/crypto/keys"
	"github.com/mosaicnetworks/murmur/src/eventgraph"
	"github.com/mosaicnetworks/murmur/src/messaging"
	"github.com/mosaicnetworks/murmur/src/net"
	"github.com/mosaicnetworks/murmur/src/peers"
	"github.com/mosaicnetworks/murmur/src/slots"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// rpcWorkers is the number of goroutines serving requests from peers.
const rpcWorkers = 4

// Node defines a murmur node
type Node struct {
	state

	conf   *config.Config
	logger *logrus.Entry

	identity   *net.Identity
	graph      *eventgraph.EventGraph
	applier    *Applier
	book       *peers.AddressBook
	transports *net.Transports
	slots      *slots.Manager
	messenger  *messaging.Messenger

	netCh chan net.RPC

	listenLock sync.Mutex
	listeners  []gonet.Listener

	sessionLock sync.Mutex
	sessions    map[string]*session
	sessionWG   sync.WaitGroup

	timerFactory timerFactory

	ctx     context.Context
	cancel  context.CancelFunc
	runDone chan struct{}

	start           time.Time
	syncRequests    uint64
	syncErrors      uint64
	eventsReceived  uint64
	eventsPublished uint64
}

// NewNode is a factory method that returns a Node instance. The event graph,
// the address book and the transports are opened by the caller; the Node
// closes them on Shutdown.
func NewNode(conf *config.Config,
	key *btcec.PrivateKey,
	graph *eventgraph.EventGraph,
	book *peers.AddressBook,
	transports *net.Transports,
	sink messaging.Sink,
) (*Node, error) {
	tables, err := conf.MessagingTables()
	if err != nil {
		return nil, err
	}

	logger := conf.Logger().WithField("node", keys.PublicKeyHex(key.PubKey())[:10])

	ctx, cancel := context.WithCancel(context.Background())

	n := &Node{
		conf:   conf,
		logger: logger,
		identity: &net.Identity{
			Key:           key,
			ExternalAddrs: conf.Net.ExternalAddrs,
		},
		graph:        graph,
		book:         book,
		transports:   transports,
		netCh:        make(chan net.RPC, 64),
		sessions:     make(map[string]*session),
		timerFactory: randomTimeout,
		ctx:          ctx,
		cancel:       cancel,
		runDone:      make(chan struct{}),
	}

	n.applier = NewApplier(graph, eventgraph.NewOrphanPool(conf.OrphanLimit), n.onAccept, logger)

	n.messenger = messaging.NewMessenger(conf.Nick, tables, graph, sink, logger.WithField("component", "messaging"))

	linkConf := net.DefaultLinkConfig()
	if conf.Timeout > 0 {
		linkConf.WriteTimeout = conf.Timeout
	}

	connector := &linkConnector{
		transports: transports,
		identity:   n.identity,
		consumer:   n.netCh,
		linkConf:   linkConf,
		logger:     logger.WithField("component", "net"),
	}

	n.slots = slots.NewManager(
		slots.Config{
			Outbound:            conf.Net.OutboundConnections,
			Inbound:             conf.Net.InboundConnections,
			GoldConnectCount:    conf.Net.GoldConnectCount,
			WhiteConnectPercent: conf.Net.WhiteConnectPercent,
			MaxFailures:         conf.Net.MaxFailures,
			ConnectTimeout:      conf.Net.ConnectTimeout,
			Interval:            conf.ResyncInterval,
			Backoff:             conf.ResyncInterval,
		},
		book,
		transports.Policy(),
		connector,
		n.startSession,
		conf.Net.ExternalAddrs,
		logger.WithField("component", "slots"),
	)

	return n, nil
}

// Init rebuilds the event graph from its store, loads the address book and
// records the configured seeds and pinned peers as gold.
func (n *Node) Init() error {
	if n.graph.Store().NeedBootstrap() {
		n.logger.Debug("Bootstrap")
		if err := n.graph.Bootstrap(); err != nil {
			return fmt.Errorf("bootstrapping event graph: %w", err)
		}
	}

	if err := n.book.Load(); err != nil {
		return fmt.Errorf("loading address book: %w", err)
	}

	for _, s := range n.conf.Net.Seeds {
		addr, err := peers.ParseAddr(s)
		if err != nil {
			return err
		}
		n.book.Add(addr, peers.FromSeed)
	}

	for _, s := range n.conf.Net.Peers {
		addr, err := peers.ParseAddr(s)
		if err != nil {
			return err
		}
		n.book.Add(addr, peers.FromPinned)
	}

	n.logger.WithFields(logrus.Fields{
		"events": n.graph.Len(),
		"peers":  n.book.Len(),
	}).Debug("Initialized node")

	return nil
}

// RunAsync calls Run as a separate thread
func (n *Node) RunAsync(ctx context.Context) {
	go func() {
		if err := n.Run(ctx); err != nil {
			n.logger.WithError(err).Error("Node stopped")
		}
	}()
}

// Run listens on the inbound addresses, fills the connection slots and serves
// peers until ctx is cancelled or Shutdown is called.
func (n *Node) Run(ctx context.Context) error {
	n.sessionLock.Lock()
	if n.getState() != Starting {
		n.sessionLock.Unlock()
		return fmt.Errorf("cannot run node in state %s", n.getState())
	}
	n.setState(Running)
	n.start = time.Now()
	n.sessionLock.Unlock()

	defer close(n.runDone)

	go func() {
		select {
		case <-ctx.Done():
			n.cancel()
		case <-n.ctx.Done():
		}
	}()

	listeners, err := n.listen()
	if err != nil {
		n.cancel()
		return err
	}

	g, gctx := errgroup.WithContext(n.ctx)

	for _, l := range listeners {
		l := l
		g.Go(func() error {
			return n.acceptLoop(gctx, l)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		for _, l := range listeners {
			l.Close()
		}
		return nil
	})

	g.Go(func() error {
		return n.slots.Run(gctx)
	})

	for i := 0; i < rpcWorkers; i++ {
		g.Go(func() error {
			n.serveRPC(gctx)
			return nil
		})
	}

	g.Go(func() error {
		n.watchReload(gctx)
		return nil
	})

	err = g.Wait()
	n.cancel()

	return err
}

func (n *Node) listen() ([]gonet.Listener, error) {
	n.listenLock.Lock()
	defer n.listenLock.Unlock()

	for _, s := range n.conf.Net.Inbound {
		addr, err := peers.ParseAddr(s)
		if err != nil {
			return nil, err
		}

		l, err := n.transports.Listen(addr)
		if err != nil {
			for _, prev := range n.listeners {
				prev.Close()
			}
			n.listeners = nil
			return nil, fmt.Errorf("listening on %s: %w", s, err)
		}

		n.logger.WithField("addr", l.Addr().String()).Info("Listening")

		n.listeners = append(n.listeners, l)
	}

	return n.listeners, nil
}

// ListenAddrs returns the addresses the node listens on.
func (n *Node) ListenAddrs() []string {
	n.listenLock.Lock()
	defer n.listenLock.Unlock()

	res := make([]string, len(n.listeners))
	for i, l := range n.listeners {
		res[i] = l.Addr().String()
	}
	return res
}

func (n *Node) acceptLoop(ctx context.Context, l gonet.Listener) error {
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			n.logger.WithError(err).Error("Accepting connection")
			return err
		}

		go n.slots.AcceptInbound(ctx, conn)
	}
}

// watchReload reloads the messaging tables on SIGHUP.
func (n *Node) watchReload(ctx context.Context) {
	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)
	defer signal.Stop(hupCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hupCh:
			if err := n.ReloadTables(); err != nil {
				n.logger.WithError(err).Error("Reloading messaging tables, keeping the old ones")
			}
		}
	}
}

// ReloadTables re-reads the channels and contacts from the configuration
// file. On error the current tables are kept.
func (n *Node) ReloadTables() error {
	tables, err := n.conf.ReloadTables()
	if err != nil {
		return err
	}
	n.messenger.Reload(tables)
	return nil
}

// Shutdown stops the node, waits for the sessions to end, saves the address
// book and closes the stores. It is safe to call it more than once.
func (n *Node) Shutdown() {
	n.sessionLock.Lock()
	prev := n.getState()
	if prev == Shutdown {
		n.sessionLock.Unlock()
		return
	}
	n.setState(Shutdown)
	n.sessionLock.Unlock()

	n.logger.Debug("Shutdown")

	n.cancel()

	if prev == Running {
		<-n.runDone
	}

	n.slots.CloseAll()
	n.sessionWG.Wait()
	n.waitRoutines()

	if err := n.book.Save(); err != nil {
		n.logger.WithError(err).Error("Saving address book")
	}
	if err := n.book.Close(); err != nil {
		n.logger.WithError(err).Error("Closing address book")
	}
	if err := n.graph.Close(); err != nil {
		n.logger.WithError(err).Error("Closing event graph")
	}
}

/*******************************************************************************
Events
*******************************************************************************/

// Publish sends text to a channel.
func (n *Node) Publish(channel, text string) (*eventgraph.Event, error) {
	ev, err := n.messenger.PublishChannel(channel, text)
	if err != nil {
		return nil, err
	}
	n.published(ev)
	return ev, nil
}

// SendDM sends a direct message to a contact.
func (n *Node) SendDM(nick, text string) (*eventgraph.Event, error) {
	ev, err := n.messenger.PublishDM(nick, text)
	if err != nil {
		return nil, err
	}
	n.published(ev)
	return ev, nil
}

func (n *Node) published(ev *eventgraph.Event) {
	atomic.AddUint64(&n.eventsPublished, 1)

	n.logger.WithFields(logrus.Fields{
		"event":   ev.Hex(),
		"layer":   ev.Layer(),
		"logical": ev.Timestamp().Logical,
	}).Debug("Published event")

	n.floodAsync([]*eventgraph.Event{ev}, "")
}

// onAccept delivers newly accepted events to the messaging layer and floods
// them to every link but the one they came from.
func (n *Node) onAccept(events []*eventgraph.Event, source string) {
	atomic.AddUint64(&n.eventsReceived, uint64(len(events)))

	for _, ev := range events {
		n.messenger.Receive(ev)
	}

	n.floodAsync(events, source)
}

func (n *Node) floodAsync(events []*eventgraph.Event, except string) {
	if n.getState() != Running {
		return
	}
	ok := n.goFunc(func() {
		n.flood(events, except)
	})
	if !ok {
		// peers catch up on their next sync round
		n.logger.WithField("events", len(events)).Debug("Too many floods in flight, dropping push")
	}
}

func (n *Node) flood(events []*eventgraph.Event, except string) {
	push := &net.EventPush{Events: net.ToWire(events)}

	for _, l := range n.slots.Links() {
		if l.ID() == except {
			continue
		}
		link, ok := l.(*net.Link)
		if !ok {
			continue
		}
		if err := link.Push(push); err != nil {
			n.logger.WithError(err).WithField("link", link.ID()).Debug("Pushing events")
		}
	}
}

/*******************************************************************************
Accessors
*******************************************************************************/

// Graph returns the event graph.
func (n *Node) Graph() *eventgraph.EventGraph {
	return n.graph
}

// Messenger returns the messaging layer.
func (n *Node) Messenger() *messaging.Messenger {
	return n.messenger
}

// AddressBook returns the address book.
func (n *Node) AddressBook() *peers.AddressBook {
	return n.book
}

// Slots returns the slot manager.
func (n *Node) Slots() *slots.Manager {
	return n.slots
}

// PublicKey returns the hex encoding of the node's identity key.
func (n *Node) PublicKey() string {
	return keys.PublicKeyHex(n.identity.Key.PubKey())
}

// GetEvent returns an event of the graph.
func (n *Node) GetEvent(id string) (*eventgraph.Event, error) {
	return n.graph.Get(id)
}

// GetFrontier returns the ids of the frontier events.
func (n *Node) GetFrontier() []string {
	return n.graph.Frontier()
}

// GetPeers returns every record of the address book.
func (n *Node) GetPeers() []peers.PeerRecord {
	return n.book.All()
}

// GetSlots returns a snapshot of the connection slots.
func (n *Node) GetSlots() []slots.Slot {
	return n.slots.Slots()
}

// GetState returns the state of the node.
func (n *Node) GetState() State {
	return n.getState()
}

// GetStats returns stats
func (n *Node) GetStats() map[string]string {
	classes := map[peers.Class]int{}
	for _, rec := range n.book.All() {
		classes[rec.Class]++
	}

	n.sessionLock.Lock()
	sessions := len(n.sessions)
	start := n.start
	n.sessionLock.Unlock()

	var uptime time.Duration
	if !start.IsZero() {
		uptime = time.Since(start)
	}

	s := map[string]string{
		"state":            n.getState().String(),
		"node_key":         n.PublicKey(),
		"events":           strconv.Itoa(n.graph.Len()),
		"frontier":         strconv.Itoa(len(n.graph.Frontier())),
		"orphans":          strconv.Itoa(n.applier.Orphans().Len()),
		"events_received":  strconv.FormatUint(atomic.LoadUint64(&n.eventsReceived), 10),
		"events_published": strconv.FormatUint(atomic.LoadUint64(&n.eventsPublished), 10),
		"sync_rate":        strconv.FormatFloat(n.SyncRate(), 'f', 2, 64),
		"sessions":         strconv.Itoa(sessions),
		"links":            strconv.Itoa(len(n.slots.Links())),
		"peers":            strconv.Itoa(n.book.Len()),
		"gold":             strconv.Itoa(classes[peers.Gold]),
		"white":            strconv.Itoa(classes[peers.White]),
		"grey":             strconv.Itoa(classes[peers.Grey]),
		"black":            strconv.Itoa(classes[peers.Black]),
		"replay_mode":      strconv.FormatBool(n.graph.ReplayMode()),
		"uptime":           uptime.Round(time.Second).String(),
	}
	return s
}

// SyncRate returns the ratio of successful sync rounds.
func (n *Node) SyncRate() float64 {
	requests := atomic.LoadUint64(&n.syncRequests)
	errs := atomic.LoadUint64(&n.syncErrors)
	if requests == 0 {
		return 1
	}
	return 1 - float64(errs)/float64(requests)
}
