package murmur

import (
	"context"
	"fmt"
	"os"

	"github.com/btcsuite/btcd/btcec"
	"github.com/mosaicnetworks/murmur/src/config"
	"github.com/mosaicnetworks/murmur/src/crypto/keys"
	"github.com/mosaicnetworks/murmur/src/eventgraph"
	"github.com/mosaicnetworks/murmur/src/messaging"
	"github.com/mosaicnetworks/murmur/src/net"
	"github.com/mosaicnetworks/murmur/src/node"
	"github.com/mosaicnetworks/murmur/src/peers"
	"github.com/mosaicnetworks/murmur/src/service"
	"github.com/sirupsen/logrus"
)

// Murmur is a struct containing the key parts of a murmur node
type Murmur struct {
	Config *config.Config

	// Sink receives the decoded messages. It defaults to a LogSink.
	Sink messaging.Sink

	// Inmem, when set, registers the inmem transport on this network.
	Inmem *net.InmemNetwork

	Key        *btcec.PrivateKey
	Store      eventgraph.Store
	Replay     eventgraph.ReplayLog
	Graph      *eventgraph.EventGraph
	Book       *peers.AddressBook
	Transports *net.Transports
	Node       *node.Node
	Service    *service.Service

	logger *logrus.Entry
}

// NewMurmur is a factory method to produce a Murmur instance.
func NewMurmur(c *config.Config) *Murmur {
	return &Murmur{
		Config: c,
		logger: c.Logger(),
	}
}

// Init initialises the murmur engine. Resources opened before a failure are
// released.
func (m *Murmur) Init() (err error) {
	m.logger.Debug("murmur.go:Init() called")

	if err := m.Config.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(m.Config.DataDir, 0700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	defer func() {
		if err != nil && m.Node == nil {
			m.release()
		}
	}()

	if err := m.initKey(); err != nil {
		m.logger.WithError(err).Error("murmur.go:Init() initKey")
		return err
	}

	if err := m.initStore(); err != nil {
		m.logger.WithError(err).Error("murmur.go:Init() initStore")
		return err
	}

	if err := m.initReplay(); err != nil {
		m.logger.WithError(err).Error("murmur.go:Init() initReplay")
		return err
	}

	if err := m.initAddressBook(); err != nil {
		m.logger.WithError(err).Error("murmur.go:Init() initAddressBook")
		return err
	}

	m.initTransports()

	if err := m.initNode(); err != nil {
		m.logger.WithError(err).Error("murmur.go:Init() initNode")
		return err
	}

	m.initService()

	return nil
}

// Run starts the HTTP service, if any, and runs the node until ctx is
// cancelled or the node fails. The node is shut down before Run returns.
func (m *Murmur) Run(ctx context.Context) error {
	if m.Service != nil {
		go m.Service.Serve()
		defer m.Service.Close()
	}

	m.logger.WithFields(logrus.Fields{
		"node_key": m.Node.PublicKey(),
		"nick":     m.Config.Nick,
	}).Info("Running murmur")

	err := m.Node.Run(ctx)

	m.Node.Shutdown()

	return err
}

func (m *Murmur) initKey() error {
	if m.Key != nil {
		return nil
	}

	keyfile := keys.NewSimpleKeyfile(m.Config.Keyfile())

	key, created, err := keyfile.LoadOrCreate()
	if err != nil {
		return fmt.Errorf("loading node key: %w", err)
	}

	if created {
		m.logger.WithField("node_key", keys.PublicKeyHex(key.PubKey())).Info("Created a new node key")
	}

	m.Key = key

	return nil
}

func (m *Murmur) initStore() error {
	path := m.Config.DatastorePath()

	if path == "" {
		m.Store = eventgraph.NewInmemStore(m.Config.CacheSize)
		m.logger.Debug("created new in-mem store")
		return nil
	}

	m.logger.WithField("path", path).Debug("Attempting to load or create database")

	store, err := eventgraph.NewBadgerStore(m.Config.CacheSize, path, m.logger)
	if err != nil {
		return err
	}

	if store.NeedBootstrap() {
		m.logger.Debug("loaded badger store from existing database")
	} else {
		m.logger.Debug("created new badger store from fresh database")
	}

	m.Store = store

	return nil
}

func (m *Murmur) initReplay() error {
	if !m.Config.ReplayMode {
		return nil
	}

	replay, err := eventgraph.OpenReplayLog(m.Config.ReplayPath(), m.logger)
	if err != nil {
		return fmt.Errorf("opening replay log: %w", err)
	}

	m.Replay = replay

	return nil
}

func (m *Murmur) initAddressBook() error {
	var datastore *peers.Datastore

	if m.Config.Net.P2PDatastore != "" {
		ds, err := peers.NewDatastore(m.Config.P2PDatastorePath(), m.logger)
		if err != nil {
			return fmt.Errorf("opening peer datastore: %w", err)
		}
		datastore = ds
	}

	var hostlist *peers.Hostlist
	if m.Config.Net.Hostlist != "" {
		hostlist = peers.NewHostlist(m.Config.HostlistPath())
	}

	m.Book = peers.NewAddressBook(peers.Blacklist(m.Config.Net.Blacklist),
		hostlist,
		datastore,
		m.logger.WithField("component", "peers"))

	return nil
}

func (m *Murmur) initTransports() {
	m.Transports = node.NewTransports(m.Config, m.Inmem)
}

func (m *Murmur) initNode() error {
	if m.Sink == nil {
		m.Sink = messaging.NewLogSink(m.logger.WithField("component", "sink"))
	}

	m.Graph = eventgraph.NewEventGraph(m.Store, m.Replay, m.logger.WithField("component", "eventgraph"))

	n, err := node.NewNode(m.Config, m.Key, m.Graph, m.Book, m.Transports, m.Sink)
	if err != nil {
		m.Graph.Close()
		m.Book.Close()
		return err
	}

	if err := n.Init(); err != nil {
		// The node owns the graph and the book from here on.
		n.Shutdown()
		return fmt.Errorf("failed to initialize node: %w", err)
	}

	m.Node = n

	return nil
}

func (m *Murmur) initService() {
	if !m.Config.NoService && m.Config.RPCListen != "" {
		m.Service = service.NewService(m.Config.RPCListen, m.Node, m.logger.WithField("component", "service"))
	}
}

// release closes what Init opened before the node took ownership.
func (m *Murmur) release() {
	if m.Graph != nil {
		return
	}
	if m.Replay != nil {
		m.Replay.Close()
	}
	if m.Store != nil {
		m.Store.Close()
	}
	if m.Book != nil {
		m.Book.Close()
	}
}

// Keygen writes a new node key to keyfile. It fails if a key already lives
// there.
func Keygen(keyfile string) (*btcec.PrivateKey, error) {
	simpleKeyfile := keys.NewSimpleKeyfile(keyfile)

	if _, err := simpleKeyfile.ReadKey(); err == nil {
		return nil, fmt.Errorf("another key already lives under %s", keyfile)
	}

	key, err := keys.GenerateKey()
	if err != nil {
		return nil, err
	}

	if err := simpleKeyfile.WriteKey(key); err != nil {
		return nil, err
	}

	return key, nil
}
