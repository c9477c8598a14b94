package config

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/mosaicnetworks/murmur/src/common"
	"github.com/mosaicnetworks/murmur/src/messaging"
	"github.com/mosaicnetworks/murmur/src/peers"
	"github.com/sirupsen/logrus"
)

// Default filenames.
const (
	// DefaultConfigName is the name, without extension, of the configuration
	// file in the data directory.
	DefaultConfigName = "murmur"

	// DefaultKeyfile is the default name of the file containing the node key.
	DefaultKeyfile = "node_key"

	// DefaultBadgerFile is the default name of the folder containing the
	// event graph database.
	DefaultBadgerFile = "eventgraph_db"

	// DefaultP2PDatastore is the default name of the folder containing the
	// address book database.
	DefaultP2PDatastore = "peers_db"

	// DefaultReplayDatastore is the default name of the folder containing the
	// replay log.
	DefaultReplayDatastore = "replay_db"

	// DefaultHostlist is the default name of the flat peer list.
	DefaultHostlist = "hostlist"
)

// Default configuration values.
const (
	DefaultLogLevel            = "info"
	DefaultNick                = "anonymous"
	DefaultRPCListen           = "127.0.0.1:8000"
	DefaultIRCListen           = "127.0.0.1:6667"
	DefaultSyncAttempts        = 3
	DefaultSyncTimeout         = 5
	DefaultTimeout             = 10 * time.Second
	DefaultSyncLimit           = 1000
	DefaultResyncInterval      = 30 * time.Second
	DefaultMaxFetchDepth       = 64
	DefaultCacheSize           = 10000
	DefaultOrphanLimit         = 10000
	DefaultInboundAddr         = "tcp://0.0.0.0:7337"
	DefaultOutbound            = 8
	DefaultInbound             = 32
	DefaultGoldConnectCount    = 2
	DefaultWhiteConnectPercent = 25
	DefaultConnectTimeout      = 10 * time.Second
	DefaultMaxFailures         = 3
	DefaultTorSocksAddr        = "127.0.0.1:9050"
	DefaultPeerExchange        = 64
)

// DefaultAllowedTransports are the transports used when none are configured.
var DefaultAllowedTransports = []string{peers.SchemeTCP, peers.SchemeTLS, peers.SchemeQUIC}

// NetConfig holds the P2P options, under the [net] table.
type NetConfig struct {
	// Inbound lists the addresses to listen on, in URL form.
	Inbound []string `mapstructure:"inbound"`

	// ExternalAddrs are the addresses advertised to peers. They are never
	// dialed.
	ExternalAddrs []string `mapstructure:"external_addrs"`

	OutboundConnections int `mapstructure:"outbound_connections"`
	InboundConnections  int `mapstructure:"inbound_connections"`

	// GoldConnectCount is the minimum number of outbound slots reserved for
	// gold peers.
	GoldConnectCount int `mapstructure:"gold_connect_count"`

	// WhiteConnectPercent is the share of outbound slots, in percent, given
	// to white peers.
	WhiteConnectPercent int `mapstructure:"white_connect_percent"`

	AllowedTransports []string `mapstructure:"allowed_transports"`

	// TransportMixing allows reaching tcp and tcp+tls addresses through tor
	// and tor+tls when only the latter are allowed.
	TransportMixing bool `mapstructure:"transport_mixing"`

	// Seeds are bootstrap peers. They are gold and never demoted.
	Seeds []string `mapstructure:"seeds"`

	// Peers are pinned peers, dialed before any other.
	Peers []string `mapstructure:"peers"`

	Blacklist []peers.BlacklistRule `mapstructure:"blacklist"`

	P2PDatastore   string        `mapstructure:"p2p_datastore"`
	Hostlist       string        `mapstructure:"hostlist"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	MaxFailures    int           `mapstructure:"max_failures"`
	TorSocksAddr   string        `mapstructure:"tor_socks_addr"`

	// NodeKey is the file containing the node's identity key.
	NodeKey string `mapstructure:"node_key"`

	// PeerExchange is the maximum number of addresses exchanged with a peer.
	PeerExchange int `mapstructure:"peer_exchange"`
}

// Config contains all the configuration properties of a murmur node.
type Config struct {
	// DataDir is the top-level directory containing murmur configuration and
	// data
	DataDir string `mapstructure:"datadir"`

	// ConfigFile is the configuration file the options were read from, if
	// any. It is read again to reload the messaging tables.
	ConfigFile string `mapstructure:"config_file"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// LogFile, if set, receives a copy of the log.
	LogFile string `mapstructure:"log_file"`

	// Nick is the name this node signs its messages with.
	Nick string `mapstructure:"nick"`

	// RPCListen is the address:port of the read-only HTTP service.
	RPCListen string `mapstructure:"rpc_listen"`

	// NoService disables the HTTP service.
	NoService bool `mapstructure:"no_service"`

	// The chat front-end is not part of this program. Its options are
	// validated and carried so that a front-end can be attached.
	IRCListen    string `mapstructure:"irc_listen"`
	IRCTLSCert   string `mapstructure:"irc_tls_cert"`
	IRCTLSSecret string `mapstructure:"irc_tls_secret"`

	// Datastore is the directory of the event graph database. An empty
	// value keeps the event graph in memory.
	Datastore string `mapstructure:"datastore"`

	// ReplayDatastore is the directory of the replay log, or a postgres://
	// DSN.
	ReplayDatastore string `mapstructure:"replay_datastore"`

	// ReplayMode records every accepted event in the replay log.
	ReplayMode bool `mapstructure:"replay_mode"`

	// SyncAttempts is the number of attempts of a sync round before the link
	// is given up.
	SyncAttempts int `mapstructure:"sync_attempts"`

	// SyncTimeout is the wait, in seconds, between two attempts.
	SyncTimeout int `mapstructure:"sync_timeout"`

	// Timeout bounds every request to a peer.
	Timeout time.Duration `mapstructure:"timeout"`

	// SyncLimit is the maximum number of events in a sync response.
	SyncLimit int `mapstructure:"sync_limit"`

	// ResyncInterval is the time between two sync rounds on a link.
	ResyncInterval time.Duration `mapstructure:"resync_interval"`

	// MaxFetchDepth bounds the walk back to the parents of orphaned events.
	MaxFetchDepth int `mapstructure:"max_fetch_depth"`

	// CacheSize is the max number of items in in-memory caches.
	CacheSize int `mapstructure:"cache_size"`

	// OrphanLimit is the max number of events waiting for their parents.
	OrphanLimit int `mapstructure:"orphan_limit"`

	Net NetConfig `mapstructure:"net"`

	DMChachaSecret string                             `mapstructure:"dm_chacha_secret"`
	Channels       map[string]messaging.ChannelConfig `mapstructure:"channel"`
	Contacts       map[string]messaging.ContactConfig `mapstructure:"contact"`

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:         DefaultDataDir(),
		LogLevel:        DefaultLogLevel,
		Nick:            DefaultNick,
		RPCListen:       DefaultRPCListen,
		IRCListen:       DefaultIRCListen,
		Datastore:       DefaultBadgerFile,
		ReplayDatastore: DefaultReplayDatastore,
		SyncAttempts:    DefaultSyncAttempts,
		SyncTimeout:     DefaultSyncTimeout,
		Timeout:         DefaultTimeout,
		SyncLimit:       DefaultSyncLimit,
		ResyncInterval:  DefaultResyncInterval,
		MaxFetchDepth:   DefaultMaxFetchDepth,
		CacheSize:       DefaultCacheSize,
		OrphanLimit:     DefaultOrphanLimit,
		Net: NetConfig{
			Inbound:             []string{DefaultInboundAddr},
			OutboundConnections: DefaultOutbound,
			InboundConnections:  DefaultInbound,
			GoldConnectCount:    DefaultGoldConnectCount,
			WhiteConnectPercent: DefaultWhiteConnectPercent,
			AllowedTransports:   append([]string{}, DefaultAllowedTransports...),
			P2PDatastore:        DefaultP2PDatastore,
			Hostlist:            DefaultHostlist,
			ConnectTimeout:      DefaultConnectTimeout,
			MaxFailures:         DefaultMaxFailures,
			TorSocksAddr:        DefaultTorSocksAddr,
			NodeKey:             DefaultKeyfile,
			PeerExchange:        DefaultPeerExchange,
		},
		Channels: make(map[string]messaging.ChannelConfig),
		Contacts: make(map[string]messaging.ContactConfig),
	}

	return config
}

// NewTestConfig returns a config object for tests: everything lives under a
// temporary data directory, the node listens on nothing and the logger writes
// to the test log.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.DataDir = t.TempDir()
	config.Datastore = ""
	config.NoService = true
	config.SyncTimeout = 0
	config.Timeout = time.Second
	config.ResyncInterval = 100 * time.Millisecond
	config.Net.Inbound = nil
	config.Net.ConnectTimeout = time.Second
	config.Net.AllowedTransports = []string{peers.SchemeInmem}
	config.logger = common.NewTestLogger(t, level)
	return config
}

// Path resolves p against the data directory. Absolute paths and DSNs are
// returned as they are.
func (c *Config) Path(p string) string {
	if p == "" || filepath.IsAbs(p) || IsDSN(p) {
		return p
	}
	return filepath.Join(c.DataDir, p)
}

// Keyfile returns the full path of the file containing the node key.
func (c *Config) Keyfile() string {
	return c.Path(c.Net.NodeKey)
}

// DatastorePath returns the full path of the event graph database, or "" for
// an in-memory event graph.
func (c *Config) DatastorePath() string {
	return c.Path(c.Datastore)
}

// ReplayPath returns the full path of the replay log, or its DSN.
func (c *Config) ReplayPath() string {
	return c.Path(c.ReplayDatastore)
}

// P2PDatastorePath returns the full path of the address book database.
func (c *Config) P2PDatastorePath() string {
	return c.Path(c.Net.P2PDatastore)
}

// HostlistPath returns the full path of the hostlist file.
func (c *Config) HostlistPath() string {
	return c.Path(c.Net.Hostlist)
}

// SyncTimeoutDuration returns SyncTimeout as a Duration.
func (c *Config) SyncTimeoutDuration() time.Duration {
	return time.Duration(c.SyncTimeout) * time.Second
}

// MessagingTables builds the channel and contact tables from the key
// material in the configuration.
func (c *Config) MessagingTables() (*messaging.Tables, error) {
	return messaging.LoadTables(c.DMChachaSecret, c.Channels, c.Contacts)
}

// DefaultDataDir return the default directory name for top-level murmur
// config based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Murmur")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Murmur")
		} else {
			return filepath.Join(home, ".murmur")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}
