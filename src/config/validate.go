package config

import (
	"fmt"
	"strings"

	"github.com/mosaicnetworks/murmur/src/crypto"
	"github.com/mosaicnetworks/murmur/src/peers"
)

// ConfigError reports an invalid configuration value.
type ConfigError struct {
	Key    string
	Value  interface{}
	Reason string
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s (%v): %s", e.Key, e.Value, e.Reason)
}

// IsDSN is true for postgres connection strings.
func IsDSN(s string) bool {
	return strings.HasPrefix(s, "postgres://") || strings.HasPrefix(s, "postgresql://")
}

var logLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
}

// Validate checks the configuration and returns a *ConfigError for the first
// invalid value.
func (c *Config) Validate() error {
	if !logLevels[c.LogLevel] {
		return &ConfigError{"log", c.LogLevel, "unknown log level"}
	}

	if c.SyncAttempts < 1 {
		return &ConfigError{"sync_attempts", c.SyncAttempts, "must be at least 1"}
	}
	if c.SyncTimeout < 0 {
		return &ConfigError{"sync_timeout", c.SyncTimeout, "must not be negative"}
	}
	if c.Timeout <= 0 {
		return &ConfigError{"timeout", c.Timeout, "must be positive"}
	}
	if c.SyncLimit < 1 {
		return &ConfigError{"sync_limit", c.SyncLimit, "must be at least 1"}
	}
	if c.ResyncInterval <= 0 {
		return &ConfigError{"resync_interval", c.ResyncInterval, "must be positive"}
	}
	if c.MaxFetchDepth < 0 {
		return &ConfigError{"max_fetch_depth", c.MaxFetchDepth, "must not be negative"}
	}
	if c.CacheSize < 1 {
		return &ConfigError{"cache_size", c.CacheSize, "must be at least 1"}
	}
	if c.OrphanLimit < 0 {
		return &ConfigError{"orphan_limit", c.OrphanLimit, "must not be negative"}
	}
	if c.ReplayMode && c.ReplayDatastore == "" {
		return &ConfigError{"replay_datastore", c.ReplayDatastore, "required in replay mode"}
	}
	if c.IRCTLSCert != "" && c.IRCTLSSecret == "" || c.IRCTLSCert == "" && c.IRCTLSSecret != "" {
		return &ConfigError{"irc_tls_cert", c.IRCTLSCert, "irc_tls_cert and irc_tls_secret go together"}
	}

	if err := c.Net.validate(); err != nil {
		return err
	}

	return c.validateKeys()
}

func (n *NetConfig) validate() error {
	if n.OutboundConnections < 0 {
		return &ConfigError{"net.outbound_connections", n.OutboundConnections, "must not be negative"}
	}
	if n.InboundConnections < 0 {
		return &ConfigError{"net.inbound_connections", n.InboundConnections, "must not be negative"}
	}
	if n.GoldConnectCount < 0 {
		return &ConfigError{"net.gold_connect_count", n.GoldConnectCount, "must not be negative"}
	}
	if n.WhiteConnectPercent < 0 || n.WhiteConnectPercent > 100 {
		return &ConfigError{"net.white_connect_percent", n.WhiteConnectPercent, "must be between 0 and 100"}
	}
	if n.MaxFailures < 0 {
		return &ConfigError{"net.max_failures", n.MaxFailures, "must not be negative"}
	}
	if n.ConnectTimeout <= 0 {
		return &ConfigError{"net.connect_timeout", n.ConnectTimeout, "must be positive"}
	}

	if len(n.AllowedTransports) == 0 {
		return &ConfigError{"net.allowed_transports", n.AllowedTransports, "at least one transport is required"}
	}
	for _, s := range n.AllowedTransports {
		if !peers.IsKnownScheme(s) {
			return &ConfigError{"net.allowed_transports", s, "unknown transport"}
		}
	}

	lists := []struct {
		key   string
		addrs []string
	}{
		{"net.inbound", n.Inbound},
		{"net.external_addrs", n.ExternalAddrs},
		{"net.seeds", n.Seeds},
		{"net.peers", n.Peers},
	}
	for _, l := range lists {
		for _, a := range l.addrs {
			if _, err := peers.ParseAddr(a); err != nil {
				return &ConfigError{l.key, a, err.Error()}
			}
		}
	}

	for i, r := range n.Blacklist {
		key := fmt.Sprintf("net.blacklist[%d]", i)
		if r.Host == "" {
			return &ConfigError{key, r, "host is required"}
		}
		for _, s := range r.Schemes {
			if !peers.IsKnownScheme(s) {
				return &ConfigError{key, s, "unknown transport"}
			}
		}
	}

	return nil
}

func (c *Config) validateKeys() error {
	if c.DMChachaSecret != "" {
		if _, err := crypto.DecodeKey32(c.DMChachaSecret); err != nil {
			return &ConfigError{"dm_chacha_secret", "<hidden>", err.Error()}
		}
	}

	for name, ch := range c.Channels {
		if ch.Secret == "" {
			continue
		}
		if _, err := crypto.DecodeKey32(ch.Secret); err != nil {
			return &ConfigError{fmt.Sprintf("channel.%s.secret", name), "<hidden>", err.Error()}
		}
	}

	for nick, ct := range c.Contacts {
		if _, err := crypto.DecodeKey32(ct.DMChachaPublic); err != nil {
			return &ConfigError{fmt.Sprintf("contact.%s.dm_chacha_public", nick), ct.DMChachaPublic, err.Error()}
		}
	}

	return nil
}
