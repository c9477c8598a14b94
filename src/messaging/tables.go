package messaging

import (
	"fmt"
	"sort"

	"github.com/mosaicnetworks/murmur/src/crypto"
	"github.com/mosaicnetworks/murmur/src/crypto/box"
)

// Channel is a named chat channel. A nil Secret means the channel is public
// and its messages travel in the clear.
type Channel struct {
	Name   string
	Secret *[box.KeySize]byte
	Topic  string

	key *[box.KeySize]byte
}

// Contact is a peer that we exchange direct messages with.
type Contact struct {
	Nick   string
	Public *[box.KeySize]byte

	key *[box.KeySize]byte
}

// ChannelConfig is the configuration form of a Channel.
type ChannelConfig struct {
	Secret string `mapstructure:"secret"`
	Topic  string `mapstructure:"topic"`
}

// ContactConfig is the configuration form of a Contact.
type ContactConfig struct {
	DMChachaPublic string `mapstructure:"dm_chacha_public"`
}

// Tables is an immutable snapshot of the channels and contacts, with their
// derived keys.
type Tables struct {
	channels map[string]*Channel
	contacts map[string]*Contact
	dmSecret *[box.KeySize]byte
}

// NewTables derives the keys of channels and contacts. dmSecret may be nil,
// in which case direct messages can neither be sent nor read.
func NewTables(dmSecret *[box.KeySize]byte, channels []Channel, contacts []Contact) (*Tables, error) {
	t := &Tables{
		channels: make(map[string]*Channel),
		contacts: make(map[string]*Contact),
		dmSecret: dmSecret,
	}

	for _, c := range channels {
		c := c
		if c.Secret != nil {
			key, err := box.ChannelKey(c.Secret)
			if err != nil {
				return nil, fmt.Errorf("channel %s: %v", c.Name, err)
			}
			c.key = key
		}
		t.channels[c.Name] = &c
	}

	for _, c := range contacts {
		c := c
		if dmSecret != nil && c.Public != nil {
			key, err := box.DMKey(dmSecret, c.Public)
			if err != nil {
				return nil, fmt.Errorf("contact %s: %v", c.Nick, err)
			}
			c.key = key
		}
		t.contacts[c.Nick] = &c
	}

	return t, nil
}

// LoadTables parses the base58 key material found in the configuration.
func LoadTables(dmSecret string, channels map[string]ChannelConfig, contacts map[string]ContactConfig) (*Tables, error) {
	var secret *[box.KeySize]byte
	if dmSecret != "" {
		s, err := crypto.DecodeKey32(dmSecret)
		if err != nil {
			return nil, fmt.Errorf("dm_chacha_secret: %v", err)
		}
		secret = s
	}

	chans := []Channel{}
	for name, cc := range channels {
		c := Channel{Name: name, Topic: cc.Topic}
		if cc.Secret != "" {
			s, err := crypto.DecodeKey32(cc.Secret)
			if err != nil {
				return nil, fmt.Errorf("channel.%s.secret: %v", name, err)
			}
			c.Secret = s
		}
		chans = append(chans, c)
	}

	conts := []Contact{}
	for nick, cc := range contacts {
		p, err := crypto.DecodeKey32(cc.DMChachaPublic)
		if err != nil {
			return nil, fmt.Errorf("contact.%s.dm_chacha_public: %v", nick, err)
		}
		conts = append(conts, Contact{Nick: nick, Public: p})
	}

	return NewTables(secret, chans, conts)
}

// Channel returns a channel by name.
func (t *Tables) Channel(name string) (*Channel, bool) {
	c, ok := t.channels[name]
	return c, ok
}

// Contact returns a contact by nick.
func (t *Tables) Contact(nick string) (*Contact, bool) {
	c, ok := t.contacts[nick]
	return c, ok
}

// ChannelNames returns the sorted channel names.
func (t *Tables) ChannelNames() []string {
	res := make([]string, 0, len(t.channels))
	for n := range t.channels {
		res = append(res, n)
	}
	sort.Strings(res)
	return res
}

// ContactNicks returns the sorted contact nicks.
func (t *Tables) ContactNicks() []string {
	res := make([]string, 0, len(t.contacts))
	for n := range t.contacts {
		res = append(res, n)
	}
	sort.Strings(res)
	return res
}

// sealedChannels returns the channels that have a secret, sorted by name so
// that decoding is deterministic.
func (t *Tables) sealedChannels() []*Channel {
	res := []*Channel{}
	for _, n := range t.ChannelNames() {
		if c := t.channels[n]; c.key != nil {
			res = append(res, c)
		}
	}
	return res
}

func (t *Tables) keyedContacts() []*Contact {
	res := []*Contact{}
	for _, n := range t.ContactNicks() {
		if c := t.contacts[n]; c.key != nil {
			res = append(res, c)
		}
	}
	return res
}
