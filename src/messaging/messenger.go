package messaging

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/mosaicnetworks/murmur/src/crypto/box"
	"github.com/mosaicnetworks/murmur/src/eventgraph"
	"github.com/sirupsen/logrus"
)

var (
	// ErrUnknownChannel is returned when publishing to a channel that is not
	// configured.
	ErrUnknownChannel = errors.New("unknown channel")
	// ErrUnknownContact is returned when sending to a nick that is not a
	// configured contact.
	ErrUnknownContact = errors.New("unknown contact")
	// ErrNoDMKey is returned when sending a direct message without a local
	// dm secret.
	ErrNoDMKey = errors.New("no dm key")
)

// Publisher turns payloads into events. It is implemented by the event graph.
type Publisher interface {
	Create(layer eventgraph.Layer, payload []byte) (*eventgraph.Event, error)
}

// Messenger encodes outgoing messages into events and decodes incoming events
// into messages.
type Messenger struct {
	tables atomic.Pointer[Tables]

	nick      string
	publisher Publisher
	sink      Sink

	logger *logrus.Entry
}

// NewMessenger creates a Messenger that signs messages with nick.
func NewMessenger(nick string, tables *Tables, publisher Publisher, sink Sink, logger *logrus.Entry) *Messenger {
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}
	if sink == nil {
		sink = NewLogSink(logger)
	}

	m := &Messenger{
		nick:      nick,
		publisher: publisher,
		sink:      sink,
		logger:    logger,
	}
	m.tables.Store(tables)

	return m
}

// Reload replaces the channel and contact tables. Decodings already running
// finish with the previous tables.
func (m *Messenger) Reload(t *Tables) {
	m.tables.Store(t)
	m.logger.WithFields(logrus.Fields{
		"channels": len(t.channels),
		"contacts": len(t.contacts),
	}).Info("Reloaded messaging tables")
}

// Tables returns the current tables.
func (m *Messenger) Tables() *Tables {
	return m.tables.Load()
}

// PublishChannel creates an event carrying text for channel.
func (m *Messenger) PublishChannel(channel, text string) (*eventgraph.Event, error) {
	t := m.tables.Load()

	ch, ok := t.Channel(channel)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, channel)
	}

	msg := &PrivMsg{
		Channel:   channel,
		Nick:      m.nick,
		Text:      text,
		Timestamp: time.Now().UnixNano(),
	}

	payload, err := encodePayload(msg, ch.key, eventgraph.LayerChannel)
	if err != nil {
		return nil, err
	}

	return m.publisher.Create(eventgraph.LayerChannel, payload)
}

// PublishDM creates an event carrying text for the contact nick.
func (m *Messenger) PublishDM(nick, text string) (*eventgraph.Event, error) {
	t := m.tables.Load()

	c, ok := t.Contact(nick)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContact, nick)
	}
	if c.key == nil {
		return nil, ErrNoDMKey
	}

	msg := &PrivMsg{
		Nick:      m.nick,
		Text:      text,
		Timestamp: time.Now().UnixNano(),
	}

	payload, err := encodePayload(msg, c.key, eventgraph.LayerDM)
	if err != nil {
		return nil, err
	}

	return m.publisher.Create(eventgraph.LayerDM, payload)
}

// Receive decodes ev and delivers the result to the Sink.
func (m *Messenger) Receive(ev *eventgraph.Event) {
	m.sink.Deliver(m.Decode(ev))
}

// Decode turns an event into a Message. Events that no key opens give an
// undecryptable Message.
func (m *Messenger) Decode(ev *eventgraph.Event) Message {
	t := m.tables.Load()

	undecryptable := Message{
		EventID:       ev.Hex(),
		Layer:         ev.Layer(),
		Undecryptable: true,
	}

	payload := ev.Payload()
	if len(payload) == 0 {
		return undecryptable
	}
	format, body := payload[0], payload[1:]

	switch ev.Layer() {
	case eventgraph.LayerChannel:
		switch format {
		case formatClear:
			var msg PrivMsg
			if err := msg.Unmarshal(body); err != nil {
				return undecryptable
			}
			return newMessage(ev, &msg, false)
		case formatSealed:
			for _, c := range t.sealedChannels() {
				msg, err := open(c.key, body, eventgraph.LayerChannel)
				if err != nil || msg.Channel != c.Name {
					continue
				}
				return newMessage(ev, msg, true)
			}
		}
	case eventgraph.LayerDM:
		if format != formatSealed {
			return undecryptable
		}
		for _, c := range t.keyedContacts() {
			msg, err := open(c.key, body, eventgraph.LayerDM)
			if err != nil {
				continue
			}
			res := newMessage(ev, msg, true)
			res.Contact = c.Nick
			return res
		}
	}

	return undecryptable
}

func newMessage(ev *eventgraph.Event, msg *PrivMsg, sealed bool) Message {
	return Message{
		EventID:   ev.Hex(),
		Layer:     ev.Layer(),
		Channel:   msg.Channel,
		Nick:      msg.Nick,
		Text:      msg.Text,
		Timestamp: time.Unix(0, msg.Timestamp),
		Sealed:    sealed,
	}
}

// encodePayload marshals msg and seals it if key is not nil.
func encodePayload(msg *PrivMsg, key *[box.KeySize]byte, layer eventgraph.Layer) ([]byte, error) {
	data, err := msg.Marshal()
	if err != nil {
		return nil, err
	}

	if key == nil {
		return append([]byte{formatClear}, data...), nil
	}

	sealed, err := box.Seal(key, data, aad(layer))
	if err != nil {
		return nil, err
	}

	return append([]byte{formatSealed}, sealed...), nil
}

func open(key *[box.KeySize]byte, sealed []byte, layer eventgraph.Layer) (*PrivMsg, error) {
	data, err := box.Open(key, sealed, aad(layer))
	if err != nil {
		return nil, err
	}

	var msg PrivMsg
	if err := msg.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("%w: %v", box.ErrDecryption, err)
	}

	return &msg, nil
}
