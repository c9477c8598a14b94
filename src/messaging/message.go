package messaging

import (
	"bytes"
	"fmt"
	"time"

	"github.com/mosaicnetworks/murmur/src/eventgraph"
	"github.com/ugorji/go/codec"
)

// Payload formats. The first byte of a payload says whether the rest is a
// clear PrivMsg or a sealed one.
const (
	formatClear  byte = 0x00
	formatSealed byte = 0x01
)

// PrivMsg is a chat message, as carried in event payloads.
type PrivMsg struct {
	Channel   string //empty for direct messages
	Nick      string
	Text      string
	Timestamp int64 //unix nanoseconds
}

// Marshal returns the msgpack encoding of the PrivMsg.
func (m *PrivMsg) Marshal() ([]byte, error) {
	b := new(bytes.Buffer)
	enc := codec.NewEncoder(b, new(codec.MsgpackHandle))
	if err := enc.Encode(m); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// Unmarshal decodes a PrivMsg.
func (m *PrivMsg) Unmarshal(data []byte) error {
	mh := new(codec.MsgpackHandle)
	mh.RawToString = true
	dec := codec.NewDecoder(bytes.NewReader(data), mh)
	return dec.Decode(m)
}

// Message is a decoded event, as delivered to a Sink.
type Message struct {
	EventID string
	Layer   eventgraph.Layer

	// Channel is the channel of a channel message.
	Channel string
	// Contact is, for a direct message, the contact whose key opened it. It
	// is the recipient when we read back our own message.
	Contact string

	Nick      string
	Text      string
	Timestamp time.Time

	// Sealed is true if the payload was encrypted.
	Sealed bool
	// Undecryptable is true if no key opened the payload. Only EventID and
	// Layer are set then.
	Undecryptable bool
}

// String ...
func (m Message) String() string {
	if m.Undecryptable {
		return fmt.Sprintf("[%s] <undecryptable %s>", m.Layer, m.EventID)
	}
	if m.Layer == eventgraph.LayerDM {
		return fmt.Sprintf("[dm %s] <%s> %s", m.Contact, m.Nick, m.Text)
	}
	return fmt.Sprintf("[%s] <%s> %s", m.Channel, m.Nick, m.Text)
}

func aad(layer eventgraph.Layer) []byte {
	return []byte{byte(layer)}
}
