package eventgraph

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/mosaicnetworks/murmur/src/common"
	"github.com/mosaicnetworks/murmur/src/crypto"
	"github.com/ugorji/go/codec"
)

// MaxPayloadSize bounds the payload of a single Event.
const MaxPayloadSize = 64 * 1024

// Layer tags the messaging layer an Event belongs to.
type Layer uint8

const (
	// LayerChannel is a channel message, possibly sealed with the channel
	// secret.
	LayerChannel Layer = iota + 1
	// LayerDM is a direct message sealed for a single contact.
	LayerDM
)

// String ...
func (l Layer) String() string {
	switch l {
	case LayerChannel:
		return "channel"
	case LayerDM:
		return "dm"
	default:
		return fmt.Sprintf("Layer(%d)", uint8(l))
	}
}

// Timestamp pairs a Lamport clock with the creator's wall clock. Only the
// logical part takes part in validation.
type Timestamp struct {
	Logical uint64
	Wall    int64 //unix nanoseconds
}

/*******************************************************************************
EventBody
*******************************************************************************/

// EventBody is the hashed part of an Event.
type EventBody struct {
	Parents   []string //ids of the causal parents, sorted
	Timestamp Timestamp
	Layer     Layer
	Payload   []byte
}

// Marshal returns the canonical JSON encoding of an EventBody. The encoding is
// deterministic, so two nodes always agree on the id of an Event.
func (e *EventBody) Marshal() ([]byte, error) {
	// nil and empty slices must hash the same way, whatever codec delivered
	// the body.
	body := *e
	if body.Parents == nil {
		body.Parents = []string{}
	}
	if body.Payload == nil {
		body.Payload = []byte{}
	}

	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)

	if err := enc.Encode(&body); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Unmarshal converts a JSON encoded EventBody to an EventBody
func (e *EventBody) Unmarshal(data []byte) error {
	b := bytes.NewBuffer(data)
	jh := new(codec.JsonHandle)
	dec := codec.NewDecoder(b, jh)

	return dec.Decode(e)
}

// Hash returns the SHA256 hash of the canonical encoding of the body.
func (e *EventBody) Hash() ([]byte, error) {
	hashBytes, err := e.Marshal()
	if err != nil {
		return nil, err
	}
	return crypto.SHA256(hashBytes), nil
}

/*******************************************************************************
Event
*******************************************************************************/

// Event is the unit of the event graph. Only the Body travels on the wire; the
// private fields are computed locally.
type Event struct {
	Body EventBody

	topologicalIndex int

	hash []byte
	hex  string
}

// NewEvent instantiates a new Event. The parent list is copied, sorted and
// deduplicated so that the resulting id does not depend on the order in which
// the caller listed the parents.
func NewEvent(parents []string, timestamp Timestamp, layer Layer, payload []byte) *Event {
	return &Event{
		Body: EventBody{
			Parents:   normalizeParents(parents),
			Timestamp: timestamp,
			Layer:     layer,
			Payload:   payload,
		},
		topologicalIndex: -1,
	}
}

// FromBody wraps a body received from a peer. Unlike NewEvent it does not
// normalize the parents, so a malformed body fails validation on Insert
// instead of silently getting a different id.
func FromBody(body EventBody) *Event {
	return &Event{
		Body:             body,
		topologicalIndex: -1,
	}
}

func normalizeParents(parents []string) []string {
	if len(parents) == 0 {
		return []string{}
	}
	res := make([]string, 0, len(parents))
	seen := make(map[string]bool, len(parents))
	for _, p := range parents {
		if !seen[p] {
			seen[p] = true
			res = append(res, p)
		}
	}
	sort.Strings(res)
	return res
}

// Parents returns the ids of the Event's causal parents.
func (e *Event) Parents() []string {
	return e.Body.Parents
}

// IsGenesis is true for Events without parents.
func (e *Event) IsGenesis() bool {
	return len(e.Body.Parents) == 0
}

// Layer returns the Event's layer tag.
func (e *Event) Layer() Layer {
	return e.Body.Layer
}

// Payload returns the Event's payload
func (e *Event) Payload() []byte {
	return e.Body.Payload
}

// Timestamp returns the Event's timestamp
func (e *Event) Timestamp() Timestamp {
	return e.Body.Timestamp
}

// TopologicalIndex returns the position of the Event in the local insertion
// order, or -1 if the Event was never inserted.
func (e *Event) TopologicalIndex() int {
	return e.topologicalIndex
}

// Hash returns the SHA256 hash of the body
func (e *Event) Hash() ([]byte, error) {
	if len(e.hash) == 0 {
		hash, err := e.Body.Hash()
		if err != nil {
			return nil, err
		}
		e.hash = hash
	}

	return e.hash, nil
}

// Hex returns a hex string representation of the Event's hash. It is the
// Event's id.
func (e *Event) Hex() string {
	if e.hex == "" {
		hash, _ := e.Hash()
		e.hex = common.EncodeToString(hash)
	}

	return e.hex
}

// validate checks the parts of the Event that do not depend on the graph.
func (e *Event) validate() error {
	if e.Body.Layer != LayerChannel && e.Body.Layer != LayerDM {
		return &InvalidEventError{Event: e.Hex(), Reason: "unknown layer " + e.Body.Layer.String()}
	}

	if len(e.Body.Payload) > MaxPayloadSize {
		return &InvalidEventError{Event: e.Hex(), Reason: "payload too large"}
	}

	for i := 1; i < len(e.Body.Parents); i++ {
		if e.Body.Parents[i-1] >= e.Body.Parents[i] {
			return &InvalidEventError{Event: e.Hex(), Reason: "parents not sorted or duplicated"}
		}
	}

	if e.IsGenesis() && e.Body.Timestamp.Logical != 0 {
		return &InvalidEventError{Event: e.Hex(), Reason: "genesis event with non-zero logical clock"}
	}

	return nil
}

type eventWrapper struct {
	Body             EventBody
	TopologicalIndex int
}

// MarshalDB returns the JSON encoding of the Event along with its topological
// index, which would otherwise be lost after a write/read operation on the DB.
func (e *Event) MarshalDB() ([]byte, error) {
	wrapper := eventWrapper{
		Body:             e.Body,
		TopologicalIndex: e.topologicalIndex,
	}

	b := new(bytes.Buffer)
	enc := codec.NewEncoder(b, new(codec.JsonHandle))
	if err := enc.Encode(wrapper); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// UnmarshalDB converts the output of MarshalDB back to an Event.
func (e *Event) UnmarshalDB(data []byte) error {
	var wrapper eventWrapper

	dec := codec.NewDecoder(bytes.NewBuffer(data), new(codec.JsonHandle))
	if err := dec.Decode(&wrapper); err != nil {
		return err
	}

	e.Body = wrapper.Body
	e.topologicalIndex = wrapper.TopologicalIndex
	e.hash = nil
	e.hex = ""

	return nil
}

/*******************************************************************************
Sorting
*******************************************************************************/

// ByTopologicalOrder implements sort.Interface for []Event based on the
// topologicalIndex field.
type ByTopologicalOrder []*Event

func (a ByTopologicalOrder) Len() int      { return len(a) }
func (a ByTopologicalOrder) Swap(i, j int) { a[i], a[j] = a[j], a[i] }
func (a ByTopologicalOrder) Less(i, j int) bool {
	return a[i].topologicalIndex < a[j].topologicalIndex
}
