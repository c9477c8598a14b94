package net

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ugorji/go/codec"
)

// MaxFrameSize bounds the size of a single frame on a Link. Larger frames
// drop the link.
const MaxFrameSize = 16 * 1024 * 1024

type frameKind uint8

const (
	kindRequest frameKind = iota + 1
	kindResponse
	kindNotify
)

// envelope is the unit of transmission on a Link. Body holds the msgpack
// encoding of the command-specific message.
type envelope struct {
	Kind frameKind
	Cmd  Command
	ID   uint64
	Err  string
	Body []byte
}

func msgpackHandle() *codec.MsgpackHandle {
	mh := new(codec.MsgpackHandle)
	mh.RawToString = true
	return mh
}

func encode(v interface{}) ([]byte, error) {
	b := new(bytes.Buffer)
	enc := codec.NewEncoder(b, msgpackHandle())
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func decode(data []byte, v interface{}) error {
	dec := codec.NewDecoder(bytes.NewReader(data), msgpackHandle())
	return dec.Decode(v)
}

// writeFrame writes a length-prefixed msgpack encoding of v.
func writeFrame(w io.Writer, v interface{}) error {
	data, err := encode(v)
	if err != nil {
		return err
	}
	if len(data) > MaxFrameSize {
		return fmt.Errorf("frame too large: %d bytes", len(data))
	}

	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)

	_, err = w.Write(buf)
	return err
}

// readFrame reads a frame written by writeFrame into v.
func readFrame(r io.Reader, v interface{}) error {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return err
	}

	size := binary.BigEndian.Uint32(hdr[:])
	if size > MaxFrameSize {
		return fmt.Errorf("frame too large: %d bytes", size)
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return err
	}

	return decode(data, v)
}
