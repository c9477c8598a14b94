package net

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/btcsuite/btcd/btcec"
	"github.com/mosaicnetworks/murmur/src/crypto/keys"
)

const (
	// NetworkMagic identifies murmur traffic.
	NetworkMagic uint32 = 0x6d726d72

	// ProtocolVersion is the version of the wire protocol.
	ProtocolVersion uint16 = 1

	// MaxClockSkew bounds the difference between the clocks of two peers.
	MaxClockSkew = 2 * time.Hour

	defaultHandshakeTimeout = 10 * time.Second
)

var (
	// ErrSelfConnection is returned when a node connects to itself, usually
	// through one of its own external addresses.
	ErrSelfConnection = errors.New("connected to self")

	// ErrBadHandshake is returned for invalid Version messages.
	ErrBadHandshake = errors.New("bad handshake")
)

// Identity is what a node presents to its peers.
type Identity struct {
	Key           *btcec.PrivateKey
	ExternalAddrs []string
}

// Version is the first message on every connection. It is signed with the
// node key.
type Version struct {
	Magic         uint32
	Protocol      uint16
	NodeKey       []byte //compressed secp256k1 public key
	Time          int64
	ExternalAddrs []string
	Sig           []byte
}

func (v *Version) signedBytes() ([]byte, error) {
	unsigned := *v
	unsigned.Sig = nil
	return encode(&unsigned)
}

func newVersion(id *Identity) (*Version, error) {
	v := &Version{
		Magic:         NetworkMagic,
		Protocol:      ProtocolVersion,
		NodeKey:       keys.PublicKeyBytes(id.Key.PubKey()),
		Time:          time.Now().Unix(),
		ExternalAddrs: id.ExternalAddrs,
	}

	msg, err := v.signedBytes()
	if err != nil {
		return nil, err
	}

	v.Sig, err = keys.Sign(id.Key, msg)
	if err != nil {
		return nil, err
	}

	return v, nil
}

func (v *Version) check(local *Identity) error {
	if v.Magic != NetworkMagic {
		return fmt.Errorf("%w: wrong magic %x", ErrBadHandshake, v.Magic)
	}

	if v.Protocol != ProtocolVersion {
		return fmt.Errorf("%w: unsupported protocol version %d", ErrBadHandshake, v.Protocol)
	}

	msg, err := v.signedBytes()
	if err != nil {
		return err
	}
	if err := keys.Verify(v.NodeKey, msg, v.Sig); err != nil {
		return fmt.Errorf("%w: %v", ErrBadHandshake, err)
	}

	skew := time.Since(time.Unix(v.Time, 0))
	if skew > MaxClockSkew || skew < -MaxClockSkew {
		return fmt.Errorf("%w: clock skew %v", ErrBadHandshake, skew)
	}

	if bytes.Equal(v.NodeKey, keys.PublicKeyBytes(local.Key.PubKey())) {
		return ErrSelfConnection
	}

	return nil
}

// Handshake exchanges Version messages on a fresh connection and returns the
// peer's. The dialing side writes first, the accepting side reads first, so
// that the exchange works on unbuffered connections.
func Handshake(ctx context.Context, conn net.Conn, local *Identity, outbound bool) (*Version, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultHandshakeTimeout)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}
	defer conn.SetDeadline(time.Time{})

	ours, err := newVersion(local)
	if err != nil {
		return nil, err
	}

	var theirs Version

	if outbound {
		if err := writeFrame(conn, ours); err != nil {
			return nil, err
		}
		if err := readFrame(conn, &theirs); err != nil {
			return nil, err
		}
	} else {
		if err := readFrame(conn, &theirs); err != nil {
			return nil, err
		}
		// Answer before checking, so that the dialer learns about a self
		// connection too.
		if err := writeFrame(conn, ours); err != nil {
			return nil, err
		}
	}

	if err := theirs.check(local); err != nil {
		return nil, err
	}

	return &theirs, nil
}
