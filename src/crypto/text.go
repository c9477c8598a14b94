package crypto

import (
	"fmt"

	"github.com/btcsuite/btcutil/base58"
)

// KeySize is the length in bytes of every symmetric secret and X25519 key that
// appears in configuration files.
const KeySize = 32

// EncodeKey returns the base58 text form of a key, as it is written in
// configuration files.
func EncodeKey(key []byte) string {
	return base58.Encode(key)
}

// DecodeKey32 parses the base58 text form of a 32-byte key.
func DecodeKey32(s string) (*[KeySize]byte, error) {
	raw := base58.Decode(s)
	if len(raw) != KeySize {
		return nil, fmt.Errorf("key must decode to %d bytes, got %d", KeySize, len(raw))
	}
	var out [KeySize]byte
	copy(out[:], raw)
	return &out, nil
}
