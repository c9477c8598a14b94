package crypto

import (
	"bytes"
	"testing"
)

func TestKeyText(t *testing.T) {
	var key [KeySize]byte
	for i := range key {
		key[i] = byte(i)
	}

	text := EncodeKey(key[:])

	dec, err := DecodeKey32(text)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if !bytes.Equal(dec[:], key[:]) {
		t.Fatalf("decoded key does not match")
	}

	if _, err := DecodeKey32(EncodeKey(key[:16])); err == nil {
		t.Fatalf("short key should be rejected")
	}

	if _, err := DecodeKey32("0OIl"); err == nil {
		t.Fatalf("invalid base58 should be rejected")
	}
}

func TestSHA256Parts(t *testing.T) {
	whole := SHA256([]byte("murmur signed message\nhello"))
	parts := SHA256(SignDomain, []byte("hello"))

	if !bytes.Equal(whole, parts) {
		t.Fatalf("hashing parts should match hashing their concatenation")
	}

	if len(whole) != 32 {
		t.Fatalf("digest should be 32 bytes, not %d", len(whole))
	}
}
