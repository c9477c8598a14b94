// Package box seals message payloads.
//
// Channel payloads are sealed with a key derived from the channel's shared
// secret. Direct messages are sealed with a key derived from the X25519 shared
// point between the sender's secret key and the recipient's public key, which
// both ends can compute. Every sealed payload is a 24 byte XChaCha20 nonce
// followed by the Poly1305 authenticated ciphertext.
package box

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the size of secrets, public keys and derived keys.
const KeySize = 32

const (
	channelInfo = "murmur-channel-v1"
	dmInfo      = "murmur-dm-v1"
)

// ErrDecryption is returned when a sealed payload does not open under a key.
var ErrDecryption = errors.New("decryption failure")

// GenerateKeyPair returns a fresh X25519 secret key and its public key.
func GenerateKeyPair() (secret, public *[KeySize]byte, err error) {
	secret = new([KeySize]byte)
	if _, err := io.ReadFull(rand.Reader, secret[:]); err != nil {
		return nil, nil, err
	}
	public, err = PublicKey(secret)
	if err != nil {
		return nil, nil, err
	}
	return secret, public, nil
}

// PublicKey computes the X25519 public key of secret.
func PublicKey(secret *[KeySize]byte) (*[KeySize]byte, error) {
	pub, err := curve25519.X25519(secret[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	var out [KeySize]byte
	copy(out[:], pub)
	return &out, nil
}

// GenerateSecret returns a random channel secret.
func GenerateSecret() (*[KeySize]byte, error) {
	secret := new([KeySize]byte)
	if _, err := io.ReadFull(rand.Reader, secret[:]); err != nil {
		return nil, err
	}
	return secret, nil
}

// ChannelKey derives the sealing key of a channel from its shared secret.
func ChannelKey(secret *[KeySize]byte) (*[KeySize]byte, error) {
	return derive(secret[:], channelInfo)
}

// DMKey derives the sealing key shared by the owner of secret and the owner of
// the secret behind peerPublic.
func DMKey(secret, peerPublic *[KeySize]byte) (*[KeySize]byte, error) {
	shared, err := curve25519.X25519(secret[:], peerPublic[:])
	if err != nil {
		return nil, err
	}
	return derive(shared, dmInfo)
}

func derive(ikm []byte, info string) (*[KeySize]byte, error) {
	var key [KeySize]byte
	r := hkdf.New(sha256.New, ikm, nil, []byte(info))
	if _, err := io.ReadFull(r, key[:]); err != nil {
		return nil, err
	}
	return &key, nil
}

// Seal encrypts plaintext under key with a random nonce. aad is authenticated
// but not encrypted.
func Seal(key *[KeySize]byte, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, err
	}

	out := make([]byte, chacha20poly1305.NonceSizeX, chacha20poly1305.NonceSizeX+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(out); err != nil {
		return nil, err
	}

	return aead.Seal(out, out, plaintext, aad), nil
}

// Open reverses Seal. Any failure, including a truncated input, is reported as
// ErrDecryption.
func Open(key *[KeySize]byte, sealed, aad []byte) ([]byte, error) {
	if len(sealed) < chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return nil, fmt.Errorf("%w: payload too short", ErrDecryption)
	}

	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, err
	}

	nonce, ct := sealed[:chacha20poly1305.NonceSizeX], sealed[chacha20poly1305.NonceSizeX:]

	pt, err := aead.Open(nil, nonce, ct, aad)
	if err != nil {
		return nil, ErrDecryption
	}
	return pt, nil
}
