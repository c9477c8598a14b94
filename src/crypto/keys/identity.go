package keys

import (
	"encoding/hex"
	"errors"

	"github.com/btcsuite/btcd/btcec"
	"github.com/mosaicnetworks/murmur/src/common"
	"github.com/mosaicnetworks/murmur/src/crypto"
)

// ErrBadSignature is returned by Verify when a signature does not match.
var ErrBadSignature = errors.New("bad signature")

//GenerateKey creates a new secp256k1 private key.
func GenerateKey() (*btcec.PrivateKey, error) {
	return btcec.NewPrivateKey(btcec.S256())
}

//DumpPrivateKey exports a private key into a 32 byte binary dump.
func DumpPrivateKey(priv *btcec.PrivateKey) []byte {
	if priv == nil {
		return nil
	}
	return priv.Serialize()
}

//ParsePrivateKey recreates a private key from the dump produced by
//DumpPrivateKey.
func ParsePrivateKey(d []byte) (*btcec.PrivateKey, error) {
	if len(d) != btcec.PrivKeyBytesLen {
		return nil, errors.New("invalid private key length")
	}
	priv, _ := btcec.PrivKeyFromBytes(btcec.S256(), d)
	if priv.D.Sign() <= 0 {
		return nil, errors.New("invalid private key, zero")
	}
	return priv, nil
}

// PublicKeyBytes returns the compressed form of the public key.
func PublicKeyBytes(pub *btcec.PublicKey) []byte {
	if pub == nil {
		return nil
	}
	return pub.SerializeCompressed()
}

// ParsePublicKey parses a compressed or uncompressed public key.
func ParsePublicKey(b []byte) (*btcec.PublicKey, error) {
	return btcec.ParsePubKey(b, btcec.S256())
}

// PublicKeyHex returns the hexadecimal representation of the compressed public
// key. It is the node id used in logs.
func PublicKeyHex(pub *btcec.PublicKey) string {
	return common.EncodeToString(PublicKeyBytes(pub))
}

// PrivateKeyHex returns the hexadecimal representation of a raw private key as
// returned by DumpPrivateKey
func PrivateKeyHex(key *btcec.PrivateKey) string {
	return hex.EncodeToString(DumpPrivateKey(key))
}

// Sign hashes msg, prefixed with crypto.SignDomain, and returns the DER encoded signature.
func Sign(priv *btcec.PrivateKey, msg []byte) ([]byte, error) {
	sig, err := priv.Sign(crypto.SHA256(crypto.SignDomain, msg))
	if err != nil {
		return nil, err
	}
	return sig.Serialize(), nil
}

// Verify checks a DER signature produced by Sign against the compressed public
// key pub.
func Verify(pub []byte, msg []byte, sig []byte) error {
	pk, err := ParsePublicKey(pub)
	if err != nil {
		return err
	}
	s, err := btcec.ParseDERSignature(sig, btcec.S256())
	if err != nil {
		return err
	}
	if !s.Verify(crypto.SHA256(crypto.SignDomain, msg), pk) {
		return ErrBadSignature
	}
	return nil
}
