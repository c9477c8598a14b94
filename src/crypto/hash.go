package crypto

import (
	"crypto/sha256"
)

// SignDomain prefixes every message signed with a node key, so a handshake
// signature can never be replayed as anything else.
var SignDomain = []byte("murmur signed message\n")

// SHA256 returns the SHA256 digest of the concatenated parts.
func SHA256(parts ...[]byte) []byte {
	if len(parts) == 1 {
		sum := sha256.Sum256(parts[0])
		return sum[:]
	}

	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}
