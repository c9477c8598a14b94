// Package crypto groups the hashing and key-encoding helpers shared by the
// event graph, the wire handshake and the messaging layer.
//
// Node identity keys live in the keys sub-package. Message encryption lives
// in the box sub-package.
package crypto
