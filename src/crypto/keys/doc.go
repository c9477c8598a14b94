// Package keys implements the node identity keys used in the link handshake.
//
// Every murmur node owns a secp256k1 key-pair. The public key is announced in
// the Version message and the private key signs it, so that a peer can tell
// two links to the same node apart from links to different nodes, and refuse
// a connection to itself. Identity keys play no part in message encryption.
package keys
