// Package messaging carries chat messages on top of the event graph.
//
// Channel messages are event payloads on the channel layer. They travel in
// the clear, or sealed with a key derived from the channel's shared secret.
// Direct messages are event payloads on the dm layer, always sealed with a key
// that only the sender and the recipient can derive.
//
// Nothing in an event says which channel or contact a sealed payload belongs
// to. A receiver tries every key it has, and a payload that no key opens is
// delivered as undecryptable. The event itself stays in the graph and keeps
// being relayed.
//
// The channel and contact tables can be replaced at runtime with Reload. Each
// decoding works on the snapshot it loaded when it started.
package messaging
