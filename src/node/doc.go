// Package node implements the reactive component of a murmur node.
//
// This is the part of murmur that ties the event graph, the connection slots
// and the messaging layer together. The slot manager establishes links with
// other nodes; the Node starts a sync session on every established link and
// answers the requests that peers send on it.
//
// Sync
//
// A session repeatedly runs sync rounds with its peer. A round first asks for
// the peer's frontier. If every id in it is already known, the two nodes agree
// and the round is over. Otherwise the node sends its own frontier in a
// SyncRequest, and the peer returns, in topological order, every event that is
// not an ancestor of that frontier. Events whose parents are still unknown are
// parked in an orphan pool, and their parents are requested explicitly, walking
// back at most max_fetch_depth hops.
//
// A round makes at most sync_attempts attempts, waiting sync_timeout seconds
// in between. When the budget is exhausted the link is reported to the slot
// manager, which evicts it and counts a failure against the peer. A Synced
// round promotes the peer to gold.
//
// Push
//
// Events created locally, and events newly accepted from a peer, are flooded
// to every other established link. A node never floods an event twice, because
// only newly accepted events are forwarded.
package node
