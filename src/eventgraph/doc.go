// Package eventgraph implements the replicated event log of a murmur node.
//
// The event graph is an append-only directed acyclic graph of Events. Each
// Event is identified by the SHA256 hash of its body, and the body lists the
// ids of the Event's causal parents. An Event is only accepted once all its
// parents are present, so the local graph is always causally closed: whatever
// is visible comes with its entire history.
//
// The Events with no known children form the frontier. Nodes exchange their
// frontiers to find out what the other side is missing (see
// EventGraph.AncestorsMissingFrom). There is no consensus on a total order.
// Concurrent Events, including independent genesis Events, simply coexist and
// every node converges on the union of everything it has been told.
//
// Bodies are persisted through a Store (InmemStore or BadgerStore) while the
// graph structure (parents, children, topological index) is kept in an
// in-memory arena keyed by id. In replay mode every accepted Event is also
// appended to a ReplayLog for offline inspection.
package eventgraph
