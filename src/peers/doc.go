// Package peers keeps track of the addresses a murmur node may connect to.
//
// Every known address is held in a PeerRecord with a trust classification:
//
//   - gold: seed nodes, manually pinned peers and peers we synced with,
//   - white: ordinary addresses learnt from other peers or from inbound links,
//   - grey: white peers that failed too often and are considered stale,
//   - black: addresses matching the blacklist, never dialed.
//
// An address is in exactly one class at a time. The AddressBook persists its
// records to a Badger datastore and to a flat hostlist file, one record per
// line, so that an operator can inspect and edit it by hand.
package peers
