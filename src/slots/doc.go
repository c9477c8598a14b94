// Package slots manages the fixed tables of inbound and outbound connection
// slots of a murmur node.
//
// Outbound slots are filled from the AddressBook. Pinned peers come first,
// then gold peers up to the gold target, white peers up to the white quota and
// finally grey peers. When the preferred class has no usable candidate, any
// other non-black class is used rather than leaving the slot idle.
//
// The gold target is the larger of gold_connect_count and the part of the
// outbound slots not reserved for white peers by white_connect_percent, capped
// at the number of outbound slots.
//
// Inbound connections claim a free inbound slot or are closed at once. There
// is no accept queue.
//
// Failed dials and failed sync sessions count against the peer. At
// max_failures the peer is demoted one class. A completed sync promotes the
// peer to gold.
package slots
