package peers

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// AddressBook is the set of known peer addresses. It is safe for concurrent
// use; every method takes the book's lock for in-memory work only.
type AddressBook struct {
	mu        sync.Mutex
	records   map[string]*PeerRecord
	blacklist Blacklist

	hostlist  *Hostlist
	datastore *Datastore

	logger *logrus.Entry
}

// NewAddressBook creates an empty AddressBook. hostlist and datastore may be
// nil, in which case the book is not persisted there.
func NewAddressBook(blacklist Blacklist, hostlist *Hostlist, datastore *Datastore, logger *logrus.Entry) *AddressBook {
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}
	return &AddressBook{
		records:   make(map[string]*PeerRecord),
		blacklist: blacklist,
		hostlist:  hostlist,
		datastore: datastore,
		logger:    logger,
	}
}

// Add records addr. A new address gets class Gold if it is a seed or pinned
// peer and White otherwise. For a known address, a seed or pinned source
// upgrades the record to a protected Gold record; other sources leave it
// unchanged. Blacklisted addresses are always stored as Black. It returns a
// copy of the resulting record and whether the address was new.
func (b *AddressBook) Add(addr Addr, source Source) (PeerRecord, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := addr.String()

	rec, ok := b.records[key]
	if !ok {
		rec = &PeerRecord{
			Addr:   addr,
			Class:  White,
			Source: source,
		}
		b.records[key] = rec
	}

	if source == FromSeed || source == FromPinned {
		rec.Source = source
		rec.Class = Gold
	}

	if b.blacklist.Matches(addr) {
		rec.Class = Black
	}

	return *rec, !ok
}

// Get returns a copy of the record of addr.
func (b *AddressBook) Get(addr string) (PeerRecord, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.records[addr]
	if !ok {
		return PeerRecord{}, false
	}
	return *rec, true
}

// Classify moves addr to class. Blacklisted addresses cannot leave Black and
// other addresses cannot be moved to Black: the blacklist is configuration,
// not something learnt at runtime.
func (b *AddressBook) Classify(addr string, class Class) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.records[addr]
	if !ok {
		return fmt.Errorf("unknown peer %s", addr)
	}

	if rec.Class == Black || class == Black {
		return fmt.Errorf("peer %s: black classification is set by the blacklist only", addr)
	}

	rec.Class = class
	return nil
}

// RecordFailure increments the failure count of addr. When the count reaches
// maxFailures, the peer is demoted by one class (gold to white, white to grey)
// and the count is reset. Seeds and pinned peers are never demoted. It returns
// the resulting class and whether a demotion happened.
func (b *AddressBook) RecordFailure(addr string, maxFailures int) (Class, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.records[addr]
	if !ok {
		return White, false
	}

	rec.Failures++

	if rec.Protected() || rec.Class == Black || rec.Class == Grey {
		return rec.Class, false
	}

	if maxFailures > 0 && rec.Failures >= maxFailures {
		prev := rec.Class
		if rec.Class == Gold {
			rec.Class = White
		} else {
			rec.Class = Grey
		}
		rec.Failures = 0

		b.logger.WithFields(logrus.Fields{
			"peer": addr,
			"from": prev,
			"to":   rec.Class,
		}).Info("Demoted peer")

		return rec.Class, true
	}

	return rec.Class, false
}

// RecordSuccess marks a completed sync with addr: the peer is promoted to gold
// and its failure count is reset.
func (b *AddressBook) RecordSuccess(addr string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.records[addr]
	if !ok || rec.Class == Black {
		return
	}

	if rec.Class != Gold {
		b.logger.WithFields(logrus.Fields{
			"peer": addr,
			"from": rec.Class,
		}).Debug("Promoted peer to gold")
	}

	rec.Class = Gold
	rec.Failures = 0
	rec.LastSeen = time.Now()
}

// Touch updates the last-seen time of addr.
func (b *AddressBook) Touch(addr string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if rec, ok := b.records[addr]; ok {
		rec.LastSeen = time.Now()
	}
}

// Candidates returns the records of the given class, best first: fewest
// failures, then most recently seen.
func (b *AddressBook) Candidates(class Class) []PeerRecord {
	if class == Black {
		return nil
	}

	b.mu.Lock()
	res := []PeerRecord{}
	for _, rec := range b.records {
		if rec.Class == class {
			res = append(res, *rec)
		}
	}
	b.mu.Unlock()

	sortRecords(res)
	return res
}

// Pinned returns the manually pinned records.
func (b *AddressBook) Pinned() []PeerRecord {
	b.mu.Lock()
	res := []PeerRecord{}
	for _, rec := range b.records {
		if rec.Source == FromPinned && rec.Class != Black {
			res = append(res, *rec)
		}
	}
	b.mu.Unlock()

	sortRecords(res)
	return res
}

// Exchangeable returns up to max gold or white addresses, to answer an
// address request from a peer.
func (b *AddressBook) Exchangeable(max int) []string {
	recs := append(b.Candidates(Gold), b.Candidates(White)...)
	res := []string{}
	for _, r := range recs {
		if r.Addr.Scheme == SchemeInmem {
			continue
		}
		if max > 0 && len(res) >= max {
			break
		}
		res = append(res, r.Key())
	}
	return res
}

// All returns a copy of every record, sorted by address.
func (b *AddressBook) All() []PeerRecord {
	b.mu.Lock()
	res := make([]PeerRecord, 0, len(b.records))
	for _, rec := range b.records {
		res = append(res, *rec)
	}
	b.mu.Unlock()

	sort.Slice(res, func(i, j int) bool { return res[i].Key() < res[j].Key() })
	return res
}

// Len returns the number of records.
func (b *AddressBook) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

// IsBlacklisted is true if addr matches the blacklist.
func (b *AddressBook) IsBlacklisted(addr Addr) bool {
	return b.blacklist.Matches(addr)
}

// Blacklist returns the rules the book was created with.
func (b *AddressBook) Blacklist() Blacklist {
	return b.blacklist
}

// Load merges the records of the datastore and of the hostlist into the book.
// When both know an address, the most recently seen record wins. The
// blacklist is re-applied, so a rule added to the configuration takes effect
// on stored records.
func (b *AddressBook) Load() error {
	var loaded []PeerRecord

	if b.datastore != nil {
		recs, err := b.datastore.Load()
		if err != nil {
			return err
		}
		loaded = append(loaded, recs...)
	}

	if b.hostlist != nil {
		recs, err := b.hostlist.Load()
		if err != nil {
			return err
		}
		loaded = append(loaded, recs...)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range loaded {
		rec := loaded[i]
		if b.blacklist.Matches(rec.Addr) {
			rec.Class = Black
		} else if rec.Class == Black {
			// no longer blacklisted
			rec.Class = White
		}

		if cur, ok := b.records[rec.Key()]; ok {
			if !rec.LastSeen.After(cur.LastSeen) {
				continue
			}
			// configuration keeps the upper hand on the source
			if cur.Protected() {
				rec.Source = cur.Source
				rec.Class = cur.Class
			}
		}
		b.records[rec.Key()] = &rec
	}

	b.logger.WithField("peers", len(b.records)).Debug("Loaded address book")

	return nil
}

// Save writes every record to the datastore and the hostlist.
func (b *AddressBook) Save() error {
	recs := b.All()

	if b.datastore != nil {
		if err := b.datastore.Save(recs); err != nil {
			return err
		}
	}

	if b.hostlist != nil {
		if err := b.hostlist.Save(recs); err != nil {
			return err
		}
	}

	return nil
}

// Close closes the datastore.
func (b *AddressBook) Close() error {
	if b.datastore != nil {
		return b.datastore.Close()
	}
	return nil
}

func sortRecords(recs []PeerRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Failures != recs[j].Failures {
			return recs[i].Failures < recs[j].Failures
		}
		if !recs[i].LastSeen.Equal(recs[j].LastSeen) {
			return recs[i].LastSeen.After(recs[j].LastSeen)
		}
		return recs[i].Key() < recs[j].Key()
	})
}
