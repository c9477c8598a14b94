package slots

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mosaicnetworks/murmur/src/peers"
	"github.com/sirupsen/logrus"
)

var (
	// ErrInboundFull is returned when no inbound slot is free.
	ErrInboundFull = errors.New("no free inbound slot")
	// ErrBlacklisted is returned for inbound connections from blacklisted
	// hosts.
	ErrBlacklisted = errors.New("blacklisted host")
)

// Policy filters the addresses that may be dialed.
type Policy interface {
	Check(addr peers.Addr) error
}

// Config holds the tunables of a Manager.
type Config struct {
	Outbound            int
	Inbound             int
	GoldConnectCount    int
	WhiteConnectPercent int
	MaxFailures         int
	ConnectTimeout      time.Duration
	// Interval between two attempts to fill the outbound slots.
	Interval time.Duration
	// Backoff is how long a peer is skipped after a failed dial.
	Backoff time.Duration
}

// Manager owns the slot tables. Every state transition of a slot happens
// under the Manager's lock; dials and handshakes run outside of it.
type Manager struct {
	conf      Config
	book      *peers.AddressBook
	policy    Policy
	connector Connector
	handler   Handler
	self      map[string]bool

	lock     sync.Mutex
	outbound []*slot
	inbound  []*slot
	busy     map[string]*slot //address key -> slot
	backoff  map[string]time.Time

	wakeCh chan struct{}

	logger *logrus.Entry
}

// NewManager creates a Manager. self lists our own external addresses, which
// are never dialed.
func NewManager(conf Config,
	book *peers.AddressBook,
	policy Policy,
	connector Connector,
	handler Handler,
	self []string,
	logger *logrus.Entry,
) *Manager {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	m := &Manager{
		conf:      conf,
		book:      book,
		policy:    policy,
		connector: connector,
		handler:   handler,
		self:      make(map[string]bool),
		busy:      make(map[string]*slot),
		backoff:   make(map[string]time.Time),
		wakeCh:    make(chan struct{}, 1),
		logger:    logger,
	}

	for _, s := range self {
		if a, err := peers.ParseAddr(s); err == nil {
			m.self[a.String()] = true
		}
	}

	for i := 0; i < conf.Outbound; i++ {
		m.outbound = append(m.outbound, &slot{index: i, direction: Outbound})
	}
	for i := 0; i < conf.Inbound; i++ {
		m.inbound = append(m.inbound, &slot{index: i, direction: Inbound})
	}

	return m
}

// GoldTarget returns the number of outbound slots reserved for gold peers.
func (m *Manager) GoldTarget() int {
	return GoldTarget(m.conf.Outbound, m.conf.GoldConnectCount, m.conf.WhiteConnectPercent)
}

// GoldTarget computes max(goldCount, outbound - floor(outbound*whitePercent/100)),
// capped at outbound.
func GoldTarget(outbound, goldCount, whitePercent int) int {
	target := outbound - (outbound*whitePercent)/100
	if goldCount > target {
		target = goldCount
	}
	if target > outbound {
		target = outbound
	}
	if target < 0 {
		target = 0
	}
	return target
}

// Run fills the outbound slots until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	interval := m.conf.Interval
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		m.Rebalance()
		m.Fill(ctx)

		select {
		case <-ctx.Done():
			m.CloseAll()
			return nil
		case <-ticker.C:
		case <-m.wakeCh:
		}
	}
}

func (m *Manager) wake() {
	select {
	case m.wakeCh <- struct{}{}:
	default:
	}
}

// Fill starts a dial for every empty outbound slot that has a candidate. It
// does not wait for the dials to complete.
// A peer is dialed at most once per call, even if an early failure frees
// its slot before the call returns.
func (m *Manager) Fill(ctx context.Context) {
	tried := make(map[string]bool)
	for {
		s, rec := m.reserveOutbound(tried)
		if s == nil {
			return
		}
		tried[rec.Key()] = true
		go m.dial(ctx, s, rec)
	}
}

// reserveOutbound picks a candidate for the first empty outbound slot and
// marks the slot as connecting. Peers in skip are not considered.
func (m *Manager) reserveOutbound(skip map[string]bool) (*slot, peers.PeerRecord) {
	m.lock.Lock()
	defer m.lock.Unlock()

	var free *slot
	for _, s := range m.outbound {
		if s.state == Empty {
			free = s
			break
		}
	}
	if free == nil {
		return nil, peers.PeerRecord{}
	}

	rec, ok := m.pick(skip)
	if !ok {
		return nil, peers.PeerRecord{}
	}

	free.state = Connecting
	free.peer = &rec
	free.remote = rec.Key()
	free.since = time.Now()
	m.busy[rec.Key()] = free

	return free, rec
}

// pick returns the next peer to dial. The caller holds the lock.
func (m *Manager) pick(skip map[string]bool) (peers.PeerRecord, bool) {
	gold, white := 0, 0
	for _, s := range m.outbound {
		if s.state == Empty {
			continue
		}
		if s.isGold() {
			gold++
		} else {
			white++
		}
	}

	goldTarget := m.GoldTarget()
	whiteTarget := m.conf.Outbound - goldTarget

	var order []peers.Class
	switch {
	case gold < goldTarget:
		order = []peers.Class{peers.Gold, peers.White, peers.Grey}
	case white < whiteTarget:
		order = []peers.Class{peers.White, peers.Grey, peers.Gold}
	default:
		order = []peers.Class{peers.Grey, peers.White, peers.Gold}
	}

	if rec, ok := m.firstEligible(m.book.Pinned(), skip); ok {
		return rec, true
	}

	for _, c := range order {
		if rec, ok := m.firstEligible(m.book.Candidates(c), skip); ok {
			return rec, true
		}
	}

	return peers.PeerRecord{}, false
}

func (m *Manager) firstEligible(recs []peers.PeerRecord, skip map[string]bool) (peers.PeerRecord, bool) {
	for _, r := range recs {
		if !skip[r.Key()] && m.eligible(r) {
			return r, true
		}
	}
	return peers.PeerRecord{}, false
}

// eligible is true if rec may be dialed now. The caller holds the lock.
func (m *Manager) eligible(rec peers.PeerRecord) bool {
	key := rec.Key()

	if rec.Class == peers.Black || m.book.IsBlacklisted(rec.Addr) {
		return false
	}
	if _, ok := m.busy[key]; ok {
		return false
	}
	if m.self[key] {
		return false
	}
	if until, ok := m.backoff[key]; ok {
		if time.Now().Before(until) {
			return false
		}
		delete(m.backoff, key)
	}
	if err := m.policy.Check(rec.Addr); err != nil {
		return false
	}
	return true
}

func (m *Manager) dial(ctx context.Context, s *slot, rec peers.PeerRecord) {
	timeout := m.conf.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger := m.logger.WithFields(logrus.Fields{
		"peer":  rec.Key(),
		"class": rec.Class,
		"slot":  s.index,
	})

	link, err := m.connector.Connect(dctx, rec.Addr)
	if err != nil {
		logger.WithError(err).Debug("Connect failed")
		m.fail(rec.Key())

		m.lock.Lock()
		delete(m.busy, rec.Key())
		s.reset()
		m.lock.Unlock()

		m.wake()
		return
	}

	m.lock.Lock()
	if ctx.Err() != nil {
		delete(m.busy, rec.Key())
		s.reset()
		m.lock.Unlock()
		link.Close()
		return
	}
	s.state = Established
	s.link = link
	s.since = time.Now()
	snap := s.snapshot()
	m.lock.Unlock()

	m.book.Touch(rec.Key())
	logger.WithField("link", link.ID()).Info("Outbound link established")

	m.track(s, link, rec.Key())
	if m.handler != nil {
		go m.handler(snap, link)
	}
}

// track releases the slot when link is closed.
func (m *Manager) track(s *slot, link Link, key string) {
	go func() {
		<-link.Done()

		m.lock.Lock()
		if s.link == link {
			if key != "" && m.busy[key] == s {
				delete(m.busy, key)
			}
			s.reset()
		}
		m.lock.Unlock()

		m.wake()
	}()
}

func (m *Manager) fail(key string) {
	class, demoted := m.book.RecordFailure(key, m.conf.MaxFailures)
	if demoted {
		m.logger.WithFields(logrus.Fields{
			"peer":  key,
			"class": class,
		}).Debug("Peer demoted after failures")
	}

	if m.conf.Backoff > 0 {
		m.lock.Lock()
		m.backoff[key] = time.Now().Add(m.conf.Backoff)
		m.lock.Unlock()
	}
}

// find returns the slot holding the link with the given id. The caller holds
// the lock.
func (m *Manager) find(linkID string) *slot {
	for _, table := range [][]*slot{m.outbound, m.inbound} {
		for _, s := range table {
			if s.link != nil && s.link.ID() == linkID {
				return s
			}
		}
	}
	return nil
}

// ReportFailure is called when a sync session on the link failed for good.
// The failure is counted against the peer and the link is evicted.
func (m *Manager) ReportFailure(linkID string) {
	m.lock.Lock()
	s := m.find(linkID)
	if s == nil {
		m.lock.Unlock()
		return
	}
	var key string
	if s.peer != nil {
		key = s.peer.Key()
	}
	link := s.link
	s.state = Draining
	m.lock.Unlock()

	if key != "" {
		m.fail(key)
	}

	m.logger.WithFields(logrus.Fields{
		"link": linkID,
		"peer": key,
	}).Info("Evicting failed link")

	link.Close()
}

// ReportSynced is called when a sync round on the link completed. The peer is
// promoted to gold.
func (m *Manager) ReportSynced(linkID string) {
	m.lock.Lock()
	s := m.find(linkID)
	if s == nil || s.peer == nil {
		m.lock.Unlock()
		return
	}
	key := s.peer.Key()
	m.lock.Unlock()

	m.book.RecordSuccess(key)

	if rec, ok := m.book.Get(key); ok {
		m.lock.Lock()
		if s.peer != nil && s.peer.Key() == key {
			s.peer = &rec
		}
		m.lock.Unlock()
	}
}

// Rebalance evicts one white or grey outbound link when the gold links are
// below the gold target, no outbound slot is free and a gold candidate is
// waiting. It returns true if a link was evicted.
func (m *Manager) Rebalance() bool {
	m.lock.Lock()

	gold := 0
	var victim *slot
	for _, s := range m.outbound {
		switch s.state {
		case Empty:
			m.lock.Unlock()
			return false
		case Established:
			if s.isGold() {
				gold++
			} else if victim == nil || s.since.Before(victim.since) {
				victim = s
			}
		default:
			if s.isGold() {
				gold++
			}
		}
	}

	if gold >= m.GoldTarget() || victim == nil {
		m.lock.Unlock()
		return false
	}

	if _, ok := m.firstEligible(m.book.Candidates(peers.Gold), nil); !ok {
		m.lock.Unlock()
		return false
	}

	link := victim.link
	key := victim.peer.Key()
	victim.state = Draining
	m.lock.Unlock()

	m.logger.WithFields(logrus.Fields{
		"peer": key,
		"link": link.ID(),
	}).Info("Evicting non-gold link to reach gold target")

	link.Close()
	return true
}

// Slots returns a snapshot of every slot, outbound first.
func (m *Manager) Slots() []Slot {
	m.lock.Lock()
	defer m.lock.Unlock()

	res := make([]Slot, 0, len(m.outbound)+len(m.inbound))
	for _, s := range m.outbound {
		res = append(res, s.snapshot())
	}
	for _, s := range m.inbound {
		res = append(res, s.snapshot())
	}
	return res
}

// Links returns the established links.
func (m *Manager) Links() []Link {
	m.lock.Lock()
	defer m.lock.Unlock()

	res := []Link{}
	for _, table := range [][]*slot{m.outbound, m.inbound} {
		for _, s := range table {
			if s.state == Established && s.link != nil {
				res = append(res, s.link)
			}
		}
	}
	return res
}

// CloseAll closes every established link.
func (m *Manager) CloseAll() {
	for _, l := range m.Links() {
		l.Close()
	}
}
