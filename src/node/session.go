package node

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/mosaicnetworks/murmur/src/net"
	"github.com/mosaicnetworks/murmur/src/peers"
	"github.com/mosaicnetworks/murmur/src/slots"
	"github.com/sirupsen/logrus"
)

// session is the sync loop of one established link.
type session struct {
	link   *net.Link
	slot   slots.Slot
	engine *SyncEngine
	kick   kicker
}

// SessionInfo describes a running session.
type SessionInfo struct {
	LinkID    string
	Remote    string
	NodeKey   string
	Direction string
	State     string
	Attempts  uint64
	LastSync  time.Time
}

func (n *Node) syncConfig() SyncConfig {
	return SyncConfig{
		Attempts:      n.conf.SyncAttempts,
		Wait:          n.conf.SyncTimeoutDuration(),
		Timeout:       n.conf.Timeout,
		Limit:         n.conf.SyncLimit,
		MaxFetchDepth: n.conf.MaxFetchDepth,
	}
}

// startSession is the slots.Handler of the node. It runs the session of link
// until the link is closed, the node shuts down or the peer fails for good.
func (n *Node) startSession(s slots.Slot, l slots.Link) {
	link, ok := l.(*net.Link)
	if !ok {
		l.Close()
		return
	}

	logger := n.logger.WithFields(logrus.Fields{
		"link":   link.ID()[:8],
		"remote": s.Remote,
		"dir":    s.Direction,
	})

	sess := &session{
		link:   link,
		slot:   s,
		engine: NewSyncEngine(n.syncConfig(), n.applier, link, link.ID(), logger),
		kick:   newKicker(),
	}

	n.sessionLock.Lock()
	if n.getState() != Running {
		n.sessionLock.Unlock()
		link.Close()
		return
	}
	n.sessions[link.ID()] = sess
	n.sessionWG.Add(1)
	n.sessionLock.Unlock()

	defer func() {
		n.sessionLock.Lock()
		delete(n.sessions, link.ID())
		n.sessionLock.Unlock()
		n.sessionWG.Done()
	}()

	ctx, cancel := context.WithCancel(n.ctx)
	defer cancel()

	go func() {
		select {
		case <-link.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	n.runSession(ctx, sess, logger)
}

func (n *Node) runSession(ctx context.Context, sess *session, logger *logrus.Entry) {
	logger.Debug("Session started")
	defer logger.Debug("Session ended")

	exchanged := false

	for {
		accepted, err := sess.engine.Round(ctx)
		if ctx.Err() != nil {
			return
		}

		atomic.AddUint64(&n.syncRequests, 1)

		if err != nil {
			atomic.AddUint64(&n.syncErrors, 1)
			logger.WithError(err).Warn("Sync failed, evicting link")
			n.slots.ReportFailure(sess.link.ID())
			return
		}

		if accepted > 0 {
			logger.WithField("accepted", accepted).Debug("Synced")
		}

		n.slots.ReportSynced(sess.link.ID())

		if !exchanged {
			exchanged = true
			n.exchangeAddrs(ctx, sess.link, logger)
		}

		select {
		case <-ctx.Done():
			return
		case <-n.timerFactory(n.conf.ResyncInterval):
		case <-sess.kick:
		}
	}
}

// exchangeAddrs asks the peer for addresses and records the new ones as
// white.
func (n *Node) exchangeAddrs(ctx context.Context, link *net.Link, logger *logrus.Entry) {
	max := n.conf.Net.PeerExchange
	if max <= 0 {
		return
	}

	rctx := ctx
	if n.conf.Timeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, n.conf.Timeout)
		defer cancel()
	}

	resp, err := link.GetAddrs(rctx, max)
	if err != nil {
		logger.WithError(err).Debug("Address exchange")
		return
	}

	addrs := resp.Addrs
	if len(addrs) > max {
		addrs = addrs[:max]
	}

	added := 0
	for _, s := range addrs {
		addr, err := peers.ParseAddr(s)
		if err != nil {
			continue
		}
		if _, isNew := n.book.Add(addr, peers.FromExchange); isNew {
			added++
		}
	}

	logger.WithFields(logrus.Fields{
		"received": len(addrs),
		"added":    added,
	}).Debug("Address exchange")
}

// kickSession wakes up the session of a link ahead of its timer.
func (n *Node) kickSession(linkID string) {
	n.sessionLock.Lock()
	sess, ok := n.sessions[linkID]
	n.sessionLock.Unlock()

	if ok {
		sess.kick.kick()
	}
}

// GetSessions describes the running sessions, ordered by link id.
func (n *Node) GetSessions() []SessionInfo {
	n.sessionLock.Lock()
	defer n.sessionLock.Unlock()

	res := make([]SessionInfo, 0, len(n.sessions))
	for id, sess := range n.sessions {
		res = append(res, SessionInfo{
			LinkID:    id,
			Remote:    sess.slot.Remote,
			NodeKey:   sess.link.RemoteKey(),
			Direction: sess.slot.Direction.String(),
			State:     sess.engine.State().String(),
			Attempts:  sess.engine.Attempts(),
			LastSync:  sess.engine.LastSync(),
		})
	}

	sort.Slice(res, func(i, j int) bool { return res[i].LinkID < res[j].LinkID })

	return res
}
