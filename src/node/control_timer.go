package node

import (
	"math/rand"
	"time"
)

type timerFactory func(time.Duration) <-chan time.Time

// randomTimeout fires after a random duration between min and 2*min, so that
// the sessions of a node do not all resync at the same time. A zero min never
// fires.
func randomTimeout(min time.Duration) <-chan time.Time {
	if min <= 0 {
		return nil
	}
	extra := (time.Duration(rand.Int63()) % min)
	return time.After(min + extra)
}

// kicker wakes up a sleeping session ahead of its timer. Kicks are coalesced.
type kicker chan struct{}

func newKicker() kicker {
	return make(kicker, 1)
}

func (k kicker) kick() {
	select {
	case k <- struct{}{}:
	default:
	}
}
