package node

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/mosaicnetworks/murmur/src/net"
	"github.com/sirupsen/logrus"
)

var (
	// ErrSyncTimeout is returned when a peer does not answer a sync request
	// within the request timeout.
	ErrSyncTimeout = errors.New("sync request timed out")

	// ErrSyncExhausted is matched by every SyncExhaustedError.
	ErrSyncExhausted = errors.New("sync attempts exhausted")

	errNoProgress = errors.New("sync made no progress")
)

// SyncExhaustedError is returned by Round when every attempt failed. Last is
// the error of the last attempt.
type SyncExhaustedError struct {
	Attempts int
	Last     error
}

// Error implements the error interface
func (e *SyncExhaustedError) Error() string {
	return fmt.Sprintf("sync failed after %d attempts: %v", e.Attempts, e.Last)
}

// Is makes errors.Is(err, ErrSyncExhausted) work.
func (e *SyncExhaustedError) Is(target error) bool {
	return target == ErrSyncExhausted
}

// Unwrap returns the error of the last attempt.
func (e *SyncExhaustedError) Unwrap() error {
	return e.Last
}

// SyncState is the state of a SyncEngine.
type SyncState uint32

const (
	// Idle is the state between rounds, before the first one.
	Idle SyncState = iota
	// RequestingFrontier waits for the peer's frontier.
	RequestingFrontier
	// RequestingMissing waits for missing events.
	RequestingMissing
	// Applying inserts received events.
	Applying
	// Synced means the last round completed.
	Synced
	// Failed means the last round exhausted its attempts.
	Failed
)

// String ...
func (s SyncState) String() string {
	switch s {
	case Idle:
		return "Idle"
	case RequestingFrontier:
		return "RequestingFrontier"
	case RequestingMissing:
		return "RequestingMissing"
	case Applying:
		return "Applying"
	case Synced:
		return "Synced"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// SyncConfig holds the tunables of a SyncEngine.
type SyncConfig struct {
	// Attempts is the maximum number of attempts per round.
	Attempts int
	// Wait is the pause between two attempts.
	Wait time.Duration
	// Timeout bounds every single request.
	Timeout time.Duration
	// Limit is the maximum number of events asked for in one request.
	Limit int
	// MaxFetchDepth bounds the backward walk to the parents of orphans.
	MaxFetchDepth int
}

// SyncPeer is the remote side of a sync session. It is implemented by
// *net.Link.
type SyncPeer interface {
	Frontier(ctx context.Context) (*net.FrontierResponse, error)
	Sync(ctx context.Context, req *net.SyncRequest) (*net.SyncResponse, error)
	Events(ctx context.Context, ids []string) (*net.EventsResponse, error)
}

// SyncEngine runs sync rounds with one peer. Engines of different links share
// the Applier, and through it the event graph and the orphan pool.
type SyncEngine struct {
	conf    SyncConfig
	applier *Applier
	peer    SyncPeer
	source  string

	state    uint32
	attempts uint64
	lastSync int64 //unix nanoseconds

	logger *logrus.Entry
}

// NewSyncEngine creates a SyncEngine for peer. source labels the events
// received from the peer, usually with the link id.
func NewSyncEngine(conf SyncConfig, applier *Applier, peer SyncPeer, source string, logger *logrus.Entry) *SyncEngine {
	if conf.Attempts < 1 {
		conf.Attempts = 1
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}
	return &SyncEngine{
		conf:    conf,
		applier: applier,
		peer:    peer,
		source:  source,
		logger:  logger,
	}
}

// State returns the current state of the engine.
func (e *SyncEngine) State() SyncState {
	return SyncState(atomic.LoadUint32(&e.state))
}

func (e *SyncEngine) setState(s SyncState) {
	atomic.StoreUint32(&e.state, uint32(s))
}

// Attempts returns the number of attempts made since the engine was created.
func (e *SyncEngine) Attempts() uint64 {
	return atomic.LoadUint64(&e.attempts)
}

// LastSync returns the time the last round completed, or the zero time.
func (e *SyncEngine) LastSync() time.Time {
	ns := atomic.LoadInt64(&e.lastSync)
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Round runs one sync round: at most conf.Attempts attempts, with a pause of
// conf.Wait between two of them. It returns the number of events accepted,
// which are kept even when the round fails. The error is nil, a context error
// if ctx was cancelled, or a *SyncExhaustedError.
func (e *SyncEngine) Round(ctx context.Context) (int, error) {
	total := 0
	var last error

	for attempt := 1; attempt <= e.conf.Attempts; attempt++ {
		if attempt > 1 && e.conf.Wait > 0 {
			select {
			case <-ctx.Done():
				e.setState(Idle)
				return total, ctx.Err()
			case <-time.After(e.conf.Wait):
			}
		}

		atomic.AddUint64(&e.attempts, 1)

		n, err := e.attempt(ctx)
		total += n
		if err == nil {
			e.setState(Synced)
			atomic.StoreInt64(&e.lastSync, time.Now().UnixNano())
			return total, nil
		}

		if ctx.Err() != nil {
			e.setState(Idle)
			return total, ctx.Err()
		}

		last = err
		e.logger.WithFields(logrus.Fields{
			"attempt":  attempt,
			"attempts": e.conf.Attempts,
			"accepted": n,
		}).WithError(err).Debug("Sync attempt failed")
	}

	e.setState(Failed)
	return total, &SyncExhaustedError{Attempts: e.conf.Attempts, Last: last}
}

// attempt pulls from the peer until every id of its frontier is known
// locally. An attempt that stops making progress fails.
func (e *SyncEngine) attempt(ctx context.Context) (int, error) {
	e.setState(RequestingFrontier)

	var fr *net.FrontierResponse
	err := e.call(ctx, "frontier", func(rctx context.Context) (err error) {
		fr, err = e.peer.Frontier(rctx)
		return err
	})
	if err != nil {
		return 0, err
	}

	graph := e.applier.Graph()

	unknown := graph.Unknown(fr.Frontier)
	if len(unknown) == 0 {
		return 0, nil
	}

	total := 0
	for {
		e.setState(RequestingMissing)

		req := &net.SyncRequest{
			Frontier: graph.Frontier(),
			Limit:    e.conf.Limit,
		}

		var resp *net.SyncResponse
		err := e.call(ctx, "sync", func(rctx context.Context) (err error) {
			resp, err = e.peer.Sync(rctx, req)
			return err
		})
		if err != nil {
			return total, err
		}

		e.setState(Applying)

		accepted, err := e.applier.Apply(net.FromWire(resp.Events), e.source)
		total += accepted
		if err != nil {
			return total, err
		}

		fetched, err := e.FetchMissing(ctx)
		total += fetched
		if err != nil {
			return total, err
		}

		unknown = graph.Unknown(unknown)
		if len(unknown) == 0 {
			return total, nil
		}

		if accepted+fetched == 0 {
			return total, fmt.Errorf("%w: %d remote frontier events still unknown", errNoProgress, len(unknown))
		}
	}
}

// FetchMissing requests the parents that orphans are waiting for, walking
// back at most conf.MaxFetchDepth hops. It returns the number of events
// accepted on the way.
func (e *SyncEngine) FetchMissing(ctx context.Context) (int, error) {
	total := 0

	for depth := 0; depth < e.conf.MaxFetchDepth; depth++ {
		wanted := e.applier.Wanted()
		if len(wanted) == 0 {
			return total, nil
		}
		if e.conf.Limit > 0 && len(wanted) > e.conf.Limit {
			wanted = wanted[:e.conf.Limit]
		}

		e.setState(RequestingMissing)

		var resp *net.EventsResponse
		err := e.call(ctx, "events", func(rctx context.Context) (err error) {
			resp, err = e.peer.Events(rctx, wanted)
			return err
		})
		if err != nil {
			return total, err
		}

		if len(resp.Events) == 0 {
			// the peer does not have them either
			return total, nil
		}

		e.setState(Applying)

		accepted, err := e.applier.Apply(net.FromWire(resp.Events), e.source)
		total += accepted
		if err != nil {
			return total, err
		}
	}

	return total, nil
}

// call runs a request under the per-request timeout. A timeout of the request
// itself, as opposed to a cancellation of ctx, becomes ErrSyncTimeout.
func (e *SyncEngine) call(ctx context.Context, what string, fn func(context.Context) error) error {
	rctx := ctx
	if e.conf.Timeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, e.conf.Timeout)
		defer cancel()
	}

	err := fn(rctx)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s after %v", ErrSyncTimeout, what, e.conf.Timeout)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}
