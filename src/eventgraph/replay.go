package eventgraph

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger"
	cm "github.com/mosaicnetworks/murmur/src/common"
	"github.com/sirupsen/logrus"
	"github.com/ugorji/go/codec"
)

const replayPrefix = "replay"

// ReplayRecord is one entry of a ReplayLog.
type ReplayRecord struct {
	Seq        uint64
	ReceivedAt time.Time
	Source     string
	Event      *Event
}

// ReplayLog is the append-only log written in replay mode. Records are kept in
// receipt order and never pruned.
type ReplayLog interface {
	// Append durably records an accepted event.
	Append(ev *Event, source string) error
	// Iterate calls fn on every record in receipt order, stopping at the
	// first error.
	Iterate(fn func(ReplayRecord) error) error
	// Close releases the underlying storage.
	Close() error
}

// OpenReplayLog picks the ReplayLog implementation matching the datastore
// string: a postgres:// or postgresql:// DSN selects PgReplayLog, anything else
// is a path to a Badger directory.
func OpenReplayLog(datastore string, logger *logrus.Entry) (ReplayLog, error) {
	if strings.HasPrefix(datastore, "postgres://") || strings.HasPrefix(datastore, "postgresql://") {
		return NewPgReplayLog(datastore)
	}
	return NewBadgerReplayLog(datastore, logger)
}

type replayWrapper struct {
	Seq        uint64
	ReceivedAt int64
	Source     string
	Event      []byte
}

func encodeReplayRecord(r ReplayRecord) ([]byte, error) {
	ev, err := r.Event.MarshalDB()
	if err != nil {
		return nil, err
	}
	b := new(bytes.Buffer)
	enc := codec.NewEncoder(b, new(codec.MsgpackHandle))
	err = enc.Encode(replayWrapper{
		Seq:        r.Seq,
		ReceivedAt: r.ReceivedAt.UnixNano(),
		Source:     r.Source,
		Event:      ev,
	})
	return b.Bytes(), err
}

func decodeReplayRecord(data []byte) (ReplayRecord, error) {
	var w replayWrapper
	dec := codec.NewDecoder(bytes.NewBuffer(data), new(codec.MsgpackHandle))
	if err := dec.Decode(&w); err != nil {
		return ReplayRecord{}, err
	}
	ev := new(Event)
	if err := ev.UnmarshalDB(w.Event); err != nil {
		return ReplayRecord{}, err
	}
	return ReplayRecord{
		Seq:        w.Seq,
		ReceivedAt: time.Unix(0, w.ReceivedAt),
		Source:     w.Source,
		Event:      ev,
	}, nil
}

/*******************************************************************************
BadgerReplayLog
*******************************************************************************/

// BadgerReplayLog is a ReplayLog in its own Badger database, separate from the
// event store.
type BadgerReplayLog struct {
	db   *badger.DB
	path string

	mu  sync.Mutex
	seq uint64
}

// NewBadgerReplayLog opens or creates the replay database at path. Appending
// resumes after the last existing record.
func NewBadgerReplayLog(path string, logger *logrus.Entry) (*BadgerReplayLog, error) {
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(path).
		WithSyncWrites(true).
		WithTruncate(true)

	if logger != nil {
		opts = opts.WithLogger(logger.WithField("ns", "badger-replay"))
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	r := &BadgerReplayLog{db: db, path: path}

	// Keys sort by sequence number, so the last key holds the highest one.
	err = db.View(func(txn *badger.Txn) error {
		iopts := badger.DefaultIteratorOptions
		iopts.PrefetchValues = false
		it := txn.NewIterator(iopts)
		defer it.Close()

		prefix := []byte(replayPrefix + "_")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			r.seq = binary.BigEndian.Uint64(key[len(prefix):]) + 1
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return r, nil
}

func replayKey(seq uint64) []byte {
	key := make([]byte, len(replayPrefix)+1+8)
	copy(key, replayPrefix+"_")
	binary.BigEndian.PutUint64(key[len(replayPrefix)+1:], seq)
	return key
}

// Append implements ReplayLog.
func (r *BadgerReplayLog) Append(ev *Event, source string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := ReplayRecord{
		Seq:        r.seq,
		ReceivedAt: time.Now(),
		Source:     source,
		Event:      ev,
	}

	val, err := encodeReplayRecord(rec)
	if err != nil {
		return err
	}

	tx := r.db.NewTransaction(true)
	defer tx.Discard()

	if err := tx.Set(replayKey(rec.Seq), val); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	r.seq++
	return nil
}

// Iterate implements ReplayLog.
func (r *BadgerReplayLog) Iterate(fn func(ReplayRecord) error) error {
	return r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(replayPrefix + "_")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			rec, err := decodeReplayRecord(val)
			if err != nil {
				return cm.NewStoreErr("ReplayRecord", cm.Corrupted, fmt.Sprintf("%x", it.Item().Key()))
			}
			if err := fn(rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// Len returns the number of records appended so far.
func (r *BadgerReplayLog) Len() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq
}

// Close implements ReplayLog.
func (r *BadgerReplayLog) Close() error {
	return r.db.Close()
}
