package peers

import (
	"bytes"
	"os"
	"time"

	"github.com/dgraph-io/badger"
	"github.com/sirupsen/logrus"
	"github.com/ugorji/go/codec"
)

const peerPrefix = "peer_"

// Datastore persists peer records in a Badger database, keyed by address.
type Datastore struct {
	db   *badger.DB
	path string
}

type storedPeer struct {
	Addr     string
	Class    uint8
	Source   uint8
	LastSeen int64
	Failures int
}

// NewDatastore opens or creates the peer database at path.
func NewDatastore(path string, logger *logrus.Entry) (*Datastore, error) {
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(path).
		WithSyncWrites(false).
		WithTruncate(true)

	if logger != nil {
		opts = opts.WithLogger(logger.WithField("ns", "badger-p2p"))
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &Datastore{db: db, path: path}, nil
}

// Load returns every stored record. Records that no longer parse are skipped.
func (d *Datastore) Load() ([]PeerRecord, error) {
	res := []PeerRecord{}
	prefix := []byte(peerPrefix)

	err := d.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}

			var sp storedPeer
			dec := codec.NewDecoder(bytes.NewReader(val), new(codec.MsgpackHandle))
			if err := dec.Decode(&sp); err != nil {
				continue
			}

			addr, err := ParseAddr(sp.Addr)
			if err != nil {
				continue
			}

			rec := PeerRecord{
				Addr:     addr,
				Class:    Class(sp.Class),
				Source:   Source(sp.Source),
				Failures: sp.Failures,
			}
			if sp.LastSeen > 0 {
				rec.LastSeen = time.Unix(0, sp.LastSeen)
			}
			res = append(res, rec)
		}
		return nil
	})

	return res, err
}

// Save writes recs, replacing existing records with the same address.
func (d *Datastore) Save(recs []PeerRecord) error {
	tx := d.db.NewTransaction(true)
	defer func() { tx.Discard() }()

	for _, r := range recs {
		sp := storedPeer{
			Addr:     r.Key(),
			Class:    uint8(r.Class),
			Source:   uint8(r.Source),
			Failures: r.Failures,
		}
		if !r.LastSeen.IsZero() {
			sp.LastSeen = r.LastSeen.UnixNano()
		}

		b := new(bytes.Buffer)
		if err := codec.NewEncoder(b, new(codec.MsgpackHandle)).Encode(sp); err != nil {
			return err
		}

		if err := tx.Set([]byte(peerPrefix+r.Key()), b.Bytes()); err != nil {
			if err == badger.ErrTxnTooBig {
				if err := tx.Commit(); err != nil {
					return err
				}
				tx = d.db.NewTransaction(true)
				if err := tx.Set([]byte(peerPrefix+r.Key()), b.Bytes()); err != nil {
					return err
				}
				continue
			}
			return err
		}
	}

	return tx.Commit()
}

// Close closes the database.
func (d *Datastore) Close() error {
	return d.db.Close()
}
