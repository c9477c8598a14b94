package eventgraph

import (
	"fmt"
	"os"
	"sync"

	"github.com/dgraph-io/badger"
	cm "github.com/mosaicnetworks/murmur/src/common"
	"github.com/sirupsen/logrus"
)

const (
	eventPrefix = "event"
	topoPrefix  = "topo"
)

// BadgerStore implements the Store interface on top of a Badger database. A
// bounded cache of recently used Events sits in front of the database.
type BadgerStore struct {
	db        *badger.DB
	path      string
	cacheSize int

	cacheLock  sync.Mutex
	cache      map[string]*Event
	cacheOrder []string

	count         int
	needBootstrap bool
}

// NewBadgerStore opens the database at path, creating it if necessary. If the
// database already contains events, NeedBootstrap returns true.
func NewBadgerStore(cacheSize int, path string, logger *logrus.Entry) (*BadgerStore, error) {
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(path).
		WithSyncWrites(false).
		WithTruncate(true)

	if logger != nil {
		opts = opts.WithLogger(logger.WithField("ns", "badger"))
	} else {
		opts = opts.WithLogger(nil)
	}

	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	store := &BadgerStore{
		db:        handle,
		path:      path,
		cacheSize: cacheSize,
		cache:     make(map[string]*Event),
	}

	count, err := store.dbCountEvents()
	if err != nil {
		handle.Close()
		return nil, err
	}
	store.count = count
	store.needBootstrap = count > 0

	return store, nil
}

//==============================================================================
//Keys

func eventKey(id string) []byte {
	return []byte(fmt.Sprintf("%s_%s", eventPrefix, id))
}

func topologicalEventKey(index int) []byte {
	return []byte(fmt.Sprintf("%s_%012d", topoPrefix, index))
}

//==============================================================================
//Implement the Store interface

// CacheSize implements the Store interface.
func (s *BadgerStore) CacheSize() int {
	return s.cacheSize
}

// GetEvent implements the Store interface. It tries the cache first and falls
// back to the database.
func (s *BadgerStore) GetEvent(id string) (*Event, error) {
	s.cacheLock.Lock()
	ev, ok := s.cache[id]
	s.cacheLock.Unlock()
	if ok {
		return ev, nil
	}

	ev, err := s.dbGetEvent(id)
	if err != nil {
		return nil, mapError(err, "Event", id)
	}

	s.cacheEvent(ev)

	return ev, nil
}

// SetEvent implements the Store interface.
func (s *BadgerStore) SetEvent(event *Event) error {
	if err := s.dbSetEvent(event); err != nil {
		return err
	}
	s.cacheEvent(event)
	return nil
}

// TopologicalEvents implements the Store interface.
func (s *BadgerStore) TopologicalEvents(skip int, limit int) ([]*Event, error) {
	return s.dbTopologicalEvents(skip, limit)
}

// EventCount implements the Store interface.
func (s *BadgerStore) EventCount() int {
	s.cacheLock.Lock()
	defer s.cacheLock.Unlock()
	return s.count
}

// NeedBootstrap implements the Store interface.
func (s *BadgerStore) NeedBootstrap() bool {
	return s.needBootstrap
}

// Close implements the Store interface.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// StorePath implements the Store interface.
func (s *BadgerStore) StorePath() string {
	return s.path
}

func (s *BadgerStore) cacheEvent(ev *Event) {
	if s.cacheSize <= 0 {
		return
	}

	s.cacheLock.Lock()
	defer s.cacheLock.Unlock()

	if _, ok := s.cache[ev.Hex()]; ok {
		return
	}

	s.cache[ev.Hex()] = ev
	s.cacheOrder = append(s.cacheOrder, ev.Hex())

	for len(s.cacheOrder) > s.cacheSize {
		delete(s.cache, s.cacheOrder[0])
		s.cacheOrder = s.cacheOrder[1:]
	}
}

//++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++
//DB Methods

func (s *BadgerStore) dbGetEvent(id string) (*Event, error) {
	var eventBytes []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(eventKey(id))
		if err != nil {
			return err
		}
		eventBytes, err = item.ValueCopy(nil)
		return err
	})

	if err != nil {
		return nil, err
	}

	event := new(Event)
	if err := event.UnmarshalDB(eventBytes); err != nil {
		return nil, cm.NewStoreErr("Event", cm.Corrupted, id)
	}

	return event, nil
}

func (s *BadgerStore) dbSetEvent(event *Event) error {
	id := event.Hex()

	val, err := event.MarshalDB()
	if err != nil {
		return err
	}

	tx := s.db.NewTransaction(true)
	defer tx.Discard()

	_, err = tx.Get(eventKey(id))
	if err == nil {
		return cm.NewStoreErr("Event", cm.KeyAlreadyExists, id)
	}
	if !isDBKeyNotFound(err) {
		return err
	}

	//insert [event id] => [event bytes]
	if err := tx.Set(eventKey(id), val); err != nil {
		return err
	}

	//insert [topo_index] => [event id]
	if err := tx.Set(topologicalEventKey(event.topologicalIndex), []byte(id)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	s.cacheLock.Lock()
	s.count++
	s.cacheLock.Unlock()

	return nil
}

// dbTopologicalEvents walks the topo_ keys in order. The index may have gaps
// if some writes failed, so it relies on prefix iteration rather than on
// consecutive keys.
func (s *BadgerStore) dbTopologicalEvents(skip int, limit int) ([]*Event, error) {
	res := []*Event{}
	prefix := []byte(topoPrefix + "_")

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		n := 0
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if n < skip {
				n++
				continue
			}
			if limit > 0 && len(res) >= limit {
				break
			}

			id, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}

			eventItem, err := txn.Get(eventKey(string(id)))
			if err != nil {
				return err
			}
			eventBytes, err := eventItem.ValueCopy(nil)
			if err != nil {
				return err
			}

			event := new(Event)
			if err := event.UnmarshalDB(eventBytes); err != nil {
				return cm.NewStoreErr("Event", cm.Corrupted, string(id))
			}
			res = append(res, event)
			n++
		}
		return nil
	})

	return res, err
}

func (s *BadgerStore) dbCountEvents() (int, error) {
	count := 0
	prefix := []byte(topoPrefix + "_")

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})

	return count, err
}

//++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++

func isDBKeyNotFound(err error) bool {
	return err == badger.ErrKeyNotFound
}

func mapError(err error, name, key string) error {
	if err != nil {
		if isDBKeyNotFound(err) {
			return cm.NewStoreErr(name, cm.KeyNotFound, key)
		}
	}
	return err
}
