package service

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mosaicnetworks/murmur/src/common"
	"github.com/mosaicnetworks/murmur/src/eventgraph"
	"github.com/mosaicnetworks/murmur/src/node"
	"github.com/sirupsen/logrus"
)

// Service is a read-only HTTP JSON view of a murmur node.
type Service struct {
	sync.Mutex

	bindAddress string
	node        *node.Node
	mux         *http.ServeMux
	server      *http.Server
	logger      *logrus.Entry
}

// NewService ...
func NewService(bindAddress string, n *node.Node, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		node:        n,
		mux:         http.NewServeMux(),
		logger:      logger,
	}

	service.registerHandlers()

	return &service
}

// registerHandlers registers the API handlers with the service's own mux, so
// that several services can live in one process, as they do in tests.
func (s *Service) registerHandlers() {
	s.logger.Debug("Registering murmur API handlers")
	s.mux.HandleFunc("/stats", s.makeHandler(s.GetStats))
	s.mux.HandleFunc("/frontier", s.makeHandler(s.GetFrontier))
	s.mux.HandleFunc("/event/", s.makeHandler(s.GetEvent))
	s.mux.HandleFunc("/peers", s.makeHandler(s.GetPeers))
	s.mux.HandleFunc("/slots", s.makeHandler(s.GetSlots))
	s.mux.HandleFunc("/sessions", s.makeHandler(s.GetSessions))
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		s.Lock()
		defer s.Unlock()

		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// Handler returns the handler serving the API.
func (s *Service) Handler() http.Handler {
	return s.mux
}

// Serve calls ListenAndServe. This is a blocking call. It returns when Close
// is called.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving murmur API")

	s.Lock()
	s.server = &http.Server{
		Addr:              s.bindAddress,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := s.server
	s.Unlock()

	err := server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		s.logger.Error(err)
	}
}

// Close stops the server started by Serve.
func (s *Service) Close() error {
	s.Lock()
	defer s.Unlock()

	if s.server == nil {
		return nil
	}
	return s.server.Close()
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(v)
}

// GetStats ...
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.node.GetStats())
}

// GetFrontier returns the ids of the frontier events.
func (s *Service) GetFrontier(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.node.GetFrontier())
}

// EventView is the JSON form of an event.
type EventView struct {
	ID               string
	Parents          []string
	Logical          uint64
	Wall             time.Time
	Layer            string
	PayloadSize      int
	TopologicalIndex int
}

func newEventView(ev *eventgraph.Event) EventView {
	return EventView{
		ID:               ev.Hex(),
		Parents:          ev.Parents(),
		Logical:          ev.Timestamp().Logical,
		Wall:             time.Unix(0, ev.Timestamp().Wall).UTC(),
		Layer:            ev.Layer().String(),
		PayloadSize:      len(ev.Payload()),
		TopologicalIndex: ev.TopologicalIndex(),
	}
}

// GetEvent returns an event by id. Payloads are not returned; they are
// encrypted for most channels anyway.
func (s *Service) GetEvent(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/event/")

	ev, err := s.node.GetEvent(id)
	if err != nil {
		status := http.StatusInternalServerError
		if common.IsStore(err, common.KeyNotFound) {
			status = http.StatusNotFound
		} else {
			s.logger.WithError(err).Errorf("Retrieving event %s", id)
		}
		http.Error(w, err.Error(), status)
		return
	}

	writeJSON(w, newEventView(ev))
}

// PeerView is the JSON form of a peer record.
type PeerView struct {
	Addr     string
	Class    string
	Source   string
	LastSeen time.Time
	Failures int
}

// GetPeers returns the address book.
func (s *Service) GetPeers(w http.ResponseWriter, r *http.Request) {
	recs := s.node.GetPeers()

	res := make([]PeerView, len(recs))
	for i, rec := range recs {
		res[i] = PeerView{
			Addr:     rec.Key(),
			Class:    rec.Class.String(),
			Source:   rec.Source.String(),
			LastSeen: rec.LastSeen,
			Failures: rec.Failures,
		}
	}

	writeJSON(w, res)
}

// SlotView is the JSON form of a connection slot.
type SlotView struct {
	Index     int
	Direction string
	State     string
	Peer      string `json:",omitempty"`
	Class     string `json:",omitempty"`
	Remote    string `json:",omitempty"`
	LinkID    string `json:",omitempty"`
}

// GetSlots returns the connection slots.
func (s *Service) GetSlots(w http.ResponseWriter, r *http.Request) {
	slots := s.node.GetSlots()

	res := make([]SlotView, len(slots))
	for i, sl := range slots {
		v := SlotView{
			Index:     sl.Index,
			Direction: sl.Direction.String(),
			State:     sl.State.String(),
			Remote:    sl.Remote,
			LinkID:    sl.LinkID,
		}
		if sl.Peer != nil {
			v.Peer = sl.Peer.Key()
			v.Class = sl.Peer.Class.String()
		}
		res[i] = v
	}

	writeJSON(w, res)
}

// GetSessions returns the running sync sessions.
func (s *Service) GetSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.node.GetSessions())
}
