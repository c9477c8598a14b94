package node

import (
	"sync"
	"sync/atomic"
)

// State captures the state of a murmur node: Starting, Running or Shutdown.
type State uint32

const (
	// Starting is the initial state of a node, until Run is called.
	Starting State = iota
	// Running means the node accepts and dials links.
	Running
	// Shutdown is final.
	Shutdown
)

var stateNames = [...]string{
	Starting: "Starting",
	Running:  "Running",
	Shutdown: "Shutdown",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "Unknown"
}

// MaxFloods bounds the number of flood goroutines in flight.
const MaxFloods = 20

// state is embedded in Node. The zero value is a Starting node with no
// background work.
type state struct {
	current atomic.Uint32
	wg      sync.WaitGroup
	floods  atomic.Int32
}

func (s *state) getState() State {
	return State(s.current.Load())
}

func (s *state) setState(st State) {
	s.current.Store(uint32(st))
}

// goFunc runs f in a tracked goroutine. It returns false without running f
// when MaxFloods goroutines are already busy.
func (s *state) goFunc(f func()) bool {
	if s.floods.Add(1) > MaxFloods {
		s.floods.Add(-1)
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.floods.Add(-1)
		f()
	}()
	return true
}

func (s *state) waitRoutines() {
	s.wg.Wait()
}
