package eventgraph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDuplicateEvent is returned by Insert when the Event is already in the
	// graph. It is benign: inserting an Event twice leaves the graph unchanged.
	ErrDuplicateEvent = errors.New("duplicate event")

	// ErrMissingParent is matched, through errors.Is, by every
	// MissingParentError.
	ErrMissingParent = errors.New("missing parent")

	// ErrInvalidEvent is matched by every InvalidEventError.
	ErrInvalidEvent = errors.New("invalid event")
)

// MissingParentError is returned by Insert when some parents of an Event are
// not in the graph yet. The caller is expected to fetch them and retry.
type MissingParentError struct {
	Event   string
	Missing []string
}

// Error implements the error interface
func (e *MissingParentError) Error() string {
	return fmt.Sprintf("event %s: missing parents [%s]", e.Event, strings.Join(e.Missing, ", "))
}

// Is makes errors.Is(err, ErrMissingParent) work.
func (e *MissingParentError) Is(target error) bool {
	return target == ErrMissingParent
}

// InvalidEventError is returned for Events that can never be accepted, no
// matter what else arrives later.
type InvalidEventError struct {
	Event  string
	Reason string
}

// Error implements the error interface
func (e *InvalidEventError) Error() string {
	return fmt.Sprintf("invalid event %s: %s", e.Event, e.Reason)
}

// Is makes errors.Is(err, ErrInvalidEvent) work.
func (e *InvalidEventError) Is(target error) bool {
	return target == ErrInvalidEvent
}

// MissingParents extracts the missing parent ids from an error returned by
// Insert. It returns nil for any other error.
func MissingParents(err error) []string {
	var mp *MissingParentError
	if errors.As(err, &mp) {
		return mp.Missing
	}
	return nil
}
