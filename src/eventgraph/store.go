package eventgraph

// Store is an interface for backend stores. It only holds Event bodies; the
// graph structure is rebuilt from TopologicalEvents on startup.
type Store interface {
	// CacheSize retrieves the cacheSize setting that determines the maximum
	// number of items that caches can contain.
	CacheSize() int
	// GetEvent returns an event by id.
	GetEvent(id string) (*Event, error)
	// SetEvent inserts an event in the store. The event's topological index
	// must be set.
	SetEvent(event *Event) error
	// TopologicalEvents returns up to limit events, in topological order,
	// starting after the first skip events.
	TopologicalEvents(skip int, limit int) ([]*Event, error)
	// EventCount returns the number of stored events.
	EventCount() int
	// NeedBootstrap is true when the store was loaded from an existing
	// database and the graph must be rebuilt from it.
	NeedBootstrap() bool
	// Close closes the underlying database.
	Close() error
	// StorePath returns the filepath of the underlying database.
	StorePath() string
}
