package persistence

// Persistence bundles the store interfaces so the engine can depend on a
// single abstraction.
type Persistence struct {
	Definitions DefinitionStore
	Runs        RunStore
	Approvals   ApprovalStore
	Events      EventStore
}

// Store is implemented by backends that provide every store interface.
type Store interface {
	DefinitionStore
	RunStore
	ApprovalStore
}

// FromStore builds a Persistence from a single backend. events may be nil.
func FromStore(s Store, events EventStore) Persistence {
	if events == nil {
		events = NoopEventStore{}
	}
	return Persistence{
		Definitions: s,
		Runs:        s,
		Approvals:   s,
		Events:      events,
	}
}
