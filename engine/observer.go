package engine

// Result is what the engine did with an event.
type Result string

const (
	// Accepted events changed, or were allowed to change, the store.
	Accepted Result = "accepted"
	// Rejected events failed a precondition and left the store unchanged.
	Rejected Result = "rejected"
	// Ignored events are not handled in the engine's current state.
	Ignored Result = "ignored"
)

// Observer is told about every event and QC lookup. Calls are made while
// the engine is busy and must not call back into it.
type Observer interface {
	EventHandled(kind Kind, result Result)
	LookupStarted()
	LookupFinished(err error)
}

type nopObserver struct{}

func (nopObserver) EventHandled(Kind, Result) {}
func (nopObserver) LookupStarted()            {}
func (nopObserver) LookupFinished(error)      {}
