package event

import "context"

// Priority determines handler execution order.
// Lower values execute first.
type Priority int

const (
	// PriorityHigh is for host handlers that must observe an event first.
	PriorityHigh Priority = 100

	// PriorityNormal is the default priority.
	PriorityNormal Priority = 200

	// PriorityLow is for logging and bookkeeping handlers that run last.
	PriorityLow Priority = 300
)

// String returns a human-readable priority name.
func (p Priority) String() string {
	switch {
	case p <= PriorityHigh:
		return "high"
	case p <= PriorityNormal:
		return "normal"
	default:
		return "low"
	}
}

// Handler processes an emitted event. A returned error is logged and does
// not stop delivery to other handlers.
type Handler func(ctx context.Context, ev Event) error

// FilterFunc is a predicate for filtering events.
// Return true to deliver the event.
type FilterFunc func(ev Event) bool

// Disposable removes a subscription. Dispose is idempotent.
type Disposable interface {
	Dispose()
}

// DisposeFunc adapts a function to Disposable.
type DisposeFunc func()

// Dispose calls f.
func (f DisposeFunc) Dispose() { f() }

// Stats contains emitter statistics.
type Stats struct {
	// EventsEmitted is the total number of Emit calls.
	EventsEmitted uint64

	// HandlersExecuted is the total number of handler invocations.
	HandlersExecuted uint64

	// HandlerErrors is the number of handlers that returned errors.
	HandlerErrors uint64

	// HandlerPanics is the number of handlers that panicked.
	HandlerPanics uint64

	// Subscriptions is the current number of subscriptions.
	Subscriptions int
}

// PanicHandler is called when a handler panics.
type PanicHandler func(ev Event, subscriptionID string, recovered any)
