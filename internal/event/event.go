package event

import (
	"time"

	"github.com/google/uuid"

	"github.com/dshills/folio/internal/event/topic"
)

// Event is a single emitted occurrence. Events are immutable once created.
type Event struct {
	// ID is a unique identifier for this event instance.
	ID string

	// Topic is the event name (e.g. "plugin:loaded").
	Topic topic.Topic

	// Payload contains the event-specific data.
	Payload any

	// Timestamp is when the event was created.
	Timestamp time.Time

	// Source identifies the component or plugin that emitted the event.
	Source string
}

// NewEvent creates an event with a fresh id.
func NewEvent(name topic.Topic, payload any, source string) Event {
	return Event{
		ID:        uuid.NewString(),
		Topic:     name,
		Payload:   payload,
		Timestamp: time.Now(),
		Source:    source,
	}
}

// PayloadAs returns the payload as T.
func PayloadAs[T any](ev Event) (T, bool) {
	v, ok := ev.Payload.(T)
	return v, ok
}

// Field returns a field of a map payload.
func (e Event) Field(key string) (any, bool) {
	m, ok := e.Payload.(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := m[key]
	return v, ok
}
