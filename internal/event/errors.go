package event

import (
	"errors"
	"fmt"
)

// Emitter errors.
var (
	ErrInvalidTopic  = errors.New("invalid topic")
	ErrHandlerPanic  = errors.New("handler panicked")
	ErrNilHandler    = errors.New("handler cannot be nil")
	ErrEmitterClosed = errors.New("emitter is closed")
)

// HandlerError is a handler failure for one delivered event.
type HandlerError struct {
	SubscriptionID string
	Topic          string
	// Source is the emitting plugin or component, if any.
	Source string
	Err    error
}

func (e *HandlerError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("%s (from %s): subscription %s: %v", e.Topic, e.Source, e.SubscriptionID, e.Err)
	}
	return fmt.Sprintf("%s: subscription %s: %v", e.Topic, e.SubscriptionID, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// PanicError is a recovered handler panic. It matches ErrHandlerPanic.
type PanicError struct {
	SubscriptionID string
	Topic          string
	Source         string
	Value          any
	Stack          string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%s: subscription %s panicked: %v", e.Topic, e.SubscriptionID, e.Value)
}

func (e *PanicError) Is(target error) bool {
	return target == ErrHandlerPanic
}
