package event

import (
	"context"
	"sync"

	"github.com/dshills/folio/internal/event/topic"
)

// Scope is an emitter handle owned by one component. Events it emits carry
// its source, and Close disposes every subscription made through it.
type Scope struct {
	emitter *Emitter
	source  string

	mu     sync.Mutex
	subs   []*Subscription
	closed bool
}

// Scope returns a handle whose events are tagged with source.
func (e *Emitter) Scope(source string) *Scope {
	return &Scope{emitter: e, source: source}
}

// Source returns the scope's source tag.
func (s *Scope) Source() string { return s.source }

// On subscribes through the scope.
func (s *Scope) On(pattern string, h Handler, opts ...SubscribeOption) (*Subscription, error) {
	return s.track(s.emitter.On(pattern, h, opts...))
}

// Once subscribes through the scope for a single event.
func (s *Scope) Once(pattern string, h Handler, opts ...SubscribeOption) (*Subscription, error) {
	return s.track(s.emitter.Once(pattern, h, opts...))
}

// OnAny subscribes through the scope to every event.
func (s *Scope) OnAny(h Handler, opts ...SubscribeOption) (*Subscription, error) {
	return s.track(s.emitter.OnAny(h, opts...))
}

func (s *Scope) track(sub *Subscription, err error) (*Subscription, error) {
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		sub.Dispose()
		return nil, ErrEmitterClosed
	}
	s.subs = append(s.subs, sub)
	return sub, nil
}

// Emit emits an event tagged with the scope's source.
func (s *Scope) Emit(ctx context.Context, name string, payload any) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrEmitterClosed
	}
	return s.emitter.EmitEvent(ctx, NewEvent(topic.Topic(name), payload, s.source))
}

// Close disposes every subscription made through the scope. Further calls
// fail with ErrEmitterClosed.
func (s *Scope) Close() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.closed = true
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Dispose()
	}
}
