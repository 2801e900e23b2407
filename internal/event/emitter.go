package event

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/dshills/folio/internal/event/topic"
)

// Emitter delivers named events to subscribed handlers synchronously, in
// priority order then subscription order. Handlers may subscribe or dispose
// while an event is being delivered.
type Emitter struct {
	mu     sync.RWMutex
	subs   []*Subscription
	seq    uint64
	closed bool

	logger       hclog.Logger
	panicHandler PanicHandler

	eventsEmitted    atomic.Uint64
	handlersExecuted atomic.Uint64
	handlerErrors    atomic.Uint64
	handlerPanics    atomic.Uint64
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithLogger sets the logger used for handler failures.
func WithLogger(l hclog.Logger) EmitterOption {
	return func(e *Emitter) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithPanicHandler is called after a handler panic is recovered.
func WithPanicHandler(h PanicHandler) EmitterOption {
	return func(e *Emitter) { e.panicHandler = h }
}

// NewEmitter creates an emitter.
func NewEmitter(opts ...EmitterOption) *Emitter {
	e := &Emitter{logger: hclog.NewNullLogger()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SubscribeOption configures a subscription.
type SubscribeOption func(*Subscription)

// WithPriority sets the subscription priority.
func WithPriority(p Priority) SubscribeOption {
	return func(s *Subscription) { s.priority = p }
}

// WithFilter sets a filter predicate.
func WithFilter(f FilterFunc) SubscribeOption {
	return func(s *Subscription) { s.filter = f }
}

// Subscription is a registered handler. It implements Disposable.
type Subscription struct {
	id       string
	pattern  topic.Topic
	handler  Handler
	priority Priority
	filter   FilterFunc
	once     bool
	seq      uint64

	fired    atomic.Bool
	disposed atomic.Bool
	emitter  *Emitter
}

// ID returns the unique subscription identifier.
func (s *Subscription) ID() string { return s.id }

// Pattern returns the subscribed topic pattern.
func (s *Subscription) Pattern() topic.Topic { return s.pattern }

// IsActive reports whether the subscription can still receive events.
func (s *Subscription) IsActive() bool { return !s.disposed.Load() }

// Dispose removes the subscription.
func (s *Subscription) Dispose() {
	if s.disposed.Swap(true) {
		return
	}
	s.emitter.remove(s)
}

// On subscribes h to events matching pattern.
func (e *Emitter) On(pattern string, h Handler, opts ...SubscribeOption) (*Subscription, error) {
	return e.subscribe(topic.Topic(pattern), h, false, opts)
}

// Once subscribes h for the first matching event only.
func (e *Emitter) Once(pattern string, h Handler, opts ...SubscribeOption) (*Subscription, error) {
	return e.subscribe(topic.Topic(pattern), h, true, opts)
}

// OnAny subscribes h to every event.
func (e *Emitter) OnAny(h Handler, opts ...SubscribeOption) (*Subscription, error) {
	return e.subscribe(topic.WildcardMulti, h, false, opts)
}

func (e *Emitter) subscribe(pattern topic.Topic, h Handler, once bool, opts []SubscribeOption) (*Subscription, error) {
	if h == nil {
		return nil, ErrNilHandler
	}
	if !pattern.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTopic, pattern)
	}

	s := &Subscription{
		id:       uuid.NewString(),
		pattern:  pattern,
		handler:  h,
		priority: PriorityNormal,
		once:     once,
		emitter:  e,
	}
	for _, opt := range opts {
		opt(s)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrEmitterClosed
	}
	e.seq++
	s.seq = e.seq
	e.subs = append(e.subs, s)
	sort.SliceStable(e.subs, func(i, j int) bool {
		if e.subs[i].priority != e.subs[j].priority {
			return e.subs[i].priority < e.subs[j].priority
		}
		return e.subs[i].seq < e.subs[j].seq
	})
	return s, nil
}

func (e *Emitter) remove(s *Subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, sub := range e.subs {
		if sub == s {
			e.subs = append(e.subs[:i], e.subs[i+1:]...)
			return
		}
	}
}

// Off removes every subscription registered with exactly pattern. It
// returns the number removed.
func (e *Emitter) Off(pattern string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	kept := e.subs[:0]
	removed := 0
	for _, s := range e.subs {
		if s.pattern == topic.Topic(pattern) {
			s.disposed.Store(true)
			removed++
			continue
		}
		kept = append(kept, s)
	}
	e.subs = kept
	return removed
}

// Emit creates an event and delivers it. See EmitEvent.
func (e *Emitter) Emit(ctx context.Context, name string, payload any) error {
	return e.EmitEvent(ctx, NewEvent(topic.Topic(name), payload, ""))
}

// EmitEvent delivers ev to every matching handler. Handler errors and
// panics are logged and joined into the returned error; they never stop
// delivery.
func (e *Emitter) EmitEvent(ctx context.Context, ev Event) error {
	if !ev.Topic.IsValid() || ev.Topic.IsWildcard() {
		return fmt.Errorf("%w: %q", ErrInvalidTopic, ev.Topic)
	}
	e.eventsEmitted.Add(1)

	var errs []error
	for _, s := range e.matching(ev.Topic) {
		if s.disposed.Load() {
			continue
		}
		if s.filter != nil && !s.filter(ev) {
			continue
		}
		if s.once {
			if s.fired.Swap(true) {
				continue
			}
			s.Dispose()
		}
		if err := e.invoke(ctx, s, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Emitter) matching(name topic.Topic) []*Subscription {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []*Subscription
	for _, s := range e.subs {
		if name.Matches(s.pattern) {
			out = append(out, s)
		}
	}
	return out
}

func (e *Emitter) invoke(ctx context.Context, s *Subscription, ev Event) (err error) {
	e.handlersExecuted.Add(1)

	defer func() {
		if r := recover(); r != nil {
			e.handlerPanics.Add(1)
			e.logger.Error("event handler panicked", "topic", ev.Topic, "subscription", s.id, "panic", r)
			if e.panicHandler != nil {
				e.panicHandler(ev, s.id, r)
			}
			err = &PanicError{
				SubscriptionID: s.id,
				Topic:          ev.Topic.String(),
				Source:         ev.Source,
				Value:          r,
				Stack:          string(debug.Stack()),
			}
		}
	}()

	if herr := s.handler(ctx, ev); herr != nil {
		e.handlerErrors.Add(1)
		e.logger.Warn("event handler failed", "topic", ev.Topic, "subscription", s.id, "error", herr)
		return &HandlerError{SubscriptionID: s.id, Topic: ev.Topic.String(), Source: ev.Source, Err: herr}
	}
	return nil
}

// ListenerCount returns the number of subscriptions that would receive an
// event named name.
func (e *Emitter) ListenerCount(name string) int {
	return len(e.matching(topic.Topic(name)))
}

// Len returns the number of subscriptions.
func (e *Emitter) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs)
}

// Clear removes every subscription.
func (e *Emitter) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.subs {
		s.disposed.Store(true)
	}
	e.subs = nil
}

// Close clears the emitter and rejects further subscriptions. Emit on a
// closed emitter delivers nothing.
func (e *Emitter) Close() {
	e.Clear()
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
}

// Stats returns emitter statistics.
func (e *Emitter) Stats() Stats {
	return Stats{
		EventsEmitted:    e.eventsEmitted.Load(),
		HandlersExecuted: e.handlersExecuted.Load(),
		HandlerErrors:    e.handlerErrors.Load(),
		HandlerPanics:    e.handlerPanics.Load(),
		Subscriptions:    e.Len(),
	}
}
