// Package event provides the named-event emitter used by the plugin host.
//
// The plugin manager publishes lifecycle events (plugin:loaded,
// plugin:activated, plugin:sandbox:created, ...) through an Emitter, and
// plugins observe and emit events through a Scope bound to their id.
//
// # Subscribing
//
//	em := event.NewEmitter(event.WithLogger(logger))
//
//	sub, err := em.On("plugin:*", func(ctx context.Context, ev event.Event) error {
//	    fmt.Println(ev.Topic, ev.Payload)
//	    return nil
//	})
//	defer sub.Dispose()
//
//	em.Once("plugin:manager:initialized", handler)
//	em.OnAny(auditHandler, event.WithPriority(event.PriorityLow))
//
// Patterns use the wildcards documented in the topic package.
//
// # Delivery
//
// Emit delivers synchronously in the caller's goroutine, in priority order
// (lower first) then subscription order. A handler error or panic is logged
// and reported in Emit's joined error; remaining handlers still run.
//
// # Thread Safety
//
// Emitter and Scope are safe for concurrent use. Handlers may subscribe or
// dispose while an event is being delivered.
package event
