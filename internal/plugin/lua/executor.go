package lua

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"
)

// Executor errors.
var (
	ErrExecutorClosed = errors.New("lua executor is closed")
	ErrQueueFull      = errors.New("lua executor queue full")
)

type call struct {
	ctx    context.Context
	fn     func(L *lua.LState) error
	result chan error
}

// Executor serializes all operations on a State through a single goroutine.
//
// Execute may be called from any goroutine but must not be called from
// inside a function already running on the executor; use ExecuteAsync for
// callbacks that originate in Lua.
//
//	exec := NewExecutor(state, 0)
//	defer exec.Close()
//
//	err := exec.Execute(ctx, func(L *lua.LState) error {
//	    return L.CallByParam(lua.P{Fn: L.GetGlobal("activate"), Protect: true})
//	})
type Executor struct {
	state  *State
	queue  chan *call
	closed atomic.Bool
	done   chan struct{}
	exited chan struct{}

	closeOnce sync.Once
}

// NewExecutor starts an executor for state. The queue size determines how
// many operations can be buffered.
func NewExecutor(state *State, queueSize int) *Executor {
	if queueSize <= 0 {
		queueSize = 64
	}
	e := &Executor{
		state:  state,
		queue:  make(chan *call, queueSize),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *Executor) run() {
	defer close(e.exited)
	for {
		select {
		case <-e.done:
			e.drain(ErrExecutorClosed)
			return
		case c := <-e.queue:
			c.result <- e.execute(c)
			close(c.result)
		}
	}
}

// execute runs one operation with the state's lock and context binding.
func (e *Executor) execute(c *call) error {
	if c.ctx.Err() != nil {
		return c.ctx.Err()
	}
	return e.state.run(c.ctx, func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("lua panic: %v", r)
			}
		}()
		return c.fn(e.state.L)
	})
}

func (e *Executor) drain(err error) {
	for {
		select {
		case c := <-e.queue:
			c.result <- err
			close(c.result)
		default:
			return
		}
	}
}

// Execute queues fn and waits for it to finish or for ctx to end. The
// context is bound to the LState while fn runs.
func (e *Executor) Execute(ctx context.Context, fn func(L *lua.LState) error) error {
	if e.closed.Load() {
		return ErrExecutorClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}

	c := &call{ctx: ctx, fn: fn, result: make(chan error, 1)}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrExecutorClosed
	case e.queue <- c:
	}

	select {
	case <-ctx.Done():
		// The call is already queued; its own context check will
		// stop it before or during execution.
		return contextError(ctx, ctx.Err())
	case err := <-c.result:
		return err
	}
}

// ExecuteAsync queues fn without waiting. It fails with ErrQueueFull
// instead of blocking.
func (e *Executor) ExecuteAsync(ctx context.Context, fn func(L *lua.LState) error) error {
	if e.closed.Load() {
		return ErrExecutorClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}

	c := &call{ctx: ctx, fn: fn, result: make(chan error, 1)}
	select {
	case <-e.done:
		return ErrExecutorClosed
	case e.queue <- c:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops the executor. Queued operations fail with ErrExecutorClosed.
// Close waits for a running operation to finish but does not close the State.
func (e *Executor) Close() {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		close(e.done)
		<-e.exited
	})
}

// IsClosed returns true if the executor has been closed.
func (e *Executor) IsClosed() bool {
	return e.closed.Load()
}
