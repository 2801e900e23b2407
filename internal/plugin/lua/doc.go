// Package lua provides the gopher-lua runtime used by plugin sandboxes and
// script plugins.
//
// A State opens only the base, package, table, string, math and coroutine
// libraries. dofile, loadfile, load and loadstring are removed, package.path
// is cleared, and require resolves only whitelisted built-ins and modules
// registered with WithModule.
//
// Every blocking entry point takes a context.Context. The context is bound to
// the LState for the duration of the call, so cancellation and deadlines
// interrupt running Lua code at the next instruction.
//
// LState is not goroutine-safe. State serializes its own methods with a
// mutex; an Executor additionally pins all calls to one goroutine and lets
// Go code queue work from anywhere, including fire-and-forget callbacks.
package lua
