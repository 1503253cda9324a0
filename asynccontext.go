package apprun

import "context"

// AsyncContextDef is the registerable node form of an async context
// (spec.md §3 "AsyncContext"), held by the store for introspection via
// Handle.Store(). The typed Provide/Use API lives on AsyncContext[T]
// below, mirroring the split between a node's declaration and its typed
// accessor elsewhere in this package (Tag/Tag[T], Resource/GetResourceValue).
type AsyncContextDef struct {
	Base
	ConfigSchema Schema
}

func NewAsyncContextDef(id string) *AsyncContextDef {
	return &AsyncContextDef{Base: newBase(KindAsyncContext, id, nil, nil)}
}

func (d *AsyncContextDef) registerableNode() AnyNode { return d }

type asyncCtxKey string

// AsyncContext is cooperative ambient storage scoped to the dynamic
// extent of a Provide call (spec.md §3 "AsyncContext", §4.9 "Async
// Context"). Go has no thread-local/async-local storage primitive, so
// the binding is carried explicitly on context.Context — the same
// mechanism that already propagates correctly across the goroutines this
// package spawns for parallel hook batches and durable resumptions,
// which is exactly the "snapshot capture" spec.md §4.9 asks for: passing
// the scheduling call's ctx into the deferred goroutine already captures
// its ambient bindings.
type AsyncContext[T any] struct {
	id string
}

// NewAsyncContext creates a typed accessor for an async context id.
// Register its AsyncContextDef separately if it should appear in the
// store's introspection view.
func NewAsyncContext[T any](id string) *AsyncContext[T] {
	return &AsyncContext[T]{id: id}
}

// Provide establishes value for the dynamic extent of fn and unbinds on
// return, including error paths (spec.md §4.9 "provide").
func (a *AsyncContext[T]) Provide(ctx context.Context, value T, fn func(ctx context.Context) error) error {
	return fn(context.WithValue(ctx, asyncCtxKey(a.id), value))
}

// Use reads the current binding. The second return is false outside any
// Provide call (spec.md §4.9: "use() outside a provision throws" — this
// package returns ok=false instead of panicking, the idiomatic Go
// substitute).
func (a *AsyncContext[T]) Use(ctx context.Context) (T, bool) {
	v := ctx.Value(asyncCtxKey(a.id))
	if v == nil {
		var zero T
		return zero, false
	}
	typed, ok := v.(T)
	return typed, ok
}
