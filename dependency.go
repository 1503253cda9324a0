package apprun

import "context"

// Dependency is a handle a task, resource or middleware declares in its
// DepMap (spec.md §3 "DepMap"). The store resolves each handle to a
// concrete node during registration and to a runtime value during
// resolution.
type Dependency interface {
	dependencyKind() Kind
	dependencyID() string
	isOptional() bool
}

// Ref is the concrete Dependency every constructor below builds. Go has
// no tagged-union sum type, so the single struct plus an opt flag stands
// in for the original's Optional<Ref> wrapper (spec.md §9).
type Ref struct {
	kind Kind
	id   string
	opt  bool
}

func (r Ref) dependencyKind() Kind { return r.kind }
func (r Ref) dependencyID() string { return r.id }
func (r Ref) isOptional() bool     { return r.opt }

// TaskRef references another task as a Callable dependency (spec.md §9).
func TaskRef(id string) Ref { return Ref{kind: KindTask, id: id} }

// ResourceRef references a resource's resolved value.
func ResourceRef(id string) Ref { return Ref{kind: KindResource, id: id} }

// EventRef references an event as a Callable emitter.
func EventRef(id string) Ref { return Ref{kind: KindEvent, id: id} }

// Optional marks a dependency as allowed to be absent from the graph; the
// resolved Deps bag omits the key instead of failing registration.
func Optional(d Dependency) Dependency {
	switch v := d.(type) {
	case Ref:
		v.opt = true
		return v
	default:
		return d
	}
}

// DepMap is the declaration-time dependency list a task, resource or
// middleware registers with. Go cannot express the original's
// heterogeneous typed DepMap record without reflection or a map, so the
// idiomatic substitute is a plain string-keyed map (spec.md §9).
type DepMap = map[string]Dependency

// Deps is the resolved runtime form of a DepMap: each key now maps to the
// dependency's actual value (a resource's current value, or a Callable
// for a task/event reference).
type Deps = map[string]any

// Callable is what a task or event dependency resolves to: an invocable
// handle instead of a direct value, since invoking a task re-enters the
// runner pipeline and emitting an event re-enters dispatch (spec.md §9
// "Callable").
type Callable interface {
	Invoke(ctx context.Context, input any) (any, error)
}

// Dep extracts and type-asserts a dependency out of a resolved Deps bag,
// the generic helper callers use in place of the original's static typed
// access (spec.md §9).
func Dep[T any](deps Deps, key string) (T, error) {
	var zero T
	value, ok := deps[key]
	if !ok {
		return zero, &UnknownDependencyError{DepKey: key}
	}
	return SafeTypeAssertion[T](value)
}

// TunnelRunner is the opaque collaborator consulted by the task runner's
// tunneling step (spec.md §4.8 "Tunneling"): a resource tagged
// GlobalTunnelTag may intercept and redirect a task call, e.g. to run it
// in a different process or to replay it from a durable log.
type TunnelRunner interface {
	Tunnel(ctx context.Context, taskID string, input any, next func(context.Context, any) (any, error)) (any, error)
}
