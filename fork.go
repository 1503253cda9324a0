package apprun

import "fmt"

// Fork produces an isolated clone of base under newID: every node
// transitively reachable through base's Register graph is cloned with
// its id rewritten to "<reID>:<originalID>", and every Dependency,
// Hook.On reference, and ResourceWithConfig wrapper pointing at a node
// inside the subgraph is remapped to the clone (spec.md §4.6 "fork").
// A dedup cache keyed by the original node pointer ensures a child
// shared by two parents inside the subgraph is cloned exactly once.
// Grounded on graph.go's ReactiveGraph, whose node-identity bookkeeping
// is reused here for the remap pass instead of dependency invalidation.
func Fork(base *Resource, newID, reID string) (*Resource, error) {
	f := &forker{reID: reID, cache: map[AnyNode]AnyNode{}}
	cloned, err := f.forkResource(base, newID)
	if err != nil {
		return nil, err
	}
	return cloned, nil
}

type forker struct {
	reID  string
	cache map[AnyNode]AnyNode
}

func (f *forker) rewriteID(id string) string {
	return fmt.Sprintf("%s:%s", f.reID, id)
}

func (f *forker) forkResource(r *Resource, newID string) (*Resource, error) {
	if cached, ok := f.cache[r]; ok {
		return cached.(*Resource), nil
	}
	clone := &Resource{
		Base:           newBase(KindResource, newID, cloneMeta(r.Meta), cloneTags(r.Tags)),
		DefaultConfig:  r.DefaultConfig,
		Dependencies:   f.remapDepMap(r.Dependencies),
		DependenciesFn: r.DependenciesFn,
		Middleware:     r.Middleware,
		ContextFn:      r.ContextFn,
		ConfigSchema:   r.ConfigSchema,
		ResultSchema:   r.ResultSchema,
		Init:           r.Init,
		Dispose:        r.Dispose,
	}
	f.cache[r] = clone

	for _, child := range r.Register {
		forkedChild, err := f.forkRegisterable(child)
		if err != nil {
			return nil, err
		}
		clone.Register = append(clone.Register, forkedChild)
	}
	return clone, nil
}

func (f *forker) forkRegisterable(reg Registerable) (Registerable, error) {
	switch v := reg.(type) {
	case *Resource:
		return f.forkResource(v, f.rewriteID(v.ID))
	case *ResourceWithConfig:
		cloned, err := f.forkResource(v.Resource, f.rewriteID(v.Resource.ID))
		if err != nil {
			return nil, err
		}
		return &ResourceWithConfig{Resource: cloned, Config: v.Config}, nil
	case *Task:
		return f.forkTask(v), nil
	case *Event:
		return f.forkEvent(v), nil
	case *Hook:
		return f.forkHook(v), nil
	case *TaskMiddleware, *ResourceMiddleware:
		return v, nil
	default:
		return v, nil
	}
}

func (f *forker) forkTask(t *Task) *Task {
	if cached, ok := f.cache[t]; ok {
		return cached.(*Task)
	}
	clone := &Task{
		Base:           newBase(KindTask, f.rewriteID(t.ID), cloneMeta(t.Meta), cloneTags(t.Tags)),
		Dependencies:   f.remapDepMap(t.Dependencies),
		DependenciesFn: t.DependenciesFn,
		Middleware:     t.Middleware,
		InputSchema:    t.InputSchema,
		ResultSchema:   t.ResultSchema,
		Run:            t.Run,
		Throws:         t.Throws,
		BeforeRun:      t.BeforeRun,
		AfterRun:       t.AfterRun,
		OnError:        t.OnError,
	}
	f.cache[t] = clone
	return clone
}

func (f *forker) forkEvent(e *Event) *Event {
	if cached, ok := f.cache[e]; ok {
		return cached.(*Event)
	}
	clone := &Event{
		Base:          newBase(KindEvent, f.rewriteID(e.ID), cloneMeta(e.Meta), cloneTags(e.Tags)),
		PayloadSchema: e.PayloadSchema,
		Parallel:      e.Parallel,
		FailFast:      e.FailFast,
	}
	f.cache[e] = clone
	return clone
}

func (f *forker) forkHook(h *Hook) *Hook {
	if cached, ok := f.cache[h]; ok {
		return cached.(*Hook)
	}
	on := h.On
	if !on.Wildcard {
		rewritten := make([]string, len(on.EventIDs))
		for i, id := range on.EventIDs {
			rewritten[i] = f.rewriteID(id)
		}
		on = HookTarget{EventIDs: rewritten}
	}
	clone := &Hook{
		Base:         newBase(KindHook, f.rewriteID(h.ID), cloneMeta(h.Meta), cloneTags(h.Tags)),
		On:           on,
		Order:        h.Order,
		Dependencies: f.remapDepMap(h.Dependencies),
		Run:          h.Run,
	}
	f.cache[h] = clone
	return clone
}

// remapDepMap rewrites every Ref inside dm to point at this fork's
// namespaced ids; optional() wrapping is preserved.
func (f *forker) remapDepMap(dm DepMap) DepMap {
	if dm == nil {
		return nil
	}
	out := make(DepMap, len(dm))
	for key, dep := range dm {
		if ref, ok := dep.(Ref); ok {
			ref.id = f.rewriteID(ref.id)
			out[key] = ref
			continue
		}
		out[key] = dep
	}
	return out
}

func cloneMeta(meta map[string]any) map[string]any {
	if meta == nil {
		return nil
	}
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}

func cloneTags(tags []*AttachedTag) []*AttachedTag {
	if tags == nil {
		return nil
	}
	return append([]*AttachedTag{}, tags...)
}
