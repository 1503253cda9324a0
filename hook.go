package apprun

import "context"

// HookTarget selects which events a hook listens to (spec.md §3 "Hook",
// `on: EventDef | EventDef[] | "*"`). Go has no union-of-string-or-slice
// type, so Wildcard plus an explicit EventIDs slice stand in for it.
type HookTarget struct {
	EventIDs []string
	Wildcard bool
}

// OnEvents builds a HookTarget listening to one or more specific events.
func OnEvents(ids ...string) HookTarget { return HookTarget{EventIDs: ids} }

// OnAnyEvent builds the wildcard HookTarget ("*" in spec.md §3).
func OnAnyEvent() HookTarget { return HookTarget{Wildcard: true} }

// Hook is an ordered, dependency-injected event listener (spec.md §3
// "Hook").
type Hook struct {
	Base
	On           HookTarget
	Order        int
	Dependencies DepMap
	Run          func(ctx *HookCtx) error

	registrationIndex int
}

// HookCtx is what a hook's Run receives: the emission plus its resolved
// dependencies.
type HookCtx struct {
	Context  context.Context
	Emission *Emission
	Deps     Deps
}

// HookOption configures a Hook at registration time.
type HookOption func(*Hook)

func WithHookOrder(order int) HookOption { return func(h *Hook) { h.Order = order } }
func WithHookDeps(deps DepMap) HookOption {
	return func(h *Hook) { h.Dependencies = deps }
}

// NewHook registers a new hook node.
func NewHook(id string, on HookTarget, run func(ctx *HookCtx) error, opts ...HookOption) *Hook {
	h := &Hook{Base: newBase(KindHook, id, nil, nil), On: on, Run: run}
	for _, opt := range opts {
		opt(h)
	}
	return h
}
