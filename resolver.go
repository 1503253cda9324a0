package apprun

import (
	"context"
	"fmt"
)

// resolveDependencies computes the Deps bag for a DepMap (spec.md §4.2
// "Dependency Resolver"): task/event deps become Callable handles, and
// resource deps become the resource's initialized value, triggering its
// initialization (DFS, `visiting` set for cycle detection) if needed.
// Grounded on the teacher's scope.go `resolveDependencies`/`resolveExecutor`
// DFS, generalized from a single dependency slice to a DepMap.
func (h *Handle) resolveDependencies(depMap DepMap) (Deps, error) {
	out := Deps{}
	for key, dep := range depMap {
		value, err := h.resolveOne(key, dep)
		if err != nil {
			if dep.isOptional() {
				continue
			}
			return nil, err
		}
		out[key] = value
	}
	return out, nil
}

func (h *Handle) resolveOne(depKey string, dep Dependency) (any, error) {
	targetID := dep.dependencyID()
	switch dep.dependencyKind() {
	case KindTask:
		if _, ok := h.store.getTask(targetID); !ok {
			return nil, &UnknownDependencyError{DepKey: depKey, TargetID: targetID}
		}
		return &taskCallable{taskID: targetID, rt: h}, nil
	case KindEvent:
		if _, ok := h.store.getEvent(targetID); !ok {
			return nil, &UnknownDependencyError{DepKey: depKey, TargetID: targetID}
		}
		return &eventCallable{eventID: targetID, rt: h}, nil
	case KindResource:
		r, ok := h.store.getResource(targetID)
		if !ok {
			return nil, &UnknownDependencyError{DepKey: depKey, TargetID: targetID}
		}
		if err := h.ensureResourceInitialized(r); err != nil {
			return nil, err
		}
		return r.value, nil
	default:
		return nil, fmt.Errorf("apprun: unsupported dependency kind %q for key %q", dep.dependencyKind(), depKey)
	}
}

// resourceMiddlewareFor assembles a resource's own middleware plus every
// registered everywhere-resource-middleware that applies to it, the
// resource-init analogue of taskMiddlewareFor (runner.go).
func (h *Handle) resourceMiddlewareFor(r *Resource) []*ConfiguredResourceMw {
	mws := append([]*ConfiguredResourceMw{}, r.Middleware...)
	for _, mw := range h.store.resourceMws {
		if mw.appliesTo(r) {
			mws = append(mws, &ConfiguredResourceMw{Mw: mw})
		}
	}
	return mws
}

// ensureResourceInitialized walks the resource dependency graph with a
// visiting set, initializing ancestors before descendants and failing
// with CyclicDependencyError on a cycle (spec.md §4.2 "Computation
// order").
func (h *Handle) ensureResourceInitialized(r *Resource) error {
	h.initMu.Lock()
	defer h.initMu.Unlock()
	return h.initResourceLocked(r, nil)
}

func (h *Handle) initResourceLocked(r *Resource, path []string) error {
	switch r.state {
	case resourceInitialized:
		return nil
	case resourceInitializing:
		return &CyclicDependencyError{Path: append(append([]string{}, path...), r.ID)}
	case resourceDisposed, resourceDisposing:
		return &ResourceNotInitializedError{ResourceID: r.ID}
	}

	r.state = resourceInitializing
	path = append(path, r.ID)

	depMap := r.effectiveDependencies(r.DefaultConfig)
	deps := Deps{}
	for key, dep := range depMap {
		if dep.dependencyKind() == KindResource {
			depResource, ok := h.store.getResource(dep.dependencyID())
			if !ok {
				if dep.isOptional() {
					continue
				}
				return &UnknownDependencyError{SourceID: r.ID, DepKey: key, TargetID: dep.dependencyID()}
			}
			if err := h.initResourceLocked(depResource, path); err != nil {
				return err
			}
		}
		value, err := h.resolveOne(key, dep)
		if err != nil {
			if dep.isOptional() {
				continue
			}
			return err
		}
		deps[key] = value
	}

	cfg := r.DefaultConfig
	if r.ConfigSchema != nil {
		parsed, err := r.ConfigSchema.Parse(cfg)
		if err != nil {
			return &ResourceConfigValidationError{ResourceID: r.ID, Cause: err}
		}
		cfg = parsed
	}

	if r.ContextFn != nil {
		r.rctx = &ResourceContext{Scratch: r.ContextFn()}
	} else {
		r.rctx = &ResourceContext{}
	}

	terminal := func(ctx context.Context, cfg any) (any, error) {
		return r.Init(ctx, cfg, deps, r.rctx)
	}
	mws := h.resourceMiddlewareFor(r)
	chain, mwErr := buildResourceChain(h, mws, r, terminal)
	if mwErr != nil {
		r.state = resourceRegistered
		return newResourceInitError(r.ID, mwErr)
	}
	value, err := chain(h.bootCtx, cfg)
	if err != nil {
		r.state = resourceRegistered
		return newResourceInitError(r.ID, err)
	}

	if r.ResultSchema != nil {
		validated, verr := r.ResultSchema.Parse(value)
		if verr != nil {
			r.state = resourceRegistered
			return &ResourceResultValidationError{ResourceID: r.ID, Cause: verr}
		}
		value = validated
	}
	if cerr := checkTagContracts(r.ID, r.Tags, value); cerr != nil {
		r.state = resourceRegistered
		return cerr
	}

	r.value = value
	r.state = resourceInitialized
	h.initOrder = append(h.initOrder, r)
	return nil
}
