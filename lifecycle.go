package apprun

import "context"

// initAllResources initializes every resource registered in the store,
// in dependency order (spec.md §4.6 "Resource Lifecycle"). Each call to
// ensureResourceInitialized recurses into not-yet-initialized
// dependencies first, so iterating the map in any order still produces a
// correct topological sequence; h.initOrder records the actual order
// observed, used by dispose.
func (h *Handle) initAllResources() error {
	h.initMu.Lock()
	defer h.initMu.Unlock()

	for _, id := range h.store.sortedResourceIDs() {
		r := h.store.resources[id]
		if err := h.initResourceLocked(r, nil); err != nil {
			return err
		}
	}
	return nil
}

// sortedResourceIDs returns resource ids in a stable order (registration
// order is not tracked explicitly, so lexicographic order stands in for
// "stable by id on ties", per spec.md §5).
func (s *Store) sortedResourceIDs() []string {
	ids := make([]string, 0, len(s.resources))
	for id := range s.resources {
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	return ids
}

// disposeResources runs every initialized resource's Dispose in reverse
// initialization order, collecting errors into a DisposeError aggregate
// (spec.md §4.6 "Disposal", invariant I4). Grounded on the teacher's
// scope.go Dispose (reverse-order cleanup run).
func (h *Handle) disposeResources(ctx context.Context) error {
	h.initMu.Lock()
	order := append([]*Resource{}, h.initOrder...)
	h.initMu.Unlock()

	errs := map[string]error{}
	for i := len(order) - 1; i >= 0; i-- {
		r := order[i]
		if r.state != resourceInitialized || r.Dispose == nil {
			r.state = resourceDisposed
			continue
		}
		r.state = resourceDisposing
		depMap := r.effectiveDependencies(r.DefaultConfig)
		deps, _ := h.resolveDependencies(depMap)
		if err := r.Dispose(ctx, r.value, r.DefaultConfig, deps, r.rctx); err != nil {
			errs[r.ID] = err
		}
		r.state = resourceDisposed
	}
	if len(errs) > 0 {
		return &DisposeError{Errors: errs}
	}
	return nil
}
