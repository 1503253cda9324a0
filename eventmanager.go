package apprun

import (
	"context"
	"sort"
	"sync"
	"time"
)

// EmitEvent constructs an emission record and dispatches it through two
// passes — id-specific hooks (P1), then wildcard hooks (P2) — honoring
// ascending Order within each pass and the event's Parallel/FailFast
// settings (spec.md §4.5 "Event Manager"). Grounded on the teacher's
// extension ordering (`sort.Slice` by `Order()` in scope.go's
// UseExtension), applied here to hooks instead of extensions.
func (h *Handle) EmitEvent(ctx context.Context, eventID string, data any, source string) error {
	event, _ := h.store.getEvent(eventID)

	if event != nil && event.PayloadSchema != nil {
		parsed, err := event.PayloadSchema.Parse(data)
		if err != nil {
			return &EventPayloadValidationError{EventID: eventID, Cause: err}
		}
		data = parsed
	}

	em := &Emission{ID: eventID, Data: data, Timestamp: bootTime(), Source: source}

	hooks := h.store.hooksForEvent(eventID)
	specific := make([]*Hook, 0, len(hooks))
	wildcard := make([]*Hook, 0)
	for _, hk := range hooks {
		if hk.On.Wildcard {
			wildcard = append(wildcard, hk)
		} else {
			specific = append(specific, hk)
		}
	}

	parallel := event != nil && event.Parallel
	failFast := event != nil && event.FailFast

	if err := h.dispatchPass(ctx, specific, em, parallel, failFast); err != nil {
		return err
	}
	if em.IsPropagationStopped() {
		return nil
	}
	return h.dispatchPass(ctx, wildcard, em, parallel, failFast)
}

// dispatchPass runs one ordering pass: hooks grouped into batches of
// equal Order (ascending), batches always sequential, hooks within a
// batch concurrent iff parallel is set (spec.md §4.5).
func (h *Handle) dispatchPass(ctx context.Context, hooks []*Hook, em *Emission, parallel, failFast bool) error {
	sort.SliceStable(hooks, func(i, j int) bool {
		if hooks[i].Order != hooks[j].Order {
			return hooks[i].Order < hooks[j].Order
		}
		return hooks[i].registrationIndex < hooks[j].registrationIndex
	})

	for i := 0; i < len(hooks); {
		j := i
		for j < len(hooks) && hooks[j].Order == hooks[i].Order {
			j++
		}
		batch := hooks[i:j]
		i = j

		if err := h.runBatch(ctx, batch, em, parallel, failFast); err != nil {
			return err
		}
		if em.IsPropagationStopped() {
			return nil
		}
	}
	return nil
}

func (h *Handle) runBatch(ctx context.Context, batch []*Hook, em *Emission, parallel, failFast bool) error {
	if !parallel {
		for _, hk := range batch {
			if err := h.runHook(ctx, hk, em); err != nil {
				if failFast {
					return err
				}
				h.reportHookError(hk, err)
			}
		}
		return nil
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	for _, hk := range batch {
		hk := hk
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := h.runHook(ctx, hk, em); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				h.reportHookError(hk, err)
			}
		}()
	}
	wg.Wait()
	if failFast {
		return firstErr
	}
	return nil
}

func (h *Handle) runHook(ctx context.Context, hk *Hook, em *Emission) error {
	deps, err := h.resolveDependencies(hk.Dependencies)
	if err != nil {
		return err
	}
	return hk.Run(&HookCtx{Context: ctx, Emission: em, Deps: deps})
}

func (h *Handle) reportHookError(hk *Hook, err error) {
	if h.logger != nil {
		h.logger.Error("apprun: hook failed", "hook", hk.ID, "error", err)
	}
}

// bootTime is a small indirection so tests can stub emission timestamps
// without depending on wall-clock ordering.
var bootTime = time.Now
