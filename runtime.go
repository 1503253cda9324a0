package apprun

import (
	"context"
	"log/slog"
	"sync"
)

// Handle is the booted, running application returned by Boot (spec.md §6
// "Runtime handle API"). It exposes the surface a caller drives the
// graph through; the Store it wraps is read-only to callers via
// Handle.Store().
type Handle struct {
	store   *Store
	logger  *slog.Logger
	tunnel  TunnelRunner
	bootCtx context.Context

	initMu    sync.Mutex
	initOrder []*Resource

	disposeMu sync.Mutex
	disposed  bool
}

// BootOption configures Boot.
type BootOption func(*bootConfig)

type bootConfig struct {
	logger *slog.Logger
}

// WithLogger overrides the runtime's logger (default: a tint-colored
// slog logger, SPEC_FULL.md §2 "Logging").
func WithLogger(logger *slog.Logger) BootOption {
	return func(c *bootConfig) { c.logger = logger }
}

// Boot applies overrides, builds the registry, initializes resources in
// dependency order, and returns a running Handle (spec.md §2 "Data flow
// at boot").
func Boot(ctx context.Context, root *Resource, opts ...BootOption) (*Handle, error) {
	cfg := &bootConfig{logger: defaultLogger()}
	for _, opt := range opts {
		opt(cfg)
	}

	store, err := buildStore(root, root.DefaultConfig)
	if err != nil {
		LogBootFailure(cfg.logger, root, err)
		return nil, err
	}
	if err := store.applyOverrides(); err != nil {
		LogBootFailure(cfg.logger, root, err)
		return nil, err
	}

	h := &Handle{store: store, logger: cfg.logger, bootCtx: ctx}

	if tunnelResources := store.getResourcesWithTag(GlobalTunnelTag.TagID()); len(tunnelResources) > 0 {
		if err := h.ensureResourceInitialized(tunnelResources[0]); err != nil {
			LogBootFailure(cfg.logger, root, err)
			return nil, err
		}
		if runner, ok := tunnelResources[0].value.(TunnelRunner); ok {
			h.tunnel = runner
		}
	}

	if err := h.initAllResources(); err != nil {
		LogBootFailure(cfg.logger, root, err)
		return nil, err
	}

	return h, nil
}

// Dispose disposes every initialized resource in reverse init order
// (spec.md §6 "dispose"). Later calls return nil. The handle is not
// closed: resolving a disposed resource afterward fails with
// ResourceNotInitializedError, but RunTask and EmitEvent still run
// anything that does not need one.
func (h *Handle) Dispose(ctx context.Context) error {
	h.disposeMu.Lock()
	defer h.disposeMu.Unlock()
	if h.disposed {
		return nil
	}
	h.disposed = true
	return h.disposeResources(ctx)
}

// StoreView is the read-only introspection surface spec.md §6 exposes as
// "store" on the runtime handle.
type StoreView struct {
	Tasks         map[string]*Task
	Resources     map[string]*Resource
	Events        map[string]*Event
	TaskMws       map[string]*TaskMiddleware
	ResourceMws   map[string]*ResourceMiddleware
	Hooks         map[string]*Hook
	AsyncContexts map[string]*AsyncContextDef
}

// Store returns a read-only view of the registry.
func (h *Handle) Store() StoreView {
	return StoreView{
		Tasks:         h.store.tasks,
		Resources:     h.store.resources,
		Events:        h.store.events,
		TaskMws:       h.store.taskMws,
		ResourceMws:   h.store.resourceMws,
		Hooks:         h.store.hooks,
		AsyncContexts: h.store.asyncCtxs,
	}
}
