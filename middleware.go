package apprun

import "context"

// TaskMwCall is what a task middleware's Run receives (spec.md §4.3):
// the in-flight input, the task definition, and a Next function to
// continue the chain, possibly with a substituted value.
type TaskMwCall struct {
	Input any
	Task  *Task
	Next  func(ctx context.Context, input any) (any, error)
}

// TaskMiddlewareFunc is a task middleware's run function.
type TaskMiddlewareFunc func(ctx context.Context, call *TaskMwCall, deps Deps, config any) (any, error)

// TaskMiddleware is an interceptor around task calls (spec.md §3
// "Middleware").
type TaskMiddleware struct {
	Base
	Dependencies  DepMap
	ConfigSchema  Schema
	Run           TaskMiddlewareFunc
	Everywhere    bool
	EverywhereFn  func(*Task) bool
	EverywhereCEL string
}

// ConfiguredTaskMw pairs a TaskMiddleware with a bound config, the result
// of TaskMiddleware.With (spec.md §3 "with(cfg)⇒ConfiguredMw").
type ConfiguredTaskMw struct {
	Mw     *TaskMiddleware
	Config any
}

// TaskMiddlewareOption configures a TaskMiddleware at registration time.
type TaskMiddlewareOption func(*TaskMiddleware)

func WithTaskMwConfigSchema(s Schema) TaskMiddlewareOption {
	return func(m *TaskMiddleware) { m.ConfigSchema = s }
}

// WithTaskMwEverywhere attaches this middleware to every task for which
// fn returns true; fn nil means every task.
func WithTaskMwEverywhere(fn func(*Task) bool) TaskMiddlewareOption {
	return func(m *TaskMiddleware) {
		m.Everywhere = true
		m.EverywhereFn = fn
	}
}

// WithTaskMwEverywhereCEL attaches this middleware to every task whose
// meta map satisfies a CEL boolean expression (SPEC_FULL.md §4.3
// expansion), evaluated through github.com/google/cel-go against a
// `meta` map variable.
func WithTaskMwEverywhereCEL(expr string) TaskMiddlewareOption {
	return func(m *TaskMiddleware) {
		m.Everywhere = true
		m.EverywhereCEL = expr
	}
}

// NewTaskMiddleware registers a new task middleware node.
func NewTaskMiddleware(id string, deps DepMap, run TaskMiddlewareFunc, opts ...TaskMiddlewareOption) *TaskMiddleware {
	m := &TaskMiddleware{Base: newBase(KindTaskMw, id, nil, nil), Dependencies: deps, Run: run}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// With binds a config value, producing the attachable ConfiguredTaskMw.
func (m *TaskMiddleware) With(cfg any) *ConfiguredTaskMw {
	return &ConfiguredTaskMw{Mw: m, Config: cfg}
}

func (m *TaskMiddleware) appliesTo(t *Task) bool {
	if !m.Everywhere {
		return false
	}
	if m.EverywhereCEL != "" {
		ok, err := evalCELPredicate(m.EverywhereCEL, t.Meta)
		return err == nil && ok
	}
	if m.EverywhereFn != nil {
		return m.EverywhereFn(t)
	}
	return true
}

// ResourceMwCall is the resource-middleware analogue of TaskMwCall.
type ResourceMwCall struct {
	Config   any
	Resource *Resource
	Next     func(ctx context.Context, config any) (any, error)
}

// ResourceMiddlewareFunc is a resource middleware's run function.
type ResourceMiddlewareFunc func(ctx context.Context, call *ResourceMwCall, deps Deps, config any) (any, error)

// ResourceMiddleware is an interceptor around resource init.
type ResourceMiddleware struct {
	Base
	Dependencies DepMap
	ConfigSchema Schema
	Run          ResourceMiddlewareFunc
	Everywhere   bool
	EverywhereFn func(*Resource) bool
}

// ConfiguredResourceMw pairs a ResourceMiddleware with a bound config.
type ConfiguredResourceMw struct {
	Mw     *ResourceMiddleware
	Config any
}

// ResourceMiddlewareOption configures a ResourceMiddleware at
// registration time.
type ResourceMiddlewareOption func(*ResourceMiddleware)

func WithResourceMwEverywhere(fn func(*Resource) bool) ResourceMiddlewareOption {
	return func(m *ResourceMiddleware) {
		m.Everywhere = true
		m.EverywhereFn = fn
	}
}

// NewResourceMiddleware registers a new resource middleware node.
func NewResourceMiddleware(id string, deps DepMap, run ResourceMiddlewareFunc, opts ...ResourceMiddlewareOption) *ResourceMiddleware {
	m := &ResourceMiddleware{Base: newBase(KindResourceMw, id, nil, nil), Dependencies: deps, Run: run}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *ResourceMiddleware) With(cfg any) *ConfiguredResourceMw {
	return &ConfiguredResourceMw{Mw: m, Config: cfg}
}

func (m *ResourceMiddleware) appliesTo(r *Resource) bool {
	if !m.Everywhere {
		return false
	}
	if m.EverywhereFn != nil {
		return m.EverywhereFn(r)
	}
	return true
}

// buildTaskChain right-folds a list of configured task middlewares
// around a terminal call, matching the teacher's extension-wrapping
// fold in scope.go's Resolve/Update
// (`for i := len(exts)-1; i>=0; i--`), generalized from a fixed
// Extension list to a per-task middleware chain (spec.md §4.3). Each
// middleware's own DepMap is resolved independently of the task's deps
// (spec.md §3: the `deps` a middleware's run receives is its own DI
// bag), and its Config is validated against ConfigSchema before the
// outermost middleware runs (invariant I6).
func buildTaskChain(h *Handle, mws []*ConfiguredTaskMw, task *Task, terminal func(context.Context, any) (any, error)) (func(context.Context, any) (any, error), error) {
	next := terminal
	for i := len(mws) - 1; i >= 0; i-- {
		cmw := mws[i]

		mwCfg := cmw.Config
		if cmw.Mw.ConfigSchema != nil {
			parsed, err := cmw.Mw.ConfigSchema.Parse(mwCfg)
			if err != nil {
				return nil, &MiddlewareConfigValidationError{MiddlewareID: cmw.Mw.ID, Cause: err}
			}
			mwCfg = parsed
		}
		mwDeps, err := h.resolveDependencies(cmw.Mw.Dependencies)
		if err != nil {
			return nil, err
		}

		captured := next
		next = func(ctx context.Context, input any) (any, error) {
			call := &TaskMwCall{Input: input, Task: task, Next: captured}
			return cmw.Mw.Run(ctx, call, mwDeps, mwCfg)
		}
	}
	return next, nil
}

// buildResourceChain is buildTaskChain's resource-init analogue.
func buildResourceChain(h *Handle, mws []*ConfiguredResourceMw, resource *Resource, terminal func(context.Context, any) (any, error)) (func(context.Context, any) (any, error), error) {
	next := terminal
	for i := len(mws) - 1; i >= 0; i-- {
		cmw := mws[i]

		mwCfg := cmw.Config
		if cmw.Mw.ConfigSchema != nil {
			parsed, err := cmw.Mw.ConfigSchema.Parse(mwCfg)
			if err != nil {
				return nil, &MiddlewareConfigValidationError{MiddlewareID: cmw.Mw.ID, Cause: err}
			}
			mwCfg = parsed
		}
		mwDeps, err := h.resolveDependencies(cmw.Mw.Dependencies)
		if err != nil {
			return nil, err
		}

		captured := next
		next = func(ctx context.Context, cfg any) (any, error) {
			call := &ResourceMwCall{Config: cfg, Resource: resource, Next: captured}
			return cmw.Mw.Run(ctx, call, mwDeps, mwCfg)
		}
	}
	return next, nil
}
