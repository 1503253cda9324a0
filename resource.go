package apprun

import "context"

// ResourceContext is the per-resource scratch value produced once by a
// resource's Context factory and threaded through Init and Dispose
// (spec.md §3 "Resource", `context?: ()⇒Ctx`).
type ResourceContext struct {
	Scratch any
}

// Registerable is a node or *ResourceWithConfig attachable to a
// resource's Register list (GLOSSARY "Registerable").
type Registerable interface {
	registerableNode() AnyNode
}

func (t *Task) registerableNode() AnyNode              { return t }
func (r *Resource) registerableNode() AnyNode          { return r }
func (e *Event) registerableNode() AnyNode             { return e }
func (h *Hook) registerableNode() AnyNode              { return h }
func (m *TaskMiddleware) registerableNode() AnyNode     { return m }
func (m *ResourceMiddleware) registerableNode() AnyNode { return m }

// Resource is an initialized singleton with configuration and disposal
// (spec.md §3 "Resource"). The stored Value is `any`; callers recover the
// concrete type via GetResourceValue's generic helper.
type Resource struct {
	Base
	DefaultConfig  any
	Dependencies   DepMap
	DependenciesFn func(cfg any) DepMap
	Register       []Registerable
	RegisterFn     func(cfg any) []Registerable
	Middleware     []*ConfiguredResourceMw
	ContextFn      func() any
	ConfigSchema   Schema
	ResultSchema   Schema
	Init           func(ctx context.Context, cfg any, deps Deps, rc *ResourceContext) (any, error)
	Dispose        func(ctx context.Context, value, cfg any, deps Deps, rc *ResourceContext) error

	// Lifecycle state, mutated only by the store during boot/dispose.
	state resourceState
	value any
	rctx  *ResourceContext
}

type resourceState int

const (
	resourceRegistered resourceState = iota
	resourceInitializing
	resourceInitialized
	resourceDisposing
	resourceDisposed
)

// ResourceOption configures a Resource at registration time.
type ResourceOption func(*Resource)

func WithRegister(children ...Registerable) ResourceOption {
	return func(r *Resource) { r.Register = append(r.Register, children...) }
}

func WithRegisterFn(fn func(cfg any) []Registerable) ResourceOption {
	return func(r *Resource) { r.RegisterFn = fn }
}

func WithResourceMiddleware(mws ...*ConfiguredResourceMw) ResourceOption {
	return func(r *Resource) { r.Middleware = append(r.Middleware, mws...) }
}

func WithResourceContext(fn func() any) ResourceOption {
	return func(r *Resource) { r.ContextFn = fn }
}

func WithConfigSchema(s Schema) ResourceOption       { return func(r *Resource) { r.ConfigSchema = s } }
func WithResourceResultSchema(s Schema) ResourceOption {
	return func(r *Resource) { r.ResultSchema = s }
}
func WithResourceTags(tags ...*AttachedTag) ResourceOption {
	return func(r *Resource) { r.Tags = append(r.Tags, tags...) }
}
func WithDependenciesFn(fn func(cfg any) DepMap) ResourceOption {
	return func(r *Resource) { r.DependenciesFn = fn }
}
func WithDispose(fn func(ctx context.Context, value, cfg any, deps Deps, rc *ResourceContext) error) ResourceOption {
	return func(r *Resource) { r.Dispose = fn }
}

// NewResource registers a new resource node. T is inferred from init's
// return type, the idiomatic Go substitute for the source's generic
// Resource<T> (the teacher's Executor[T] plays the same role in
// pkg/core/scope.go).
func NewResource[T any](id string, cfg any, init func(ctx context.Context, cfg any, deps Deps, rc *ResourceContext) (T, error), opts ...ResourceOption) *Resource {
	r := &Resource{Base: newBase(KindResource, id, nil, nil), DefaultConfig: cfg}
	r.Init = func(ctx context.Context, cfg any, deps Deps, rc *ResourceContext) (any, error) {
		return init(ctx, cfg, deps, rc)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Resource) effectiveDependencies(cfg any) DepMap {
	if r.DependenciesFn != nil {
		return r.DependenciesFn(cfg)
	}
	return r.Dependencies
}

func (r *Resource) effectiveRegister(cfg any) []Registerable {
	if r.RegisterFn != nil {
		return r.RegisterFn(cfg)
	}
	return r.Register
}

// ResourceWithConfig pairs a resource with a bound config
// (spec.md §3 "resource.with(cfg)").
type ResourceWithConfig struct {
	Resource *Resource
	Config   any
}

func (rc *ResourceWithConfig) registerableNode() AnyNode { return rc.Resource }

// With binds a config value to this resource for a specific registration
// site, without mutating the resource's default config.
func (r *Resource) With(cfg any) *ResourceWithConfig {
	return &ResourceWithConfig{Resource: r, Config: cfg}
}

// GetResourceValue type-asserts the initialized value of a resource
// (spec.md §6 "getResourceValue").
func GetResourceValue[T any](h *Handle, resourceID string) (T, error) {
	var zero T
	r, ok := h.store.resources[resourceID]
	if !ok {
		return zero, &UnknownDependencyError{TargetID: resourceID}
	}
	if r.state != resourceInitialized {
		return zero, &ResourceNotInitializedError{ResourceID: resourceID}
	}
	return SafeTypeAssertion[T](r.value)
}
