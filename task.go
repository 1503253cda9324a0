package apprun

import "context"

// TaskFunc is a task's run implementation (spec.md §3 "Task",
// `run(input, deps)`).
type TaskFunc func(ctx context.Context, input any, deps Deps) (any, error)

// Task is a callable unit of work (spec.md §3 "Task"). A phantom task
// declares only dependencies and a type contract — Run is nil until an
// override supplies it.
type Task struct {
	Base
	Dependencies   DepMap
	DependenciesFn func() DepMap
	Middleware     []*ConfiguredTaskMw
	InputSchema    Schema
	ResultSchema   Schema
	Run            TaskFunc
	Throws         []string

	BeforeRun func(ctx context.Context, input any) (any, error)
	AfterRun  func(ctx context.Context, input, output any) (any, error)
	OnError   func(ctx context.Context, cause error) (suppress bool, err error)
}

// TaskOption configures a Task at registration time.
type TaskOption func(*Task)

func WithTaskMiddleware(mws ...*ConfiguredTaskMw) TaskOption {
	return func(t *Task) { t.Middleware = append(t.Middleware, mws...) }
}

func WithInputSchema(s Schema) TaskOption  { return func(t *Task) { t.InputSchema = s } }
func WithResultSchema(s Schema) TaskOption { return func(t *Task) { t.ResultSchema = s } }
func WithTaskTags(tags ...*AttachedTag) TaskOption {
	return func(t *Task) { t.Tags = append(t.Tags, tags...) }
}
func WithTaskThrows(kinds ...string) TaskOption {
	return func(t *Task) { t.Throws = append(t.Throws, kinds...) }
}

// WithBeforeRun sets the task's beforeRun lifecycle hook; the returned
// value (or the passed-through input) becomes the effective input for
// the middleware chain (spec.md §4.4 step 3).
func WithBeforeRun(fn func(ctx context.Context, input any) (any, error)) TaskOption {
	return func(t *Task) { t.BeforeRun = fn }
}

// WithAfterRun sets the task's afterRun lifecycle hook; its return value
// becomes the task's final output (spec.md §4.4 step 7).
func WithAfterRun(fn func(ctx context.Context, input, output any) (any, error)) TaskOption {
	return func(t *Task) { t.AfterRun = fn }
}

// WithOnError sets the task's onError lifecycle hook; suppress=true makes
// runTask return a nil result instead of propagating cause (spec.md §4.4
// step 8).
func WithOnError(fn func(ctx context.Context, cause error) (bool, error)) TaskOption {
	return func(t *Task) { t.OnError = fn }
}

// NewTask registers a new task node. A nil run produces a phantom task
// that an override must later supply a run for.
func NewTask(id string, deps DepMap, run TaskFunc, opts ...TaskOption) *Task {
	t := &Task{Base: newBase(KindTask, id, nil, nil), Dependencies: deps, Run: run}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Task) effectiveDependencies() DepMap {
	if t.DependenciesFn != nil {
		return t.DependenciesFn()
	}
	return t.Dependencies
}

// taskCallable is the Callable a task dependency resolves to
// (spec.md §4.2 "Task dep").
type taskCallable struct {
	taskID string
	rt     *Handle
}

func (c *taskCallable) Invoke(ctx context.Context, input any) (any, error) {
	return c.rt.RunTask(ctx, c.taskID, input)
}
