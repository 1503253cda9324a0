package apprun

import "context"

// RunTask executes a task through the full pipeline of spec.md §4.4
// "Task Runner": locate, validate input, beforeRun, middleware chain,
// run, validate result, afterRun, return — with onError routing and an
// optional tunnel interception. depsOverride, if given, is used instead
// of the computed dependency bag (which is then not resolved at all); it
// takes effect after input validation and beforeRun, and the middleware
// chain and run both see it.
func (h *Handle) RunTask(ctx context.Context, taskID string, input any, depsOverride ...Deps) (result any, err error) {
	task, ok := h.store.getTask(taskID)
	if !ok {
		return nil, &UnknownDependencyError{TargetID: taskID}
	}
	if task.Run == nil {
		return nil, &ResourceInitError{ResourceID: taskID, Cause: errPhantomTaskNoRun}
	}

	// Step 2: validate input.
	validatedInput, verr := parseIfSet(task.InputSchema, input)
	if verr != nil {
		return nil, &TaskInputValidationError{TaskID: taskID, Cause: verr}
	}
	effectiveInput := validatedInput

	// Step 3: beforeRun.
	if task.BeforeRun != nil {
		replaced, berr := task.BeforeRun(ctx, effectiveInput)
		if berr != nil {
			return nil, h.handleTaskError(ctx, task, berr)
		}
		effectiveInput = replaced
	}
	_ = h.EmitEvent(ctx, "task:"+taskID+":beforeRun", effectiveInput, taskID)

	// Compute (or accept overridden) dependencies.
	var deps Deps
	if len(depsOverride) > 0 && depsOverride[0] != nil {
		deps = depsOverride[0]
	} else {
		computed, derr := h.resolveDependencies(task.effectiveDependencies())
		if derr != nil {
			return nil, derr
		}
		deps = computed
	}

	runFn := func(ctx context.Context, in any) (any, error) {
		return task.Run(ctx, in, deps)
	}

	// Tunneling (spec.md §4.4 "Tunneling"): a resource tagged
	// GlobalTunnelTag wraps the terminal run call, so it intercepts the
	// call after the middleware chain has run.
	if h.tunnel != nil {
		terminal := runFn
		runFn = func(ctx context.Context, in any) (any, error) {
			return h.tunnel.Tunnel(ctx, taskID, in, terminal)
		}
	}

	mws := h.taskMiddlewareFor(task)
	chain, mwErr := buildTaskChain(h, mws, task, runFn)
	if mwErr != nil {
		return nil, mwErr
	}

	output, rerr := chain(ctx, effectiveInput)
	if rerr != nil {
		return nil, h.handleTaskError(ctx, task, rerr)
	}

	// Step 6: validate result.
	validatedOutput, rverr := parseIfSet(task.ResultSchema, output)
	if rverr != nil {
		return nil, h.handleTaskError(ctx, task, &TaskResultValidationError{TaskID: taskID, Cause: rverr})
	}
	effectiveOutput := validatedOutput

	// Step 7: afterRun.
	if task.AfterRun != nil {
		replaced, aerr := task.AfterRun(ctx, effectiveInput, effectiveOutput)
		if aerr != nil {
			return nil, h.handleTaskError(ctx, task, aerr)
		}
		effectiveOutput = replaced
	}
	_ = h.EmitEvent(ctx, "task:"+taskID+":afterRun", effectiveOutput, taskID)

	if cerr := checkTagContracts(taskID, task.Tags, effectiveOutput); cerr != nil {
		return nil, cerr
	}

	return effectiveOutput, nil
}

// taskMiddlewareFor assembles a task's own middleware plus every
// registered everywhere-task-middleware that applies to it.
func (h *Handle) taskMiddlewareFor(task *Task) []*ConfiguredTaskMw {
	mws := append([]*ConfiguredTaskMw{}, task.Middleware...)
	for _, mw := range h.store.taskMws {
		if mw.appliesTo(task) {
			mws = append(mws, &ConfiguredTaskMw{Mw: mw})
		}
	}
	return mws
}

// handleTaskError routes a thrown task error to onError (spec.md §4.4
// step 8): a handler may suppress the error, in which case RunTask
// returns (nil, nil) to the caller.
func (h *Handle) handleTaskError(ctx context.Context, task *Task, cause error) error {
	_ = h.EmitEvent(ctx, "task:"+task.ID+":onError", cause, task.ID)
	if task.OnError == nil {
		return cause
	}
	suppress, err := task.OnError(ctx, cause)
	if err != nil {
		return err
	}
	if suppress {
		return nil
	}
	return cause
}

var errPhantomTaskNoRun = phantomTaskError{}

type phantomTaskError struct{}

func (phantomTaskError) Error() string {
	return "apprun: phantom task has no run implementation; an override must supply one"
}
