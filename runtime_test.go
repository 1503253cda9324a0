package apprun

import (
	"context"
	"testing"
)

// Covers spec.md §8 scenario 1: DI resolves a resource into a task's
// deps, and a task middleware observes/transforms the call.
func TestBootRunTaskWithMiddleware(t *testing.T) {
	greeting := NewResource("app.greeting", "hello",
		func(ctx context.Context, cfg any, deps Deps, rc *ResourceContext) (string, error) {
			return cfg.(string), nil
		})

	var observed []string
	uppercase := NewTaskMiddleware("app.mw.observe", nil,
		func(ctx context.Context, call *TaskMwCall, deps Deps, cfg any) (any, error) {
			observed = append(observed, "before:"+call.Task.ID)
			out, err := call.Next(ctx, call.Input)
			observed = append(observed, "after:"+call.Task.ID)
			return out, err
		})

	greet := NewTask("app.greet",
		DepMap{"greeting": ResourceRef("app.greeting")},
		func(ctx context.Context, in any, deps Deps) (any, error) {
			g, _ := Dep[string](deps, "greeting")
			return g + ", " + in.(string), nil
		},
		WithTaskMiddleware(uppercase.With(nil)))

	root := NewResource("app.root", nil,
		func(ctx context.Context, cfg any, deps Deps, rc *ResourceContext) (any, error) {
			return nil, nil
		},
		WithRegister(greeting, uppercase, greet))

	h, err := Boot(context.Background(), root)
	if err != nil {
		t.Fatalf("boot failed: %v", err)
	}
	defer h.Dispose(context.Background())

	out, err := h.RunTask(context.Background(), "app.greet", "world")
	if err != nil {
		t.Fatalf("run task failed: %v", err)
	}
	if out != "hello, world" {
		t.Fatalf("unexpected output: %v", out)
	}
	if len(observed) != 2 || observed[0] != "before:app.greet" || observed[1] != "after:app.greet" {
		t.Fatalf("middleware did not wrap task call as expected: %v", observed)
	}
}

// Covers spec.md §8 scenario 2: id-specific hooks run before wildcard
// hooks, ascending by Order within each pass.
func TestEventDispatchOrderingAndWildcard(t *testing.T) {
	var fired []string

	pingEvent := NewEvent("app.ping")

	specificLate := NewHook("app.hook.specificLate", OnEvents("app.ping"),
		func(hc *HookCtx) error { fired = append(fired, "specific-late"); return nil },
		WithHookOrder(10))

	specificEarly := NewHook("app.hook.specificEarly", OnEvents("app.ping"),
		func(hc *HookCtx) error { fired = append(fired, "specific-early"); return nil },
		WithHookOrder(1))

	wildcard := NewHook("app.hook.wildcard", OnAnyEvent(),
		func(hc *HookCtx) error { fired = append(fired, "wildcard"); return nil })

	root := NewResource("app.root", nil,
		func(ctx context.Context, cfg any, deps Deps, rc *ResourceContext) (any, error) {
			return nil, nil
		},
		WithRegister(pingEvent, specificLate, specificEarly, wildcard))

	h, err := Boot(context.Background(), root)
	if err != nil {
		t.Fatalf("boot failed: %v", err)
	}
	defer h.Dispose(context.Background())

	if err := h.EmitEvent(context.Background(), "app.ping", nil, "test"); err != nil {
		t.Fatalf("emit failed: %v", err)
	}

	want := []string{"specific-early", "specific-late", "wildcard"}
	if len(fired) != len(want) {
		t.Fatalf("got %v, want %v", fired, want)
	}
	for i := range want {
		if fired[i] != want[i] {
			t.Fatalf("got %v, want %v", fired, want)
		}
	}
}

// Covers spec.md §4.1: for a given target id, the outermost
// (root-closest) override wins.
func TestOverridePrecedenceOutermostWins(t *testing.T) {
	base := NewTask("app.task", nil, func(ctx context.Context, in any, deps Deps) (any, error) {
		return "base", nil
	})

	innerOverride := &TaskOverride{
		TargetID: "app.task",
		Run: func(ctx context.Context, in any, deps Deps) (any, error) {
			return "inner", nil
		},
	}
	outerOverride := &TaskOverride{
		TargetID: "app.task",
		Run: func(ctx context.Context, in any, deps Deps) (any, error) {
			return "outer", nil
		},
	}

	inner := NewResource("app.inner", nil,
		func(ctx context.Context, cfg any, deps Deps, rc *ResourceContext) (any, error) {
			return nil, nil
		},
		WithRegister(base, innerOverride))

	root := NewResource("app.root", nil,
		func(ctx context.Context, cfg any, deps Deps, rc *ResourceContext) (any, error) {
			return nil, nil
		},
		WithRegister(inner, outerOverride))

	h, err := Boot(context.Background(), root)
	if err != nil {
		t.Fatalf("boot failed: %v", err)
	}
	defer h.Dispose(context.Background())

	out, err := h.RunTask(context.Background(), "app.task", nil)
	if err != nil {
		t.Fatalf("run task failed: %v", err)
	}
	if out != "outer" {
		t.Fatalf("expected outermost override to win, got %v", out)
	}
}

// Covers spec.md §4.1 "Store" cycle detection during registration.
func TestCyclicRegistrationDetected(t *testing.T) {
	a := NewResource("app.a", nil, func(ctx context.Context, cfg any, deps Deps, rc *ResourceContext) (any, error) {
		return nil, nil
	})
	b := NewResource("app.b", nil, func(ctx context.Context, cfg any, deps Deps, rc *ResourceContext) (any, error) {
		return nil, nil
	}, WithRegister(a))
	a.Register = append(a.Register, b)

	_, err := Boot(context.Background(), a)
	if err == nil {
		t.Fatal("expected cyclic registration error, got nil")
	}
	if _, ok := err.(*CyclicRegistrationError); !ok {
		t.Fatalf("expected *CyclicRegistrationError, got %T: %v", err, err)
	}
}
