// Package apprun is a dependency-injection, middleware and event/hook
// application runtime. Applications are declared as a graph of four
// primitive node kinds — tasks, resources, events and middlewares — plus
// tags, hooks and async contexts. Boot the graph with Boot, call tasks
// through the returned Handle, and dispose it in reverse init order when
// done.
//
// # Basic usage
//
//	db := apprun.NewResource("app.db", "postgres://localhost/app", func(ctx context.Context, cfg any, deps apprun.Deps, rc *apprun.ResourceContext) (*sql.DB, error) {
//		return sql.Open("postgres", cfg.(string))
//	})
//
//	sum := apprun.NewTask("app.sum", apprun.DepMap{"db": apprun.ResourceRef("app.db")},
//		func(ctx context.Context, in any, deps apprun.Deps) (any, error) {
//			pair := in.([2]int)
//			return pair[0] + pair[1], nil
//		})
//
//	root := apprun.NewResource("app.root", nil, func(ctx context.Context, cfg any, deps apprun.Deps, rc *apprun.ResourceContext) (any, error) {
//		return nil, nil
//	}, apprun.WithRegister(db, sum))
//
//	handle, err := apprun.Boot(context.Background(), root)
//	out, err := handle.RunTask(context.Background(), "app.sum", [2]int{2, 3})
//	defer handle.Dispose(context.Background())
//
// # Middleware
//
// Both tasks and resources may be wrapped by an ordered chain of
// middleware. Each middleware receives a Next function and may transform
// the input/config on the way in, the result on the way out, or short
// circuit entirely:
//
//	prefix := apprun.NewTaskMiddleware("app.mw.prefix", nil, func(ctx context.Context, c *apprun.TaskMwCall, deps apprun.Deps, cfg any) (any, error) {
//		out, err := c.Next(ctx, c.Input)
//		if err != nil {
//			return nil, err
//		}
//		return "MW:" + fmt.Sprint(out), nil
//	})
//
// # Events and hooks
//
// Events are emitted through the runtime handle and dispatched to hooks
// in ascending Order, id-specific hooks before wildcard hooks:
//
//	handle.EmitEvent(ctx, "app.user.created", user, "signup-flow")
//
// # Durable workflows
//
// The durable subpackage provides a replay-safe workflow engine: a
// workflow body is a durable.DurableTaskFunc registered on a
// durable.Service under a task id, and it receives its *durable.Context
// as its first argument. DurableWorkflowTag can mark an apprun task as a
// workflow body, but neither package reads that tag.
package apprun
