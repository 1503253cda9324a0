package durable

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *MemStore, *MemQueue) {
	t.Helper()
	store := NewMemStore()
	bus := NewMemBus()
	queue := NewMemQueue(16)
	return NewService(store, bus, queue, nil), store, queue
}

// Covers spec.md §8 scenario 3: saga rollback runs compensators in LIFO
// order and marks the execution failed (not compensation_failed) when
// compensators themselves succeed.
func TestSagaRollbackLIFOOrder(t *testing.T) {
	service, store, queue := newTestService(t)

	var order []string
	service.RegisterTask("order.saga", func(ctx *Context, input any) (any, error) {
		_, err := ctx.Up("A", func(rctx context.Context) (any, error) {
			order = append(order, "A.up")
			return nil, nil
		}, func(rctx context.Context) error {
			order = append(order, "A.down")
			return nil
		})
		require.NoError(t, err)

		_, err = ctx.Up("B", func(rctx context.Context) (any, error) {
			order = append(order, "B.up")
			return nil, nil
		}, func(rctx context.Context) error {
			order = append(order, "B.down")
			return nil
		})
		require.NoError(t, err)

		if rbErr := ctx.Rollback(); rbErr != nil {
			return nil, rbErr
		}
		return nil, assertErr
	})

	worker := NewWorker(service, WithPollInterval(20*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go worker.Run(ctx)

	exec, err := service.Execute(context.Background(), "order.saga", nil,
		StartOptions{MaxAttempts: 1}, WaitOptions{Timeout: 2 * time.Second})
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, exec.Status)
	assert.Equal(t, []string{"A.up", "B.up", "B.down", "A.down"}, order)
	_ = store
	_ = queue
}

var assertErr = &testTaskError{"saga step failed"}

type testTaskError struct{ msg string }

func (e *testTaskError) Error() string { return e.msg }

// Covers spec.md §8 scenario 4: a sleep suspends the first pass and
// resumes exactly once after the timer fires, observing side effects
// once before and once after.
func TestSleepReplay(t *testing.T) {
	service, _, _ := newTestService(t)

	var sideEffects []string
	service.RegisterTask("workflow.sleep", func(ctx *Context, input any) (any, error) {
		if _, err := ctx.Step("before", StepOptions{}, func(rctx context.Context) (any, error) {
			sideEffects = append(sideEffects, "before")
			return nil, nil
		}); err != nil {
			return nil, err
		}
		if err := ctx.Sleep(50, "pause"); err != nil {
			return nil, err
		}
		sideEffects = append(sideEffects, "after")
		return "done", nil
	})

	worker := NewWorker(service, WithPollInterval(20*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go worker.Run(ctx)

	exec, err := service.Execute(context.Background(), "workflow.sleep", nil,
		StartOptions{MaxAttempts: 1}, WaitOptions{Timeout: 3 * time.Second})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, exec.Status)
	assert.Equal(t, []string{"before", "after"}, sideEffects)
}

// Covers spec.md §8 scenario 5: waitForSignal resolves once Signal is
// delivered, and the execution then runs to completion.
func TestWaitForSignalDelivered(t *testing.T) {
	service, _, _ := newTestService(t)

	service.RegisterTask("workflow.waits", func(ctx *Context, input any) (any, error) {
		outcome, err := ctx.WaitForSignal("paid", SignalOptions{StepID: "wait-paid"})
		if err != nil {
			return nil, err
		}
		return outcome, nil
	})

	worker := NewWorker(service, WithPollInterval(20*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go worker.Run(ctx)

	id, err := service.StartExecution(context.Background(), "workflow.waits", nil, StartOptions{MaxAttempts: 1})
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, service.Signal(context.Background(), id, "paid", map[string]any{"paidAt": float64(1)}))

	exec, err := service.Wait(context.Background(), id, WaitOptions{Timeout: 3 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, exec.Status)
}
