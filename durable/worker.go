package durable

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Worker is the timer/resumption loop described in spec.md §4.8. It
// polls for due timers, enqueues resumptions, and drains the
// resumption queue, invoking the registered DurableTaskFunc with a
// fresh Context per attempt. Grounded on
// anhnv24810310060-.../services/orchestrator/scheduler.go's polling
// loop shape, generalized to two independent tickers (timers, then
// queue consumption) instead of one.
type Worker struct {
	service       *Service
	store         Store
	bus           Bus
	queue         Queue
	logger        *slog.Logger
	pollInterval  time.Duration
	implicitPolicy ImplicitStepIDPolicy
}

// WorkerOption configures a Worker at construction.
type WorkerOption func(*Worker)

func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) { w.pollInterval = d }
}

func WithImplicitStepIDPolicy(p ImplicitStepIDPolicy) WorkerOption {
	return func(w *Worker) { w.implicitPolicy = p }
}

// NewWorker builds a Worker bound to a Service's store/bus/queue.
func NewWorker(service *Service, opts ...WorkerOption) *Worker {
	w := &Worker{
		service:        service,
		store:          service.store,
		bus:            service.bus,
		queue:          service.queue,
		logger:         service.logger,
		pollInterval:   1 * time.Second,
		implicitPolicy: ImplicitAllow,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run blocks, driving the timer-poll loop and the resumption consumer
// until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	stopConsume, err := w.queue.Consume(ctx, func(msg ResumptionMessage) error {
		return w.handleResumption(ctx, msg)
	})
	if err != nil {
		return err
	}
	defer stopConsume()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.pollTimers(ctx)
		}
	}
}

func (w *Worker) pollTimers(ctx context.Context) {
	due, err := w.store.GetReadyTimers(ctx, nowMs())
	if err != nil {
		w.logger.Error("durable: poll timers failed", "error", err)
		return
	}
	for _, t := range due {
		if err := w.store.MarkTimerFired(ctx, t.ID); err != nil {
			w.logger.Error("durable: mark timer fired failed", "timer", t.ID, "error", err)
			continue
		}
		if t.Type == TimerSleep {
			stepID := trimPrefix(t.StepID, "__sleep:")
			ctxHandle := newContext(ctx, w.store, w.bus, t.ExecutionID, 0, w.implicitPolicy)
			if err := ctxHandle.MarkSleepComplete(stepID); err != nil {
				w.logger.Error("durable: mark sleep complete failed", "step", stepID, "error", err)
				continue
			}
		}
		if t.Type == TimerSignal {
			if err := w.markSignalTimedOut(ctx, t.ExecutionID, t.StepID); err != nil {
				w.logger.Error("durable: mark signal timed out failed", "step", t.StepID, "error", err)
				continue
			}
		}
		if err := w.queue.Enqueue(ctx, ResumptionMessage{ExecutionID: t.ExecutionID, Reason: "timer:" + string(t.Type)}); err != nil {
			w.logger.Error("durable: enqueue resumption failed", "execution", t.ExecutionID, "error", err)
		}
	}
}

func (w *Worker) markSignalTimedOut(ctx context.Context, executionID, stepID string) error {
	existing, ok, err := w.store.GetStepResult(ctx, executionID, stepID)
	if err != nil || !ok {
		return err
	}
	memo, _ := existing.Result.(map[string]any)
	if memo == nil || memo["state"] != "waiting" {
		return nil
	}
	memo["state"] = "timed_out"
	return w.store.SaveStepResult(ctx, &StepResult{
		ExecutionID: executionID,
		StepID:      stepID,
		Result:      memo,
		CompletedAt: nowMs(),
	})
}

func trimPrefix(s, prefix string) string {
	if len(s) >= len(prefix) && s[:len(prefix)] == prefix {
		return s[len(prefix):]
	}
	return s
}

func (w *Worker) handleResumption(ctx context.Context, msg ResumptionMessage) error {
	exec, err := w.store.GetExecution(ctx, msg.ExecutionID)
	if err != nil || exec == nil {
		return err
	}
	if exec.Status == StatusCancelled {
		return &ExecutionCancelledError{ExecutionID: exec.ID, Reason: exec.Error}
	}

	fn, ok := w.service.tasks[exec.TaskID]
	if !ok {
		w.logger.Error("durable: no registered task for execution", "execution", exec.ID, "task", exec.TaskID)
		return nil
	}

	running := StatusRunning
	_ = w.store.UpdateExecution(ctx, exec.ID, ExecutionPatch{Status: &running})

	dctx := newContext(ctx, w.store, w.bus, exec.ID, exec.Attempt, w.implicitPolicy)
	result, runErr := fn(dctx, exec.Input)

	if runErr != nil {
		if _, suspended := isSuspension(runErr); suspended {
			suspendedStatus := StatusSuspended
			_ = w.store.UpdateExecution(ctx, exec.ID, ExecutionPatch{Status: &suspendedStatus})
			return nil
		}
		return w.handleFailure(ctx, exec, runErr)
	}

	completed := StatusCompleted
	_ = w.store.UpdateExecution(ctx, exec.ID, ExecutionPatch{Status: &completed})
	w.finish(ctx, exec.ID, result, nil)
	return nil
}

func (w *Worker) handleFailure(ctx context.Context, exec *Execution, runErr error) error {
	var compErr *CompensationFailedError
	status := StatusFailed
	if asCompensationFailed(runErr, &compErr) {
		status = StatusCompensationFailed
	}

	if exec.Attempt < exec.MaxAttempts && status != StatusCompensationFailed {
		attempt := exec.Attempt + 1
		pending := StatusPending
		errMsg := runErr.Error()
		_ = w.store.UpdateExecution(ctx, exec.ID, ExecutionPatch{Status: &pending, Attempt: &attempt, Error: &errMsg})
		return w.queue.Enqueue(ctx, ResumptionMessage{ExecutionID: exec.ID, Reason: "retry"})
	}

	errMsg := runErr.Error()
	_ = w.store.UpdateExecution(ctx, exec.ID, ExecutionPatch{Status: &status, Error: &errMsg})
	w.finish(ctx, exec.ID, nil, runErr)
	return nil
}

func asCompensationFailed(err error, target **CompensationFailedError) bool {
	if e, ok := err.(*CompensationFailedError); ok {
		*target = e
		return true
	}
	return false
}

func (w *Worker) finish(ctx context.Context, executionID string, result any, runErr error) {
	if w.bus == nil {
		return
	}
	payload := map[string]any{"executionId": executionID}
	if runErr != nil {
		payload["error"] = runErr.Error()
	} else {
		payload["result"] = result
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_ = w.bus.Publish(ctx, finishChannel(executionID), data)
}
