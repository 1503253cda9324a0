package durable

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// DurableTaskFunc is a task body expressed in terms of a durable
// Context instead of a plain apprun Deps map (spec.md §4.7/§4.8).
type DurableTaskFunc func(ctx *Context, input any) (any, error)

// StartOptions configures startExecution (spec.md §4.8).
type StartOptions struct {
	MaxAttempts             int
	ImplicitInternalStepIDs ImplicitStepIDPolicy
}

// WaitOptions configures Service.Wait (spec.md §4.8 "wait").
type WaitOptions struct {
	Timeout            time.Duration
	WaitPollInterval   time.Duration
}

// Service is the durable execution service: start/wait/execute, signal
// delivery, recovery and scheduling (spec.md §4.8 "Durable Service").
// Grounded on the teacher's Scope as the thing that owns a registry of
// runnable definitions plus lifecycle state, generalized from
// in-process resources to persisted, resumable executions.
type Service struct {
	store Store
	bus   Bus
	queue Queue
	tasks map[string]DurableTaskFunc
	logger *slog.Logger
}

// NewService wires a durable Service atop a Store/Bus/Queue backend.
func NewService(store Store, bus Bus, queue Queue, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, bus: bus, queue: queue, tasks: map[string]DurableTaskFunc{}, logger: logger}
}

// RegisterTask makes a durable task body resumable by task id.
func (s *Service) RegisterTask(taskID string, fn DurableTaskFunc) {
	s.tasks[taskID] = fn
}

// StartExecution creates a pending Execution and enqueues it for the
// worker loop to pick up (spec.md §4.8 "startExecution").
func (s *Service) StartExecution(ctx context.Context, taskID string, input any, opts StartOptions) (string, error) {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	id := uuid.NewString()
	now := nowMs()
	exec := &Execution{
		ID:          id,
		TaskID:      taskID,
		Input:       input,
		Status:      StatusPending,
		Attempt:     1,
		MaxAttempts: opts.MaxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.SaveExecution(ctx, exec); err != nil {
		return "", err
	}
	if err := s.queue.Enqueue(ctx, ResumptionMessage{ExecutionID: id, Reason: "start"}); err != nil {
		return "", err
	}
	return id, nil
}

// Execute starts a task and waits for it to finish (spec.md §4.8
// "execute(task, input): start + wait").
func (s *Service) Execute(ctx context.Context, taskID string, input any, startOpts StartOptions, waitOpts WaitOptions) (*Execution, error) {
	id, err := s.StartExecution(ctx, taskID, input, startOpts)
	if err != nil {
		return nil, err
	}
	return s.Wait(ctx, id, waitOpts)
}

// Wait blocks until executionId reaches a terminal status, subscribing
// to the event bus finish channel when available and otherwise polling
// (spec.md §4.8 "wait").
func (s *Service) Wait(ctx context.Context, executionID string, opts WaitOptions) (*Execution, error) {
	if opts.WaitPollInterval <= 0 {
		opts.WaitPollInterval = 200 * time.Millisecond
	}

	waitCtx := ctx
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	finished := make(chan struct{}, 1)
	var unsubscribe func()
	if s.bus != nil {
		unsubscribe, _ = s.bus.Subscribe(waitCtx, finishChannel(executionID), func(message []byte) {
			select {
			case finished <- struct{}{}:
			default:
			}
		})
		defer func() {
			if unsubscribe != nil {
				unsubscribe()
			}
		}()
	}

	ticker := time.NewTicker(opts.WaitPollInterval)
	defer ticker.Stop()

	for {
		exec, err := s.store.GetExecution(waitCtx, executionID)
		if err != nil {
			return nil, err
		}
		if exec != nil && isTerminal(exec.Status) {
			return exec, nil
		}
		select {
		case <-finished:
			continue
		case <-ticker.C:
			continue
		case <-waitCtx.Done():
			return nil, waitCtx.Err()
		}
	}
}

func finishChannel(executionID string) string {
	return "durable:execution-finished:" + executionID
}

func isTerminal(status ExecutionStatus) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCompensationFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Signal delivers payload to an execution suspended in waitForSignal,
// flipping its memoized __signal: step to completed and enqueueing a
// resumption (spec.md §4.8 "signal"). With a LockStore-capable store
// the delivery holds a per-signal lock so concurrent deliveries don't
// race; with any other store it proceeds without locking.
func (s *Service) Signal(ctx context.Context, executionID, event string, payload any) error {
	locker, ok := s.store.(LockStore)
	if !ok {
		return s.doSignal(ctx, executionID, event, payload)
	}

	resource := "signal:" + executionID + ":" + event
	var lockID string
	var acquired bool
	var err error
	for i := 0; i < 5; i++ {
		lockID, acquired, err = locker.AcquireLock(ctx, resource, 5000)
		if err != nil {
			return err
		}
		if acquired {
			break
		}
		time.Sleep(time.Duration(50*(i+1)) * time.Millisecond)
	}
	if !acquired {
		return &SignalLockAcquireError{ExecutionID: executionID, SignalID: event}
	}
	defer locker.ReleaseLock(ctx, resource, lockID)

	return s.doSignal(ctx, executionID, event, payload)
}

// doSignal finds the __signal:* step in waiting state whose stored
// signalId matches event (spec.md §4.8 "signal: find the __signal:*
// step in waiting state whose signalId matches"); the step's storage
// key is its stepId, which may differ from event when waitForSignal
// was called with an explicit StepID, so this scans rather than
// computing the key directly from event.
func (s *Service) doSignal(ctx context.Context, executionID, event string, payload any) error {
	steps, err := s.store.ListStepResults(ctx, executionID)
	if err != nil {
		return err
	}

	var match *StepResult
	for _, step := range steps {
		if len(step.StepID) < len(signalStepPrefix) || step.StepID[:len(signalStepPrefix)] != signalStepPrefix {
			continue
		}
		memo, _ := step.Result.(map[string]any)
		if memo == nil || memo["state"] != "waiting" {
			continue
		}
		if signalID, _ := memo["signalId"].(string); signalID == event {
			match = step
			break
		}
	}
	if match == nil {
		return fmt.Errorf("durable: execution %q is not waiting for signal %q", executionID, event)
	}

	memo, _ := match.Result.(map[string]any)
	memo["state"] = "completed"
	memo["payload"] = payload
	if err := s.store.SaveStepResult(ctx, &StepResult{
		ExecutionID: executionID,
		StepID:      match.StepID,
		Result:      memo,
		CompletedAt: nowMs(),
	}); err != nil {
		return err
	}
	return s.queue.Enqueue(ctx, ResumptionMessage{ExecutionID: executionID, Reason: "signal:" + event})
}

const signalStepPrefix = "__signal:"

// CancelExecution marks an execution cancelled; the next resumption of
// it does not run the task and fails with ExecutionCancelledError
// (spec.md §5 "Cancellation"). A resumption already running is not
// interrupted.
func (s *Service) CancelExecution(ctx context.Context, executionID, reason string) error {
	status := StatusCancelled
	errMsg := reason
	return s.store.UpdateExecution(ctx, executionID, ExecutionPatch{Status: &status, Error: &errMsg})
}

// Schedule upserts a recurring trigger (cron or interval; there is no
// one-shot type) that starts executions of taskID (spec.md §4.8
// "Scheduling"). With a LockStore-capable store the upsert holds the
// "schedule:<id>" lock.
func (s *Service) Schedule(ctx context.Context, id, taskID string, input any, pattern string, scheduleType ScheduleType) error {
	if locker, ok := s.store.(LockStore); ok {
		lockID, acquired, err := locker.AcquireLock(ctx, "schedule:"+id, 5000)
		if err != nil {
			return err
		}
		if !acquired {
			return fmt.Errorf("durable: schedule %q is locked by a concurrent upsert", id)
		}
		defer locker.ReleaseLock(ctx, "schedule:"+id, lockID)
	}
	existing, ok, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return err
	}
	now := nowMs()
	if ok {
		existing.TaskID = taskID
		existing.Input = input
		existing.Pattern = pattern
		existing.Type = scheduleType
		existing.Status = "active"
		existing.UpdatedAt = now
		return s.store.UpdateSchedule(ctx, existing)
	}
	return s.store.CreateSchedule(ctx, &Schedule{
		ID:        id,
		TaskID:    taskID,
		Input:     input,
		Pattern:   pattern,
		Type:      scheduleType,
		Status:    "active",
		CreatedAt: now,
		UpdatedAt: now,
	})
}

// RecoverIncomplete requeues every non-terminal execution at process
// start, so a crashed worker's in-flight work is not lost (spec.md
// §4.8, implied by "getReadyTimers"/recovery discussion in §9).
func (s *Service) RecoverIncomplete(ctx context.Context) error {
	incomplete, err := s.store.ListIncompleteExecutions(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, e := range incomplete {
		if err := s.queue.Enqueue(ctx, ResumptionMessage{ExecutionID: e.ID, Reason: "recover"}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
