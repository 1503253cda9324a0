package durable

import (
	"context"
	"encoding/json"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
)

// MemOperator implements the Operator interface (spec.md §6 "optional
// operator ops") atop any Store; it only needs the base Store methods,
// so it works against MemStore, BoltStore or PGStore alike.
type MemOperator struct {
	store Store
}

func NewOperator(store Store) *MemOperator {
	return &MemOperator{store: store}
}

// RetryRollback prepares an execution's saga rollback to be re-driven by
// setting its status back to pending; it enqueues nothing, so the task
// (whose Rollback() is itself replay-safe) runs again only once a
// resumption for the execution is enqueued, e.g. by
// Service.RecoverIncomplete.
func (o *MemOperator) RetryRollback(ctx context.Context, executionID string) error {
	pending := StatusPending
	return o.store.UpdateExecution(ctx, executionID, ExecutionPatch{Status: &pending})
}

// SkipStep force-completes a step with a nil result so a stuck
// execution can proceed past a step that cannot succeed.
func (o *MemOperator) SkipStep(ctx context.Context, executionID, stepID string) error {
	return o.store.SaveStepResult(ctx, &StepResult{
		ExecutionID: executionID,
		StepID:      stepID,
		Result:      nil,
		CompletedAt: nowMs(),
	})
}

// ForceFail marks an execution terminally failed with an
// operator-supplied reason, bypassing retry.
func (o *MemOperator) ForceFail(ctx context.Context, executionID, reason string) error {
	failed := StatusFailed
	return o.store.UpdateExecution(ctx, executionID, ExecutionPatch{Status: &failed, Error: &reason})
}

// EditStepResult applies a JSON merge patch to a memoized step's
// result, for correcting bad state an operator has diagnosed.
func (o *MemOperator) EditStepResult(ctx context.Context, executionID, stepID string, patch []byte) error {
	existing, ok, err := o.store.GetStepResult(ctx, executionID, stepID)
	if err != nil {
		return err
	}
	var base []byte
	if ok {
		base, err = json.Marshal(existing.Result)
		if err != nil {
			return err
		}
	} else {
		base = []byte("{}")
	}

	merged, err := jsonpatch.MergePatch(base, patch)
	if err != nil {
		return err
	}
	var result any
	if err := json.Unmarshal(merged, &result); err != nil {
		return err
	}

	return o.store.SaveStepResult(ctx, &StepResult{
		ExecutionID: executionID,
		StepID:      stepID,
		Result:      result,
		CompletedAt: nowMs(),
	})
}

// ListStuckExecutions returns pending/running/suspended executions whose
// updatedAt predates the given threshold, for operator triage.
func (o *MemOperator) ListStuckExecutions(ctx context.Context, olderThanMs int64) ([]*Execution, error) {
	incomplete, err := o.store.ListIncompleteExecutions(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().UnixMilli() - olderThanMs
	var out []*Execution
	for _, e := range incomplete {
		if e.UpdatedAt <= cutoff {
			out = append(out, e)
		}
	}
	return out, nil
}

var _ Operator = (*MemOperator)(nil)
