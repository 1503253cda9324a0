// Package durable layers a replay-safe workflow execution engine on top
// of the apprun runtime (spec.md §4.7 "Durable Context", §4.8 "Durable
// Service & Worker Loop"). It is a new subsystem not present in the
// teacher, grounded on the teacher's ExecutionTree (flow.go) for the
// audit shape and on anhnv24810310060-.../services/orchestrator/scheduler.go
// and Dutt23-agentic-orchestrator/cmd/workflow-runner/coordinator for the
// worker dispatch split (SPEC_FULL.md §4.8).
package durable

import "fmt"

// DuplicateStepIdError is raised when a step id is reused within a
// single execution attempt (spec.md §4.7 "Step-ID policy").
type DuplicateStepIdError struct {
	ExecutionID string
	StepID      string
}

func (e *DuplicateStepIdError) Error() string {
	return fmt.Sprintf("durable: duplicate step id %q in execution %q", e.StepID, e.ExecutionID)
}

// ReservedStepIdError is raised when a user-supplied step id collides
// with a reserved internal prefix (__sleep:, __signal:, __emit:, __note:,
// rollback:).
type ReservedStepIdError struct{ StepID string }

func (e *ReservedStepIdError) Error() string {
	return fmt.Sprintf("durable: step id %q uses a reserved prefix", e.StepID)
}

// ImplicitStepIdError is raised when a call-order-derived step id would
// be minted under ImplicitStepIDPolicy "error" (spec.md §4.7
// "implicitInternalStepIds").
type ImplicitStepIdError struct{ Prefix string }

func (e *ImplicitStepIdError) Error() string {
	return fmt.Sprintf("durable: implicit step id (prefix %q) not allowed under the error policy; pass an explicit step id", e.Prefix)
}

// SignalLockAcquireError is raised when the store-level lock guarding
// signal delivery cannot be acquired (spec.md §5 "Locks").
type SignalLockAcquireError struct {
	ExecutionID, SignalID string
}

func (e *SignalLockAcquireError) Error() string {
	return fmt.Sprintf("durable: failed to acquire signal lock for execution %q signal %q", e.ExecutionID, e.SignalID)
}

// CompensationFailedError is raised when a saga compensator throws
// during rollback (spec.md §4.7 "rollback").
type CompensationFailedError struct {
	ExecutionID, StepID string
	Cause               error
}

func (e *CompensationFailedError) Error() string {
	return fmt.Sprintf("durable: compensation for step %q failed in execution %q: %v", e.StepID, e.ExecutionID, e.Cause)
}
func (e *CompensationFailedError) Unwrap() error { return e.Cause }

// SignalTimedOutError is returned (not thrown, per spec.md §4.7
// waitForSignal) when a caller passes no timeoutMs and the wait times
// out; when timeoutMs is set the caller instead observes
// SignalOutcome{Kind: "timeout"}.
type SignalTimedOutError struct {
	ExecutionID, SignalID string
}

func (e *SignalTimedOutError) Error() string {
	return fmt.Sprintf("durable: wait for signal %q timed out in execution %q", e.SignalID, e.ExecutionID)
}

// DurableOperatorUnsupportedStoreCapabilityError is raised when an
// operator op is invoked against a Store that doesn't implement the
// corresponding optional interface (spec.md §6 "optional operator ops").
type DurableOperatorUnsupportedStoreCapabilityError struct{ Capability string }

func (e *DurableOperatorUnsupportedStoreCapabilityError) Error() string {
	return fmt.Sprintf("durable: store does not support operator capability %q", e.Capability)
}

// ExecutionCancelledError is returned by a resumption whose execution
// was cancelled via Service.CancelExecution (spec.md §5 "Cancellation").
type ExecutionCancelledError struct {
	ExecutionID string
	Reason      string
}

func (e *ExecutionCancelledError) Error() string {
	return fmt.Sprintf("durable: execution %q was cancelled: %s", e.ExecutionID, e.Reason)
}
