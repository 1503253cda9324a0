package durable

import "context"

// ExecutionStatus is the state-machine position of a durable execution
// (spec.md §4.7):
//
//	pending -> running -> (completed | failed | compensation_failed | cancelled)
//	                   \-> suspended (sleeping | awaiting-signal | awaiting-timeout) -> running
type ExecutionStatus string

const (
	StatusPending              ExecutionStatus = "pending"
	StatusRunning              ExecutionStatus = "running"
	StatusSuspended            ExecutionStatus = "suspended"
	StatusCompleted            ExecutionStatus = "completed"
	StatusFailed               ExecutionStatus = "failed"
	StatusCompensationFailed   ExecutionStatus = "compensation_failed"
	StatusCancelled            ExecutionStatus = "cancelled"
)

// Execution is the persisted row for one durable workflow run
// (spec.md §6 "Persistence formats").
type Execution struct {
	ID          string
	TaskID      string
	Input       any
	Status      ExecutionStatus
	Attempt     int
	MaxAttempts int
	CreatedAt   int64
	UpdatedAt   int64
	Error       string
}

// ExecutionPatch is a partial update applied via Store.UpdateExecution.
type ExecutionPatch struct {
	Status  *ExecutionStatus
	Attempt *int
	Error   *string
}

// StepResult is one memoized step's persisted outcome.
type StepResult struct {
	ExecutionID string
	StepID      string
	Result      any
	CompletedAt int64
}

// TimerType discriminates why a Timer was created.
type TimerType string

const (
	TimerSleep     TimerType = "sleep"
	TimerSignal    TimerType = "signal_timeout"
	TimerScheduled TimerType = "scheduled"
)

// TimerStatus tracks a timer's lifecycle.
type TimerStatus string

const (
	TimerPending TimerStatus = "pending"
	TimerFired   TimerStatus = "fired"
)

// Timer is a scheduled wake-up, for a sleep, a signal timeout, or a
// schedule tick (spec.md §6).
type Timer struct {
	ID         string
	ExecutionID string
	ScheduleID string
	StepID     string
	TaskID     string
	Input      any
	Type       TimerType
	FireAt     int64
	Status     TimerStatus
}

// ScheduleType discriminates a cron pattern from a fixed interval.
type ScheduleType string

const (
	ScheduleCron     ScheduleType = "cron"
	ScheduleInterval ScheduleType = "interval"
)

// Schedule is a recurring (cron or interval) trigger that starts
// executions (spec.md §4.8 "Scheduling").
type Schedule struct {
	ID        string
	TaskID    string
	Input     any
	Pattern   string
	Type      ScheduleType
	Status    string
	CreatedAt int64
	UpdatedAt int64
	LastRun   int64
	NextRun   int64
}

// AuditEntry is one append-only record of a durable execution's
// observable behavior (spec.md §6).
type AuditEntry struct {
	ID          string
	ExecutionID string
	Attempt     int
	At          int64
	Kind        string
	Detail      map[string]any
}

// Store is the persistence contract the durable layer consumes
// (spec.md §6 "Durable store interface").
type Store interface {
	SaveExecution(ctx context.Context, e *Execution) error
	GetExecution(ctx context.Context, id string) (*Execution, error)
	UpdateExecution(ctx context.Context, id string, patch ExecutionPatch) error
	ListIncompleteExecutions(ctx context.Context) ([]*Execution, error)

	GetStepResult(ctx context.Context, executionID, stepID string) (*StepResult, bool, error)
	SaveStepResult(ctx context.Context, r *StepResult) error
	ListStepResults(ctx context.Context, executionID string) ([]*StepResult, error)

	CreateTimer(ctx context.Context, t *Timer) error
	GetReadyTimers(ctx context.Context, before int64) ([]*Timer, error)
	MarkTimerFired(ctx context.Context, id string) error
	DeleteTimer(ctx context.Context, id string) error

	CreateSchedule(ctx context.Context, s *Schedule) error
	GetSchedule(ctx context.Context, id string) (*Schedule, bool, error)
	UpdateSchedule(ctx context.Context, s *Schedule) error
	DeleteSchedule(ctx context.Context, id string) error
	ListSchedules(ctx context.Context) ([]*Schedule, error)
	ListActiveSchedules(ctx context.Context) ([]*Schedule, error)

	AppendAuditEntry(ctx context.Context, e *AuditEntry) error
	ListAuditEntries(ctx context.Context, executionID string) ([]*AuditEntry, error)
}

// LockStore is an optional Store capability for signal delivery and
// schedule upserts (spec.md §5 "Locks").
type LockStore interface {
	AcquireLock(ctx context.Context, resource string, ttlMs int64) (lockID string, ok bool, err error)
	ReleaseLock(ctx context.Context, resource, lockID string) error
}

// Operator is an optional Store capability exposing operator
// interventions (spec.md §6 "optional operator ops").
type Operator interface {
	RetryRollback(ctx context.Context, executionID string) error
	SkipStep(ctx context.Context, executionID, stepID string) error
	ForceFail(ctx context.Context, executionID, reason string) error
	EditStepResult(ctx context.Context, executionID, stepID string, patch []byte) error
	ListStuckExecutions(ctx context.Context, olderThanMs int64) ([]*Execution, error)
}
