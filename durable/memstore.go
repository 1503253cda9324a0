package durable

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemStore is the in-memory reference Store implementation, used for
// tests and single-process development. Grounded on the teacher's
// sync.Map-backed Scope cache (scope.go), generalized from a single
// executor cache to the durable schema's five record kinds.
type MemStore struct {
	mu sync.RWMutex

	executions map[string]*Execution
	steps      map[string]map[string]*StepResult
	timers     map[string]*Timer
	schedules  map[string]*Schedule
	audit      map[string][]*AuditEntry
	locks      map[string]string
}

func NewMemStore() *MemStore {
	return &MemStore{
		executions: map[string]*Execution{},
		steps:      map[string]map[string]*StepResult{},
		timers:     map[string]*Timer{},
		schedules:  map[string]*Schedule{},
		audit:      map[string][]*AuditEntry{},
		locks:      map[string]string{},
	}
}

func (m *MemStore) SaveExecution(ctx context.Context, e *Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.executions[e.ID] = &cp
	return nil
}

func (m *MemStore) GetExecution(ctx context.Context, id string) (*Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.executions[id]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (m *MemStore) UpdateExecution(ctx context.Context, id string, patch ExecutionPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.executions[id]
	if !ok {
		return nil
	}
	if patch.Status != nil {
		e.Status = *patch.Status
	}
	if patch.Attempt != nil {
		e.Attempt = *patch.Attempt
	}
	if patch.Error != nil {
		e.Error = *patch.Error
	}
	return nil
}

func (m *MemStore) ListIncompleteExecutions(ctx context.Context) ([]*Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Execution
	for _, e := range m.executions {
		if e.Status == StatusPending || e.Status == StatusRunning || e.Status == StatusSuspended {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemStore) GetStepResult(ctx context.Context, executionID, stepID string) (*StepResult, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bucket, ok := m.steps[executionID]
	if !ok {
		return nil, false, nil
	}
	r, ok := bucket[stepID]
	if !ok {
		return nil, false, nil
	}
	cp := *r
	return &cp, true, nil
}

func (m *MemStore) SaveStepResult(ctx context.Context, r *StepResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket, ok := m.steps[r.ExecutionID]
	if !ok {
		bucket = map[string]*StepResult{}
		m.steps[r.ExecutionID] = bucket
	}
	cp := *r
	bucket[r.StepID] = &cp
	return nil
}

func (m *MemStore) ListStepResults(ctx context.Context, executionID string) ([]*StepResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*StepResult
	for _, r := range m.steps[executionID] {
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemStore) CreateTimer(ctx context.Context, t *Timer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	cp := *t
	m.timers[t.ID] = &cp
	return nil
}

func (m *MemStore) GetReadyTimers(ctx context.Context, before int64) ([]*Timer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Timer
	for _, t := range m.timers {
		if t.Status == TimerPending && t.FireAt <= before {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemStore) MarkTimerFired(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.timers[id]; ok {
		t.Status = TimerFired
	}
	return nil
}

func (m *MemStore) DeleteTimer(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.timers, id)
	return nil
}

func (m *MemStore) CreateSchedule(ctx context.Context, s *Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.schedules[s.ID] = &cp
	return nil
}

func (m *MemStore) GetSchedule(ctx context.Context, id string) (*Schedule, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.schedules[id]
	if !ok {
		return nil, false, nil
	}
	cp := *s
	return &cp, true, nil
}

func (m *MemStore) UpdateSchedule(ctx context.Context, s *Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.schedules[s.ID] = &cp
	return nil
}

func (m *MemStore) DeleteSchedule(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.schedules, id)
	return nil
}

func (m *MemStore) ListSchedules(ctx context.Context) ([]*Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Schedule
	for _, s := range m.schedules {
		cp := *s
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemStore) ListActiveSchedules(ctx context.Context) ([]*Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Schedule
	for _, s := range m.schedules {
		if s.Status == "active" {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemStore) AppendAuditEntry(ctx context.Context, e *AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	cp := *e
	m.audit[e.ExecutionID] = append(m.audit[e.ExecutionID], &cp)
	return nil
}

func (m *MemStore) ListAuditEntries(ctx context.Context, executionID string) ([]*AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*AuditEntry{}, m.audit[executionID]...), nil
}

// AcquireLock implements LockStore with a process-local map; best-effort
// and TTL-ignorant (single process has no crash-recovery concern).
func (m *MemStore) AcquireLock(ctx context.Context, resource string, ttlMs int64) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.locks[resource]; held {
		return "", false, nil
	}
	lockID := uuid.NewString()
	m.locks[resource] = lockID
	return lockID, true, nil
}

func (m *MemStore) ReleaseLock(ctx context.Context, resource, lockID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.locks[resource]; ok && cur == lockID {
		delete(m.locks, resource)
	}
	return nil
}

var _ Store = (*MemStore)(nil)
var _ LockStore = (*MemStore)(nil)
