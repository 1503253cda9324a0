package durable

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore is the multi-node durable store backend
// (SPEC_FULL.md §2 "Durable store: postgres"), grounded on
// Dutt23-agentic-orchestrator/common/db/db.go's pgxpool setup. Input,
// Result and audit Detail are stored as JSONB.
type PGStore struct {
	pool *pgxpool.Pool
}

// OpenPGStore connects to Postgres and ensures the durable schema
// exists.
func OpenPGStore(ctx context.Context, dsn string) (*PGStore, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("durable: parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("durable: create postgres pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("durable: ping postgres: %w", err)
	}

	s := &PGStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PGStore) Close() { s.pool.Close() }

func (s *PGStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS durable_executions (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL,
	input JSONB,
	status TEXT NOT NULL,
	attempt INT NOT NULL,
	max_attempts INT NOT NULL,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL,
	error TEXT
);
CREATE TABLE IF NOT EXISTS durable_steps (
	execution_id TEXT NOT NULL,
	step_id TEXT NOT NULL,
	result JSONB,
	completed_at BIGINT NOT NULL,
	PRIMARY KEY (execution_id, step_id)
);
CREATE TABLE IF NOT EXISTS durable_timers (
	id TEXT PRIMARY KEY,
	execution_id TEXT,
	schedule_id TEXT,
	step_id TEXT,
	task_id TEXT,
	input JSONB,
	type TEXT NOT NULL,
	fire_at BIGINT NOT NULL,
	status TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS durable_schedules (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL,
	input JSONB,
	pattern TEXT NOT NULL,
	type TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL,
	last_run BIGINT,
	next_run BIGINT
);
CREATE TABLE IF NOT EXISTS durable_audit (
	id TEXT PRIMARY KEY,
	execution_id TEXT NOT NULL,
	attempt INT NOT NULL,
	at BIGINT NOT NULL,
	kind TEXT NOT NULL,
	detail JSONB
);
CREATE TABLE IF NOT EXISTS durable_locks (
	resource TEXT PRIMARY KEY,
	lock_id TEXT NOT NULL,
	expires_at BIGINT NOT NULL
);
`)
	return err
}

func (s *PGStore) SaveExecution(ctx context.Context, e *Execution) error {
	input, err := json.Marshal(e.Input)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO durable_executions (id, task_id, input, status, attempt, max_attempts, created_at, updated_at, error)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO UPDATE SET task_id=$2, input=$3, status=$4, attempt=$5, max_attempts=$6, updated_at=$8, error=$9
`, e.ID, e.TaskID, input, e.Status, e.Attempt, e.MaxAttempts, e.CreatedAt, e.UpdatedAt, e.Error)
	return err
}

func (s *PGStore) GetExecution(ctx context.Context, id string) (*Execution, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, task_id, input, status, attempt, max_attempts, created_at, updated_at, error
FROM durable_executions WHERE id=$1`, id)

	var e Execution
	var input []byte
	if err := row.Scan(&e.ID, &e.TaskID, &input, &e.Status, &e.Attempt, &e.MaxAttempts, &e.CreatedAt, &e.UpdatedAt, &e.Error); err != nil {
		return nil, nil
	}
	if len(input) > 0 {
		_ = json.Unmarshal(input, &e.Input)
	}
	return &e, nil
}

func (s *PGStore) UpdateExecution(ctx context.Context, id string, patch ExecutionPatch) error {
	if patch.Status != nil {
		if _, err := s.pool.Exec(ctx, `UPDATE durable_executions SET status=$1 WHERE id=$2`, *patch.Status, id); err != nil {
			return err
		}
	}
	if patch.Attempt != nil {
		if _, err := s.pool.Exec(ctx, `UPDATE durable_executions SET attempt=$1 WHERE id=$2`, *patch.Attempt, id); err != nil {
			return err
		}
	}
	if patch.Error != nil {
		if _, err := s.pool.Exec(ctx, `UPDATE durable_executions SET error=$1 WHERE id=$2`, *patch.Error, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *PGStore) ListIncompleteExecutions(ctx context.Context) ([]*Execution, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, task_id, input, status, attempt, max_attempts, created_at, updated_at, error
FROM durable_executions WHERE status IN ('pending','running','suspended')`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Execution
	for rows.Next() {
		var e Execution
		var input []byte
		if err := rows.Scan(&e.ID, &e.TaskID, &input, &e.Status, &e.Attempt, &e.MaxAttempts, &e.CreatedAt, &e.UpdatedAt, &e.Error); err != nil {
			return nil, err
		}
		if len(input) > 0 {
			_ = json.Unmarshal(input, &e.Input)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *PGStore) GetStepResult(ctx context.Context, executionID, stepID string) (*StepResult, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT result, completed_at FROM durable_steps WHERE execution_id=$1 AND step_id=$2`, executionID, stepID)
	var result []byte
	var completedAt int64
	if err := row.Scan(&result, &completedAt); err != nil {
		return nil, false, nil
	}
	r := &StepResult{ExecutionID: executionID, StepID: stepID, CompletedAt: completedAt}
	if len(result) > 0 {
		_ = json.Unmarshal(result, &r.Result)
	}
	return r, true, nil
}

func (s *PGStore) SaveStepResult(ctx context.Context, r *StepResult) error {
	data, err := json.Marshal(r.Result)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO durable_steps (execution_id, step_id, result, completed_at) VALUES ($1,$2,$3,$4)
ON CONFLICT (execution_id, step_id) DO UPDATE SET result=$3, completed_at=$4
`, r.ExecutionID, r.StepID, data, r.CompletedAt)
	return err
}

func (s *PGStore) ListStepResults(ctx context.Context, executionID string) ([]*StepResult, error) {
	rows, err := s.pool.Query(ctx, `SELECT step_id, result, completed_at FROM durable_steps WHERE execution_id=$1`, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*StepResult
	for rows.Next() {
		r := &StepResult{ExecutionID: executionID}
		var result []byte
		if err := rows.Scan(&r.StepID, &result, &r.CompletedAt); err != nil {
			return nil, err
		}
		if len(result) > 0 {
			_ = json.Unmarshal(result, &r.Result)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PGStore) CreateTimer(ctx context.Context, t *Timer) error {
	input, err := json.Marshal(t.Input)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO durable_timers (id, execution_id, schedule_id, step_id, task_id, input, type, fire_at, status)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		t.ID, t.ExecutionID, t.ScheduleID, t.StepID, t.TaskID, input, t.Type, t.FireAt, t.Status)
	return err
}

func (s *PGStore) GetReadyTimers(ctx context.Context, before int64) ([]*Timer, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, execution_id, schedule_id, step_id, task_id, input, type, fire_at, status
FROM durable_timers WHERE status='pending' AND fire_at <= $1`, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Timer
	for rows.Next() {
		var t Timer
		var input []byte
		if err := rows.Scan(&t.ID, &t.ExecutionID, &t.ScheduleID, &t.StepID, &t.TaskID, &input, &t.Type, &t.FireAt, &t.Status); err != nil {
			return nil, err
		}
		if len(input) > 0 {
			_ = json.Unmarshal(input, &t.Input)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (s *PGStore) MarkTimerFired(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `UPDATE durable_timers SET status='fired' WHERE id=$1`, id)
	return err
}

func (s *PGStore) DeleteTimer(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM durable_timers WHERE id=$1`, id)
	return err
}

func (s *PGStore) CreateSchedule(ctx context.Context, sch *Schedule) error {
	return s.UpdateSchedule(ctx, sch)
}

func (s *PGStore) GetSchedule(ctx context.Context, id string) (*Schedule, bool, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, task_id, input, pattern, type, status, created_at, updated_at, last_run, next_run
FROM durable_schedules WHERE id=$1`, id)
	var sch Schedule
	var input []byte
	if err := row.Scan(&sch.ID, &sch.TaskID, &input, &sch.Pattern, &sch.Type, &sch.Status, &sch.CreatedAt, &sch.UpdatedAt, &sch.LastRun, &sch.NextRun); err != nil {
		return nil, false, nil
	}
	if len(input) > 0 {
		_ = json.Unmarshal(input, &sch.Input)
	}
	return &sch, true, nil
}

func (s *PGStore) UpdateSchedule(ctx context.Context, sch *Schedule) error {
	input, err := json.Marshal(sch.Input)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO durable_schedules (id, task_id, input, pattern, type, status, created_at, updated_at, last_run, next_run)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (id) DO UPDATE SET task_id=$2, input=$3, pattern=$4, type=$5, status=$6, updated_at=$8, last_run=$9, next_run=$10
`, sch.ID, sch.TaskID, input, sch.Pattern, sch.Type, sch.Status, sch.CreatedAt, sch.UpdatedAt, sch.LastRun, sch.NextRun)
	return err
}

func (s *PGStore) DeleteSchedule(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM durable_schedules WHERE id=$1`, id)
	return err
}

func (s *PGStore) ListSchedules(ctx context.Context) ([]*Schedule, error) {
	return s.listSchedules(ctx, "")
}

func (s *PGStore) ListActiveSchedules(ctx context.Context) ([]*Schedule, error) {
	return s.listSchedules(ctx, "active")
}

func (s *PGStore) listSchedules(ctx context.Context, statusFilter string) ([]*Schedule, error) {
	query := `SELECT id, task_id, input, pattern, type, status, created_at, updated_at, last_run, next_run FROM durable_schedules`
	var rowsErr error
	var out []*Schedule
	var rows interface {
		Next() bool
		Scan(dest ...any) error
		Err() error
		Close()
	}
	if statusFilter != "" {
		r, err := s.pool.Query(ctx, query+` WHERE status=$1`, statusFilter)
		rows, rowsErr = r, err
	} else {
		r, err := s.pool.Query(ctx, query)
		rows, rowsErr = r, err
	}
	if rowsErr != nil {
		return nil, rowsErr
	}
	defer rows.Close()
	for rows.Next() {
		var sch Schedule
		var input []byte
		if err := rows.Scan(&sch.ID, &sch.TaskID, &input, &sch.Pattern, &sch.Type, &sch.Status, &sch.CreatedAt, &sch.UpdatedAt, &sch.LastRun, &sch.NextRun); err != nil {
			return nil, err
		}
		if len(input) > 0 {
			_ = json.Unmarshal(input, &sch.Input)
		}
		out = append(out, &sch)
	}
	return out, rows.Err()
}

func (s *PGStore) AppendAuditEntry(ctx context.Context, e *AuditEntry) error {
	detail, err := json.Marshal(e.Detail)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO durable_audit (id, execution_id, attempt, at, kind, detail) VALUES ($1,$2,$3,$4,$5,$6)`,
		e.ID, e.ExecutionID, e.Attempt, e.At, e.Kind, detail)
	return err
}

func (s *PGStore) ListAuditEntries(ctx context.Context, executionID string) ([]*AuditEntry, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, execution_id, attempt, at, kind, detail FROM durable_audit WHERE execution_id=$1 ORDER BY at ASC`, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*AuditEntry
	for rows.Next() {
		var e AuditEntry
		var detail []byte
		if err := rows.Scan(&e.ID, &e.ExecutionID, &e.Attempt, &e.At, &e.Kind, &detail); err != nil {
			return nil, err
		}
		if len(detail) > 0 {
			_ = json.Unmarshal(detail, &e.Detail)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// AcquireLock implements LockStore via an expires_at column instead of a
// native TTL, since Postgres rows don't expire on their own.
func (s *PGStore) AcquireLock(ctx context.Context, resource string, ttlMs int64) (string, bool, error) {
	lockID := fmt.Sprintf("%d", time.Now().UnixNano())
	expiresAt := time.Now().Add(time.Duration(ttlMs) * time.Millisecond).UnixMilli()
	tag, err := s.pool.Exec(ctx, `
INSERT INTO durable_locks (resource, lock_id, expires_at) VALUES ($1,$2,$3)
ON CONFLICT (resource) DO UPDATE SET lock_id=$2, expires_at=$3
WHERE durable_locks.expires_at < $4
`, resource, lockID, expiresAt, time.Now().UnixMilli())
	if err != nil {
		return "", false, err
	}
	return lockID, tag.RowsAffected() > 0, nil
}

func (s *PGStore) ReleaseLock(ctx context.Context, resource, lockID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM durable_locks WHERE resource=$1 AND lock_id=$2`, resource, lockID)
	return err
}

var _ Store = (*PGStore)(nil)
var _ LockStore = (*PGStore)(nil)
