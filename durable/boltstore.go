package durable

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

var (
	bucketExecutions = []byte("executions")
	bucketSteps       = []byte("steps")
	bucketTimers      = []byte("timers")
	bucketSchedules   = []byte("schedules")
	bucketAudit       = []byte("audit")
	bucketLocks       = []byte("locks")
)

// BoltStore is the embedded single-node Store backend
// (SPEC_FULL.md §2 "Durable store: bbolt"), grounded on
// anhnv24810310060-.../services/orchestrator/scheduler.go's bucket
// layout and JSON-marshal-into-bucket pattern.
type BoltStore struct {
	db *bbolt.DB
}

// OpenBoltStore opens (creating if absent) a bbolt-backed Store at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("durable: opening bolt store: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketExecutions, bucketSteps, bucketTimers, bucketSchedules, bucketAudit, bucketLocks} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("durable: initializing bolt buckets: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (b *BoltStore) Close() error { return b.db.Close() }

func (b *BoltStore) SaveExecution(ctx context.Context, e *Execution) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketExecutions).Put([]byte(e.ID), data)
	})
}

func (b *BoltStore) GetExecution(ctx context.Context, id string) (*Execution, error) {
	var e *Execution
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketExecutions).Get([]byte(id))
		if data == nil {
			return nil
		}
		e = &Execution{}
		return json.Unmarshal(data, e)
	})
	return e, err
}

func (b *BoltStore) UpdateExecution(ctx context.Context, id string, patch ExecutionPatch) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketExecutions)
		data := bucket.Get([]byte(id))
		if data == nil {
			return nil
		}
		var e Execution
		if err := json.Unmarshal(data, &e); err != nil {
			return err
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
		updated, err := json.Marshal(&e)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(id), updated)
	})
}

func (b *BoltStore) ListIncompleteExecutions(ctx context.Context) ([]*Execution, error) {
	var out []*Execution
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketExecutions).ForEach(func(k, v []byte) error {
			var e Execution
			if err := json.Unmarshal(v, &e); err != nil {
				return nil
			}
			if e.Status == StatusPending || e.Status == StatusRunning || e.Status == StatusSuspended {
				out = append(out, &e)
			}
			return nil
		})
	})
	return out, err
}

func stepKey(executionID, stepID string) []byte {
	return []byte(executionID + "\x00" + stepID)
}

func (b *BoltStore) GetStepResult(ctx context.Context, executionID, stepID string) (*StepResult, bool, error) {
	var r *StepResult
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketSteps).Get(stepKey(executionID, stepID))
		if data == nil {
			return nil
		}
		r = &StepResult{}
		return json.Unmarshal(data, r)
	})
	return r, r != nil, err
}

func (b *BoltStore) SaveStepResult(ctx context.Context, r *StepResult) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSteps).Put(stepKey(r.ExecutionID, r.StepID), data)
	})
}

func (b *BoltStore) ListStepResults(ctx context.Context, executionID string) ([]*StepResult, error) {
	prefix := []byte(executionID + "\x00")
	var out []*StepResult
	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketSteps).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var r StepResult
			if err := json.Unmarshal(v, &r); err != nil {
				continue
			}
			out = append(out, &r)
		}
		return nil
	})
	return out, err
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

func (b *BoltStore) CreateTimer(ctx context.Context, t *Timer) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTimers).Put([]byte(t.ID), data)
	})
}

func (b *BoltStore) GetReadyTimers(ctx context.Context, before int64) ([]*Timer, error) {
	var out []*Timer
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTimers).ForEach(func(k, v []byte) error {
			var t Timer
			if err := json.Unmarshal(v, &t); err != nil {
				return nil
			}
			if t.Status == TimerPending && t.FireAt <= before {
				out = append(out, &t)
			}
			return nil
		})
	})
	return out, err
}

func (b *BoltStore) MarkTimerFired(ctx context.Context, id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketTimers)
		data := bucket.Get([]byte(id))
		if data == nil {
			return nil
		}
		var t Timer
		if err := json.Unmarshal(data, &t); err != nil {
			return err
		}
		t.Status = TimerFired
		updated, err := json.Marshal(&t)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(id), updated)
	})
}

func (b *BoltStore) DeleteTimer(ctx context.Context, id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTimers).Delete([]byte(id))
	})
}

func (b *BoltStore) CreateSchedule(ctx context.Context, s *Schedule) error {
	return b.UpdateSchedule(ctx, s)
}

func (b *BoltStore) GetSchedule(ctx context.Context, id string) (*Schedule, bool, error) {
	var s *Schedule
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketSchedules).Get([]byte(id))
		if data == nil {
			return nil
		}
		s = &Schedule{}
		return json.Unmarshal(data, s)
	})
	return s, s != nil, err
}

func (b *BoltStore) UpdateSchedule(ctx context.Context, s *Schedule) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSchedules).Put([]byte(s.ID), data)
	})
}

func (b *BoltStore) DeleteSchedule(ctx context.Context, id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSchedules).Delete([]byte(id))
	})
}

func (b *BoltStore) ListSchedules(ctx context.Context) ([]*Schedule, error) {
	var out []*Schedule
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSchedules).ForEach(func(k, v []byte) error {
			var s Schedule
			if err := json.Unmarshal(v, &s); err != nil {
				return nil
			}
			out = append(out, &s)
			return nil
		})
	})
	return out, err
}

func (b *BoltStore) ListActiveSchedules(ctx context.Context) ([]*Schedule, error) {
	all, err := b.ListSchedules(ctx)
	if err != nil {
		return nil, err
	}
	var out []*Schedule
	for _, s := range all {
		if s.Status == "active" {
			out = append(out, s)
		}
	}
	return out, nil
}

func (b *BoltStore) AppendAuditEntry(ctx context.Context, e *AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketAudit).Put(stepKey(e.ExecutionID, e.ID), data)
	})
}

func (b *BoltStore) ListAuditEntries(ctx context.Context, executionID string) ([]*AuditEntry, error) {
	prefix := []byte(executionID + "\x00")
	var out []*AuditEntry
	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketAudit).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var e AuditEntry
			if err := json.Unmarshal(v, &e); err != nil {
				continue
			}
			out = append(out, &e)
		}
		return nil
	})
	return out, err
}

// AcquireLock implements LockStore with a bucket entry as the lock
// marker; ttlMs is ignored (bolt has no native TTL), so a lock stays
// held until ReleaseLock is called with its id.
func (b *BoltStore) AcquireLock(ctx context.Context, resource string, ttlMs int64) (string, bool, error) {
	lockID := uuid.NewString()
	acquired := false
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketLocks)
		if bucket.Get([]byte(resource)) != nil {
			return nil
		}
		acquired = true
		return bucket.Put([]byte(resource), []byte(lockID))
	})
	return lockID, acquired, err
}

func (b *BoltStore) ReleaseLock(ctx context.Context, resource, lockID string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketLocks)
		if string(bucket.Get([]byte(resource))) != lockID {
			return nil
		}
		return bucket.Delete([]byte(resource))
	})
}

var _ Store = (*BoltStore)(nil)
var _ LockStore = (*BoltStore)(nil)
