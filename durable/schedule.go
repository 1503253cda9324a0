package durable

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts the standard 5-field crontab format with an
// optional leading seconds field (cron.SecondOptional), plus
// descriptors such as "@hourly".
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// nextRun computes a Schedule's next fire time from its pattern (cron
// expression, or a Go duration string for an interval schedule).
func nextRun(sch *Schedule, from time.Time) (time.Time, error) {
	switch sch.Type {
	case ScheduleCron:
		spec, err := cronParser.Parse(sch.Pattern)
		if err != nil {
			return time.Time{}, fmt.Errorf("durable: invalid cron pattern %q: %w", sch.Pattern, err)
		}
		return spec.Next(from), nil
	case ScheduleInterval:
		d, err := time.ParseDuration(sch.Pattern)
		if err != nil {
			return time.Time{}, fmt.Errorf("durable: invalid interval pattern %q: %w", sch.Pattern, err)
		}
		return from.Add(d), nil
	default:
		return time.Time{}, fmt.Errorf("durable: unknown schedule type %q", sch.Type)
	}
}

// ScheduleTicker periodically starts executions for schedules whose
// nextRun has elapsed, then advances nextRun (spec.md §4.8
// "Scheduling"). Separate from Worker's timer poll because schedules
// spawn new executions rather than resuming existing ones.
type ScheduleTicker struct {
	service  *Service
	store    Store
	logger   *slog.Logger
	interval time.Duration
}

func NewScheduleTicker(service *Service, interval time.Duration) *ScheduleTicker {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &ScheduleTicker{service: service, store: service.store, logger: service.logger, interval: interval}
}

func (t *ScheduleTicker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.tick(ctx)
		}
	}
}

func (t *ScheduleTicker) tick(ctx context.Context) {
	active, err := t.store.ListActiveSchedules(ctx)
	if err != nil {
		t.logger.Error("durable: list active schedules failed", "error", err)
		return
	}
	now := time.Now()
	for _, sch := range active {
		if sch.NextRun != 0 && sch.NextRun > now.UnixMilli() {
			continue
		}
		if _, err := t.service.StartExecution(ctx, sch.TaskID, sch.Input, StartOptions{MaxAttempts: 1}); err != nil {
			t.logger.Error("durable: schedule failed to start execution", "schedule", sch.ID, "error", err)
			continue
		}
		next, err := nextRun(sch, now)
		if err != nil {
			t.logger.Error("durable: compute next run failed", "schedule", sch.ID, "error", err)
			continue
		}
		sch.LastRun = now.UnixMilli()
		sch.NextRun = next.UnixMilli()
		sch.UpdatedAt = now.UnixMilli()
		if err := t.store.UpdateSchedule(ctx, sch); err != nil {
			t.logger.Error("durable: update schedule failed", "schedule", sch.ID, "error", err)
		}
	}
}
