// Package worker holds the scheduled background jobs: pushing pending
// subscriptions to their payment provider, reconciling provider state back,
// and retrying unpublished notification events.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/pitchside/pitchside/internal/service"
)

// Schedule pairs a registered worker name with its tick interval.
type Schedule struct {
	WorkerName string
	Interval   time.Duration
}

// Runner drives scheduled worker runs. Each schedule gets its own ticker;
// the single-flight claim in WorkerExecutionService keeps overlapping ticks
// (and manual triggers) from running the same worker twice.
type Runner struct {
	executions *service.WorkerExecutionService
	schedules  []Schedule
	logger     *slog.Logger
}

// NewRunner creates a Runner for the given schedules.
func NewRunner(executions *service.WorkerExecutionService, schedules []Schedule, logger *slog.Logger) *Runner {
	return &Runner{executions: executions, schedules: schedules, logger: logger}
}

// Start runs all schedules until the context is cancelled.
func (r *Runner) Start(ctx context.Context) {
	for _, sched := range r.schedules {
		go r.loop(ctx, sched)
	}
}

func (r *Runner) loop(ctx context.Context, sched Schedule) {
	r.logger.Info("worker schedule starting",
		"worker", sched.WorkerName, "interval", sched.Interval)

	ticker := time.NewTicker(sched.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("worker schedule stopping", "worker", sched.WorkerName)
			return

		case <-ticker.C:
			if err := r.executions.RunScheduled(ctx, sched.WorkerName); err != nil {
				r.logger.Error("scheduled worker run failed",
					"worker", sched.WorkerName, "error", err)
			}
		}
	}
}
