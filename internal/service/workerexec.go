package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pitchside/pitchside/internal/domain"
	"github.com/pitchside/pitchside/internal/store"
	"github.com/pitchside/pitchside/internal/telemetry"
)

// Worker is a named background job the execution service can run.
type Worker interface {
	Name() string
	Run(ctx context.Context) (domain.WorkerResult, error)
}

// ExecutionStore is the persistence surface WorkerExecutionService depends on.
type ExecutionStore interface {
	ClaimWorkerRun(ctx context.Context, workerName string, trigger domain.ExecutionTrigger) (*domain.WorkerExecution, error)
	FinishWorkerRun(ctx context.Context, id uuid.UUID, result domain.WorkerResult, runErr error) error
	LatestExecutions(ctx context.Context) ([]domain.WorkerExecution, error)
	ExecutionHistory(ctx context.Context, workerName string, limit int32) ([]domain.WorkerExecution, error)
}

// WorkerExecutionService runs registered workers under the single-flight
// guarantee worker_executions enforces, and exposes run history for the
// admin API. Scheduled and manual triggers share the same claim/run/finish
// path, so a manual trigger can never overlap a scheduled run.
type WorkerExecutionService struct {
	store      ExecutionStore
	workers    map[string]Worker
	metrics    *telemetry.BusinessMetrics
	logger     *slog.Logger
	runTimeout time.Duration
}

// NewWorkerExecutionService creates a WorkerExecutionService. runTimeout
// bounds each run; zero means 10 minutes.
func NewWorkerExecutionService(st ExecutionStore, metrics *telemetry.BusinessMetrics, logger *slog.Logger, runTimeout time.Duration) *WorkerExecutionService {
	if runTimeout <= 0 {
		runTimeout = 10 * time.Minute
	}
	return &WorkerExecutionService{
		store:      st,
		workers:    make(map[string]Worker),
		metrics:    metrics,
		logger:     logger,
		runTimeout: runTimeout,
	}
}

// Register makes a worker triggerable by name.
func (s *WorkerExecutionService) Register(w Worker) {
	s.workers[w.Name()] = w
}

// WorkerNames returns the registered worker names.
func (s *WorkerExecutionService) WorkerNames() []string {
	names := make([]string, 0, len(s.workers))
	for name := range s.workers {
		names = append(names, name)
	}
	return names
}

// Trigger starts a manual run of the named worker and returns the claimed
// execution while the run proceeds in the background. Returns ECONFLICT when
// a run for that worker is already in flight.
func (s *WorkerExecutionService) Trigger(ctx context.Context, name string) (*domain.WorkerExecution, error) {
	const op = "worker.trigger"

	w, ok := s.workers[name]
	if !ok {
		return nil, domain.NotFound(op, "worker", name)
	}

	ex, err := s.store.ClaimWorkerRun(ctx, name, domain.TriggerManual)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyRunning) {
			return nil, ErrWorkerRunning
		}
		return nil, domain.Internal(err, op, "failed to claim worker run")
	}

	// The run outlives the HTTP request that triggered it.
	go s.run(context.WithoutCancel(ctx), w, ex)

	return ex, nil
}

// RunScheduled performs one scheduled run of the named worker, synchronously.
// A run already in flight is not an error; the tick is skipped.
func (s *WorkerExecutionService) RunScheduled(ctx context.Context, name string) error {
	const op = "worker.run_scheduled"

	w, ok := s.workers[name]
	if !ok {
		return domain.NotFound(op, "worker", name)
	}

	ex, err := s.store.ClaimWorkerRun(ctx, name, domain.TriggerScheduled)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyRunning) {
			s.metrics.WorkerRuns.WithLabelValues(name, "skipped").Inc()
			s.logger.Debug("skipping scheduled run, worker already running", "worker", name)
			return nil
		}
		return domain.Internal(err, op, "failed to claim worker run")
	}

	s.run(ctx, w, ex)
	return nil
}

func (s *WorkerExecutionService) run(ctx context.Context, w Worker, ex *domain.WorkerExecution) {
	ctx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()

	start := time.Now()
	result, runErr := w.Run(ctx)
	elapsed := time.Since(start)

	status := "completed"
	if runErr != nil {
		status = "failed"
		s.logger.Error("worker run failed",
			"worker", w.Name(), "execution_id", ex.ID, "error", runErr)
	} else {
		s.logger.Info("worker run finished",
			"worker", w.Name(), "execution_id", ex.ID,
			"processed", result.Processed, "succeeded", result.Succeeded,
			"failed", result.Failed, "duration", elapsed)
	}

	s.metrics.WorkerRuns.WithLabelValues(w.Name(), status).Inc()
	s.metrics.WorkerFailures.WithLabelValues(w.Name()).Add(float64(result.Failed))
	s.metrics.WorkerDuration.WithLabelValues(w.Name()).Observe(elapsed.Seconds())

	// Finishing must not be lost to the run's own timeout.
	finishCtx, finishCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer finishCancel()
	if err := s.store.FinishWorkerRun(finishCtx, ex.ID, result, runErr); err != nil {
		s.logger.Error("failed to record worker run outcome",
			"worker", w.Name(), "execution_id", ex.ID, "error", err)
	}
}

// Latest returns the most recent execution per worker.
func (s *WorkerExecutionService) Latest(ctx context.Context) ([]domain.WorkerExecution, error) {
	const op = "worker.latest"

	executions, err := s.store.LatestExecutions(ctx)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to list latest executions")
	}
	return executions, nil
}

// History returns past runs newest first. workerName empty means all workers.
func (s *WorkerExecutionService) History(ctx context.Context, workerName string, limit int32) ([]domain.WorkerExecution, error) {
	const op = "worker.history"

	if workerName != "" {
		if _, ok := s.workers[workerName]; !ok {
			return nil, domain.NotFound(op, "worker", workerName)
		}
	}

	executions, err := s.store.ExecutionHistory(ctx, workerName, limit)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to list execution history")
	}
	return executions, nil
}
