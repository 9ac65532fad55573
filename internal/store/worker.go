package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/pitchside/pitchside/internal/domain"
)

const executionColumns = `id, worker_name, status, trigger_kind, started_at,
	finished_at, duration_ms, processed, succeeded, failed, error`

func scanExecution(row pgx.Row) (*domain.WorkerExecution, error) {
	var (
		ex         domain.WorkerExecution
		id         pgtype.UUID
		finishedAt pgtype.Timestamptz
		durationMs pgtype.Int8
		errText    pgtype.Text
	)
	err := row.Scan(&id, &ex.WorkerName, &ex.Status, &ex.Trigger,
		&ex.StartedAt, &finishedAt, &durationMs,
		&ex.Processed, &ex.Succeeded, &ex.Failed, &errText)
	if err != nil {
		return nil, err
	}

	ex.ID = fromPgUUID(id)
	ex.FinishedAt = fromPgTimePtr(finishedAt)
	if durationMs.Valid {
		ms := durationMs.Int64
		ex.DurationMs = &ms
	}
	ex.Error = fromPgTextPtr(errText)
	return &ex, nil
}

// ClaimWorkerRun atomically records the start of a run for a worker name.
// The insert only lands when no running row exists for that name; losing
// the race surfaces as ErrAlreadyRunning. A partial unique index on
// (worker_name) WHERE status = 'running' backs the race between concurrent
// claims.
func (s *Store) ClaimWorkerRun(ctx context.Context, workerName string, trigger domain.ExecutionTrigger) (*domain.WorkerExecution, error) {
	q := `
		INSERT INTO worker_executions (id, worker_name, status, trigger_kind, started_at)
		SELECT $1, $2, 'running', $3, now()
		WHERE NOT EXISTS (
			SELECT 1 FROM worker_executions WHERE worker_name = $2 AND status = 'running')
		RETURNING ` + executionColumns

	ex, err := scanExecution(s.pool.QueryRow(ctx, q,
		pgUUID(uuid.New()), workerName, string(trigger)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err, "worker_executions_one_running_idx") {
			return nil, ErrAlreadyRunning
		}
		return nil, fmt.Errorf("failed to claim worker run: %w", err)
	}
	return ex, nil
}

// FinishWorkerRun closes a claimed run with its outcome. runErr nil means
// completed; non-nil means failed with the error text recorded.
func (s *Store) FinishWorkerRun(ctx context.Context, id uuid.UUID, result domain.WorkerResult, runErr error) error {
	const q = `
		UPDATE worker_executions
		SET status = $2, finished_at = now(),
			duration_ms = (EXTRACT(EPOCH FROM (now() - started_at)) * 1000)::bigint,
			processed = $3, succeeded = $4, failed = $5, error = $6
		WHERE id = $1 AND status = 'running'`

	status := domain.ExecutionStatusCompleted
	var errText pgtype.Text
	if runErr != nil {
		status = domain.ExecutionStatusFailed
		errText = pgText(runErr.Error())
	}

	tag, err := s.pool.Exec(ctx, q, pgUUID(id), string(status),
		int32(result.Processed), int32(result.Succeeded), int32(result.Failed), errText)
	if err != nil {
		return fmt.Errorf("failed to finish worker run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// LatestExecutions returns the most recent execution per worker name.
func (s *Store) LatestExecutions(ctx context.Context) ([]domain.WorkerExecution, error) {
	q := `SELECT DISTINCT ON (worker_name) ` + executionColumns + `
		FROM worker_executions
		ORDER BY worker_name, started_at DESC`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list latest executions: %w", err)
	}
	defer rows.Close()

	return collectExecutions(rows)
}

// ExecutionHistory returns past runs newest first, optionally filtered to
// one worker name.
func (s *Store) ExecutionHistory(ctx context.Context, workerName string, limit int32) ([]domain.WorkerExecution, error) {
	q := `SELECT ` + executionColumns + ` FROM worker_executions
		WHERE ($1::text IS NULL OR worker_name = $1)
		ORDER BY started_at DESC, id
		LIMIT $2`

	if limit <= 0 || limit > 500 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, q, pgText(workerName), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list execution history: %w", err)
	}
	defer rows.Close()

	return collectExecutions(rows)
}

func collectExecutions(rows pgx.Rows) ([]domain.WorkerExecution, error) {
	var executions []domain.WorkerExecution
	for rows.Next() {
		ex, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan worker execution: %w", err)
		}
		executions = append(executions, *ex)
	}
	return executions, rows.Err()
}
