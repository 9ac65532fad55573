package domain

import (
	"time"

	"github.com/google/uuid"
)

// Worker names known to the execution tracker.
const (
	WorkerSubscriptionSync  = "subscription_sync"
	WorkerNotificationRetry = "notification_retry"
)

// ExecutionStatus is the state of one worker run.
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// ExecutionTrigger records how a run was started.
type ExecutionTrigger string

const (
	TriggerScheduled ExecutionTrigger = "scheduled"
	TriggerManual    ExecutionTrigger = "manual"
)

// WorkerExecution is one recorded run of a named background worker.
// At most one execution per worker name may be running at a time.
type WorkerExecution struct {
	ID         uuid.UUID        `json:"id"`
	WorkerName string           `json:"workerName"`
	Status     ExecutionStatus  `json:"status"`
	Trigger    ExecutionTrigger `json:"trigger"`
	StartedAt  time.Time        `json:"startedAt"`
	FinishedAt *time.Time       `json:"finishedAt,omitempty"`
	DurationMs *int64           `json:"durationMs,omitempty"`
	Processed  int32            `json:"processed"`
	Succeeded  int32            `json:"succeeded"`
	Failed     int32            `json:"failed"`
	Error      *string          `json:"error,omitempty"`
}

// WorkerResult is the structured outcome a worker reports for one run.
type WorkerResult struct {
	Processed int
	Succeeded int
	Failed    int
}
