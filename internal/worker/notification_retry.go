package worker

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/pitchside/pitchside/internal/domain"
	"github.com/pitchside/pitchside/internal/events"
	"github.com/pitchside/pitchside/internal/store"
)

// OutboxStore lists and settles unpublished notification events.
type OutboxStore interface {
	ListUnpublishedOutbox(ctx context.Context, limit int32) ([]store.OutboxEntry, error)
	MarkOutboxPublished(ctx context.Context, id uuid.UUID) error
	MarkOutboxFailed(ctx context.Context, id uuid.UUID, lastError string) error
}

// NotificationRetryWorker drains the notification outbox: events whose
// publish failed at emit time are retried until they go through.
type NotificationRetryWorker struct {
	store     OutboxStore
	publisher events.Publisher
	logger    *slog.Logger
	batchSize int32
}

// NewNotificationRetryWorker creates a NotificationRetryWorker. batchSize
// bounds entries per run; zero means 100.
func NewNotificationRetryWorker(st OutboxStore, publisher events.Publisher, logger *slog.Logger, batchSize int32) *NotificationRetryWorker {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &NotificationRetryWorker{store: st, publisher: publisher, logger: logger, batchSize: batchSize}
}

func (w *NotificationRetryWorker) Name() string { return domain.WorkerNotificationRetry }

// Run republishes pending outbox entries oldest first. An entry with a
// payload that no longer unmarshals is marked failed rather than retried
// forever.
func (w *NotificationRetryWorker) Run(ctx context.Context) (domain.WorkerResult, error) {
	var result domain.WorkerResult

	entries, err := w.store.ListUnpublishedOutbox(ctx, w.batchSize)
	if err != nil {
		return result, err
	}

	for _, entry := range entries {
		result.Processed++

		var event events.Event
		if err := json.Unmarshal(entry.Payload, &event); err != nil {
			result.Failed++
			w.logger.Error("outbox entry payload is malformed",
				"outbox_id", entry.ID, "subject", entry.Subject, "error", err)
			if err := w.store.MarkOutboxFailed(ctx, entry.ID, "malformed payload: "+err.Error()); err != nil {
				w.logger.Error("failed to record outbox failure", "outbox_id", entry.ID, "error", err)
			}
			continue
		}

		if err := w.publisher.Publish(entry.Subject, event); err != nil {
			result.Failed++
			w.logger.Warn("outbox republish failed",
				"outbox_id", entry.ID, "subject", entry.Subject,
				"attempts", entry.Attempts, "error", err)
			if err := w.store.MarkOutboxFailed(ctx, entry.ID, err.Error()); err != nil {
				w.logger.Error("failed to record outbox failure", "outbox_id", entry.ID, "error", err)
			}
			continue
		}

		if err := w.store.MarkOutboxPublished(ctx, entry.ID); err != nil {
			result.Failed++
			w.logger.Error("failed to mark outbox entry published",
				"outbox_id", entry.ID, "error", err)
			continue
		}
		result.Succeeded++
	}

	return result, nil
}
