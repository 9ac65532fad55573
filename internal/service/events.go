package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/pitchside/pitchside/internal/events"
)

// OutboxStore captures failed event publishes for the retry worker.
type OutboxStore interface {
	EnqueueOutbox(ctx context.Context, subject string, payload []byte, lastError string) error
}

// emitter publishes billing events best-effort: a publish failure never
// fails the calling operation, it lands in the outbox instead.
type emitter struct {
	pub    events.Publisher
	outbox OutboxStore
	logger *slog.Logger
}

func (e *emitter) emit(ctx context.Context, subject string, event events.Event) {
	if e == nil || e.pub == nil {
		return
	}

	err := e.pub.Publish(subject, event)
	if err == nil {
		return
	}

	e.logger.Warn("failed to publish billing event, queueing for retry",
		"subject", subject, "entity_id", event.EntityID, "error", err)

	payload, mErr := json.Marshal(event)
	if mErr != nil {
		e.logger.Error("failed to marshal billing event for outbox", "subject", subject, "error", mErr)
		return
	}
	if oErr := e.outbox.EnqueueOutbox(ctx, subject, payload, err.Error()); oErr != nil {
		e.logger.Error("failed to enqueue billing event", "subject", subject, "error", oErr)
	}
}
