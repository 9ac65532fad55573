package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// RecordWebhookEvent inserts the idempotency marker for a provider event.
// Returns false when the (provider, provider_event_id) pair was already
// applied, meaning the event must not be applied again. A marker left in
// status 'failed' by MarkWebhookEventFailed is reclaimed, so provider
// redelivery gets another attempt at applying the event.
func (s *Store) RecordWebhookEvent(ctx context.Context, provider, providerEventID, eventType string, payload []byte) (bool, error) {
	const q = `
		INSERT INTO webhook_events (id, provider, provider_event_id, event_type, status, payload)
		VALUES ($1, $2, $3, $4, 'processed', $5)
		ON CONFLICT (provider, provider_event_id) DO UPDATE
			SET status = 'processed'
			WHERE webhook_events.status = 'failed'`

	tag, err := s.pool.Exec(ctx, q, pgUUID(uuid.New()), provider, providerEventID, eventType, payload)
	if err != nil {
		return false, fmt.Errorf("failed to record webhook event: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkWebhookEventFailed releases the idempotency marker after a failed
// apply, so the provider's redelivery is not treated as a replay.
func (s *Store) MarkWebhookEventFailed(ctx context.Context, provider, providerEventID string) error {
	const q = `
		UPDATE webhook_events SET status = 'failed'
		WHERE provider = $1 AND provider_event_id = $2`

	if _, err := s.pool.Exec(ctx, q, provider, providerEventID); err != nil {
		return fmt.Errorf("failed to mark webhook event failed: %w", err)
	}
	return nil
}
