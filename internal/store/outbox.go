package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// OutboxEntry is a billing event whose publish has not been confirmed yet.
// The notification retry worker drains these.
type OutboxEntry struct {
	ID          uuid.UUID
	Subject     string
	Payload     []byte
	Attempts    int32
	LastError   *string
	PublishedAt *time.Time
	CreatedAt   time.Time
}

// EnqueueOutbox records an event that failed to publish so the retry
// worker can pick it up.
func (s *Store) EnqueueOutbox(ctx context.Context, subject string, payload []byte, lastError string) error {
	const q = `
		INSERT INTO notification_outbox (id, subject, payload, attempts, last_error)
		VALUES ($1, $2, $3, 1, $4)`

	_, err := s.pool.Exec(ctx, q, pgUUID(uuid.New()), subject, payload, pgText(lastError))
	if err != nil {
		return fmt.Errorf("failed to enqueue outbox entry: %w", err)
	}
	return nil
}

// ListUnpublishedOutbox returns pending outbox entries oldest first.
func (s *Store) ListUnpublishedOutbox(ctx context.Context, limit int32) ([]OutboxEntry, error) {
	const q = `
		SELECT id, subject, payload, attempts, last_error, published_at, created_at
		FROM notification_outbox
		WHERE published_at IS NULL
		ORDER BY created_at, id
		LIMIT $1`

	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list outbox entries: %w", err)
	}
	defer rows.Close()

	var entries []OutboxEntry
	for rows.Next() {
		var (
			e           OutboxEntry
			id          pgtype.UUID
			lastError   pgtype.Text
			publishedAt pgtype.Timestamptz
		)
		if err := rows.Scan(&id, &e.Subject, &e.Payload, &e.Attempts, &lastError, &publishedAt, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox entry: %w", err)
		}
		e.ID = fromPgUUID(id)
		e.LastError = fromPgTextPtr(lastError)
		e.PublishedAt = fromPgTimePtr(publishedAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkOutboxPublished closes an outbox entry after a successful publish.
func (s *Store) MarkOutboxPublished(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE notification_outbox SET published_at = now() WHERE id = $1`

	if _, err := s.pool.Exec(ctx, q, pgUUID(id)); err != nil {
		return fmt.Errorf("failed to mark outbox entry published: %w", err)
	}
	return nil
}

// MarkOutboxFailed bumps the attempt counter and records the latest error.
func (s *Store) MarkOutboxFailed(ctx context.Context, id uuid.UUID, lastError string) error {
	const q = `UPDATE notification_outbox
		SET attempts = attempts + 1, last_error = $2 WHERE id = $1`

	if _, err := s.pool.Exec(ctx, q, pgUUID(id), pgText(lastError)); err != nil {
		return fmt.Errorf("failed to mark outbox entry failed: %w", err)
	}
	return nil
}
