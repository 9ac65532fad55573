package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/pitchside/pitchside/internal/domain"
)

// InsertAudit appends one audit row. Audit writes never fail the calling
// operation; callers log and continue on error.
func (s *Store) InsertAudit(ctx context.Context, entry *domain.AuditEntry) error {
	const q = `
		INSERT INTO audit_logs (id, club_id, actor_type, actor_id, action,
			entity_type, entity_id, ip_address, user_agent, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}

	_, err := s.pool.Exec(ctx, q,
		pgUUID(entry.ID), pgUUID(entry.ClubID), entry.ActorType,
		pgUUID(entry.ActorID), entry.Action, entry.EntityType,
		pgUUID(entry.EntityID), pgText(entry.IPAddress),
		pgText(entry.UserAgent), entry.Detail)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}
