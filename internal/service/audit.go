package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/pitchside/pitchside/internal/domain"
)

// AuditStore persists audit rows for mutating operations.
type AuditStore interface {
	InsertAudit(ctx context.Context, entry *domain.AuditEntry) error
}

// writeAudit records who did what. Audit failures are logged, never
// propagated; losing an audit row must not fail the operation it describes.
func writeAudit(ctx context.Context, st AuditStore, logger *slog.Logger, actor domain.AuditContext, clubID uuid.UUID, action, entityType string, entityID uuid.UUID, detail map[string]any) {
	var raw []byte
	if detail != nil {
		raw, _ = json.Marshal(detail)
	}

	entry := &domain.AuditEntry{
		ClubID:     clubID,
		ActorType:  actor.ActorType,
		ActorID:    actor.ActorID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		IPAddress:  actor.IPAddress,
		UserAgent:  actor.UserAgent,
		Detail:     raw,
	}

	if err := st.InsertAudit(ctx, entry); err != nil {
		logger.Error("failed to write audit entry",
			"action", action, "entity_type", entityType, "entity_id", entityID, "error", err)
	}
}
