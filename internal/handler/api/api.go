// Package api holds the club-scoped JSON handlers for invoices and
// subscriptions. Authentication sits in front of this service; handlers
// trust the actor headers the gateway injects.
package api

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/pitchside/pitchside/internal/domain"
	"github.com/pitchside/pitchside/internal/middleware"
)

// actorFromRequest builds the audit context for a mutating request from the
// gateway-injected headers and connection metadata.
func actorFromRequest(r *http.Request) domain.AuditContext {
	actor := domain.AuditContext{
		ActorType: "system",
		IPAddress: middleware.GetClientIP(r),
		UserAgent: r.UserAgent(),
	}

	if raw := r.Header.Get("X-Actor-ID"); raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			actor.ActorID = id
			actor.ActorType = "manager"
		}
	}
	if actorType := r.Header.Get("X-Actor-Type"); actorType != "" {
		actor.ActorType = actorType
	}

	return actor
}

// queryInt32 parses an integer query parameter, returning 0 when absent or
// malformed so store defaults apply.
func queryInt32(r *http.Request, name string) int32 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || n < 0 {
		return 0
	}
	return int32(n)
}

// queryUUID parses an optional UUID query parameter.
func queryUUID(r *http.Request, name string) *uuid.UUID {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil
	}
	return &id
}
