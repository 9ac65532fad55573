package routes

import (
	"github.com/pitchside/pitchside/internal/router"
)

// RegisterWebhookRoutes registers all webhook routes.
// These routes handle incoming webhooks from payment providers.
//
// Note: Webhook routes do NOT have authentication middleware.
// The handler verifies each request's signature with the scheme of the
// provider named in the URL.
func RegisterWebhookRoutes(r *router.Router, deps WebhookDeps) {
	r.Post("/webhooks/{provider}", deps.Handler.Handle)
}
