package routes

import (
	"github.com/pitchside/pitchside/internal/handler/admin"
	"github.com/pitchside/pitchside/internal/handler/api"
	"github.com/pitchside/pitchside/internal/handler/webhook"
)

// APIDeps contains dependencies for the club-scoped API routes
type APIDeps struct {
	// Invoices
	InvoiceHandler *api.InvoiceHandler

	// Subscriptions
	SubscriptionHandler *api.SubscriptionHandler
}

// AdminDeps contains dependencies for operator routes
type AdminDeps struct {
	// Worker executions
	WorkerHandler *admin.WorkerHandler

	// Subscription sync diagnostics
	DiagnosticsHandler *admin.DiagnosticsHandler
}

// WebhookDeps contains dependencies for webhook routes
type WebhookDeps struct {
	Handler *webhook.Handler
}
