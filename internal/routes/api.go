package routes

import (
	"github.com/pitchside/pitchside/internal/router"
)

// RegisterAPIRoutes registers the club-scoped billing API.
// Authentication and club authorization happen at the platform gateway;
// these routes trust the clubID path segment it forwards.
func RegisterAPIRoutes(r *router.Router, deps APIDeps) {
	// Invoices
	r.Post("/api/clubs/{clubID}/invoices", deps.InvoiceHandler.Create)
	r.Get("/api/clubs/{clubID}/invoices", deps.InvoiceHandler.List)
	r.Post("/api/clubs/{clubID}/invoices/mark-overdue", deps.InvoiceHandler.MarkOverdue)
	r.Get("/api/clubs/{clubID}/invoices/{invoiceID}", deps.InvoiceHandler.Get)
	r.Put("/api/clubs/{clubID}/invoices/{invoiceID}", deps.InvoiceHandler.Update)
	r.Delete("/api/clubs/{clubID}/invoices/{invoiceID}", deps.InvoiceHandler.Delete)
	r.Post("/api/clubs/{clubID}/invoices/{invoiceID}/publish", deps.InvoiceHandler.Publish)
	r.Post("/api/clubs/{clubID}/invoices/{invoiceID}/cancel", deps.InvoiceHandler.Cancel)
	r.Post("/api/clubs/{clubID}/invoices/{invoiceID}/mark-paid", deps.InvoiceHandler.MarkPaid)

	// Subscriptions
	r.Post("/api/clubs/{clubID}/subscriptions", deps.SubscriptionHandler.Create)
	r.Get("/api/clubs/{clubID}/subscriptions", deps.SubscriptionHandler.List)
	r.Get("/api/clubs/{clubID}/subscriptions/stats", deps.SubscriptionHandler.Stats)
	r.Get("/api/clubs/{clubID}/subscriptions/{subscriptionID}", deps.SubscriptionHandler.Get)
	r.Post("/api/clubs/{clubID}/subscriptions/{subscriptionID}/change-tier", deps.SubscriptionHandler.ChangeTier)
	r.Post("/api/clubs/{clubID}/subscriptions/{subscriptionID}/pause", deps.SubscriptionHandler.Pause)
	r.Post("/api/clubs/{clubID}/subscriptions/{subscriptionID}/resume", deps.SubscriptionHandler.Resume)
	r.Post("/api/clubs/{clubID}/subscriptions/{subscriptionID}/cancel", deps.SubscriptionHandler.Cancel)
	r.Post("/api/clubs/{clubID}/subscriptions/{subscriptionID}/suspend", deps.SubscriptionHandler.Suspend)
	r.Post("/api/clubs/{clubID}/subscriptions/{subscriptionID}/reactivate", deps.SubscriptionHandler.Reactivate)
}

// RegisterAdminRoutes registers the operator endpoints.
func RegisterAdminRoutes(r *router.Router, deps AdminDeps) {
	r.Get("/api/admin/workers/latest", deps.WorkerHandler.Latest)
	r.Get("/api/admin/workers/history", deps.WorkerHandler.History)
	r.Post("/api/admin/workers/{workerName}/trigger", deps.WorkerHandler.Trigger)

	r.Get("/api/admin/subscriptions/diagnostics", deps.DiagnosticsHandler.SubscriptionSync)
}
