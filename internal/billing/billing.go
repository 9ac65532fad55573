// Package billing abstracts the payment providers the engine talks to.
// Implementations exist for Stripe and GoCardless plus a mock for tests.
package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Provider names as stored on subscriptions and webhook routes.
const (
	ProviderStripe     = "stripe"
	ProviderGoCardless = "gocardless"
)

// Provider defines the payment-provider surface the engine depends on.
// Implementations can use Stripe, GoCardless, etc.
type Provider interface {
	// Name returns the provider identifier used in routes and persistence.
	Name() string

	// SignatureHeader returns the HTTP header carrying the webhook signature.
	SignatureHeader() string

	// VerifyWebhookSignature verifies that a webhook request is authentic.
	// Returns ErrInvalidSignature on mismatch.
	VerifyWebhookSignature(payload []byte, signature string) error

	// ParseWebhookEvents converts a verified webhook body into
	// provider-neutral events. Stripe delivers one event per request,
	// GoCardless batches several.
	ParseWebhookEvents(payload []byte) ([]WebhookEvent, error)

	// CreateSubscription creates the recurring billing agreement on the
	// provider side against an active mandate.
	CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*ProviderSubscription, error)

	// GetSubscription retrieves the provider's view of a subscription.
	GetSubscription(ctx context.Context, providerSubscriptionID string) (*ProviderSubscription, error)

	// CancelSubscription cancels the provider-side subscription, either at
	// period end or immediately.
	CancelSubscription(ctx context.Context, providerSubscriptionID string, atPeriodEnd bool) error
}

// EventKind classifies webhook events into the handful of transitions the
// engine reacts to. Unknown provider events map to EventUnknown and are
// acknowledged without effect.
type EventKind string

const (
	EventPaymentConfirmed      EventKind = "payment.confirmed"
	EventPaymentFailed         EventKind = "payment.failed"
	EventMandateActive         EventKind = "mandate.active"
	EventMandateFailed         EventKind = "mandate.failed"
	EventMandateCancelled      EventKind = "mandate.cancelled"
	EventSubscriptionActive    EventKind = "subscription.active"
	EventSubscriptionCancelled EventKind = "subscription.cancelled"
	EventUnknown               EventKind = "unknown"
)

// WebhookEvent is the provider-neutral form of one webhook event.
type WebhookEvent struct {
	// ID is the provider's event id, used for idempotent replay detection.
	ID string

	// Kind is the engine-level classification.
	Kind EventKind

	// Type is the raw provider event type, kept for logging and storage.
	Type string

	// InvoiceID is the local invoice UUID carried in provider metadata,
	// when the event concerns a payment.
	InvoiceID string

	// ProviderSubscriptionID references the provider-side subscription,
	// when the event concerns one.
	ProviderSubscriptionID string

	// ProviderMandateID references the provider-side mandate, when the
	// event concerns one.
	ProviderMandateID string

	// Amount is the payment amount for payment events, zero otherwise.
	Amount decimal.Decimal

	// OccurredAt is the provider's event timestamp.
	OccurredAt time.Time
}

// CreateSubscriptionParams contains parameters for creating a provider-side
// subscription.
type CreateSubscriptionParams struct {
	// SubscriptionID is the local subscription UUID, always placed into
	// provider metadata so webhooks can be correlated back.
	SubscriptionID string

	// MandateID is the provider-side mandate or payment method to charge.
	MandateID string

	// CustomerID is the provider-side customer the mandate belongs to.
	// Required by Stripe, ignored by GoCardless (mandates imply customers).
	CustomerID string

	// Amount is the recurring charge per period.
	Amount decimal.Decimal

	// Currency code (ISO 4217 lowercase), e.g. "gbp".
	Currency string

	// Interval is "monthly" or "annual".
	Interval string

	// DayOfMonth anchors monthly charges (1-28).
	DayOfMonth int32

	// Description appears on the payer's statement or dashboard.
	Description string

	// Metadata for correlation and reporting.
	Metadata map[string]string
}

// ProviderSubscription is the provider's view of a subscription.
type ProviderSubscription struct {
	ID                string
	Status            string
	CancelAtPeriodEnd bool
	CurrentPeriodEnd  *time.Time
	Metadata          map[string]string
}

// amountToMinorUnits converts a decimal major-unit amount to the integer
// minor units both providers bill in.
func amountToMinorUnits(d decimal.Decimal) int64 {
	return d.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// amountFromMinorUnits converts provider minor units back to a decimal.
func amountFromMinorUnits(v int64) decimal.Decimal {
	return decimal.NewFromInt(v).Div(decimal.NewFromInt(100))
}
