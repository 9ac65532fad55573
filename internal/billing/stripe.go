package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeProvider implements Provider using the Stripe SDK. Subscriptions
// are created with inline price data against the configured product, so no
// per-tier Stripe Price objects need to be managed.
type StripeProvider struct {
	api           *client.API
	webhookSecret string
	productID     string
}

// NewStripeProvider creates a Stripe billing provider.
func NewStripeProvider(apiKey, webhookSecret, productID string) *StripeProvider {
	api := &client.API{}
	api.Init(apiKey, nil)

	return &StripeProvider{
		api:           api,
		webhookSecret: webhookSecret,
		productID:     productID,
	}
}

func (p *StripeProvider) Name() string { return ProviderStripe }

func (p *StripeProvider) SignatureHeader() string { return "Stripe-Signature" }

// VerifyWebhookSignature checks the Stripe-Signature header against the
// endpoint secret.
func (p *StripeProvider) VerifyWebhookSignature(payload []byte, signature string) error {
	if _, err := webhook.ConstructEvent(payload, signature, p.webhookSecret); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

// stripeEventInvoice is the slice of the invoice object the engine reads.
// Parsing into a local struct keeps us independent of SDK field churn
// between Stripe API versions.
type stripeEventInvoice struct {
	ID           string            `json:"id"`
	Metadata     map[string]string `json:"metadata"`
	AmountPaid   int64             `json:"amount_paid"`
	AmountDue    int64             `json:"amount_due"`
	Subscription string            `json:"subscription"`
	Parent       struct {
		SubscriptionDetails struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func (i *stripeEventInvoice) subscriptionID() string {
	if i.Subscription != "" {
		return i.Subscription
	}
	return i.Parent.SubscriptionDetails.Subscription
}

type stripeEventSubscription struct {
	ID       string            `json:"id"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata"`
}

type stripeEventMandate struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// ParseWebhookEvents maps one Stripe event envelope to one provider-neutral
// event. Event types the engine does not react to come back as EventUnknown
// so the processor can acknowledge them.
func (p *StripeProvider) ParseWebhookEvents(payload []byte) ([]WebhookEvent, error) {
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("failed to parse stripe event: %w", err)
	}

	out := WebhookEvent{
		ID:         event.ID,
		Kind:       EventUnknown,
		Type:       string(event.Type),
		OccurredAt: time.Unix(event.Created, 0).UTC(),
	}

	switch event.Type {
	case "invoice.paid", "invoice.payment_succeeded", "invoice.payment_failed":
		var inv stripeEventInvoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("failed to parse stripe invoice payload: %w", err)
		}
		if event.Type == "invoice.payment_failed" {
			out.Kind = EventPaymentFailed
			out.Amount = amountFromMinorUnits(inv.AmountDue)
		} else {
			out.Kind = EventPaymentConfirmed
			out.Amount = amountFromMinorUnits(inv.AmountPaid)
		}
		out.InvoiceID = inv.Metadata["invoice_id"]
		out.ProviderSubscriptionID = inv.subscriptionID()

	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripeEventSubscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("failed to parse stripe subscription payload: %w", err)
		}
		out.ProviderSubscriptionID = sub.ID
		switch {
		case event.Type == "customer.subscription.deleted" || sub.Status == "canceled":
			out.Kind = EventSubscriptionCancelled
		case sub.Status == "active":
			out.Kind = EventSubscriptionActive
		}

	case "mandate.updated":
		var m stripeEventMandate
		if err := json.Unmarshal(event.Data.Raw, &m); err != nil {
			return nil, fmt.Errorf("failed to parse stripe mandate payload: %w", err)
		}
		out.ProviderMandateID = m.ID
		switch m.Status {
		case "active":
			out.Kind = EventMandateActive
		case "inactive":
			out.Kind = EventMandateCancelled
		}
	}

	return []WebhookEvent{out}, nil
}

func stripeInterval(interval string) (string, error) {
	switch interval {
	case "monthly":
		return "month", nil
	case "annual":
		return "year", nil
	default:
		return "", fmt.Errorf("unsupported billing interval: %s", interval)
	}
}

// CreateSubscription creates a Stripe subscription charging the customer's
// saved payment method, with inline price data on the configured product.
func (p *StripeProvider) CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*ProviderSubscription, error) {
	interval, err := stripeInterval(params.Interval)
	if err != nil {
		return nil, err
	}

	subParams := &stripe.SubscriptionParams{
		Customer:             stripe.String(params.CustomerID),
		DefaultPaymentMethod: stripe.String(params.MandateID),
		Items: []*stripe.SubscriptionItemsParams{
			{
				PriceData: &stripe.SubscriptionItemPriceDataParams{
					Currency:   stripe.String(params.Currency),
					Product:    stripe.String(p.productID),
					UnitAmount: stripe.Int64(amountToMinorUnits(params.Amount)),
					Recurring: &stripe.SubscriptionItemPriceDataRecurringParams{
						Interval: stripe.String(interval),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	subParams.Context = ctx
	subParams.AddMetadata("subscription_id", params.SubscriptionID)
	for k, v := range params.Metadata {
		subParams.AddMetadata(k, v)
	}

	sub, err := p.api.Subscriptions.New(subParams)
	if err != nil {
		return nil, p.wrapError(err, "failed to create subscription")
	}

	return p.mapSubscription(sub), nil
}

// GetSubscription retrieves Stripe's view of a subscription.
func (p *StripeProvider) GetSubscription(ctx context.Context, providerSubscriptionID string) (*ProviderSubscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := p.api.Subscriptions.Get(providerSubscriptionID, params)
	if err != nil {
		return nil, p.wrapError(err, "failed to get subscription")
	}
	return p.mapSubscription(sub), nil
}

// CancelSubscription cancels at period end via update, or immediately via
// the cancel endpoint.
func (p *StripeProvider) CancelSubscription(ctx context.Context, providerSubscriptionID string, atPeriodEnd bool) error {
	if atPeriodEnd {
		params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
		params.Context = ctx
		if _, err := p.api.Subscriptions.Update(providerSubscriptionID, params); err != nil {
			return p.wrapError(err, "failed to schedule subscription cancel")
		}
		return nil
	}

	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	if _, err := p.api.Subscriptions.Cancel(providerSubscriptionID, params); err != nil {
		return p.wrapError(err, "failed to cancel subscription")
	}
	return nil
}

func (p *StripeProvider) mapSubscription(sub *stripe.Subscription) *ProviderSubscription {
	out := &ProviderSubscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		Metadata:          sub.Metadata,
	}
	// Period boundaries live on subscription items as of the Basil API.
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].CurrentPeriodEnd > 0 {
		end := time.Unix(sub.Items.Data[0].CurrentPeriodEnd, 0).UTC()
		out.CurrentPeriodEnd = &end
	}
	return out
}

func (p *StripeProvider) wrapError(err error, message string) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode == 404 {
			return fmt.Errorf("%w: %s", ErrSubscriptionNotFound, stripeErr.Msg)
		}
		return &ProviderError{
			Provider:      ProviderStripe,
			Code:          string(stripeErr.Code),
			StatusCode:    stripeErr.HTTPStatusCode,
			Message:       message,
			OriginalError: err,
		}
	}
	return &ProviderError{Provider: ProviderStripe, Message: message, OriginalError: err}
}
