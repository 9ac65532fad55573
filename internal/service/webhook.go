package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pitchside/pitchside/internal/billing"
	"github.com/pitchside/pitchside/internal/domain"
	"github.com/pitchside/pitchside/internal/events"
	"github.com/pitchside/pitchside/internal/store"
	"github.com/pitchside/pitchside/internal/telemetry"
)

// WebhookStore is the persistence surface WebhookProcessor depends on.
type WebhookStore interface {
	RecordWebhookEvent(ctx context.Context, provider, providerEventID, eventType string, payload []byte) (bool, error)
	MarkWebhookEventFailed(ctx context.Context, provider, providerEventID string) error
	FindInvoiceByID(ctx context.Context, id uuid.UUID) (*domain.Invoice, error)
	MarkInvoicePaid(ctx context.Context, clubID, id uuid.UUID, p store.MarkInvoicePaidParams) (*domain.Invoice, error)
	UpdateMandateStatusByProviderID(ctx context.Context, provider, providerMandateID string, status domain.MandateStatus) (*domain.PaymentMandate, error)
}

// SubscriptionSync is the slice of SubscriptionService the webhook
// processor drives.
type SubscriptionSync interface {
	FindByProviderID(ctx context.Context, provider, providerSubID string) (*domain.Subscription, error)
	RecordFailedPayment(ctx context.Context, sub *domain.Subscription) error
	ActivateFromProvider(ctx context.Context, sub *domain.Subscription, providerStatus string) error
	MarkCancelledFromProvider(ctx context.Context, sub *domain.Subscription) error
}

// WebhookProcessor verifies, parses and applies provider webhooks.
//
// Delivery semantics: a bad signature or unparseable body is acknowledged
// without mutation (retrying cannot fix it); events the engine cannot apply
// because local state disagrees are acknowledged and logged; only internal
// failures surface as errors so the provider redelivers.
type WebhookProcessor struct {
	store     WebhookStore
	subs      SubscriptionSync
	providers map[string]billing.Provider
	emitter   *emitter
	metrics   *telemetry.BusinessMetrics
	logger    *slog.Logger
}

// NewWebhookProcessor creates a WebhookProcessor.
func NewWebhookProcessor(st WebhookStore, subs SubscriptionSync, providers map[string]billing.Provider, pub events.Publisher, outbox OutboxStore, metrics *telemetry.BusinessMetrics, logger *slog.Logger) *WebhookProcessor {
	return &WebhookProcessor{
		store:     st,
		subs:      subs,
		providers: providers,
		emitter:   &emitter{pub: pub, outbox: outbox, logger: logger},
		metrics:   metrics,
		logger:    logger,
	}
}

// Provider returns the registered provider for name, if any.
func (p *WebhookProcessor) Provider(name string) (billing.Provider, bool) {
	provider, ok := p.providers[name]
	return provider, ok
}

// Process handles one webhook request and returns how many events were
// applied. A nil error means the request should be acknowledged with 200.
func (p *WebhookProcessor) Process(ctx context.Context, providerName string, payload []byte, signature string) (int, error) {
	const op = "webhook.process"
	start := time.Now()

	provider, ok := p.providers[providerName]
	if !ok {
		return 0, domain.NotFound(op, "provider", providerName)
	}

	p.metrics.WebhookReceived.WithLabelValues(providerName).Inc()
	defer func() {
		p.metrics.WebhookLatency.WithLabelValues(providerName).Observe(time.Since(start).Seconds())
	}()

	if err := provider.VerifyWebhookSignature(payload, signature); err != nil {
		p.logger.Warn("webhook signature verification failed", "provider", providerName, "error", err)
		p.metrics.WebhookFailed.WithLabelValues(providerName, "signature").Inc()
		return 0, nil
	}

	webhookEvents, err := provider.ParseWebhookEvents(payload)
	if err != nil {
		p.logger.Warn("webhook payload could not be parsed", "provider", providerName, "error", err)
		p.metrics.WebhookFailed.WithLabelValues(providerName, "parse").Inc()
		return 0, nil
	}

	processed := 0
	for _, event := range webhookEvents {
		if event.Kind == billing.EventUnknown {
			p.logger.Debug("ignoring webhook event", "provider", providerName, "type", event.Type)
			continue
		}

		inserted, err := p.store.RecordWebhookEvent(ctx, providerName, event.ID, event.Type, payload)
		if err != nil {
			p.metrics.WebhookFailed.WithLabelValues(providerName, "internal").Inc()
			return processed, domain.Internal(err, op, "failed to record webhook event")
		}
		if !inserted {
			p.logger.Debug("skipping replayed webhook event", "provider", providerName, "event_id", event.ID)
			continue
		}

		if err := p.apply(ctx, provider, event); err != nil {
			p.metrics.WebhookFailed.WithLabelValues(providerName, "internal").Inc()
			// Release the marker so the provider's redelivery is applied
			// instead of skipped as a replay.
			if markErr := p.store.MarkWebhookEventFailed(ctx, providerName, event.ID); markErr != nil {
				p.logger.Error("failed to release webhook idempotency marker",
					"provider", providerName, "event_id", event.ID, "error", markErr)
			}
			return processed, err
		}

		p.metrics.WebhookProcessed.WithLabelValues(providerName, string(event.Kind)).Inc()
		processed++
	}

	return processed, nil
}

// apply routes one deduplicated event to its local transition. State
// disagreements (already paid, already cancelled, unknown references) are
// logged and swallowed; only storage failures propagate.
func (p *WebhookProcessor) apply(ctx context.Context, provider billing.Provider, event billing.WebhookEvent) error {
	const op = "webhook.apply"

	switch event.Kind {
	case billing.EventPaymentConfirmed:
		return p.applyPaymentConfirmed(ctx, provider, event)

	case billing.EventPaymentFailed:
		sub, err := p.findSubscription(ctx, provider, event)
		if err != nil || sub == nil {
			return err
		}
		if err := p.subs.RecordFailedPayment(ctx, sub); err != nil {
			return err
		}

	case billing.EventMandateActive, billing.EventMandateFailed, billing.EventMandateCancelled:
		status := map[billing.EventKind]domain.MandateStatus{
			billing.EventMandateActive:    domain.MandateStatusActive,
			billing.EventMandateFailed:    domain.MandateStatusFailed,
			billing.EventMandateCancelled: domain.MandateStatusCancelled,
		}[event.Kind]

		_, err := p.store.UpdateMandateStatusByProviderID(ctx, provider.Name(), event.ProviderMandateID, status)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				p.logger.Warn("webhook references unknown mandate",
					"provider", provider.Name(), "provider_mandate_id", event.ProviderMandateID)
				return nil
			}
			return domain.Internal(err, op, "failed to update mandate status")
		}

	case billing.EventSubscriptionActive:
		sub, err := p.findSubscription(ctx, provider, event)
		if err != nil || sub == nil {
			return err
		}
		if err := p.subs.ActivateFromProvider(ctx, sub, "active"); err != nil {
			return err
		}

	case billing.EventSubscriptionCancelled:
		sub, err := p.findSubscription(ctx, provider, event)
		if err != nil || sub == nil {
			return err
		}
		if err := p.subs.MarkCancelledFromProvider(ctx, sub); err != nil {
			return err
		}
	}

	return nil
}

func (p *WebhookProcessor) findSubscription(ctx context.Context, provider billing.Provider, event billing.WebhookEvent) (*domain.Subscription, error) {
	if event.ProviderSubscriptionID == "" {
		p.logger.Warn("webhook event carries no subscription reference",
			"provider", provider.Name(), "event_id", event.ID, "type", event.Type)
		return nil, nil
	}

	sub, err := p.subs.FindByProviderID(ctx, provider.Name(), event.ProviderSubscriptionID)
	if err != nil {
		if domain.IsCode(err, domain.ENOTFOUND) {
			p.logger.Warn("webhook references unknown subscription",
				"provider", provider.Name(), "provider_subscription_id", event.ProviderSubscriptionID)
			return nil, nil
		}
		return nil, err
	}
	return sub, nil
}

func (p *WebhookProcessor) applyPaymentConfirmed(ctx context.Context, provider billing.Provider, event billing.WebhookEvent) error {
	const op = "webhook.payment_confirmed"

	if event.InvoiceID == "" {
		p.logger.Warn("payment confirmation carries no invoice reference",
			"provider", provider.Name(), "event_id", event.ID)
		return nil
	}

	invoiceID, err := uuid.Parse(event.InvoiceID)
	if err != nil {
		p.logger.Warn("payment confirmation carries a malformed invoice reference",
			"provider", provider.Name(), "invoice_id", event.InvoiceID)
		return nil
	}

	inv, err := p.store.FindInvoiceByID(ctx, invoiceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			p.logger.Warn("payment confirmation references unknown invoice",
				"provider", provider.Name(), "invoice_id", invoiceID)
			return nil
		}
		return domain.Internal(err, op, "failed to load invoice")
	}

	amount := event.Amount
	if amount.IsZero() {
		amount = inv.TotalAmount
	}
	paidAt := event.OccurredAt
	if paidAt.IsZero() {
		paidAt = time.Now().UTC()
	}

	_, err = p.store.MarkInvoicePaid(ctx, inv.ClubID, inv.ID, store.MarkInvoicePaidParams{
		Amount:    domain.Round2(amount),
		Method:    provider.Name(),
		Reference: event.ID,
		PaidAt:    paidAt,
	})
	if err != nil {
		var transition *store.InvalidTransitionError
		if errors.As(err, &transition) {
			// Replayed or raced confirmation; the invoice is already settled
			// or was never published. Nothing further to apply.
			p.logger.Info("payment confirmation skipped",
				"invoice_id", inv.ID, "status", transition.Current)
			return nil
		}
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return domain.Internal(err, op, "failed to mark invoice paid")
	}

	p.metrics.InvoicesPaid.WithLabelValues(inv.ClubID.String(), "webhook").Inc()
	p.metrics.RevenueCollected.WithLabelValues(inv.ClubID.String(), "webhook").Add(amount.InexactFloat64())
	p.emitter.emit(ctx, events.SubjectInvoicePaid, events.Event{
		ClubID: inv.ClubID, EntityType: "invoice", EntityID: inv.ID,
		Detail: map[string]any{"amount": amount, "method": provider.Name()},
	})

	return nil
}
