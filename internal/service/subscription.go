package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pitchside/pitchside/internal/billing"
	"github.com/pitchside/pitchside/internal/domain"
	"github.com/pitchside/pitchside/internal/events"
	"github.com/pitchside/pitchside/internal/store"
	"github.com/pitchside/pitchside/internal/telemetry"
)

// Failed payments tolerated before a subscription is suspended.
const failedPaymentSuspendThreshold = 3

// SubscriptionStore is the persistence surface SubscriptionService depends on.
type SubscriptionStore interface {
	GetMembershipTier(ctx context.Context, clubID, tierID uuid.UUID) (*domain.MembershipTier, error)
	GuardianshipExists(ctx context.Context, parentUserID, childUserID uuid.UUID) (bool, error)
	InsertSubscription(ctx context.Context, sub *domain.Subscription) error
	GetSubscription(ctx context.Context, clubID, id uuid.UUID) (*domain.Subscription, error)
	ListSubscriptions(ctx context.Context, clubID uuid.UUID, filter store.ListSubscriptionFilter) ([]domain.Subscription, error)
	PauseSubscription(ctx context.Context, clubID, id uuid.UUID, pausedUntil *time.Time) (*domain.Subscription, error)
	ResumeSubscription(ctx context.Context, clubID, id uuid.UUID) (*domain.Subscription, error)
	SuspendSubscription(ctx context.Context, clubID *uuid.UUID, id uuid.UUID) (*domain.Subscription, error)
	ReactivateSubscription(ctx context.Context, clubID, id uuid.UUID) (*domain.Subscription, error)
	ActivateSubscription(ctx context.Context, id uuid.UUID) (*domain.Subscription, error)
	CancelSubscriptionNow(ctx context.Context, clubID *uuid.UUID, id uuid.UUID, reason string) (*domain.Subscription, error)
	ScheduleSubscriptionCancel(ctx context.Context, clubID, id uuid.UUID, reason string) (*domain.Subscription, error)
	ChangeSubscriptionTier(ctx context.Context, clubID, id, tierID uuid.UUID, amount decimal.Decimal) (*domain.Subscription, error)
	IncrementFailedPayments(ctx context.Context, id uuid.UUID) (int32, error)
	SetProviderLink(ctx context.Context, id uuid.UUID, providerSubID, providerStatus string) error
	SetProviderStatus(ctx context.Context, id uuid.UUID, providerStatus string) error
	FindSubscriptionByProviderID(ctx context.Context, provider, providerSubID string) (*domain.Subscription, error)
	ListUnsyncedSubscriptions(ctx context.Context, limit int32) ([]domain.Subscription, error)
	ListProviderLinkedSubscriptions(ctx context.Context, limit int32) ([]domain.Subscription, error)
	SubscriptionStats(ctx context.Context, clubID uuid.UUID) (*domain.SubscriptionStats, error)
}

// SubscriptionService owns the subscription lifecycle and its provider
// synchronization.
type SubscriptionService struct {
	store     SubscriptionStore
	resolver  *MandateResolver
	providers map[string]billing.Provider
	audit     AuditStore
	emitter   *emitter
	metrics   *telemetry.BusinessMetrics
	logger    *slog.Logger
	currency  string

	now func() time.Time
}

// NewSubscriptionService creates a SubscriptionService. providers maps
// provider names to their billing implementations; currency is the club
// platform currency (ISO 4217 lowercase).
func NewSubscriptionService(st SubscriptionStore, resolver *MandateResolver, providers map[string]billing.Provider, audit AuditStore, pub events.Publisher, outbox OutboxStore, metrics *telemetry.BusinessMetrics, logger *slog.Logger, currency string) *SubscriptionService {
	if currency == "" {
		currency = "gbp"
	}

	return &SubscriptionService{
		store:     st,
		resolver:  resolver,
		providers: providers,
		audit:     audit,
		emitter:   &emitter{pub: pub, outbox: outbox, logger: logger},
		metrics:   metrics,
		logger:    logger,
		currency:  currency,
		now:       time.Now,
	}
}

// CreateSubscriptionParams contains caller input for a new subscription.
type CreateSubscriptionParams struct {
	ParentUserID      uuid.UUID
	ChildUserID       uuid.UUID
	MembershipTierID  uuid.UUID
	BillingFrequency  domain.BillingFrequency
	BillingDayOfMonth int32
	PaymentMandateID  *uuid.UUID
	Provider          string
}

// CreateSubscription validates input, derives the recurring amount from the
// tier and persists the subscription in pending status. Provider-side
// creation happens asynchronously via the sync worker.
func (s *SubscriptionService) CreateSubscription(ctx context.Context, clubID uuid.UUID, actor domain.AuditContext, params CreateSubscriptionParams) (*domain.Subscription, error) {
	const op = "subscription.create"

	if !params.BillingFrequency.Valid() {
		return nil, domain.NewValidationError(op, "billingFrequency", "billing frequency must be monthly or annual")
	}
	if params.BillingDayOfMonth < 1 || params.BillingDayOfMonth > 28 {
		return nil, domain.NewValidationError(op, "billingDayOfMonth", "billing day must be between 1 and 28")
	}
	if _, ok := s.providers[params.Provider]; !ok {
		return nil, domain.NewValidationError(op, "provider", "unknown payment provider")
	}

	ok, err := s.store.GuardianshipExists(ctx, params.ParentUserID, params.ChildUserID)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to check guardianship")
	}
	if !ok {
		return nil, ErrNotGuardian
	}

	tier, err := s.store.GetMembershipTier(ctx, clubID, params.MembershipTierID)
	if err != nil {
		return nil, storeError(err, op, "membership tier", params.MembershipTierID.String())
	}

	sub := &domain.Subscription{
		ID:                uuid.New(),
		ClubID:            clubID,
		ParentUserID:      params.ParentUserID,
		ChildUserID:       params.ChildUserID,
		MembershipTierID:  tier.ID,
		Status:            domain.SubscriptionStatusPending,
		Amount:            tier.AmountFor(params.BillingFrequency),
		BillingFrequency:  params.BillingFrequency,
		BillingDayOfMonth: params.BillingDayOfMonth,
		PaymentMandateID:  params.PaymentMandateID,
		Provider:          params.Provider,
	}

	if err := s.store.InsertSubscription(ctx, sub); err != nil {
		return nil, domain.Internal(err, op, "failed to create subscription")
	}

	writeAudit(ctx, s.audit, s.logger, actor, clubID, "subscription.created", "subscription", sub.ID,
		map[string]any{"tier": tier.Name, "amount": sub.Amount, "frequency": sub.BillingFrequency})
	s.metrics.SubscriptionsCreated.WithLabelValues(clubID.String(), string(sub.BillingFrequency)).Inc()
	s.emitter.emit(ctx, events.SubjectSubscriptionCreated, events.Event{
		ClubID: clubID, EntityType: "subscription", EntityID: sub.ID,
	})

	return sub, nil
}

// GetSubscription returns a club's subscription.
func (s *SubscriptionService) GetSubscription(ctx context.Context, clubID, id uuid.UUID) (*domain.Subscription, error) {
	sub, err := s.store.GetSubscription(ctx, clubID, id)
	if err != nil {
		return nil, storeError(err, "subscription.get", "subscription", id.String())
	}
	return sub, nil
}

// ListSubscriptions returns club subscriptions, optionally filtered.
func (s *SubscriptionService) ListSubscriptions(ctx context.Context, clubID uuid.UUID, filter store.ListSubscriptionFilter) ([]domain.Subscription, error) {
	subs, err := s.store.ListSubscriptions(ctx, clubID, filter)
	if err != nil {
		return nil, domain.Internal(err, "subscription.list", "failed to list subscriptions")
	}
	return subs, nil
}

// Stats returns the club's subscription dashboard summary.
func (s *SubscriptionService) Stats(ctx context.Context, clubID uuid.UUID) (*domain.SubscriptionStats, error) {
	stats, err := s.store.SubscriptionStats(ctx, clubID)
	if err != nil {
		return nil, domain.Internal(err, "subscription.stats", "failed to load subscription stats")
	}
	return stats, nil
}

// ProrationResult is the outcome of a tier change.
type ProrationResult struct {
	Subscription *domain.Subscription `json:"subscription"`
	// Adjustment is the one-off charge covering the remainder of the
	// current period at the new price. Never negative; downgrades owe
	// nothing and are not refunded mid-period.
	Adjustment decimal.Decimal `json:"adjustment"`
}

func periodDays(freq domain.BillingFrequency) int64 {
	if freq == domain.BillingFrequencyAnnual {
		return 365
	}
	return 30
}

// prorate computes the one-off adjustment for switching from oldAmount to
// newAmount with the current period ending at periodEnd.
func (s *SubscriptionService) prorate(oldAmount, newAmount decimal.Decimal, freq domain.BillingFrequency, periodEnd *time.Time) decimal.Decimal {
	diff := newAmount.Sub(oldAmount)
	if !diff.IsPositive() || periodEnd == nil {
		return decimal.Zero
	}

	total := periodDays(freq)
	remaining := int64(time.Until(*periodEnd).Hours() / 24)
	if remaining <= 0 {
		return decimal.Zero
	}
	if remaining > total {
		remaining = total
	}

	ratio := decimal.NewFromInt(remaining).Div(decimal.NewFromInt(total))
	return domain.Round2(diff.Mul(ratio))
}

// ChangeTier repoints an active subscription at a new tier, updating the
// recurring amount and returning the prorated one-off adjustment.
func (s *SubscriptionService) ChangeTier(ctx context.Context, clubID, id uuid.UUID, actor domain.AuditContext, newTierID uuid.UUID) (*ProrationResult, error) {
	const op = "subscription.change_tier"

	current, err := s.store.GetSubscription(ctx, clubID, id)
	if err != nil {
		return nil, storeError(err, op, "subscription", id.String())
	}

	tier, err := s.store.GetMembershipTier(ctx, clubID, newTierID)
	if err != nil {
		return nil, storeError(err, op, "membership tier", newTierID.String())
	}
	if tier.ID == current.MembershipTierID {
		return nil, domain.Invalid(op, "subscription is already on this tier")
	}

	newAmount := tier.AmountFor(current.BillingFrequency)
	adjustment := s.prorate(current.Amount, newAmount, current.BillingFrequency, current.CurrentPeriodEnd)

	sub, err := s.store.ChangeSubscriptionTier(ctx, clubID, id, tier.ID, newAmount)
	if err != nil {
		return nil, storeError(err, op, "subscription", id.String())
	}

	writeAudit(ctx, s.audit, s.logger, actor, clubID, "subscription.tier_changed", "subscription", id,
		map[string]any{"tier": tier.Name, "amount": newAmount, "adjustment": adjustment})

	return &ProrationResult{Subscription: sub, Adjustment: adjustment}, nil
}

// Pause stops billing on an active subscription. pausedUntil is a hint for
// operators; nothing resumes automatically.
func (s *SubscriptionService) Pause(ctx context.Context, clubID, id uuid.UUID, actor domain.AuditContext, pausedUntil *time.Time) (*domain.Subscription, error) {
	const op = "subscription.pause"

	if pausedUntil != nil && pausedUntil.Before(s.now()) {
		return nil, domain.NewValidationError(op, "pausedUntil", "pause-until must be in the future")
	}

	sub, err := s.store.PauseSubscription(ctx, clubID, id, pausedUntil)
	if err != nil {
		return nil, storeError(err, op, "subscription", id.String())
	}

	writeAudit(ctx, s.audit, s.logger, actor, clubID, "subscription.paused", "subscription", id, nil)
	s.metrics.SubscriptionsPaused.WithLabelValues(clubID.String()).Inc()
	s.emitter.emit(ctx, events.SubjectSubscriptionPaused, events.Event{
		ClubID: clubID, EntityType: "subscription", EntityID: id,
	})

	return sub, nil
}

// Resume restarts billing on a paused subscription.
func (s *SubscriptionService) Resume(ctx context.Context, clubID, id uuid.UUID, actor domain.AuditContext) (*domain.Subscription, error) {
	const op = "subscription.resume"

	sub, err := s.store.ResumeSubscription(ctx, clubID, id)
	if err != nil {
		return nil, storeError(err, op, "subscription", id.String())
	}

	writeAudit(ctx, s.audit, s.logger, actor, clubID, "subscription.resumed", "subscription", id, nil)
	s.metrics.SubscriptionsResumed.WithLabelValues(clubID.String()).Inc()
	s.emitter.emit(ctx, events.SubjectSubscriptionResumed, events.Event{
		ClubID: clubID, EntityType: "subscription", EntityID: id,
	})

	return sub, nil
}

// Suspend is the manager-initiated suspension.
func (s *SubscriptionService) Suspend(ctx context.Context, clubID, id uuid.UUID, actor domain.AuditContext) (*domain.Subscription, error) {
	const op = "subscription.suspend"

	sub, err := s.store.SuspendSubscription(ctx, &clubID, id)
	if err != nil {
		return nil, storeError(err, op, "subscription", id.String())
	}

	writeAudit(ctx, s.audit, s.logger, actor, clubID, "subscription.suspended", "subscription", id, nil)
	s.metrics.SubscriptionsSuspended.WithLabelValues(clubID.String(), "manual").Inc()
	s.emitter.emit(ctx, events.SubjectSubscriptionSuspended, events.Event{
		ClubID: clubID, EntityType: "subscription", EntityID: id,
	})

	return sub, nil
}

// Reactivate lifts a suspension and resets the failed payment counter.
func (s *SubscriptionService) Reactivate(ctx context.Context, clubID, id uuid.UUID, actor domain.AuditContext) (*domain.Subscription, error) {
	const op = "subscription.reactivate"

	sub, err := s.store.ReactivateSubscription(ctx, clubID, id)
	if err != nil {
		return nil, storeError(err, op, "subscription", id.String())
	}

	writeAudit(ctx, s.audit, s.logger, actor, clubID, "subscription.reactivated", "subscription", id, nil)
	return sub, nil
}

// Cancel ends a subscription. Immediate cancellation takes local effect at
// once; otherwise the subscription stays active with cancel_at_period_end
// set until the provider confirms. Provider-side cancellation is attempted
// first so local state never runs ahead of it.
func (s *SubscriptionService) Cancel(ctx context.Context, clubID, id uuid.UUID, actor domain.AuditContext, immediate bool, reason string) (*domain.Subscription, error) {
	const op = "subscription.cancel"

	current, err := s.store.GetSubscription(ctx, clubID, id)
	if err != nil {
		return nil, storeError(err, op, "subscription", id.String())
	}
	if current.Status.Terminal() {
		return nil, domain.Conflict(op, "subscription is already cancelled")
	}

	if current.ProviderSubscriptionID != nil && *current.ProviderSubscriptionID != "" {
		provider, ok := s.providers[current.Provider]
		if !ok {
			return nil, domain.Internal(nil, op, fmt.Sprintf("no provider registered for %q", current.Provider))
		}
		if err := provider.CancelSubscription(ctx, *current.ProviderSubscriptionID, !immediate); err != nil {
			return nil, domain.WrapError(err, domain.EPAYMENT, op, "provider cancellation failed")
		}
	}

	var (
		sub  *domain.Subscription
		mode string
	)
	if immediate {
		sub, err = s.store.CancelSubscriptionNow(ctx, &clubID, id, reason)
		mode = "immediate"
	} else {
		sub, err = s.store.ScheduleSubscriptionCancel(ctx, clubID, id, reason)
		mode = "period_end"
	}
	if err != nil {
		return nil, storeError(err, op, "subscription", id.String())
	}

	writeAudit(ctx, s.audit, s.logger, actor, clubID, "subscription.cancelled", "subscription", id,
		map[string]any{"immediate": immediate, "reason": reason})
	s.metrics.SubscriptionsCancelled.WithLabelValues(clubID.String(), mode).Inc()
	if immediate {
		s.emitter.emit(ctx, events.SubjectSubscriptionCancelled, events.Event{
			ClubID: clubID, EntityType: "subscription", EntityID: id,
		})
	}

	return sub, nil
}

// RecordFailedPayment counts a provider-reported payment failure and
// suspends the subscription once the threshold is reached.
func (s *SubscriptionService) RecordFailedPayment(ctx context.Context, sub *domain.Subscription) error {
	const op = "subscription.record_failed_payment"

	count, err := s.store.IncrementFailedPayments(ctx, sub.ID)
	if err != nil {
		return storeError(err, op, "subscription", sub.ID.String())
	}

	s.metrics.PaymentsFailed.WithLabelValues(sub.ClubID.String(), sub.Provider).Inc()
	s.emitter.emit(ctx, events.SubjectPaymentFailed, events.Event{
		ClubID: sub.ClubID, EntityType: "subscription", EntityID: sub.ID,
		Detail: map[string]any{"failedPaymentCount": count},
	})

	if count < failedPaymentSuspendThreshold {
		return nil
	}

	if _, err := s.store.SuspendSubscription(ctx, nil, sub.ID); err != nil {
		var conflict *store.InvalidTransitionError
		if errors.As(err, &conflict) {
			// Already suspended or cancelled; the threshold has done its job.
			return nil
		}
		return storeError(err, op, "subscription", sub.ID.String())
	}

	s.logger.Warn("subscription suspended after repeated payment failures",
		"subscription_id", sub.ID, "failed_payments", count)
	s.metrics.SubscriptionsSuspended.WithLabelValues(sub.ClubID.String(), "failed_payments").Inc()
	s.emitter.emit(ctx, events.SubjectSubscriptionSuspended, events.Event{
		ClubID: sub.ClubID, EntityType: "subscription", EntityID: sub.ID,
		Detail: map[string]any{"reason": "failed_payments"},
	})

	return nil
}

// ActivateFromProvider flips a pending subscription to active once the
// provider reports it live. Non-pending subscriptions are left alone.
func (s *SubscriptionService) ActivateFromProvider(ctx context.Context, sub *domain.Subscription, providerStatus string) error {
	const op = "subscription.activate_from_provider"

	if err := s.store.SetProviderStatus(ctx, sub.ID, providerStatus); err != nil {
		return storeError(err, op, "subscription", sub.ID.String())
	}

	if sub.Status != domain.SubscriptionStatusPending {
		return nil
	}

	if _, err := s.store.ActivateSubscription(ctx, sub.ID); err != nil {
		var conflict *store.InvalidTransitionError
		if errors.As(err, &conflict) {
			return nil
		}
		return storeError(err, op, "subscription", sub.ID.String())
	}
	return nil
}

// MarkCancelledFromProvider applies a provider-confirmed cancellation.
func (s *SubscriptionService) MarkCancelledFromProvider(ctx context.Context, sub *domain.Subscription) error {
	const op = "subscription.mark_cancelled_from_provider"

	if _, err := s.store.CancelSubscriptionNow(ctx, nil, sub.ID, "cancelled by provider"); err != nil {
		var conflict *store.InvalidTransitionError
		if errors.As(err, &conflict) {
			// Already terminal; replayed webhook.
			return nil
		}
		return storeError(err, op, "subscription", sub.ID.String())
	}

	s.metrics.SubscriptionsCancelled.WithLabelValues(sub.ClubID.String(), "provider").Inc()
	s.emitter.emit(ctx, events.SubjectSubscriptionCancelled, events.Event{
		ClubID: sub.ClubID, EntityType: "subscription", EntityID: sub.ID,
	})
	return nil
}

// SyncProviderStatus mirrors the provider's reported status locally without
// changing the lifecycle status.
func (s *SubscriptionService) SyncProviderStatus(ctx context.Context, id uuid.UUID, providerStatus string) error {
	if err := s.store.SetProviderStatus(ctx, id, providerStatus); err != nil {
		return storeError(err, "subscription.sync_provider_status", "subscription", id.String())
	}
	return nil
}

// PushToProvider creates the provider-side subscription for a local one
// that has none, using the resolved mandate. Returns the diagnosis when the
// subscription is not pushable so workers can report why.
func (s *SubscriptionService) PushToProvider(ctx context.Context, sub *domain.Subscription) (*domain.SyncDiagnosis, error) {
	const op = "subscription.push_to_provider"

	diag, err := s.resolver.Diagnose(ctx, sub)
	if err != nil {
		return nil, err
	}
	if !diag.NeedsSync {
		return diag, nil
	}

	provider, ok := s.providers[sub.Provider]
	if !ok {
		return nil, domain.Internal(nil, op, fmt.Sprintf("no provider registered for %q", sub.Provider))
	}

	created, err := provider.CreateSubscription(ctx, billing.CreateSubscriptionParams{
		SubscriptionID: sub.ID.String(),
		MandateID:      *diag.Resolution.Mandate.ProviderMandateID,
		Amount:         sub.Amount,
		Currency:       s.currency,
		Interval:       string(sub.BillingFrequency),
		DayOfMonth:     sub.BillingDayOfMonth,
		Description:    "Club membership",
		Metadata:       map[string]string{"club_id": sub.ClubID.String()},
	})
	if err != nil {
		return nil, domain.WrapError(err, domain.EPAYMENT, op, "provider subscription creation failed")
	}

	if err := s.store.SetProviderLink(ctx, sub.ID, created.ID, created.Status); err != nil {
		return nil, storeError(err, op, "subscription", sub.ID.String())
	}

	s.logger.Info("pushed subscription to provider",
		"subscription_id", sub.ID, "provider", sub.Provider, "provider_subscription_id", created.ID)
	return diag, nil
}

// SyncDiagnostics diagnoses every subscription that should be on a provider
// but is not linked yet. Backs the admin diagnostics endpoint.
func (s *SubscriptionService) SyncDiagnostics(ctx context.Context, limit int32) ([]domain.SyncDiagnosis, error) {
	const op = "subscription.sync_diagnostics"

	unsynced, err := s.store.ListUnsyncedSubscriptions(ctx, limit)
	if err != nil {
		return nil, storeError(err, op, "subscription", "")
	}

	diagnoses := make([]domain.SyncDiagnosis, 0, len(unsynced))
	for i := range unsynced {
		diag, err := s.resolver.Diagnose(ctx, &unsynced[i])
		if err != nil {
			return nil, err
		}
		diagnoses = append(diagnoses, *diag)
	}
	return diagnoses, nil
}

// ReconcileFromProvider refreshes a provider-linked subscription from the
// provider's current view. A provider-side cancellation is applied locally;
// otherwise only the mirrored provider status is updated.
func (s *SubscriptionService) ReconcileFromProvider(ctx context.Context, sub *domain.Subscription) error {
	const op = "subscription.reconcile"

	if sub.ProviderSubscriptionID == nil || *sub.ProviderSubscriptionID == "" {
		return domain.Conflict(op, "subscription has no provider link")
	}

	provider, ok := s.providers[sub.Provider]
	if !ok {
		return domain.Internal(nil, op, fmt.Sprintf("no provider registered for %q", sub.Provider))
	}

	remote, err := provider.GetSubscription(ctx, *sub.ProviderSubscriptionID)
	if err != nil {
		if errors.Is(err, billing.ErrSubscriptionNotFound) {
			s.logger.Warn("provider no longer knows subscription",
				"subscription_id", sub.ID, "provider", sub.Provider,
				"provider_subscription_id", *sub.ProviderSubscriptionID)
			return s.SyncProviderStatus(ctx, sub.ID, "missing")
		}
		return domain.WrapError(err, domain.EPAYMENT, op, "provider lookup failed")
	}

	switch remote.Status {
	case "canceled", "cancelled", "finished":
		return s.MarkCancelledFromProvider(ctx, sub)
	default:
		return s.SyncProviderStatus(ctx, sub.ID, remote.Status)
	}
}

// FindByProviderID resolves a provider subscription reference.
func (s *SubscriptionService) FindByProviderID(ctx context.Context, provider, providerSubID string) (*domain.Subscription, error) {
	sub, err := s.store.FindSubscriptionByProviderID(ctx, provider, providerSubID)
	if err != nil {
		return nil, storeError(err, "subscription.find_by_provider_id", "subscription", providerSubID)
	}
	return sub, nil
}
