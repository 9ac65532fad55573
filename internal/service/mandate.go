package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/pitchside/pitchside/internal/domain"
	"github.com/pitchside/pitchside/internal/store"
)

// MandateStore is the persistence surface MandateResolver depends on.
type MandateStore interface {
	GetMandate(ctx context.Context, id uuid.UUID) (*domain.PaymentMandate, error)
	GetPayerClubMandate(ctx context.Context, payerUserID, clubID uuid.UUID, provider string) (*domain.PaymentMandate, error)
}

// MandateResolver decides which mandate backs a subscription's charges.
// A usable mandate attached directly to the subscription wins; when none is
// attached, or the attached one is not usable, the payer's club-level
// mandate applies as a fallback.
type MandateResolver struct {
	store  MandateStore
	logger *slog.Logger
}

// NewMandateResolver creates a MandateResolver.
func NewMandateResolver(st MandateStore, logger *slog.Logger) *MandateResolver {
	return &MandateResolver{store: st, logger: logger}
}

// Resolve returns the usable mandate for the subscription and where it came
// from. Returns an EPAYMENT error when neither the direct mandate nor the
// payer fallback is usable; Diagnose explains why.
func (r *MandateResolver) Resolve(ctx context.Context, sub *domain.Subscription) (*domain.MandateResolution, error) {
	const op = "mandate.resolve"

	if sub.PaymentMandateID != nil {
		mandate, err := r.store.GetMandate(ctx, *sub.PaymentMandateID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, domain.Internal(err, op, "failed to load mandate")
		}
		if mandate.Usable() {
			return &domain.MandateResolution{Mandate: mandate, Source: domain.MandateSourceDirect}, nil
		}
		// Direct mandate missing or not usable; fall through to the payer.
	}

	mandate, err := r.store.GetPayerClubMandate(ctx, sub.ParentUserID, sub.ClubID, sub.Provider)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.Errorf(domain.EPAYMENT, op, "no usable payment mandate on subscription or payer")
		}
		return nil, domain.Internal(err, op, "failed to load payer mandate")
	}
	if !mandate.Usable() {
		return nil, domain.Errorf(domain.EPAYMENT, op, "payer mandate is not usable")
	}
	return &domain.MandateResolution{Mandate: mandate, Source: domain.MandateSourcePayer}, nil
}

// Diagnose reports whether the subscription can be pushed to its provider,
// and if not, the single leading blocker. A subscription with an unusable
// direct mandate still syncs when the payer fallback is usable; the direct
// mandate's blocker is reported only when the fallback fails too.
func (r *MandateResolver) Diagnose(ctx context.Context, sub *domain.Subscription) (*domain.SyncDiagnosis, error) {
	const op = "mandate.diagnose"

	diag := &domain.SyncDiagnosis{SubscriptionID: sub.ID, Blockers: []domain.SyncBlocker{}}

	if sub.Status != domain.SubscriptionStatusPending && sub.Status != domain.SubscriptionStatusActive {
		diag.Blockers = append(diag.Blockers, domain.BlockerStatusNotSyncable)
		return diag, nil
	}

	// Already linked to the provider: nothing to push, nothing blocking.
	if sub.ProviderSubscriptionID != nil && *sub.ProviderSubscriptionID != "" {
		return diag, nil
	}

	// The direct mandate's blocker takes precedence over the fallback's when
	// neither side is usable.
	var directBlocker *domain.SyncBlocker
	if sub.PaymentMandateID != nil {
		m, err := r.store.GetMandate(ctx, *sub.PaymentMandateID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, domain.Internal(err, op, "failed to load mandate")
		}
		switch b := blockerFor(m, domain.BlockerDirectMandateNotActive); {
		case b == nil:
			diag.NeedsSync = true
			diag.Resolution = &domain.MandateResolution{Mandate: m, Source: domain.MandateSourceDirect}
			return diag, nil
		case *b != domain.BlockerNoMandate:
			directBlocker = b
		}
	}

	m, err := r.store.GetPayerClubMandate(ctx, sub.ParentUserID, sub.ClubID, sub.Provider)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, domain.Internal(err, op, "failed to load payer mandate")
	}
	if b := blockerFor(m, domain.BlockerPayerMandateNotActive); b != nil {
		if directBlocker != nil {
			b = directBlocker
		}
		diag.Blockers = append(diag.Blockers, *b)
		return diag, nil
	}

	diag.NeedsSync = true
	diag.Resolution = &domain.MandateResolution{Mandate: m, Source: domain.MandateSourcePayer}
	return diag, nil
}

// blockerFor classifies one mandate: nil means it is usable, otherwise the
// single reason it is not. notActive names which side's mandate was inactive.
func blockerFor(m *domain.PaymentMandate, notActive domain.SyncBlocker) *domain.SyncBlocker {
	var b domain.SyncBlocker
	switch {
	case m == nil:
		b = domain.BlockerNoMandate
	case m.Status != domain.MandateStatusActive:
		b = notActive
	case m.ProviderMandateID == nil || *m.ProviderMandateID == "":
		b = domain.BlockerMandateMissingProviderID
	default:
		return nil
	}
	return &b
}
