package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/pitchside/pitchside/internal/domain"
)

const subscriptionColumns = `id, club_id, parent_user_id, child_user_id,
	membership_tier_id, status, amount, billing_frequency, billing_day_of_month,
	payment_mandate_id, provider, provider_subscription_id,
	provider_subscription_status, failed_payment_count, cancel_at_period_end,
	current_period_end, paused_until, cancellation_reason, cancelled_at,
	created_at, updated_at`

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var (
		sub                                    domain.Subscription
		id, clubID, parentID, childID, tierID  pgtype.UUID
		mandateID                              pgtype.UUID
		amount                                 pgtype.Numeric
		providerSubID, providerSubStatus       pgtype.Text
		cancelReason                           pgtype.Text
		periodEnd, pausedUntil, cancelledAt    pgtype.Timestamptz
	)

	err := row.Scan(&id, &clubID, &parentID, &childID, &tierID,
		&sub.Status, &amount, &sub.BillingFrequency, &sub.BillingDayOfMonth,
		&mandateID, &sub.Provider, &providerSubID, &providerSubStatus,
		&sub.FailedPaymentCount, &sub.CancelAtPeriodEnd,
		&periodEnd, &pausedUntil, &cancelReason, &cancelledAt,
		&sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}

	sub.ID = fromPgUUID(id)
	sub.ClubID = fromPgUUID(clubID)
	sub.ParentUserID = fromPgUUID(parentID)
	sub.ChildUserID = fromPgUUID(childID)
	sub.MembershipTierID = fromPgUUID(tierID)
	sub.PaymentMandateID = fromPgUUIDPtr(mandateID)
	sub.Amount = fromPgNumeric(amount)
	sub.ProviderSubscriptionID = fromPgTextPtr(providerSubID)
	sub.ProviderSubscriptionStatus = fromPgTextPtr(providerSubStatus)
	sub.CurrentPeriodEnd = fromPgTimePtr(periodEnd)
	sub.PausedUntil = fromPgTimePtr(pausedUntil)
	sub.CancellationReason = fromPgTextPtr(cancelReason)
	sub.CancelledAt = fromPgTimePtr(cancelledAt)

	return &sub, nil
}

// GetMembershipTier loads a club's tier by id.
func (s *Store) GetMembershipTier(ctx context.Context, clubID, tierID uuid.UUID) (*domain.MembershipTier, error) {
	const q = `SELECT id, club_id, name, monthly_price, annual_price
		FROM membership_tiers WHERE id = $1 AND club_id = $2`

	var (
		tier                  domain.MembershipTier
		id, club              pgtype.UUID
		monthly, annual       pgtype.Numeric
	)
	err := s.pool.QueryRow(ctx, q, pgUUID(tierID), pgUUID(clubID)).
		Scan(&id, &club, &tier.Name, &monthly, &annual)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get membership tier: %w", err)
	}

	tier.ID = fromPgUUID(id)
	tier.ClubID = fromPgUUID(club)
	tier.MonthlyPrice = fromPgNumeric(monthly)
	tier.AnnualPrice = fromPgNumericPtr(annual)
	return &tier, nil
}

// InsertSubscription persists a new subscription in pending status.
func (s *Store) InsertSubscription(ctx context.Context, sub *domain.Subscription) error {
	const q = `
		INSERT INTO subscriptions (id, club_id, parent_user_id, child_user_id,
			membership_tier_id, status, amount, billing_frequency,
			billing_day_of_month, payment_mandate_id, provider)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`

	err := s.pool.QueryRow(ctx, q,
		pgUUID(sub.ID), pgUUID(sub.ClubID), pgUUID(sub.ParentUserID),
		pgUUID(sub.ChildUserID), pgUUID(sub.MembershipTierID),
		string(sub.Status), pgNumeric(sub.Amount), string(sub.BillingFrequency),
		sub.BillingDayOfMonth, pgUUIDPtr(sub.PaymentMandateID), sub.Provider,
	).Scan(&sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert subscription: %w", err)
	}
	return nil
}

// GetSubscription loads a club's subscription by id.
func (s *Store) GetSubscription(ctx context.Context, clubID, id uuid.UUID) (*domain.Subscription, error) {
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1 AND club_id = $2`

	sub, err := scanSubscription(s.pool.QueryRow(ctx, q, pgUUID(id), pgUUID(clubID)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// ListSubscriptionFilter narrows ListSubscriptions. Nil fields are skipped.
type ListSubscriptionFilter struct {
	Status       *domain.SubscriptionStatus
	ParentUserID *uuid.UUID
	Limit        int32
	Offset       int32
}

// ListSubscriptions returns club subscriptions newest first.
func (s *Store) ListSubscriptions(ctx context.Context, clubID uuid.UUID, filter ListSubscriptionFilter) ([]domain.Subscription, error) {
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE club_id = $1
		AND ($2::text IS NULL OR status = $2)
		AND ($3::uuid IS NULL OR parent_user_id = $3)
		ORDER BY created_at DESC, id
		LIMIT $4 OFFSET $5`

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var status pgtype.Text
	if filter.Status != nil {
		status = pgText(string(*filter.Status))
	}

	rows, err := s.pool.Query(ctx, q, pgUUID(clubID), status, pgUUIDPtr(filter.ParentUserID), limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// lockSubscriptionStatus locks the subscription row and returns its current
// status. A nil clubID skips club scoping (webhook and worker paths have no
// club context).
func lockSubscriptionStatus(ctx context.Context, tx pgx.Tx, clubID *uuid.UUID, id uuid.UUID) (domain.SubscriptionStatus, error) {
	const q = `SELECT status FROM subscriptions
		WHERE id = $1 AND ($2::uuid IS NULL OR club_id = $2) FOR UPDATE`

	var status domain.SubscriptionStatus
	if err := tx.QueryRow(ctx, q, pgUUID(id), pgUUIDPtr(clubID)).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to lock subscription: %w", err)
	}
	return status, nil
}

func subStatusAllowed(current domain.SubscriptionStatus, allowed []domain.SubscriptionStatus) bool {
	for _, a := range allowed {
		if current == a {
			return true
		}
	}
	return false
}

// transitionSubscription applies setClause under a row lock after checking
// the current status against allowedFrom. setClause may reference $3...;
// args follow id and clubID.
func (s *Store) transitionSubscription(ctx context.Context, clubID *uuid.UUID, id uuid.UUID, allowedFrom []domain.SubscriptionStatus, setClause string, args ...any) (*domain.Subscription, error) {
	update := `UPDATE subscriptions SET ` + setClause + `, updated_at = now()
		WHERE id = $1 RETURNING ` + subscriptionColumns

	var sub *domain.Subscription
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		status, err := lockSubscriptionStatus(ctx, tx, clubID, id)
		if err != nil {
			return err
		}
		if !subStatusAllowed(status, allowedFrom) {
			return &InvalidTransitionError{Entity: "subscription", Current: string(status)}
		}

		qargs := append([]any{pgUUID(id)}, args...)
		sub, err = scanSubscription(tx.QueryRow(ctx, update, qargs...))
		if err != nil {
			return fmt.Errorf("failed to transition subscription: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// PauseSubscription moves an active subscription to paused. pausedUntil is
// an operator hint only; nothing resumes automatically.
func (s *Store) PauseSubscription(ctx context.Context, clubID, id uuid.UUID, pausedUntil *time.Time) (*domain.Subscription, error) {
	return s.transitionSubscription(ctx, &clubID, id,
		[]domain.SubscriptionStatus{domain.SubscriptionStatusActive},
		`status = $2, paused_until = $3`,
		string(domain.SubscriptionStatusPaused), pgTimePtr(pausedUntil))
}

// ResumeSubscription moves a paused subscription back to active.
func (s *Store) ResumeSubscription(ctx context.Context, clubID, id uuid.UUID) (*domain.Subscription, error) {
	return s.transitionSubscription(ctx, &clubID, id,
		[]domain.SubscriptionStatus{domain.SubscriptionStatusPaused},
		`status = $2, paused_until = NULL`,
		string(domain.SubscriptionStatusActive))
}

// SuspendSubscription moves an active or pending subscription to suspended.
// A nil clubID is the system path (failed-payment threshold).
func (s *Store) SuspendSubscription(ctx context.Context, clubID *uuid.UUID, id uuid.UUID) (*domain.Subscription, error) {
	return s.transitionSubscription(ctx, clubID, id,
		[]domain.SubscriptionStatus{domain.SubscriptionStatusActive, domain.SubscriptionStatusPending},
		`status = $2`,
		string(domain.SubscriptionStatusSuspended))
}

// ReactivateSubscription moves a suspended subscription back to active and
// resets the failed payment counter.
func (s *Store) ReactivateSubscription(ctx context.Context, clubID, id uuid.UUID) (*domain.Subscription, error) {
	return s.transitionSubscription(ctx, &clubID, id,
		[]domain.SubscriptionStatus{domain.SubscriptionStatusSuspended},
		`status = $2, failed_payment_count = 0`,
		string(domain.SubscriptionStatusActive))
}

// ActivateSubscription moves a pending subscription to active once the
// provider confirms it.
func (s *Store) ActivateSubscription(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	return s.transitionSubscription(ctx, nil, id,
		[]domain.SubscriptionStatus{domain.SubscriptionStatusPending},
		`status = $2`,
		string(domain.SubscriptionStatusActive))
}

var nonTerminalStatuses = []domain.SubscriptionStatus{
	domain.SubscriptionStatusPending,
	domain.SubscriptionStatusActive,
	domain.SubscriptionStatusPaused,
	domain.SubscriptionStatusSuspended,
}

// CancelSubscriptionNow moves any non-terminal subscription to cancelled.
// A nil clubID is the webhook path (provider-confirmed cancellation).
func (s *Store) CancelSubscriptionNow(ctx context.Context, clubID *uuid.UUID, id uuid.UUID, reason string) (*domain.Subscription, error) {
	return s.transitionSubscription(ctx, clubID, id, nonTerminalStatuses,
		`status = $2, cancellation_reason = $3, cancelled_at = now(), cancel_at_period_end = FALSE`,
		string(domain.SubscriptionStatusCancelled), pgText(reason))
}

// ScheduleSubscriptionCancel flags an active subscription to cancel at the
// end of the current period. Local status stays active until the provider
// confirms the cancellation.
func (s *Store) ScheduleSubscriptionCancel(ctx context.Context, clubID, id uuid.UUID, reason string) (*domain.Subscription, error) {
	return s.transitionSubscription(ctx, &clubID, id,
		[]domain.SubscriptionStatus{domain.SubscriptionStatusActive},
		`cancel_at_period_end = TRUE, cancellation_reason = $2`,
		pgText(reason))
}

// ChangeSubscriptionTier repoints an active subscription at a new tier and
// recurring amount.
func (s *Store) ChangeSubscriptionTier(ctx context.Context, clubID, id, tierID uuid.UUID, amount decimal.Decimal) (*domain.Subscription, error) {
	return s.transitionSubscription(ctx, &clubID, id,
		[]domain.SubscriptionStatus{domain.SubscriptionStatusActive},
		`membership_tier_id = $2, amount = $3`,
		pgUUID(tierID), pgNumeric(amount))
}

// IncrementFailedPayments bumps the failed payment counter and returns the
// new count. No status guard: providers may report failures in any state.
func (s *Store) IncrementFailedPayments(ctx context.Context, id uuid.UUID) (int32, error) {
	const q = `UPDATE subscriptions
		SET failed_payment_count = failed_payment_count + 1, updated_at = now()
		WHERE id = $1 RETURNING failed_payment_count`

	var count int32
	if err := s.pool.QueryRow(ctx, q, pgUUID(id)).Scan(&count); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to increment failed payments: %w", err)
	}
	return count, nil
}

// SetProviderLink records the provider-side subscription id and status
// after a successful provider create.
func (s *Store) SetProviderLink(ctx context.Context, id uuid.UUID, providerSubID, providerStatus string) error {
	const q = `UPDATE subscriptions
		SET provider_subscription_id = $2, provider_subscription_status = $3, updated_at = now()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, q, pgUUID(id), providerSubID, pgText(providerStatus))
	if err != nil {
		return fmt.Errorf("failed to set provider link: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetProviderStatus mirrors the provider's reported status without touching
// the local lifecycle status.
func (s *Store) SetProviderStatus(ctx context.Context, id uuid.UUID, providerStatus string) error {
	const q = `UPDATE subscriptions
		SET provider_subscription_status = $2, updated_at = now()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, q, pgUUID(id), pgText(providerStatus))
	if err != nil {
		return fmt.Errorf("failed to set provider status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FindSubscriptionByProviderID resolves a webhook's provider subscription
// reference to the local row.
func (s *Store) FindSubscriptionByProviderID(ctx context.Context, provider, providerSubID string) (*domain.Subscription, error) {
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions
		WHERE provider = $1 AND provider_subscription_id = $2`

	sub, err := scanSubscription(s.pool.QueryRow(ctx, q, provider, providerSubID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find subscription by provider id: %w", err)
	}
	return sub, nil
}

// ListUnsyncedSubscriptions returns pending or active subscriptions that
// have no provider-side subscription yet, across all clubs. The sync worker
// pages through these.
func (s *Store) ListUnsyncedSubscriptions(ctx context.Context, limit int32) ([]domain.Subscription, error) {
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions
		WHERE status IN ($1, $2) AND provider_subscription_id IS NULL
		ORDER BY created_at, id
		LIMIT $3`

	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, q,
		string(domain.SubscriptionStatusPending),
		string(domain.SubscriptionStatusActive), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unsynced subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// ListProviderLinkedSubscriptions returns non-cancelled subscriptions that
// carry a provider id, for the status-pull half of the sync worker.
func (s *Store) ListProviderLinkedSubscriptions(ctx context.Context, limit int32) ([]domain.Subscription, error) {
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions
		WHERE provider_subscription_id IS NOT NULL AND status <> $1
		ORDER BY updated_at, id
		LIMIT $2`

	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, q, string(domain.SubscriptionStatusCancelled), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list provider-linked subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// SubscriptionStats aggregates club counts by status plus the normalized
// monthly recurring total over active subscriptions (annual amounts /12).
func (s *Store) SubscriptionStats(ctx context.Context, clubID uuid.UUID) (*domain.SubscriptionStats, error) {
	const q = `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'active'),
			COUNT(*) FILTER (WHERE status = 'paused'),
			COUNT(*) FILTER (WHERE status = 'suspended'),
			COUNT(*) FILTER (WHERE status = 'cancelled'),
			COALESCE(SUM(CASE
				WHEN status = 'active' AND billing_frequency = 'monthly' THEN amount
				WHEN status = 'active' AND billing_frequency = 'annual' THEN amount / 12
				ELSE 0
			END), 0)
		FROM subscriptions WHERE club_id = $1`

	var (
		stats domain.SubscriptionStats
		mrr   pgtype.Numeric
	)
	err := s.pool.QueryRow(ctx, q, pgUUID(clubID)).Scan(
		&stats.Total, &stats.Pending, &stats.Active, &stats.Paused,
		&stats.Suspended, &stats.Cancelled, &mrr)
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription stats: %w", err)
	}

	stats.MonthlyRecurring = domain.Round2(fromPgNumeric(mrr))
	return &stats, nil
}
