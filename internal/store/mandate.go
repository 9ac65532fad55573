package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/pitchside/pitchside/internal/domain"
)

const mandateColumns = `id, payment_customer_id, provider, provider_mandate_id, status, created_at`

func scanMandate(row pgx.Row) (*domain.PaymentMandate, error) {
	var (
		m                 domain.PaymentMandate
		id, customerID    pgtype.UUID
		providerMandateID pgtype.Text
	)
	err := row.Scan(&id, &customerID, &m.Provider, &providerMandateID, &m.Status, &m.CreatedAt)
	if err != nil {
		return nil, err
	}

	m.ID = fromPgUUID(id)
	m.PaymentCustomerID = fromPgUUID(customerID)
	m.ProviderMandateID = fromPgTextPtr(providerMandateID)
	return &m, nil
}

// GetMandate loads a payment mandate by id.
func (s *Store) GetMandate(ctx context.Context, id uuid.UUID) (*domain.PaymentMandate, error) {
	q := `SELECT ` + mandateColumns + ` FROM payment_mandates WHERE id = $1`

	m, err := scanMandate(s.pool.QueryRow(ctx, q, pgUUID(id)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get mandate: %w", err)
	}
	return m, nil
}

// GetPayerClubMandate returns the payer's best mandate for the club and
// provider: active mandates first, then newest. Used as the fallback when a
// subscription carries no direct mandate.
func (s *Store) GetPayerClubMandate(ctx context.Context, payerUserID, clubID uuid.UUID, provider string) (*domain.PaymentMandate, error) {
	q := `SELECT m.id, m.payment_customer_id, m.provider, m.provider_mandate_id, m.status, m.created_at
		FROM payment_mandates m
		JOIN payment_customers c ON c.id = m.payment_customer_id
		WHERE c.user_id = $1 AND c.club_id = $2 AND m.provider = $3
		ORDER BY (m.status = 'active') DESC, m.created_at DESC
		LIMIT 1`

	m, err := scanMandate(s.pool.QueryRow(ctx, q, pgUUID(payerUserID), pgUUID(clubID), provider))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get payer mandate: %w", err)
	}
	return m, nil
}

// UpdateMandateStatusByProviderID applies a provider-reported mandate
// status change. Returns ErrNotFound when no local mandate carries the
// provider id.
func (s *Store) UpdateMandateStatusByProviderID(ctx context.Context, provider, providerMandateID string, status domain.MandateStatus) (*domain.PaymentMandate, error) {
	q := `UPDATE payment_mandates SET status = $3, updated_at = now()
		WHERE provider = $1 AND provider_mandate_id = $2
		RETURNING ` + mandateColumns

	m, err := scanMandate(s.pool.QueryRow(ctx, q, provider, providerMandateID, string(status)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update mandate status: %w", err)
	}
	return m, nil
}
