package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitchside/pitchside/internal/domain"
	"github.com/pitchside/pitchside/internal/store"
)

// mockMandateStore implements MandateStore with function fields.
type mockMandateStore struct {
	getFunc      func(ctx context.Context, id uuid.UUID) (*domain.PaymentMandate, error)
	getPayerFunc func(ctx context.Context, payerUserID, clubID uuid.UUID, provider string) (*domain.PaymentMandate, error)
}

func (m *mockMandateStore) GetMandate(ctx context.Context, id uuid.UUID) (*domain.PaymentMandate, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, id)
	}
	return nil, store.ErrNotFound
}

func (m *mockMandateStore) GetPayerClubMandate(ctx context.Context, payerUserID, clubID uuid.UUID, provider string) (*domain.PaymentMandate, error) {
	if m.getPayerFunc != nil {
		return m.getPayerFunc(ctx, payerUserID, clubID, provider)
	}
	return nil, store.ErrNotFound
}

func activeMandate(providerID string) *domain.PaymentMandate {
	m := &domain.PaymentMandate{ID: uuid.New(), Status: domain.MandateStatusActive}
	if providerID != "" {
		m.ProviderMandateID = &providerID
	}
	return m
}

// =============================================================================
// RESOLVE
// =============================================================================

func Test_Resolve_DirectMandateWins(t *testing.T) {
	mandateID := uuid.New()
	direct := activeMandate("MD_direct")
	direct.ID = mandateID
	payerCalled := false

	st := &mockMandateStore{
		getFunc: func(ctx context.Context, id uuid.UUID) (*domain.PaymentMandate, error) {
			return direct, nil
		},
		getPayerFunc: func(ctx context.Context, payerUserID, clubID uuid.UUID, provider string) (*domain.PaymentMandate, error) {
			payerCalled = true
			return activeMandate("MD_payer"), nil
		},
	}
	resolver := NewMandateResolver(st, testLogger())

	resolution, err := resolver.Resolve(context.Background(), &domain.Subscription{
		ID: uuid.New(), PaymentMandateID: &mandateID, Provider: "gocardless",
	})

	require.NoError(t, err)
	assert.Equal(t, domain.MandateSourceDirect, resolution.Source)
	assert.Equal(t, mandateID, resolution.Mandate.ID)
	assert.False(t, payerCalled, "payer fallback must not be consulted when a direct mandate is attached")
}

func Test_Resolve_FallsBackToPayerMandate(t *testing.T) {
	payer := activeMandate("MD_payer")
	st := &mockMandateStore{
		getPayerFunc: func(ctx context.Context, payerUserID, clubID uuid.UUID, provider string) (*domain.PaymentMandate, error) {
			return payer, nil
		},
	}
	resolver := NewMandateResolver(st, testLogger())

	resolution, err := resolver.Resolve(context.Background(), &domain.Subscription{
		ID: uuid.New(), ParentUserID: uuid.New(), ClubID: uuid.New(), Provider: "gocardless",
	})

	require.NoError(t, err)
	assert.Equal(t, domain.MandateSourcePayer, resolution.Source)
	assert.Equal(t, payer.ID, resolution.Mandate.ID)
}

func Test_Resolve_UnusableDirectMandateFallsBackToPayer(t *testing.T) {
	mandateID := uuid.New()
	payer := activeMandate("MD_payer")
	tests := []struct {
		name   string
		direct *domain.PaymentMandate
	}{
		{
			name:   "direct mandate still pending",
			direct: &domain.PaymentMandate{ID: mandateID, Status: domain.MandateStatusPending},
		},
		{
			name:   "direct mandate active but unsynced",
			direct: &domain.PaymentMandate{ID: mandateID, Status: domain.MandateStatusActive},
		},
		{
			name:   "direct mandate missing",
			direct: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &mockMandateStore{
				getFunc: func(ctx context.Context, id uuid.UUID) (*domain.PaymentMandate, error) {
					if tt.direct == nil {
						return nil, store.ErrNotFound
					}
					return tt.direct, nil
				},
				getPayerFunc: func(ctx context.Context, payerUserID, clubID uuid.UUID, provider string) (*domain.PaymentMandate, error) {
					return payer, nil
				},
			}
			resolver := NewMandateResolver(st, testLogger())

			resolution, err := resolver.Resolve(context.Background(), &domain.Subscription{
				ID: uuid.New(), ParentUserID: uuid.New(), ClubID: uuid.New(),
				PaymentMandateID: &mandateID, Provider: "gocardless",
			})

			require.NoError(t, err)
			assert.Equal(t, domain.MandateSourcePayer, resolution.Source)
			assert.Equal(t, payer.ID, resolution.Mandate.ID)
		})
	}
}

func Test_Resolve_NoUsableMandateIsPaymentError(t *testing.T) {
	mandateID := uuid.New()
	tests := []struct {
		name string
		sub  *domain.Subscription
		st   *mockMandateStore
	}{
		{
			name: "direct mandate missing",
			sub:  &domain.Subscription{ID: uuid.New(), PaymentMandateID: &mandateID},
			st:   &mockMandateStore{},
		},
		{
			name: "direct mandate cancelled",
			sub:  &domain.Subscription{ID: uuid.New(), PaymentMandateID: &mandateID},
			st: &mockMandateStore{
				getFunc: func(ctx context.Context, id uuid.UUID) (*domain.PaymentMandate, error) {
					return &domain.PaymentMandate{ID: id, Status: domain.MandateStatusCancelled}, nil
				},
			},
		},
		{
			name: "direct mandate has no provider id",
			sub:  &domain.Subscription{ID: uuid.New(), PaymentMandateID: &mandateID},
			st: &mockMandateStore{
				getFunc: func(ctx context.Context, id uuid.UUID) (*domain.PaymentMandate, error) {
					return &domain.PaymentMandate{ID: id, Status: domain.MandateStatusActive}, nil
				},
			},
		},
		{
			name: "no payer mandate",
			sub:  &domain.Subscription{ID: uuid.New(), ParentUserID: uuid.New(), ClubID: uuid.New()},
			st:   &mockMandateStore{},
		},
		{
			name: "payer mandate pending",
			sub:  &domain.Subscription{ID: uuid.New(), ParentUserID: uuid.New(), ClubID: uuid.New()},
			st: &mockMandateStore{
				getPayerFunc: func(ctx context.Context, payerUserID, clubID uuid.UUID, provider string) (*domain.PaymentMandate, error) {
					return &domain.PaymentMandate{ID: uuid.New(), Status: domain.MandateStatusPending}, nil
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := NewMandateResolver(tt.st, testLogger())

			_, err := resolver.Resolve(context.Background(), tt.sub)

			require.Error(t, err)
			assert.Equal(t, domain.EPAYMENT, domain.ErrorCode(err))
		})
	}
}

// =============================================================================
// DIAGNOSE
// =============================================================================

func Test_Diagnose_ReportsLeadingBlocker(t *testing.T) {
	mandateID := uuid.New()
	tests := []struct {
		name        string
		sub         *domain.Subscription
		st          *mockMandateStore
		wantBlocker domain.SyncBlocker
	}{
		{
			name:        "cancelled subscription is not syncable",
			sub:         &domain.Subscription{ID: uuid.New(), Status: domain.SubscriptionStatusCancelled},
			st:          &mockMandateStore{},
			wantBlocker: domain.BlockerStatusNotSyncable,
		},
		{
			name:        "no mandate anywhere",
			sub:         &domain.Subscription{ID: uuid.New(), Status: domain.SubscriptionStatusPending},
			st:          &mockMandateStore{},
			wantBlocker: domain.BlockerNoMandate,
		},
		{
			name: "direct mandate not active",
			sub:  &domain.Subscription{ID: uuid.New(), Status: domain.SubscriptionStatusPending, PaymentMandateID: &mandateID},
			st: &mockMandateStore{
				getFunc: func(ctx context.Context, id uuid.UUID) (*domain.PaymentMandate, error) {
					return &domain.PaymentMandate{ID: id, Status: domain.MandateStatusFailed}, nil
				},
			},
			wantBlocker: domain.BlockerDirectMandateNotActive,
		},
		{
			name: "payer mandate not active",
			sub:  &domain.Subscription{ID: uuid.New(), Status: domain.SubscriptionStatusActive, ParentUserID: uuid.New()},
			st: &mockMandateStore{
				getPayerFunc: func(ctx context.Context, payerUserID, clubID uuid.UUID, provider string) (*domain.PaymentMandate, error) {
					return &domain.PaymentMandate{ID: uuid.New(), Status: domain.MandateStatusPending}, nil
				},
			},
			wantBlocker: domain.BlockerPayerMandateNotActive,
		},
		{
			name: "active mandate without provider id",
			sub:  &domain.Subscription{ID: uuid.New(), Status: domain.SubscriptionStatusPending, PaymentMandateID: &mandateID},
			st: &mockMandateStore{
				getFunc: func(ctx context.Context, id uuid.UUID) (*domain.PaymentMandate, error) {
					return &domain.PaymentMandate{ID: id, Status: domain.MandateStatusActive}, nil
				},
			},
			wantBlocker: domain.BlockerMandateMissingProviderID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := NewMandateResolver(tt.st, testLogger())

			diag, err := resolver.Diagnose(context.Background(), tt.sub)

			require.NoError(t, err)
			assert.False(t, diag.NeedsSync)
			assert.Nil(t, diag.Resolution)
			require.Len(t, diag.Blockers, 1, "exactly one leading blocker per subscription")
			assert.Equal(t, tt.wantBlocker, diag.Blockers[0])
		})
	}
}

func Test_Diagnose_UnusableDirectMandateFallsBackToPayer(t *testing.T) {
	mandateID := uuid.New()
	st := &mockMandateStore{
		getFunc: func(ctx context.Context, id uuid.UUID) (*domain.PaymentMandate, error) {
			return &domain.PaymentMandate{ID: id, Status: domain.MandateStatusPending}, nil
		},
		getPayerFunc: func(ctx context.Context, payerUserID, clubID uuid.UUID, provider string) (*domain.PaymentMandate, error) {
			return activeMandate("MD_payer"), nil
		},
	}
	resolver := NewMandateResolver(st, testLogger())

	diag, err := resolver.Diagnose(context.Background(), &domain.Subscription{
		ID: uuid.New(), Status: domain.SubscriptionStatusPending,
		ParentUserID: uuid.New(), ClubID: uuid.New(),
		PaymentMandateID: &mandateID, Provider: "gocardless",
	})

	require.NoError(t, err)
	assert.True(t, diag.NeedsSync)
	assert.Empty(t, diag.Blockers)
	require.NotNil(t, diag.Resolution)
	assert.Equal(t, domain.MandateSourcePayer, diag.Resolution.Source)
	assert.Equal(t, "MD_payer", *diag.Resolution.Mandate.ProviderMandateID)
}

func Test_Diagnose_AlreadyLinkedNeedsNothing(t *testing.T) {
	linked := "sub_existing"
	st := &mockMandateStore{}
	resolver := NewMandateResolver(st, testLogger())

	diag, err := resolver.Diagnose(context.Background(), &domain.Subscription{
		ID: uuid.New(), Status: domain.SubscriptionStatusActive, ProviderSubscriptionID: &linked,
	})

	require.NoError(t, err)
	assert.False(t, diag.NeedsSync)
	assert.Empty(t, diag.Blockers)
}

func Test_Diagnose_ReadySubscriptionNeedsSync(t *testing.T) {
	st := &mockMandateStore{
		getPayerFunc: func(ctx context.Context, payerUserID, clubID uuid.UUID, provider string) (*domain.PaymentMandate, error) {
			return activeMandate("MD0042"), nil
		},
	}
	resolver := NewMandateResolver(st, testLogger())

	sub := &domain.Subscription{ID: uuid.New(), Status: domain.SubscriptionStatusPending,
		ParentUserID: uuid.New(), ClubID: uuid.New(), Provider: "gocardless"}
	diag, err := resolver.Diagnose(context.Background(), sub)

	require.NoError(t, err)
	assert.True(t, diag.NeedsSync)
	assert.Empty(t, diag.Blockers)
	require.NotNil(t, diag.Resolution)
	assert.Equal(t, domain.MandateSourcePayer, diag.Resolution.Source)
	assert.Equal(t, "MD0042", *diag.Resolution.Mandate.ProviderMandateID)
	assert.Equal(t, sub.ID, diag.SubscriptionID)
}
