package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitchside/pitchside/internal/billing"
	"github.com/pitchside/pitchside/internal/domain"
	"github.com/pitchside/pitchside/internal/events"
	"github.com/pitchside/pitchside/internal/store"
)

// mockSubscriptionStore implements SubscriptionStore with function fields.
type mockSubscriptionStore struct {
	getTierFunc         func(ctx context.Context, clubID, tierID uuid.UUID) (*domain.MembershipTier, error)
	guardianshipOKFunc  func(ctx context.Context, parentUserID, childUserID uuid.UUID) (bool, error)
	insertFunc          func(ctx context.Context, sub *domain.Subscription) error
	getFunc             func(ctx context.Context, clubID, id uuid.UUID) (*domain.Subscription, error)
	listFunc            func(ctx context.Context, clubID uuid.UUID, filter store.ListSubscriptionFilter) ([]domain.Subscription, error)
	pauseFunc           func(ctx context.Context, clubID, id uuid.UUID, pausedUntil *time.Time) (*domain.Subscription, error)
	resumeFunc          func(ctx context.Context, clubID, id uuid.UUID) (*domain.Subscription, error)
	suspendFunc         func(ctx context.Context, clubID *uuid.UUID, id uuid.UUID) (*domain.Subscription, error)
	reactivateFunc      func(ctx context.Context, clubID, id uuid.UUID) (*domain.Subscription, error)
	activateFunc        func(ctx context.Context, id uuid.UUID) (*domain.Subscription, error)
	cancelNowFunc       func(ctx context.Context, clubID *uuid.UUID, id uuid.UUID, reason string) (*domain.Subscription, error)
	scheduleCancelFunc  func(ctx context.Context, clubID, id uuid.UUID, reason string) (*domain.Subscription, error)
	changeTierFunc      func(ctx context.Context, clubID, id, tierID uuid.UUID, amount decimal.Decimal) (*domain.Subscription, error)
	incrementFailedFunc func(ctx context.Context, id uuid.UUID) (int32, error)
	setLinkFunc         func(ctx context.Context, id uuid.UUID, providerSubID, providerStatus string) error
	setStatusFunc       func(ctx context.Context, id uuid.UUID, providerStatus string) error
	findByProviderFunc  func(ctx context.Context, provider, providerSubID string) (*domain.Subscription, error)
	listUnsyncedFunc    func(ctx context.Context, limit int32) ([]domain.Subscription, error)
	listLinkedFunc      func(ctx context.Context, limit int32) ([]domain.Subscription, error)
	statsFunc           func(ctx context.Context, clubID uuid.UUID) (*domain.SubscriptionStats, error)
}

func (m *mockSubscriptionStore) GetMembershipTier(ctx context.Context, clubID, tierID uuid.UUID) (*domain.MembershipTier, error) {
	if m.getTierFunc != nil {
		return m.getTierFunc(ctx, clubID, tierID)
	}
	return &domain.MembershipTier{ID: tierID, ClubID: clubID, Name: "Standard", MonthlyPrice: dec("25.00")}, nil
}

func (m *mockSubscriptionStore) GuardianshipExists(ctx context.Context, parentUserID, childUserID uuid.UUID) (bool, error) {
	if m.guardianshipOKFunc != nil {
		return m.guardianshipOKFunc(ctx, parentUserID, childUserID)
	}
	return true, nil
}

func (m *mockSubscriptionStore) InsertSubscription(ctx context.Context, sub *domain.Subscription) error {
	if m.insertFunc != nil {
		return m.insertFunc(ctx, sub)
	}
	return nil
}

func (m *mockSubscriptionStore) GetSubscription(ctx context.Context, clubID, id uuid.UUID) (*domain.Subscription, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, clubID, id)
	}
	return nil, store.ErrNotFound
}

func (m *mockSubscriptionStore) ListSubscriptions(ctx context.Context, clubID uuid.UUID, filter store.ListSubscriptionFilter) ([]domain.Subscription, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, clubID, filter)
	}
	return nil, nil
}

func (m *mockSubscriptionStore) PauseSubscription(ctx context.Context, clubID, id uuid.UUID, pausedUntil *time.Time) (*domain.Subscription, error) {
	if m.pauseFunc != nil {
		return m.pauseFunc(ctx, clubID, id, pausedUntil)
	}
	return &domain.Subscription{ID: id, ClubID: clubID, Status: domain.SubscriptionStatusPaused}, nil
}

func (m *mockSubscriptionStore) ResumeSubscription(ctx context.Context, clubID, id uuid.UUID) (*domain.Subscription, error) {
	if m.resumeFunc != nil {
		return m.resumeFunc(ctx, clubID, id)
	}
	return &domain.Subscription{ID: id, ClubID: clubID, Status: domain.SubscriptionStatusActive}, nil
}

func (m *mockSubscriptionStore) SuspendSubscription(ctx context.Context, clubID *uuid.UUID, id uuid.UUID) (*domain.Subscription, error) {
	if m.suspendFunc != nil {
		return m.suspendFunc(ctx, clubID, id)
	}
	return &domain.Subscription{ID: id, Status: domain.SubscriptionStatusSuspended}, nil
}

func (m *mockSubscriptionStore) ReactivateSubscription(ctx context.Context, clubID, id uuid.UUID) (*domain.Subscription, error) {
	if m.reactivateFunc != nil {
		return m.reactivateFunc(ctx, clubID, id)
	}
	return &domain.Subscription{ID: id, ClubID: clubID, Status: domain.SubscriptionStatusActive}, nil
}

func (m *mockSubscriptionStore) ActivateSubscription(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	if m.activateFunc != nil {
		return m.activateFunc(ctx, id)
	}
	return &domain.Subscription{ID: id, Status: domain.SubscriptionStatusActive}, nil
}

func (m *mockSubscriptionStore) CancelSubscriptionNow(ctx context.Context, clubID *uuid.UUID, id uuid.UUID, reason string) (*domain.Subscription, error) {
	if m.cancelNowFunc != nil {
		return m.cancelNowFunc(ctx, clubID, id, reason)
	}
	return &domain.Subscription{ID: id, Status: domain.SubscriptionStatusCancelled}, nil
}

func (m *mockSubscriptionStore) ScheduleSubscriptionCancel(ctx context.Context, clubID, id uuid.UUID, reason string) (*domain.Subscription, error) {
	if m.scheduleCancelFunc != nil {
		return m.scheduleCancelFunc(ctx, clubID, id, reason)
	}
	return &domain.Subscription{ID: id, ClubID: clubID, Status: domain.SubscriptionStatusActive, CancelAtPeriodEnd: true}, nil
}

func (m *mockSubscriptionStore) ChangeSubscriptionTier(ctx context.Context, clubID, id, tierID uuid.UUID, amount decimal.Decimal) (*domain.Subscription, error) {
	if m.changeTierFunc != nil {
		return m.changeTierFunc(ctx, clubID, id, tierID, amount)
	}
	return &domain.Subscription{ID: id, ClubID: clubID, MembershipTierID: tierID, Amount: amount}, nil
}

func (m *mockSubscriptionStore) IncrementFailedPayments(ctx context.Context, id uuid.UUID) (int32, error) {
	if m.incrementFailedFunc != nil {
		return m.incrementFailedFunc(ctx, id)
	}
	return 1, nil
}

func (m *mockSubscriptionStore) SetProviderLink(ctx context.Context, id uuid.UUID, providerSubID, providerStatus string) error {
	if m.setLinkFunc != nil {
		return m.setLinkFunc(ctx, id, providerSubID, providerStatus)
	}
	return nil
}

func (m *mockSubscriptionStore) SetProviderStatus(ctx context.Context, id uuid.UUID, providerStatus string) error {
	if m.setStatusFunc != nil {
		return m.setStatusFunc(ctx, id, providerStatus)
	}
	return nil
}

func (m *mockSubscriptionStore) FindSubscriptionByProviderID(ctx context.Context, provider, providerSubID string) (*domain.Subscription, error) {
	if m.findByProviderFunc != nil {
		return m.findByProviderFunc(ctx, provider, providerSubID)
	}
	return nil, store.ErrNotFound
}

func (m *mockSubscriptionStore) ListUnsyncedSubscriptions(ctx context.Context, limit int32) ([]domain.Subscription, error) {
	if m.listUnsyncedFunc != nil {
		return m.listUnsyncedFunc(ctx, limit)
	}
	return nil, nil
}

func (m *mockSubscriptionStore) ListProviderLinkedSubscriptions(ctx context.Context, limit int32) ([]domain.Subscription, error) {
	if m.listLinkedFunc != nil {
		return m.listLinkedFunc(ctx, limit)
	}
	return nil, nil
}

func (m *mockSubscriptionStore) SubscriptionStats(ctx context.Context, clubID uuid.UUID) (*domain.SubscriptionStats, error) {
	if m.statsFunc != nil {
		return m.statsFunc(ctx, clubID)
	}
	return &domain.SubscriptionStats{}, nil
}

func newTestSubscriptionService(st *mockSubscriptionStore, mandates MandateStore, providers map[string]billing.Provider) *SubscriptionService {
	if mandates == nil {
		mandates = &mockMandateStore{}
	}
	if providers == nil {
		providers = map[string]billing.Provider{"mock": &billing.MockProvider{}}
	}
	resolver := NewMandateResolver(mandates, testLogger())
	return NewSubscriptionService(st, resolver, providers, &mockAuditStore{}, events.NoopPublisher{}, &mockOutboxStore{},
		testMetrics(), testLogger(), "gbp")
}

func validSubscriptionParams() CreateSubscriptionParams {
	return CreateSubscriptionParams{
		ParentUserID:      uuid.New(),
		ChildUserID:       uuid.New(),
		MembershipTierID:  uuid.New(),
		BillingFrequency:  domain.BillingFrequencyMonthly,
		BillingDayOfMonth: 1,
		Provider:          "mock",
	}
}

func strPtr(s string) *string { return &s }

// =============================================================================
// CREATE
// =============================================================================

func Test_CreateSubscription_RejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *CreateSubscriptionParams)
	}{
		{
			name:   "unknown billing frequency",
			mutate: func(p *CreateSubscriptionParams) { p.BillingFrequency = "weekly" },
		},
		{
			name:   "billing day zero",
			mutate: func(p *CreateSubscriptionParams) { p.BillingDayOfMonth = 0 },
		},
		{
			name:   "billing day past 28",
			mutate: func(p *CreateSubscriptionParams) { p.BillingDayOfMonth = 29 },
		},
		{
			name:   "unknown provider",
			mutate: func(p *CreateSubscriptionParams) { p.Provider = "paypal" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestSubscriptionService(&mockSubscriptionStore{}, nil, nil)
			params := validSubscriptionParams()
			tt.mutate(&params)

			_, err := svc.CreateSubscription(context.Background(), uuid.New(), domain.AuditContext{}, params)

			require.Error(t, err)
			assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
		})
	}
}

func Test_CreateSubscription_RequiresGuardianship(t *testing.T) {
	st := &mockSubscriptionStore{
		guardianshipOKFunc: func(ctx context.Context, parentUserID, childUserID uuid.UUID) (bool, error) {
			return false, nil
		},
	}
	svc := newTestSubscriptionService(st, nil, nil)

	_, err := svc.CreateSubscription(context.Background(), uuid.New(), domain.AuditContext{}, validSubscriptionParams())

	require.Error(t, err)
	assert.Equal(t, domain.EFORBIDDEN, domain.ErrorCode(err))
}

func Test_CreateSubscription_AmountDerivedFromTier(t *testing.T) {
	annual := dec("250.00")
	tests := []struct {
		name       string
		frequency  domain.BillingFrequency
		tier       domain.MembershipTier
		wantAmount string
	}{
		{
			name:       "monthly uses monthly price",
			frequency:  domain.BillingFrequencyMonthly,
			tier:       domain.MembershipTier{MonthlyPrice: dec("25.00"), AnnualPrice: &annual},
			wantAmount: "25",
		},
		{
			name:       "annual uses annual price when set",
			frequency:  domain.BillingFrequencyAnnual,
			tier:       domain.MembershipTier{MonthlyPrice: dec("25.00"), AnnualPrice: &annual},
			wantAmount: "250",
		},
		{
			name:       "annual falls back to 12x monthly",
			frequency:  domain.BillingFrequencyAnnual,
			tier:       domain.MembershipTier{MonthlyPrice: dec("25.00")},
			wantAmount: "300",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var inserted *domain.Subscription
			st := &mockSubscriptionStore{
				getTierFunc: func(ctx context.Context, clubID, tierID uuid.UUID) (*domain.MembershipTier, error) {
					tier := tt.tier
					tier.ID = tierID
					return &tier, nil
				},
				insertFunc: func(ctx context.Context, sub *domain.Subscription) error {
					inserted = sub
					return nil
				},
			}
			svc := newTestSubscriptionService(st, nil, nil)

			params := validSubscriptionParams()
			params.BillingFrequency = tt.frequency
			sub, err := svc.CreateSubscription(context.Background(), uuid.New(), domain.AuditContext{}, params)

			require.NoError(t, err)
			assert.Equal(t, tt.wantAmount, sub.Amount.String())
			assert.Equal(t, domain.SubscriptionStatusPending, inserted.Status)
		})
	}
}

// =============================================================================
// PRORATION
// =============================================================================

func Test_ChangeTier_ProrationNeverNegative(t *testing.T) {
	in15Days := time.Now().Add(15 * 24 * time.Hour)
	past := time.Now().Add(-24 * time.Hour)

	tests := []struct {
		name      string
		oldAmount string
		newTier   string
		frequency domain.BillingFrequency
		periodEnd *time.Time
		want      func(t *testing.T, adjustment decimal.Decimal)
	}{
		{
			name:      "upgrade mid-period charges the remaining share",
			oldAmount: "20.00",
			newTier:   "30.00",
			frequency: domain.BillingFrequencyMonthly,
			periodEnd: &in15Days,
			want: func(t *testing.T, adj decimal.Decimal) {
				// 10.00 difference x ~15/30 remaining. The day count
				// truncates, so allow one day of slack either side.
				assert.True(t, adj.GreaterThanOrEqual(dec("4.33")), "adjustment %s", adj)
				assert.True(t, adj.LessThanOrEqual(dec("5.00")), "adjustment %s", adj)
			},
		},
		{
			name:      "downgrade owes nothing",
			oldAmount: "30.00",
			newTier:   "20.00",
			frequency: domain.BillingFrequencyMonthly,
			periodEnd: &in15Days,
			want: func(t *testing.T, adj decimal.Decimal) {
				assert.True(t, adj.IsZero(), "adjustment %s", adj)
			},
		},
		{
			name:      "no period end means no adjustment",
			oldAmount: "20.00",
			newTier:   "30.00",
			frequency: domain.BillingFrequencyMonthly,
			periodEnd: nil,
			want: func(t *testing.T, adj decimal.Decimal) {
				assert.True(t, adj.IsZero(), "adjustment %s", adj)
			},
		},
		{
			name:      "period already over means no adjustment",
			oldAmount: "20.00",
			newTier:   "30.00",
			frequency: domain.BillingFrequencyMonthly,
			periodEnd: &past,
			want: func(t *testing.T, adj decimal.Decimal) {
				assert.True(t, adj.IsZero(), "adjustment %s", adj)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clubID, subID, oldTierID := uuid.New(), uuid.New(), uuid.New()
			st := &mockSubscriptionStore{
				getFunc: func(ctx context.Context, c, id uuid.UUID) (*domain.Subscription, error) {
					return &domain.Subscription{
						ID: subID, ClubID: clubID, MembershipTierID: oldTierID,
						Status: domain.SubscriptionStatusActive, Amount: dec(tt.oldAmount),
						BillingFrequency: tt.frequency, CurrentPeriodEnd: tt.periodEnd,
					}, nil
				},
				getTierFunc: func(ctx context.Context, c, tierID uuid.UUID) (*domain.MembershipTier, error) {
					return &domain.MembershipTier{ID: tierID, Name: "New", MonthlyPrice: dec(tt.newTier)}, nil
				},
			}
			svc := newTestSubscriptionService(st, nil, nil)

			result, err := svc.ChangeTier(context.Background(), clubID, subID, domain.AuditContext{}, uuid.New())

			require.NoError(t, err)
			assert.False(t, result.Adjustment.IsNegative(), "adjustment must never be negative")
			tt.want(t, result.Adjustment)
		})
	}
}

func Test_ChangeTier_SameTierRejected(t *testing.T) {
	clubID, subID, tierID := uuid.New(), uuid.New(), uuid.New()
	st := &mockSubscriptionStore{
		getFunc: func(ctx context.Context, c, id uuid.UUID) (*domain.Subscription, error) {
			return &domain.Subscription{ID: subID, ClubID: clubID, MembershipTierID: tierID,
				Status: domain.SubscriptionStatusActive, Amount: dec("25.00"),
				BillingFrequency: domain.BillingFrequencyMonthly}, nil
		},
	}
	svc := newTestSubscriptionService(st, nil, nil)

	_, err := svc.ChangeTier(context.Background(), clubID, subID, domain.AuditContext{}, tierID)

	require.Error(t, err)
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func Test_Pause_RejectsPastPausedUntil(t *testing.T) {
	svc := newTestSubscriptionService(&mockSubscriptionStore{}, nil, nil)
	past := time.Now().Add(-time.Hour)

	_, err := svc.Pause(context.Background(), uuid.New(), uuid.New(), domain.AuditContext{}, &past)

	require.Error(t, err)
	assert.Contains(t, domain.GetValidationFields(err), "pausedUntil")
}

func Test_Cancel_AlreadyCancelledConflicts(t *testing.T) {
	st := &mockSubscriptionStore{
		getFunc: func(ctx context.Context, clubID, id uuid.UUID) (*domain.Subscription, error) {
			return &domain.Subscription{ID: id, ClubID: clubID, Status: domain.SubscriptionStatusCancelled}, nil
		},
	}
	svc := newTestSubscriptionService(st, nil, nil)

	_, err := svc.Cancel(context.Background(), uuid.New(), uuid.New(), domain.AuditContext{}, true, "")

	require.Error(t, err)
	assert.Equal(t, domain.ECONFLICT, domain.ErrorCode(err))
}

func Test_Cancel_ProviderCancelledBeforeLocalState(t *testing.T) {
	provider := &billing.MockProvider{}
	cancelledLocally := false
	st := &mockSubscriptionStore{
		getFunc: func(ctx context.Context, clubID, id uuid.UUID) (*domain.Subscription, error) {
			return &domain.Subscription{
				ID: id, ClubID: clubID, Status: domain.SubscriptionStatusActive,
				Provider: "mock", ProviderSubscriptionID: strPtr("sub_123"),
			}, nil
		},
		cancelNowFunc: func(ctx context.Context, clubID *uuid.UUID, id uuid.UUID, reason string) (*domain.Subscription, error) {
			cancelledLocally = true
			return &domain.Subscription{ID: id, Status: domain.SubscriptionStatusCancelled}, nil
		},
	}
	svc := newTestSubscriptionService(st, nil, map[string]billing.Provider{"mock": provider})

	sub, err := svc.Cancel(context.Background(), uuid.New(), uuid.New(), domain.AuditContext{}, true, "left the club")

	require.NoError(t, err)
	assert.Equal(t, []string{"sub_123"}, provider.CancelCalls)
	assert.True(t, cancelledLocally)
	assert.Equal(t, domain.SubscriptionStatusCancelled, sub.Status)
}

func Test_Cancel_ProviderFailureLeavesLocalStateAlone(t *testing.T) {
	provider := &billing.MockProvider{
		CancelSubscriptionFunc: func(ctx context.Context, providerSubscriptionID string, atPeriodEnd bool) error {
			return errors.New("gateway timeout")
		},
	}
	cancelledLocally := false
	st := &mockSubscriptionStore{
		getFunc: func(ctx context.Context, clubID, id uuid.UUID) (*domain.Subscription, error) {
			return &domain.Subscription{
				ID: id, ClubID: clubID, Status: domain.SubscriptionStatusActive,
				Provider: "mock", ProviderSubscriptionID: strPtr("sub_123"),
			}, nil
		},
		cancelNowFunc: func(ctx context.Context, clubID *uuid.UUID, id uuid.UUID, reason string) (*domain.Subscription, error) {
			cancelledLocally = true
			return nil, nil
		},
	}
	svc := newTestSubscriptionService(st, nil, map[string]billing.Provider{"mock": provider})

	_, err := svc.Cancel(context.Background(), uuid.New(), uuid.New(), domain.AuditContext{}, true, "")

	require.Error(t, err)
	assert.Equal(t, domain.EPAYMENT, domain.ErrorCode(err))
	assert.False(t, cancelledLocally, "local cancel must not run ahead of the provider")
}

// =============================================================================
// FAILED PAYMENTS
// =============================================================================

func Test_RecordFailedPayment_SuspendsAtThreshold(t *testing.T) {
	tests := []struct {
		name        string
		count       int32
		wantSuspend bool
	}{
		{name: "first failure", count: 1, wantSuspend: false},
		{name: "second failure", count: 2, wantSuspend: false},
		{name: "third failure suspends", count: 3, wantSuspend: true},
		{name: "beyond threshold keeps suspending idempotently", count: 5, wantSuspend: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			suspended := false
			st := &mockSubscriptionStore{
				incrementFailedFunc: func(ctx context.Context, id uuid.UUID) (int32, error) {
					return tt.count, nil
				},
				suspendFunc: func(ctx context.Context, clubID *uuid.UUID, id uuid.UUID) (*domain.Subscription, error) {
					suspended = true
					return &domain.Subscription{ID: id, Status: domain.SubscriptionStatusSuspended}, nil
				},
			}
			svc := newTestSubscriptionService(st, nil, nil)

			sub := &domain.Subscription{ID: uuid.New(), ClubID: uuid.New(), Provider: "mock",
				Status: domain.SubscriptionStatusActive}
			err := svc.RecordFailedPayment(context.Background(), sub)

			require.NoError(t, err)
			assert.Equal(t, tt.wantSuspend, suspended)
		})
	}
}

func Test_RecordFailedPayment_AlreadySuspendedIsNotAnError(t *testing.T) {
	st := &mockSubscriptionStore{
		incrementFailedFunc: func(ctx context.Context, id uuid.UUID) (int32, error) {
			return 4, nil
		},
		suspendFunc: func(ctx context.Context, clubID *uuid.UUID, id uuid.UUID) (*domain.Subscription, error) {
			return nil, &store.InvalidTransitionError{Entity: "subscription", Current: "suspended"}
		},
	}
	svc := newTestSubscriptionService(st, nil, nil)

	err := svc.RecordFailedPayment(context.Background(), &domain.Subscription{ID: uuid.New(), ClubID: uuid.New()})

	assert.NoError(t, err)
}

// =============================================================================
// PROVIDER SYNC
// =============================================================================

func Test_PushToProvider_CreatesAndLinks(t *testing.T) {
	mandateID := uuid.New()
	provider := &billing.MockProvider{
		CreateSubscriptionFunc: func(ctx context.Context, params billing.CreateSubscriptionParams) (*billing.ProviderSubscription, error) {
			return &billing.ProviderSubscription{ID: "sub_new", Status: "pending_customer_approval"}, nil
		},
	}
	var linkedID, linkedStatus string
	st := &mockSubscriptionStore{
		setLinkFunc: func(ctx context.Context, id uuid.UUID, providerSubID, providerStatus string) error {
			linkedID, linkedStatus = providerSubID, providerStatus
			return nil
		},
	}
	mandates := &mockMandateStore{
		getFunc: func(ctx context.Context, id uuid.UUID) (*domain.PaymentMandate, error) {
			return &domain.PaymentMandate{ID: id, Status: domain.MandateStatusActive,
				ProviderMandateID: strPtr("MD0001")}, nil
		},
	}
	svc := newTestSubscriptionService(st, mandates, map[string]billing.Provider{"mock": provider})

	sub := &domain.Subscription{
		ID: uuid.New(), ClubID: uuid.New(), Status: domain.SubscriptionStatusPending,
		Provider: "mock", PaymentMandateID: &mandateID, Amount: dec("25.00"),
		BillingFrequency: domain.BillingFrequencyMonthly, BillingDayOfMonth: 5,
	}
	diag, err := svc.PushToProvider(context.Background(), sub)

	require.NoError(t, err)
	assert.True(t, diag.NeedsSync)
	require.Len(t, provider.CreateCalls, 1)
	assert.Equal(t, "MD0001", provider.CreateCalls[0].MandateID)
	assert.Equal(t, sub.ID.String(), provider.CreateCalls[0].SubscriptionID)
	assert.Equal(t, "gbp", provider.CreateCalls[0].Currency)
	assert.Equal(t, "sub_new", linkedID)
	assert.Equal(t, "pending_customer_approval", linkedStatus)
}

func Test_PushToProvider_BlockedSubscriptionDoesNotTouchProvider(t *testing.T) {
	provider := &billing.MockProvider{}
	mandates := &mockMandateStore{
		getPayerFunc: func(ctx context.Context, payerUserID, clubID uuid.UUID, providerName string) (*domain.PaymentMandate, error) {
			return nil, store.ErrNotFound
		},
	}
	svc := newTestSubscriptionService(&mockSubscriptionStore{}, mandates, map[string]billing.Provider{"mock": provider})

	sub := &domain.Subscription{ID: uuid.New(), Status: domain.SubscriptionStatusPending, Provider: "mock"}
	diag, err := svc.PushToProvider(context.Background(), sub)

	require.NoError(t, err)
	assert.False(t, diag.NeedsSync)
	assert.Equal(t, []domain.SyncBlocker{domain.BlockerNoMandate}, diag.Blockers)
	assert.Empty(t, provider.CreateCalls)
}

func Test_ReconcileFromProvider_AppliesRemoteState(t *testing.T) {
	tests := []struct {
		name           string
		remote         *billing.ProviderSubscription
		remoteErr      error
		wantCancelled  bool
		wantStatusSync string
	}{
		{
			name:           "remote cancellation cancels locally",
			remote:         &billing.ProviderSubscription{ID: "sub_1", Status: "cancelled"},
			wantCancelled:  true,
			wantStatusSync: "",
		},
		{
			name:           "remote active mirrors the status",
			remote:         &billing.ProviderSubscription{ID: "sub_1", Status: "active"},
			wantStatusSync: "active",
		},
		{
			name:           "provider no longer knows the subscription",
			remoteErr:      billing.ErrSubscriptionNotFound,
			wantStatusSync: "missing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &billing.MockProvider{
				GetSubscriptionFunc: func(ctx context.Context, id string) (*billing.ProviderSubscription, error) {
					return tt.remote, tt.remoteErr
				},
			}
			cancelled := false
			var syncedStatus string
			st := &mockSubscriptionStore{
				cancelNowFunc: func(ctx context.Context, clubID *uuid.UUID, id uuid.UUID, reason string) (*domain.Subscription, error) {
					cancelled = true
					return &domain.Subscription{ID: id, Status: domain.SubscriptionStatusCancelled}, nil
				},
				setStatusFunc: func(ctx context.Context, id uuid.UUID, providerStatus string) error {
					syncedStatus = providerStatus
					return nil
				},
			}
			svc := newTestSubscriptionService(st, nil, map[string]billing.Provider{"mock": provider})

			sub := &domain.Subscription{ID: uuid.New(), ClubID: uuid.New(), Provider: "mock",
				Status: domain.SubscriptionStatusActive, ProviderSubscriptionID: strPtr("sub_1")}
			err := svc.ReconcileFromProvider(context.Background(), sub)

			require.NoError(t, err)
			assert.Equal(t, tt.wantCancelled, cancelled)
			assert.Equal(t, tt.wantStatusSync, syncedStatus)
		})
	}
}

func Test_ReconcileFromProvider_RequiresProviderLink(t *testing.T) {
	svc := newTestSubscriptionService(&mockSubscriptionStore{}, nil, nil)

	err := svc.ReconcileFromProvider(context.Background(), &domain.Subscription{ID: uuid.New(), Provider: "mock"})

	require.Error(t, err)
	assert.Equal(t, domain.ECONFLICT, domain.ErrorCode(err))
}
