package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SubscriptionStatus is the lifecycle state of a recurring billing agreement.
type SubscriptionStatus string

const (
	SubscriptionStatusPending   SubscriptionStatus = "pending"
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusPaused    SubscriptionStatus = "paused"
	SubscriptionStatusSuspended SubscriptionStatus = "suspended"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

// Terminal reports whether no further status transition is permitted.
func (s SubscriptionStatus) Terminal() bool {
	return s == SubscriptionStatusCancelled
}

// BillingFrequency is how often a subscription bills.
type BillingFrequency string

const (
	BillingFrequencyMonthly BillingFrequency = "monthly"
	BillingFrequencyAnnual  BillingFrequency = "annual"
)

// Valid reports whether f is a known billing frequency.
func (f BillingFrequency) Valid() bool {
	return f == BillingFrequencyMonthly || f == BillingFrequencyAnnual
}

// Subscription is a recurring billing agreement between a payer and a club
// for a beneficiary at a membership tier. Local status and the provider's
// reported status may diverge until the sync worker reconciles them.
type Subscription struct {
	ID                         uuid.UUID          `json:"id"`
	ClubID                     uuid.UUID          `json:"clubId"`
	ParentUserID               uuid.UUID          `json:"parentUserId"`
	ChildUserID                uuid.UUID          `json:"childUserId"`
	MembershipTierID           uuid.UUID          `json:"membershipTierId"`
	Status                     SubscriptionStatus `json:"status"`
	Amount                     decimal.Decimal    `json:"amount"`
	BillingFrequency           BillingFrequency   `json:"billingFrequency"`
	BillingDayOfMonth          int32              `json:"billingDayOfMonth"`
	PaymentMandateID           *uuid.UUID         `json:"paymentMandateId,omitempty"`
	Provider                   string             `json:"provider"`
	ProviderSubscriptionID     *string            `json:"providerSubscriptionId,omitempty"`
	ProviderSubscriptionStatus *string            `json:"providerSubscriptionStatus,omitempty"`
	FailedPaymentCount         int32              `json:"failedPaymentCount"`
	CancelAtPeriodEnd          bool               `json:"cancelAtPeriodEnd"`
	CurrentPeriodEnd           *time.Time         `json:"currentPeriodEnd,omitempty"`
	PausedUntil                *time.Time         `json:"pausedUntil,omitempty"`
	CancellationReason         *string            `json:"cancellationReason,omitempty"`
	CancelledAt                *time.Time         `json:"cancelledAt,omitempty"`
	CreatedAt                  time.Time          `json:"createdAt"`
	UpdatedAt                  time.Time          `json:"updatedAt"`
}

// MembershipTier is the price point a subscription bills against.
type MembershipTier struct {
	ID           uuid.UUID        `json:"id"`
	ClubID       uuid.UUID        `json:"clubId"`
	Name         string           `json:"name"`
	MonthlyPrice decimal.Decimal  `json:"monthlyPrice"`
	AnnualPrice  *decimal.Decimal `json:"annualPrice,omitempty"`
}

// AmountFor returns the recurring amount for the tier at the given frequency.
// Annual billing uses the tier's annual price when set, otherwise 12x monthly.
func (t MembershipTier) AmountFor(freq BillingFrequency) decimal.Decimal {
	if freq == BillingFrequencyAnnual {
		if t.AnnualPrice != nil {
			return Round2(*t.AnnualPrice)
		}
		return Round2(t.MonthlyPrice.Mul(decimal.NewFromInt(12)))
	}
	return Round2(t.MonthlyPrice)
}

// SubscriptionStats is the manager-facing dashboard summary.
type SubscriptionStats struct {
	Total            int64           `json:"total"`
	Pending          int64           `json:"pending"`
	Active           int64           `json:"active"`
	Paused           int64           `json:"paused"`
	Suspended        int64           `json:"suspended"`
	Cancelled        int64           `json:"cancelled"`
	MonthlyRecurring decimal.Decimal `json:"monthlyRecurring"`
}

// AuditContext identifies who performed a mutating operation and from where.
// Every lifecycle mutation persists one audit row carrying this context.
type AuditContext struct {
	ActorType string    `json:"actorType"` // "user", "manager", "system", "webhook"
	ActorID   uuid.UUID `json:"actorId"`
	IPAddress string    `json:"ipAddress"`
	UserAgent string    `json:"userAgent"`
}

// AuditEntry is one persisted audit record.
type AuditEntry struct {
	ID         uuid.UUID `json:"id"`
	ClubID     uuid.UUID `json:"clubId"`
	ActorType  string    `json:"actorType"`
	ActorID    uuid.UUID `json:"actorId"`
	Action     string    `json:"action"`
	EntityType string    `json:"entityType"`
	EntityID   uuid.UUID `json:"entityId"`
	IPAddress  string    `json:"ipAddress"`
	UserAgent  string    `json:"userAgent"`
	Detail     []byte    `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}
