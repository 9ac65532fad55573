package domain

import (
	"time"

	"github.com/google/uuid"
)

// MandateStatus is the state of a payer's debit authorization at a provider.
type MandateStatus string

const (
	MandateStatusPending   MandateStatus = "pending"
	MandateStatusActive    MandateStatus = "active"
	MandateStatusFailed    MandateStatus = "failed"
	MandateStatusCancelled MandateStatus = "cancelled"
)

// PaymentCustomer is a payer's identity at a payment provider, scoped to a
// club. A payer who pays two clubs has two customer records.
type PaymentCustomer struct {
	ID                 uuid.UUID `json:"id"`
	UserID             uuid.UUID `json:"userId"`
	ClubID             uuid.UUID `json:"clubId"`
	Provider           string    `json:"provider"`
	ProviderCustomerID string    `json:"providerCustomerId"`
	CreatedAt          time.Time `json:"createdAt"`
}

// PaymentMandate is a payer's standing authorization for a provider to
// debit them, attached to a PaymentCustomer.
type PaymentMandate struct {
	ID                uuid.UUID     `json:"id"`
	PaymentCustomerID uuid.UUID     `json:"paymentCustomerId"`
	Provider          string        `json:"provider"`
	ProviderMandateID *string       `json:"providerMandateId,omitempty"`
	Status            MandateStatus `json:"status"`
	CreatedAt         time.Time     `json:"createdAt"`
}

// Usable reports whether the mandate can back a billing attempt: it must be
// active and carry a provider-assigned identifier.
func (m *PaymentMandate) Usable() bool {
	return m != nil && m.Status == MandateStatusActive &&
		m.ProviderMandateID != nil && *m.ProviderMandateID != ""
}

// MandateSource says which side of the payer relationship a resolved
// mandate came from.
type MandateSource string

const (
	MandateSourceDirect MandateSource = "direct" // the subscription's own mandate
	MandateSourcePayer  MandateSource = "payer"  // fallback to the payer's club mandate
)

// MandateResolution is the outcome of resolving a usable mandate for a
// subscription. Direct mandates take precedence over the payer fallback.
type MandateResolution struct {
	Mandate *PaymentMandate `json:"mandate"`
	Source  MandateSource   `json:"source"`
}

// SyncBlocker is one human-readable reason a subscription cannot be pushed
// to the provider. Exactly one leading blocker is reported per subscription.
type SyncBlocker string

const (
	BlockerStatusNotSyncable        SyncBlocker = "subscription status is not active or pending"
	BlockerNoMandate                SyncBlocker = "no payment mandate on subscription or payer"
	BlockerDirectMandateNotActive   SyncBlocker = "direct mandate exists but is not active"
	BlockerPayerMandateNotActive    SyncBlocker = "payer mandate exists but is not active"
	BlockerMandateMissingProviderID SyncBlocker = "mandate has no provider identifier"
)

// SyncDiagnosis explains, per subscription, whether the sync worker can act
// and why not when it cannot.
type SyncDiagnosis struct {
	SubscriptionID uuid.UUID          `json:"subscriptionId"`
	NeedsSync      bool               `json:"needsSync"`
	Resolution     *MandateResolution `json:"resolution,omitempty"`
	Blockers       []SyncBlocker      `json:"blockers"`
}
