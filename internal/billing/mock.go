package billing

import (
	"context"
)

// MockProvider is a hand-written Provider double for tests. Unset function
// fields return zero values so tests only stub what they exercise.
type MockProvider struct {
	ProviderName string

	VerifyWebhookSignatureFunc func(payload []byte, signature string) error
	ParseWebhookEventsFunc     func(payload []byte) ([]WebhookEvent, error)
	CreateSubscriptionFunc     func(ctx context.Context, params CreateSubscriptionParams) (*ProviderSubscription, error)
	GetSubscriptionFunc        func(ctx context.Context, providerSubscriptionID string) (*ProviderSubscription, error)
	CancelSubscriptionFunc     func(ctx context.Context, providerSubscriptionID string, atPeriodEnd bool) error

	// CreateCalls records every CreateSubscription invocation.
	CreateCalls []CreateSubscriptionParams
	// CancelCalls records every CancelSubscription invocation.
	CancelCalls []string
}

var _ Provider = (*MockProvider)(nil)

func (m *MockProvider) Name() string {
	if m.ProviderName != "" {
		return m.ProviderName
	}
	return "mock"
}

func (m *MockProvider) SignatureHeader() string { return "Mock-Signature" }

func (m *MockProvider) VerifyWebhookSignature(payload []byte, signature string) error {
	if m.VerifyWebhookSignatureFunc != nil {
		return m.VerifyWebhookSignatureFunc(payload, signature)
	}
	return nil
}

func (m *MockProvider) ParseWebhookEvents(payload []byte) ([]WebhookEvent, error) {
	if m.ParseWebhookEventsFunc != nil {
		return m.ParseWebhookEventsFunc(payload)
	}
	return nil, nil
}

func (m *MockProvider) CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*ProviderSubscription, error) {
	m.CreateCalls = append(m.CreateCalls, params)
	if m.CreateSubscriptionFunc != nil {
		return m.CreateSubscriptionFunc(ctx, params)
	}
	return &ProviderSubscription{ID: "mock_sub", Status: "active"}, nil
}

func (m *MockProvider) GetSubscription(ctx context.Context, providerSubscriptionID string) (*ProviderSubscription, error) {
	if m.GetSubscriptionFunc != nil {
		return m.GetSubscriptionFunc(ctx, providerSubscriptionID)
	}
	return &ProviderSubscription{ID: providerSubscriptionID, Status: "active"}, nil
}

func (m *MockProvider) CancelSubscription(ctx context.Context, providerSubscriptionID string, atPeriodEnd bool) error {
	m.CancelCalls = append(m.CancelCalls, providerSubscriptionID)
	if m.CancelSubscriptionFunc != nil {
		return m.CancelSubscriptionFunc(ctx, providerSubscriptionID, atPeriodEnd)
	}
	return nil
}
