package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gcSign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func Test_GoCardless_VerifyWebhookSignature(t *testing.T) {
	provider := NewGoCardlessProvider("token", "whsec_test", true)
	payload := []byte(`{"events":[]}`)

	tests := []struct {
		name      string
		signature string
		wantErr   bool
	}{
		{name: "valid signature", signature: gcSign("whsec_test", payload)},
		{name: "wrong secret", signature: gcSign("whsec_other", payload), wantErr: true},
		{name: "tampered signature", signature: "deadbeef", wantErr: true},
		{name: "empty signature", signature: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := provider.VerifyWebhookSignature(payload, tt.signature)

			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSignature)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func Test_GoCardless_ParseWebhookEvents(t *testing.T) {
	provider := NewGoCardlessProvider("token", "whsec_test", true)

	payload := []byte(`{
		"events": [
			{
				"id": "EV001",
				"created_at": "2026-03-01T12:00:00.000Z",
				"resource_type": "payments",
				"action": "confirmed",
				"links": {"payment": "PM001", "subscription": "SB001"},
				"resource_metadata": {"invoice_id": "4f9c7e4e-9a9e-4f43-9d3b-1f2a6a1f0b77"}
			},
			{
				"id": "EV002",
				"created_at": "2026-03-01T12:01:00.000Z",
				"resource_type": "payments",
				"action": "failed",
				"links": {"payment": "PM002", "subscription": "SB001"}
			},
			{
				"id": "EV003",
				"created_at": "2026-03-01T12:02:00.000Z",
				"resource_type": "mandates",
				"action": "cancelled",
				"links": {"mandate": "MD001"}
			},
			{
				"id": "EV004",
				"created_at": "2026-03-01T12:03:00.000Z",
				"resource_type": "subscriptions",
				"action": "finished",
				"links": {"subscription": "SB002"}
			},
			{
				"id": "EV005",
				"created_at": "2026-03-01T12:04:00.000Z",
				"resource_type": "payouts",
				"action": "paid",
				"links": {}
			}
		]
	}`)

	events, err := provider.ParseWebhookEvents(payload)

	require.NoError(t, err)
	require.Len(t, events, 5)

	confirmed := events[0]
	assert.Equal(t, "EV001", confirmed.ID)
	assert.Equal(t, EventPaymentConfirmed, confirmed.Kind)
	assert.Equal(t, "payments.confirmed", confirmed.Type)
	assert.Equal(t, "4f9c7e4e-9a9e-4f43-9d3b-1f2a6a1f0b77", confirmed.InvoiceID)
	assert.Equal(t, "SB001", confirmed.ProviderSubscriptionID)
	assert.False(t, confirmed.OccurredAt.IsZero())

	failed := events[1]
	assert.Equal(t, EventPaymentFailed, failed.Kind)
	assert.Empty(t, failed.InvoiceID, "failed payment without metadata carries no invoice reference")

	mandate := events[2]
	assert.Equal(t, EventMandateCancelled, mandate.Kind)
	assert.Equal(t, "MD001", mandate.ProviderMandateID)

	subscription := events[3]
	assert.Equal(t, EventSubscriptionCancelled, subscription.Kind)
	assert.Equal(t, "SB002", subscription.ProviderSubscriptionID)

	payout := events[4]
	assert.Equal(t, EventUnknown, payout.Kind, "resource types the engine ignores map to unknown")
}

func Test_GoCardless_ParseWebhookEvents_MandateActions(t *testing.T) {
	tests := []struct {
		action string
		want   EventKind
	}{
		{action: "active", want: EventMandateActive},
		{action: "reinstated", want: EventMandateActive},
		{action: "failed", want: EventMandateFailed},
		{action: "cancelled", want: EventMandateCancelled},
		{action: "expired", want: EventMandateCancelled},
		{action: "submitted", want: EventUnknown},
	}

	provider := NewGoCardlessProvider("token", "whsec_test", true)
	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			payload := []byte(`{"events":[{"id":"EV1","resource_type":"mandates","action":"` + tt.action + `","links":{"mandate":"MD1"}}]}`)

			events, err := provider.ParseWebhookEvents(payload)

			require.NoError(t, err)
			require.Len(t, events, 1)
			assert.Equal(t, tt.want, events[0].Kind)
		})
	}
}

func Test_GoCardless_ParseWebhookEvents_RejectsMalformedBody(t *testing.T) {
	provider := NewGoCardlessProvider("token", "whsec_test", true)

	_, err := provider.ParseWebhookEvents([]byte(`{"events": [`))

	assert.Error(t, err)
}

func Test_GoCardless_IntervalMapping(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "monthly", want: "monthly"},
		{in: "annual", want: "yearly"},
		{in: "weekly", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := gcInterval(tt.in)

			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
