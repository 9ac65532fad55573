package billing

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	gocardlessLiveURL    = "https://api.gocardless.com"
	gocardlessSandboxURL = "https://api-sandbox.gocardless.com"
	gocardlessAPIVersion = "2015-07-06"
)

// GoCardlessProvider implements Provider against the GoCardless REST API.
type GoCardlessProvider struct {
	accessToken   string
	webhookSecret string
	baseURL       string
	httpClient    *http.Client
}

// NewGoCardlessProvider creates a GoCardless billing provider. sandbox
// selects the sandbox API host.
func NewGoCardlessProvider(accessToken, webhookSecret string, sandbox bool) *GoCardlessProvider {
	baseURL := gocardlessLiveURL
	if sandbox {
		baseURL = gocardlessSandboxURL
	}

	return &GoCardlessProvider{
		accessToken:   accessToken,
		webhookSecret: webhookSecret,
		baseURL:       baseURL,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *GoCardlessProvider) Name() string { return ProviderGoCardless }

func (p *GoCardlessProvider) SignatureHeader() string { return "Webhook-Signature" }

// VerifyWebhookSignature checks the Webhook-Signature header, which carries
// a hex-encoded HMAC-SHA256 of the raw body keyed by the endpoint secret.
func (p *GoCardlessProvider) VerifyWebhookSignature(payload []byte, signature string) error {
	mac := hmac.New(sha256.New, []byte(p.webhookSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}

// gcEvent is one entry of the GoCardless webhook envelope. The engine
// relies on resource_metadata to carry local ids set at resource creation.
type gcEvent struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	ResourceType string    `json:"resource_type"`
	Action       string    `json:"action"`
	Links        struct {
		Payment      string `json:"payment"`
		Mandate      string `json:"mandate"`
		Subscription string `json:"subscription"`
	} `json:"links"`
	ResourceMetadata map[string]string `json:"resource_metadata"`
}

// ParseWebhookEvents maps a GoCardless webhook envelope, which batches
// several events per request, into provider-neutral events.
func (p *GoCardlessProvider) ParseWebhookEvents(payload []byte) ([]WebhookEvent, error) {
	var envelope struct {
		Events []gcEvent `json:"events"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse gocardless webhook: %w", err)
	}

	events := make([]WebhookEvent, 0, len(envelope.Events))
	for _, e := range envelope.Events {
		out := WebhookEvent{
			ID:                     e.ID,
			Kind:                   EventUnknown,
			Type:                   e.ResourceType + "." + e.Action,
			ProviderSubscriptionID: e.Links.Subscription,
			ProviderMandateID:      e.Links.Mandate,
			OccurredAt:             e.CreatedAt,
		}

		switch e.ResourceType {
		case "payments":
			out.InvoiceID = e.ResourceMetadata["invoice_id"]
			switch e.Action {
			case "confirmed", "paid_out":
				out.Kind = EventPaymentConfirmed
			case "failed", "charged_back":
				out.Kind = EventPaymentFailed
			}
		case "mandates":
			switch e.Action {
			case "active", "reinstated":
				out.Kind = EventMandateActive
			case "failed":
				out.Kind = EventMandateFailed
			case "cancelled", "expired":
				out.Kind = EventMandateCancelled
			}
		case "subscriptions":
			switch e.Action {
			case "created", "resumed":
				out.Kind = EventSubscriptionActive
			case "cancelled", "finished":
				out.Kind = EventSubscriptionCancelled
			}
		}

		events = append(events, out)
	}

	return events, nil
}

func gcInterval(interval string) (string, error) {
	switch interval {
	case "monthly":
		return "monthly", nil
	case "annual":
		return "yearly", nil
	default:
		return "", fmt.Errorf("unsupported billing interval: %s", interval)
	}
}

// gcSubscription mirrors the wire shape of a GoCardless subscription.
type gcSubscription struct {
	ID         string            `json:"id"`
	Status     string            `json:"status"`
	Amount     int64             `json:"amount"`
	Currency   string            `json:"currency"`
	Name       string            `json:"name"`
	DayOfMonth int32             `json:"day_of_month"`
	Metadata   map[string]string `json:"metadata"`
	EndDate    string            `json:"end_date"`
}

// CreateSubscription creates a GoCardless subscription against an active
// mandate. Amounts are sent in minor units.
func (p *GoCardlessProvider) CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*ProviderSubscription, error) {
	interval, err := gcInterval(params.Interval)
	if err != nil {
		return nil, err
	}

	metadata := map[string]string{"subscription_id": params.SubscriptionID}
	for k, v := range params.Metadata {
		metadata[k] = v
	}

	body := map[string]any{
		"subscriptions": map[string]any{
			"amount":        amountToMinorUnits(params.Amount),
			"currency":      params.Currency,
			"name":          params.Description,
			"interval_unit": interval,
			"metadata":      metadata,
			"links":         map[string]string{"mandate": params.MandateID},
		},
	}
	if interval == "monthly" && params.DayOfMonth > 0 {
		body["subscriptions"].(map[string]any)["day_of_month"] = params.DayOfMonth
	}

	var resp struct {
		Subscriptions gcSubscription `json:"subscriptions"`
	}
	if err := p.do(ctx, http.MethodPost, "/subscriptions", body, &resp); err != nil {
		return nil, err
	}

	return mapGCSubscription(&resp.Subscriptions), nil
}

// GetSubscription retrieves GoCardless's view of a subscription.
func (p *GoCardlessProvider) GetSubscription(ctx context.Context, providerSubscriptionID string) (*ProviderSubscription, error) {
	var resp struct {
		Subscriptions gcSubscription `json:"subscriptions"`
	}
	if err := p.do(ctx, http.MethodGet, "/subscriptions/"+providerSubscriptionID, nil, &resp); err != nil {
		return nil, err
	}
	return mapGCSubscription(&resp.Subscriptions), nil
}

// CancelSubscription cancels a GoCardless subscription. GoCardless has no
// period-end flag; scheduled cancels still collect already-created payments
// so both modes hit the cancel action.
func (p *GoCardlessProvider) CancelSubscription(ctx context.Context, providerSubscriptionID string, atPeriodEnd bool) error {
	path := "/subscriptions/" + providerSubscriptionID + "/actions/cancel"
	return p.do(ctx, http.MethodPost, path, map[string]any{"data": map[string]any{}}, nil)
}

func mapGCSubscription(sub *gcSubscription) *ProviderSubscription {
	return &ProviderSubscription{
		ID:       sub.ID,
		Status:   sub.Status,
		Metadata: sub.Metadata,
	}
}

// do sends one authenticated request to the GoCardless API and decodes the
// response into out when non-nil.
func (p *GoCardlessProvider) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.accessToken)
	req.Header.Set("GoCardless-Version", gocardlessAPIVersion)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return &ProviderError{Provider: ProviderGoCardless, Message: "request failed", OriginalError: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &ProviderError{Provider: ProviderGoCardless, Message: "failed to read response", OriginalError: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %s", ErrSubscriptionNotFound, path)
		}

		var apiErr struct {
			Error struct {
				Type    string `json:"type"`
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.Unmarshal(raw, &apiErr)

		return &ProviderError{
			Provider:   ProviderGoCardless,
			Code:       apiErr.Error.Type,
			StatusCode: resp.StatusCode,
			Message:    apiErr.Error.Message,
		}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return &ProviderError{Provider: ProviderGoCardless, Message: "failed to decode response", OriginalError: err}
		}
	}
	return nil
}
