// Package events publishes billing lifecycle events to NATS so downstream
// consumers (notifications, exports) can react out of band.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Subjects under pitchside.billing.>.
const (
	SubjectInvoiceCreated        = "pitchside.billing.invoice.created"
	SubjectInvoicePublished      = "pitchside.billing.invoice.published"
	SubjectInvoicePaid           = "pitchside.billing.invoice.paid"
	SubjectInvoiceCancelled      = "pitchside.billing.invoice.cancelled"
	SubjectInvoiceOverdue        = "pitchside.billing.invoice.overdue"
	SubjectSubscriptionCreated   = "pitchside.billing.subscription.created"
	SubjectSubscriptionPaused    = "pitchside.billing.subscription.paused"
	SubjectSubscriptionResumed   = "pitchside.billing.subscription.resumed"
	SubjectSubscriptionSuspended = "pitchside.billing.subscription.suspended"
	SubjectSubscriptionCancelled = "pitchside.billing.subscription.cancelled"
	SubjectPaymentFailed         = "pitchside.billing.payment.failed"
)

// Event is the envelope published for every billing lifecycle change.
type Event struct {
	ID         uuid.UUID      `json:"id"`
	ClubID     uuid.UUID      `json:"clubId"`
	EntityType string         `json:"entityType"`
	EntityID   uuid.UUID      `json:"entityId"`
	OccurredAt time.Time      `json:"occurredAt"`
	Detail     map[string]any `json:"detail,omitempty"`
}

// Publisher delivers billing events. The NATS implementation is used in
// production; NoopPublisher stands in when NATS is not configured.
type Publisher interface {
	Publish(subject string, event Event) error
	Close()
}

// NATSPublisher publishes events over a NATS connection.
type NATSPublisher struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// NewNATSPublisher connects to the NATS server at url.
func NewNATSPublisher(url string, logger *slog.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("pitchside-billing"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	return &NATSPublisher{conn: conn, logger: logger}, nil
}

// Publish sends one event. Marshal failures are programming errors and are
// returned; transport failures are returned so callers can queue a retry.
func (p *NATSPublisher) Publish(subject string, event Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("published billing event", "subject", subject, "entity_id", event.EntityID)
	return nil
}

// Close drains the connection so buffered publishes flush before shutdown.
func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.logger.Warn("failed to drain nats connection", "error", err)
	}
}

// NoopPublisher drops all events. Used when NATS is not configured and in
// tests that don't assert on events.
type NoopPublisher struct{}

func (NoopPublisher) Publish(subject string, event Event) error { return nil }

func (NoopPublisher) Close() {}
