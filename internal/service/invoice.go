package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	mathrand "math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pitchside/pitchside/internal/domain"
	"github.com/pitchside/pitchside/internal/events"
	"github.com/pitchside/pitchside/internal/store"
	"github.com/pitchside/pitchside/internal/telemetry"
)

// RetryConfig bounds the invoice-creation retry loop. Only invoice-number
// unique violations retry; every other error returns immediately.
type RetryConfig struct {
	MaxAttempts int
	MinDelay    time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryConfig matches production defaults: three attempts with a
// short jittered delay between them.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, MinDelay: 10 * time.Millisecond, MaxDelay: 60 * time.Millisecond}
}

// InvoiceStore is the persistence surface InvoiceService depends on.
type InvoiceStore interface {
	CountInvoicesByNumberPrefix(ctx context.Context, clubID uuid.UUID, prefix string) (int64, error)
	InsertInvoiceWithItems(ctx context.Context, inv *domain.Invoice, items []domain.InvoiceItem) error
	GetInvoice(ctx context.Context, clubID, id uuid.UUID) (*domain.InvoiceDetail, error)
	ListInvoices(ctx context.Context, clubID uuid.UUID, filter store.ListInvoiceFilter) ([]domain.Invoice, error)
	UpdateDraftInvoice(ctx context.Context, inv *domain.Invoice, items []domain.InvoiceItem) error
	DeleteDraftInvoice(ctx context.Context, clubID, id uuid.UUID) error
	TransitionInvoiceStatus(ctx context.Context, clubID, id uuid.UUID, to domain.InvoiceStatus, allowedFrom ...domain.InvoiceStatus) (*domain.Invoice, error)
	MarkInvoicePaid(ctx context.Context, clubID, id uuid.UUID, p store.MarkInvoicePaidParams) (*domain.Invoice, error)
	MarkOverdueInvoices(ctx context.Context, clubID uuid.UUID, asOf time.Time) (int64, error)
	GuardianshipExists(ctx context.Context, parentUserID, childUserID uuid.UUID) (bool, error)
}

// InvoiceService owns the invoice lifecycle: draft -> pending -> paid,
// with cancellation from any non-terminal state and the overdue sweep.
type InvoiceService struct {
	store   InvoiceStore
	audit   AuditStore
	emitter *emitter
	metrics *telemetry.BusinessMetrics
	logger  *slog.Logger
	retry   RetryConfig

	// now is swappable in tests.
	now func() time.Time
}

// NewInvoiceService creates an InvoiceService.
func NewInvoiceService(st InvoiceStore, audit AuditStore, pub events.Publisher, outbox OutboxStore, metrics *telemetry.BusinessMetrics, logger *slog.Logger, retry RetryConfig) *InvoiceService {
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryConfig()
	}

	return &InvoiceService{
		store:   st,
		audit:   audit,
		emitter: &emitter{pub: pub, outbox: outbox, logger: logger},
		metrics: metrics,
		logger:  logger,
		retry:   retry,
		now:     time.Now,
	}
}

// CreateInvoiceParams contains caller input for a new draft invoice.
type CreateInvoiceParams struct {
	SeasonID       *uuid.UUID
	ParentUserID   uuid.UUID
	ChildUserID    uuid.UUID
	Items          []domain.InvoiceItemInput
	TaxAmount      decimal.Decimal
	DiscountAmount decimal.Decimal
	IssueDate      time.Time // zero value means today
	DueDate        time.Time
	Notes          string
}

// UpdateInvoiceParams contains caller input for editing a draft invoice.
// Line items are replaced wholesale.
type UpdateInvoiceParams struct {
	SeasonID       *uuid.UUID
	ChildUserID    uuid.UUID
	Items          []domain.InvoiceItemInput
	TaxAmount      decimal.Decimal
	DiscountAmount decimal.Decimal
	DueDate        time.Time
	Notes          string
}

// MarkPaidParams records a manual payment. A zero Amount means the invoice
// total.
type MarkPaidParams struct {
	Amount    decimal.Decimal
	Method    string
	Reference string
	PaidAt    time.Time // zero value means now
}

// ComputeInvoiceTotals derives the money summary for a set of line items.
// Each line total is quantity x unit price rounded to 2dp; the invoice
// total is subtotal + tax - discount, also rounded.
func ComputeInvoiceTotals(items []domain.InvoiceItemInput, tax, discount decimal.Decimal) domain.InvoiceTotals {
	subtotal := decimal.Zero
	for _, item := range items {
		line := domain.Round2(item.UnitPrice.Mul(decimal.NewFromInt32(item.Quantity)))
		subtotal = subtotal.Add(line)
	}
	subtotal = domain.Round2(subtotal)

	return domain.InvoiceTotals{
		Subtotal: subtotal,
		Total:    domain.Round2(subtotal.Add(tax).Sub(discount)),
	}
}

func validateItems(op string, items []domain.InvoiceItemInput) error {
	if len(items) == 0 {
		return domain.NewValidationError(op, "items", "at least one line item is required")
	}
	for i, item := range items {
		if strings.TrimSpace(item.Description) == "" {
			return domain.NewValidationError(op, fmt.Sprintf("items[%d].description", i), "description is required")
		}
		if item.Quantity <= 0 {
			return domain.NewValidationError(op, fmt.Sprintf("items[%d].quantity", i), "quantity must be greater than 0")
		}
		if item.UnitPrice.IsNegative() {
			return domain.NewValidationError(op, fmt.Sprintf("items[%d].unitPrice", i), "unit price must not be negative")
		}
	}
	return nil
}

func buildItems(items []domain.InvoiceItemInput) []domain.InvoiceItem {
	out := make([]domain.InvoiceItem, len(items))
	for i, in := range items {
		out[i] = domain.InvoiceItem{
			ID:          uuid.New(),
			Description: strings.TrimSpace(in.Description),
			Quantity:    in.Quantity,
			UnitPrice:   in.UnitPrice,
			TotalPrice:  domain.Round2(in.UnitPrice.Mul(decimal.NewFromInt32(in.Quantity))),
		}
	}
	return out
}

const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// randBase36 returns n cryptographically random base36 characters.
func randBase36(n int) (string, error) {
	out := make([]byte, n)
	max := big.NewInt(int64(len(base36Alphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate random suffix: %w", err)
		}
		out[i] = base36Alphabet[idx.Int64()]
	}
	return string(out), nil
}

// nextInvoiceNumber builds {YEAR}-{SEQ}-{SUFFIX}: a year-scoped sequence
// padded to four digits plus a random base36 suffix that keeps concurrent
// creators from colliding on the same sequence read.
func (s *InvoiceService) nextInvoiceNumber(ctx context.Context, clubID uuid.UUID, issueDate time.Time) (string, error) {
	prefix := fmt.Sprintf("%d-", issueDate.Year())

	count, err := s.store.CountInvoicesByNumberPrefix(ctx, clubID, prefix)
	if err != nil {
		return "", err
	}

	suffix, err := randBase36(4)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s%04d-%s", prefix, count+1, suffix), nil
}

// CreateInvoice validates input, computes totals and persists a draft
// invoice. Invoice-number collisions retry with a fresh number up to the
// configured attempt budget.
func (s *InvoiceService) CreateInvoice(ctx context.Context, clubID uuid.UUID, actor domain.AuditContext, params CreateInvoiceParams) (*domain.InvoiceDetail, error) {
	const op = "invoice.create"

	if err := validateItems(op, params.Items); err != nil {
		return nil, err
	}
	if params.TaxAmount.IsNegative() {
		return nil, domain.NewValidationError(op, "taxAmount", "tax amount must not be negative")
	}
	if params.DiscountAmount.IsNegative() {
		return nil, domain.NewValidationError(op, "discountAmount", "discount amount must not be negative")
	}

	issueDate := params.IssueDate
	if issueDate.IsZero() {
		issueDate = s.now().UTC().Truncate(24 * time.Hour)
	}
	if params.DueDate.IsZero() {
		return nil, domain.NewValidationError(op, "dueDate", "due date is required")
	}
	if params.DueDate.Before(issueDate) {
		return nil, domain.NewValidationError(op, "dueDate", "due date must not be before the issue date")
	}

	totals := ComputeInvoiceTotals(params.Items, params.TaxAmount, params.DiscountAmount)
	if totals.Total.IsNegative() {
		return nil, domain.NewValidationError(op, "discountAmount", "discount exceeds the invoice total")
	}

	ok, err := s.store.GuardianshipExists(ctx, params.ParentUserID, params.ChildUserID)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to check guardianship")
	}
	if !ok {
		return nil, ErrNotGuardian
	}

	inv := &domain.Invoice{
		ID:             uuid.New(),
		ClubID:         clubID,
		SeasonID:       params.SeasonID,
		ParentUserID:   params.ParentUserID,
		ChildUserID:    params.ChildUserID,
		Status:         domain.InvoiceStatusDraft,
		Subtotal:       totals.Subtotal,
		TaxAmount:      domain.Round2(params.TaxAmount),
		DiscountAmount: domain.Round2(params.DiscountAmount),
		TotalAmount:    totals.Total,
		AmountPaid:     decimal.Zero,
		IssueDate:      issueDate,
		DueDate:        params.DueDate,
		Notes:          params.Notes,
	}
	items := buildItems(params.Items)

	for attempt := 1; ; attempt++ {
		number, err := s.nextInvoiceNumber(ctx, clubID, issueDate)
		if err != nil {
			return nil, domain.Internal(err, op, "failed to generate invoice number")
		}
		inv.InvoiceNumber = number

		err = s.store.InsertInvoiceWithItems(ctx, inv, items)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrDuplicateInvoiceNumber) {
			return nil, domain.Internal(err, op, "failed to create invoice")
		}
		if attempt >= s.retry.MaxAttempts {
			return nil, domain.Conflict(op, "could not allocate a unique invoice number")
		}

		s.logger.Debug("invoice number collision, retrying",
			"club_id", clubID, "attempt", attempt, "number", number)
		if err := s.sleepJitter(ctx); err != nil {
			return nil, domain.WrapError(err, domain.EINTERNAL, op, "cancelled while retrying")
		}
	}

	writeAudit(ctx, s.audit, s.logger, actor, clubID, "invoice.created", "invoice", inv.ID,
		map[string]any{"invoice_number": inv.InvoiceNumber, "total": inv.TotalAmount})
	s.metrics.InvoicesCreated.WithLabelValues(clubID.String()).Inc()
	s.emitter.emit(ctx, events.SubjectInvoiceCreated, events.Event{
		ClubID: clubID, EntityType: "invoice", EntityID: inv.ID,
		Detail: map[string]any{"invoiceNumber": inv.InvoiceNumber},
	})

	return &domain.InvoiceDetail{Invoice: *inv, Items: items}, nil
}

func (s *InvoiceService) sleepJitter(ctx context.Context) error {
	delay := s.retry.MinDelay
	if s.retry.MaxDelay > s.retry.MinDelay {
		delay += mathrand.N(s.retry.MaxDelay - s.retry.MinDelay)
	}

	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetInvoice returns the invoice aggregate with items and payments.
func (s *InvoiceService) GetInvoice(ctx context.Context, clubID, id uuid.UUID) (*domain.InvoiceDetail, error) {
	detail, err := s.store.GetInvoice(ctx, clubID, id)
	if err != nil {
		return nil, storeError(err, "invoice.get", "invoice", id.String())
	}
	return detail, nil
}

// ListInvoices returns club invoices, optionally filtered by status and payer.
func (s *InvoiceService) ListInvoices(ctx context.Context, clubID uuid.UUID, filter store.ListInvoiceFilter) ([]domain.Invoice, error) {
	invoices, err := s.store.ListInvoices(ctx, clubID, filter)
	if err != nil {
		return nil, domain.Internal(err, "invoice.list", "failed to list invoices")
	}
	return invoices, nil
}

// UpdateInvoice edits a draft invoice, replacing its items wholesale.
func (s *InvoiceService) UpdateInvoice(ctx context.Context, clubID, id uuid.UUID, actor domain.AuditContext, params UpdateInvoiceParams) (*domain.InvoiceDetail, error) {
	const op = "invoice.update"

	if err := validateItems(op, params.Items); err != nil {
		return nil, err
	}
	if params.TaxAmount.IsNegative() || params.DiscountAmount.IsNegative() {
		return nil, domain.NewValidationError(op, "amounts", "tax and discount must not be negative")
	}

	current, err := s.store.GetInvoice(ctx, clubID, id)
	if err != nil {
		return nil, storeError(err, op, "invoice", id.String())
	}

	if params.ChildUserID != current.ChildUserID {
		ok, err := s.store.GuardianshipExists(ctx, current.ParentUserID, params.ChildUserID)
		if err != nil {
			return nil, domain.Internal(err, op, "failed to check guardianship")
		}
		if !ok {
			return nil, ErrNotGuardian
		}
	}

	dueDate := params.DueDate
	if dueDate.IsZero() {
		dueDate = current.DueDate
	}
	if dueDate.Before(current.IssueDate) {
		return nil, domain.NewValidationError(op, "dueDate", "due date must not be before the issue date")
	}

	totals := ComputeInvoiceTotals(params.Items, params.TaxAmount, params.DiscountAmount)
	if totals.Total.IsNegative() {
		return nil, domain.NewValidationError(op, "discountAmount", "discount exceeds the invoice total")
	}

	inv := current.Invoice
	inv.SeasonID = params.SeasonID
	inv.ChildUserID = params.ChildUserID
	inv.Subtotal = totals.Subtotal
	inv.TaxAmount = domain.Round2(params.TaxAmount)
	inv.DiscountAmount = domain.Round2(params.DiscountAmount)
	inv.TotalAmount = totals.Total
	inv.DueDate = dueDate
	inv.Notes = params.Notes
	items := buildItems(params.Items)

	if err := s.store.UpdateDraftInvoice(ctx, &inv, items); err != nil {
		return nil, storeError(err, op, "invoice", id.String())
	}

	writeAudit(ctx, s.audit, s.logger, actor, clubID, "invoice.updated", "invoice", id, nil)
	return &domain.InvoiceDetail{Invoice: inv, Items: items}, nil
}

// DeleteInvoice removes a draft invoice. Published invoices cannot be
// deleted, only cancelled.
func (s *InvoiceService) DeleteInvoice(ctx context.Context, clubID, id uuid.UUID, actor domain.AuditContext) error {
	const op = "invoice.delete"

	if err := s.store.DeleteDraftInvoice(ctx, clubID, id); err != nil {
		return storeError(err, op, "invoice", id.String())
	}

	writeAudit(ctx, s.audit, s.logger, actor, clubID, "invoice.deleted", "invoice", id, nil)
	return nil
}

// PublishInvoice moves a draft invoice to pending, making it payable.
func (s *InvoiceService) PublishInvoice(ctx context.Context, clubID, id uuid.UUID, actor domain.AuditContext) (*domain.Invoice, error) {
	const op = "invoice.publish"

	inv, err := s.store.TransitionInvoiceStatus(ctx, clubID, id,
		domain.InvoiceStatusPending, domain.InvoiceStatusDraft)
	if err != nil {
		return nil, storeError(err, op, "invoice", id.String())
	}

	writeAudit(ctx, s.audit, s.logger, actor, clubID, "invoice.published", "invoice", id, nil)
	s.metrics.InvoicesPublished.WithLabelValues(clubID.String()).Inc()
	s.emitter.emit(ctx, events.SubjectInvoicePublished, events.Event{
		ClubID: clubID, EntityType: "invoice", EntityID: id,
	})

	return inv, nil
}

// CancelInvoice voids an unpaid invoice. Paid invoices stay paid.
func (s *InvoiceService) CancelInvoice(ctx context.Context, clubID, id uuid.UUID, actor domain.AuditContext) (*domain.Invoice, error) {
	const op = "invoice.cancel"

	inv, err := s.store.TransitionInvoiceStatus(ctx, clubID, id,
		domain.InvoiceStatusCancelled,
		domain.InvoiceStatusDraft, domain.InvoiceStatusPending, domain.InvoiceStatusOverdue)
	if err != nil {
		return nil, storeError(err, op, "invoice", id.String())
	}

	writeAudit(ctx, s.audit, s.logger, actor, clubID, "invoice.cancelled", "invoice", id, nil)
	s.metrics.InvoicesCancelled.WithLabelValues(clubID.String()).Inc()
	s.emitter.emit(ctx, events.SubjectInvoiceCancelled, events.Event{
		ClubID: clubID, EntityType: "invoice", EntityID: id,
	})

	return inv, nil
}

// MarkInvoicePaid records a payment and closes the invoice. Pending and
// overdue invoices accept payments; anything else is a conflict, including
// a second payment against an already-paid invoice.
func (s *InvoiceService) MarkInvoicePaid(ctx context.Context, clubID, id uuid.UUID, actor domain.AuditContext, params MarkPaidParams) (*domain.Invoice, error) {
	const op = "invoice.mark_paid"

	if params.Method == "" {
		return nil, domain.NewValidationError(op, "method", "payment method is required")
	}
	if params.Amount.IsNegative() {
		return nil, domain.NewValidationError(op, "amount", "amount must not be negative")
	}

	amount := params.Amount
	if amount.IsZero() {
		detail, err := s.store.GetInvoice(ctx, clubID, id)
		if err != nil {
			return nil, storeError(err, op, "invoice", id.String())
		}
		amount = detail.TotalAmount
	}

	paidAt := params.PaidAt
	if paidAt.IsZero() {
		paidAt = s.now().UTC()
	}

	inv, err := s.store.MarkInvoicePaid(ctx, clubID, id, store.MarkInvoicePaidParams{
		Amount:    domain.Round2(amount),
		Method:    params.Method,
		Reference: params.Reference,
		PaidAt:    paidAt,
	})
	if err != nil {
		return nil, storeError(err, op, "invoice", id.String())
	}

	writeAudit(ctx, s.audit, s.logger, actor, clubID, "invoice.paid", "invoice", id,
		map[string]any{"amount": amount, "method": params.Method})
	s.metrics.InvoicesPaid.WithLabelValues(clubID.String(), "manual").Inc()
	s.metrics.RevenueCollected.WithLabelValues(clubID.String(), "manual").Add(amount.InexactFloat64())
	s.emitter.emit(ctx, events.SubjectInvoicePaid, events.Event{
		ClubID: clubID, EntityType: "invoice", EntityID: id,
		Detail: map[string]any{"amount": amount, "method": params.Method},
	})

	return inv, nil
}

// MarkOverdueInvoices sweeps pending invoices past their due date into
// overdue and returns how many changed. Safe to run repeatedly.
func (s *InvoiceService) MarkOverdueInvoices(ctx context.Context, clubID uuid.UUID, asOf time.Time) (int64, error) {
	const op = "invoice.mark_overdue"

	if asOf.IsZero() {
		asOf = s.now().UTC()
	}

	n, err := s.store.MarkOverdueInvoices(ctx, clubID, asOf)
	if err != nil {
		return 0, domain.Internal(err, op, "failed to mark overdue invoices")
	}

	if n > 0 {
		s.metrics.InvoicesOverdue.WithLabelValues(clubID.String()).Add(float64(n))
		s.emitter.emit(ctx, events.SubjectInvoiceOverdue, events.Event{
			ClubID: clubID, EntityType: "invoice", EntityID: uuid.Nil,
			Detail: map[string]any{"count": n},
		})
		s.logger.Info("marked invoices overdue", "club_id", clubID, "count", n)
	}

	return n, nil
}
