package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceStatus is the lifecycle state of an invoice.
type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "draft"
	InvoiceStatusPending   InvoiceStatus = "pending"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusOverdue   InvoiceStatus = "overdue"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
)

// Terminal reports whether no further status transition is permitted.
func (s InvoiceStatus) Terminal() bool {
	return s == InvoiceStatusCancelled
}

// Invoice is a financial document owed by a payer (parent) on behalf of a
// beneficiary (child, which may equal the payer for direct members).
// Invoices are fully editable while draft; once paid or cancelled only
// payment bookkeeping may change.
type Invoice struct {
	ID             uuid.UUID       `json:"id"`
	ClubID         uuid.UUID       `json:"clubId"`
	SeasonID       *uuid.UUID      `json:"seasonId,omitempty"`
	ParentUserID   uuid.UUID       `json:"parentUserId"`
	ChildUserID    uuid.UUID       `json:"childUserId"`
	InvoiceNumber  string          `json:"invoiceNumber"`
	Status         InvoiceStatus   `json:"status"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	TaxAmount      decimal.Decimal `json:"taxAmount"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
	TotalAmount    decimal.Decimal `json:"totalAmount"`
	AmountPaid     decimal.Decimal `json:"amountPaid"`
	IssueDate      time.Time       `json:"issueDate"`
	DueDate        time.Time       `json:"dueDate"`
	PaidDate       *time.Time      `json:"paidDate,omitempty"`
	Notes          string          `json:"notes,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// InvoiceItem is a line item belonging to exactly one invoice.
// Items are replaced wholesale when a draft invoice is edited.
type InvoiceItem struct {
	ID          uuid.UUID       `json:"id"`
	InvoiceID   uuid.UUID       `json:"invoiceId"`
	Description string          `json:"description"`
	Quantity    int32           `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	TotalPrice  decimal.Decimal `json:"totalPrice"`
}

// Payment is an append-only record of money applied to an invoice.
type Payment struct {
	ID        uuid.UUID       `json:"id"`
	InvoiceID uuid.UUID       `json:"invoiceId"`
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method"`
	Reference string          `json:"reference,omitempty"`
	PaidAt    time.Time       `json:"paidAt"`
}

// InvoiceDetail is the invoice aggregate returned by read endpoints.
type InvoiceDetail struct {
	Invoice
	Items    []InvoiceItem `json:"items"`
	Payments []Payment     `json:"payments"`
}

// InvoiceItemInput is the caller-supplied shape of a line item.
type InvoiceItemInput struct {
	Description string          `json:"description"`
	Quantity    int32           `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
}

// InvoiceTotals is the computed money summary for a set of items.
type InvoiceTotals struct {
	Subtotal decimal.Decimal
	Total    decimal.Decimal
}

// Round2 rounds a money amount to 2 decimal places using standard
// half-away-from-zero rounding (not banker's rounding).
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
