package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pitchside/pitchside/internal/domain"
	"github.com/pitchside/pitchside/internal/handler"
	"github.com/pitchside/pitchside/internal/service"
	"github.com/pitchside/pitchside/internal/store"
)

// InvoiceHandler serves the club-scoped invoice endpoints.
type InvoiceHandler struct {
	invoices *service.InvoiceService
}

// NewInvoiceHandler creates an InvoiceHandler.
func NewInvoiceHandler(invoices *service.InvoiceService) *InvoiceHandler {
	return &InvoiceHandler{invoices: invoices}
}

type invoiceRequest struct {
	SeasonID       *uuid.UUID                `json:"seasonId"`
	ParentUserID   uuid.UUID                 `json:"parentUserId" validate:"required"`
	ChildUserID    uuid.UUID                 `json:"childUserId" validate:"required"`
	Items          []domain.InvoiceItemInput `json:"items" validate:"required,min=1"`
	TaxAmount      decimal.Decimal           `json:"taxAmount"`
	DiscountAmount decimal.Decimal           `json:"discountAmount"`
	IssueDate      time.Time                 `json:"issueDate" validate:"required"`
	DueDate        time.Time                 `json:"dueDate" validate:"required"`
	Notes          string                    `json:"notes"`
}

// Create handles POST /api/clubs/{clubID}/invoices
func (h *InvoiceHandler) Create(w http.ResponseWriter, r *http.Request) {
	clubID, err := handler.PathUUID(r, "clubID")
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	var req invoiceRequest
	if err := handler.DecodeJSON(r, &req); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	if err := handler.Validate("invoice.create", &req); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	detail, err := h.invoices.CreateInvoice(r.Context(), clubID, actorFromRequest(r), service.CreateInvoiceParams{
		SeasonID:       req.SeasonID,
		ParentUserID:   req.ParentUserID,
		ChildUserID:    req.ChildUserID,
		Items:          req.Items,
		TaxAmount:      req.TaxAmount,
		DiscountAmount: req.DiscountAmount,
		IssueDate:      req.IssueDate,
		DueDate:        req.DueDate,
		Notes:          req.Notes,
	})
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	handler.RespondJSON(w, http.StatusCreated, detail)
}

// Get handles GET /api/clubs/{clubID}/invoices/{invoiceID}
func (h *InvoiceHandler) Get(w http.ResponseWriter, r *http.Request) {
	clubID, invoiceID, err := invoicePath(r)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	detail, err := h.invoices.GetInvoice(r.Context(), clubID, invoiceID)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	handler.RespondJSON(w, http.StatusOK, detail)
}

// List handles GET /api/clubs/{clubID}/invoices
func (h *InvoiceHandler) List(w http.ResponseWriter, r *http.Request) {
	clubID, err := handler.PathUUID(r, "clubID")
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	filter := store.ListInvoiceFilter{
		ParentUserID: queryUUID(r, "parentUserId"),
		Limit:        queryInt32(r, "limit"),
		Offset:       queryInt32(r, "offset"),
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := domain.InvoiceStatus(raw)
		filter.Status = &status
	}

	invoices, err := h.invoices.ListInvoices(r.Context(), clubID, filter)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	if invoices == nil {
		invoices = []domain.Invoice{}
	}

	handler.RespondJSON(w, http.StatusOK, map[string]interface{}{"invoices": invoices})
}

// Update handles PUT /api/clubs/{clubID}/invoices/{invoiceID}
func (h *InvoiceHandler) Update(w http.ResponseWriter, r *http.Request) {
	clubID, invoiceID, err := invoicePath(r)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	var req invoiceRequest
	if err := handler.DecodeJSON(r, &req); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	if err := handler.Validate("invoice.update", &req); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	detail, err := h.invoices.UpdateInvoice(r.Context(), clubID, invoiceID, actorFromRequest(r), service.UpdateInvoiceParams{
		SeasonID:       req.SeasonID,
		ChildUserID:    req.ChildUserID,
		Items:          req.Items,
		TaxAmount:      req.TaxAmount,
		DiscountAmount: req.DiscountAmount,
		DueDate:        req.DueDate,
		Notes:          req.Notes,
	})
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	handler.RespondJSON(w, http.StatusOK, detail)
}

// Delete handles DELETE /api/clubs/{clubID}/invoices/{invoiceID}
func (h *InvoiceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	clubID, invoiceID, err := invoicePath(r)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	if err := h.invoices.DeleteInvoice(r.Context(), clubID, invoiceID, actorFromRequest(r)); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Publish handles POST /api/clubs/{clubID}/invoices/{invoiceID}/publish
func (h *InvoiceHandler) Publish(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.invoices.PublishInvoice)
}

// Cancel handles POST /api/clubs/{clubID}/invoices/{invoiceID}/cancel
func (h *InvoiceHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.invoices.CancelInvoice)
}

func (h *InvoiceHandler) transition(w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, clubID, id uuid.UUID, actor domain.AuditContext) (*domain.Invoice, error),
) {
	clubID, invoiceID, err := invoicePath(r)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	inv, err := fn(r.Context(), clubID, invoiceID, actorFromRequest(r))
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	handler.RespondJSON(w, http.StatusOK, inv)
}

type markPaidRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method" validate:"required"`
	Reference string          `json:"reference"`
	PaidAt    time.Time       `json:"paidAt"`
}

// MarkPaid handles POST /api/clubs/{clubID}/invoices/{invoiceID}/mark-paid
func (h *InvoiceHandler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	clubID, invoiceID, err := invoicePath(r)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	var req markPaidRequest
	if err := handler.DecodeJSON(r, &req); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	if err := handler.Validate("invoice.markPaid", &req); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	inv, err := h.invoices.MarkInvoicePaid(r.Context(), clubID, invoiceID, actorFromRequest(r), service.MarkPaidParams{
		Amount:    req.Amount,
		Method:    req.Method,
		Reference: req.Reference,
		PaidAt:    req.PaidAt,
	})
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	handler.RespondJSON(w, http.StatusOK, inv)
}

type markOverdueRequest struct {
	AsOf time.Time `json:"asOf"`
}

// MarkOverdue handles POST /api/clubs/{clubID}/invoices/mark-overdue
func (h *InvoiceHandler) MarkOverdue(w http.ResponseWriter, r *http.Request) {
	clubID, err := handler.PathUUID(r, "clubID")
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	// Body is optional; an empty body sweeps as of today.
	var req markOverdueRequest
	if r.Body != nil && r.ContentLength > 0 {
		if err := handler.DecodeJSON(r, &req); err != nil {
			handler.ErrorResponse(w, r, err)
			return
		}
	}
	if req.AsOf.IsZero() {
		req.AsOf = time.Now().UTC()
	}

	count, err := h.invoices.MarkOverdueInvoices(r.Context(), clubID, req.AsOf)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	handler.RespondJSON(w, http.StatusOK, map[string]interface{}{"markedOverdue": count})
}

func invoicePath(r *http.Request) (clubID, invoiceID uuid.UUID, err error) {
	clubID, err = handler.PathUUID(r, "clubID")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	invoiceID, err = handler.PathUUID(r, "invoiceID")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return clubID, invoiceID, nil
}
