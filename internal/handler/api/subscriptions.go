package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/pitchside/pitchside/internal/domain"
	"github.com/pitchside/pitchside/internal/handler"
	"github.com/pitchside/pitchside/internal/service"
	"github.com/pitchside/pitchside/internal/store"
)

// SubscriptionHandler serves the club-scoped subscription endpoints.
type SubscriptionHandler struct {
	subscriptions *service.SubscriptionService
}

// NewSubscriptionHandler creates a SubscriptionHandler.
func NewSubscriptionHandler(subscriptions *service.SubscriptionService) *SubscriptionHandler {
	return &SubscriptionHandler{subscriptions: subscriptions}
}

type createSubscriptionRequest struct {
	ParentUserID      uuid.UUID  `json:"parentUserId" validate:"required"`
	ChildUserID       uuid.UUID  `json:"childUserId" validate:"required"`
	MembershipTierID  uuid.UUID  `json:"membershipTierId" validate:"required"`
	BillingFrequency  string     `json:"billingFrequency" validate:"required,oneof=monthly annual"`
	BillingDayOfMonth int32      `json:"billingDayOfMonth" validate:"required,min=1,max=28"`
	PaymentMandateID  *uuid.UUID `json:"paymentMandateId"`
	Provider          string     `json:"provider" validate:"required"`
}

// Create handles POST /api/clubs/{clubID}/subscriptions
func (h *SubscriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	clubID, err := handler.PathUUID(r, "clubID")
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	var req createSubscriptionRequest
	if err := handler.DecodeJSON(r, &req); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	if err := handler.Validate("subscription.create", &req); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	sub, err := h.subscriptions.CreateSubscription(r.Context(), clubID, actorFromRequest(r), service.CreateSubscriptionParams{
		ParentUserID:      req.ParentUserID,
		ChildUserID:       req.ChildUserID,
		MembershipTierID:  req.MembershipTierID,
		BillingFrequency:  domain.BillingFrequency(req.BillingFrequency),
		BillingDayOfMonth: req.BillingDayOfMonth,
		PaymentMandateID:  req.PaymentMandateID,
		Provider:          req.Provider,
	})
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	handler.RespondJSON(w, http.StatusCreated, sub)
}

// Get handles GET /api/clubs/{clubID}/subscriptions/{subscriptionID}
func (h *SubscriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	clubID, subID, err := subscriptionPath(r)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	sub, err := h.subscriptions.GetSubscription(r.Context(), clubID, subID)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	handler.RespondJSON(w, http.StatusOK, sub)
}

// List handles GET /api/clubs/{clubID}/subscriptions
func (h *SubscriptionHandler) List(w http.ResponseWriter, r *http.Request) {
	clubID, err := handler.PathUUID(r, "clubID")
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	filter := store.ListSubscriptionFilter{
		ParentUserID: queryUUID(r, "parentUserId"),
		Limit:        queryInt32(r, "limit"),
		Offset:       queryInt32(r, "offset"),
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := domain.SubscriptionStatus(raw)
		filter.Status = &status
	}

	subs, err := h.subscriptions.ListSubscriptions(r.Context(), clubID, filter)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	if subs == nil {
		subs = []domain.Subscription{}
	}

	handler.RespondJSON(w, http.StatusOK, map[string]interface{}{"subscriptions": subs})
}

// Stats handles GET /api/clubs/{clubID}/subscriptions/stats
func (h *SubscriptionHandler) Stats(w http.ResponseWriter, r *http.Request) {
	clubID, err := handler.PathUUID(r, "clubID")
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	stats, err := h.subscriptions.Stats(r.Context(), clubID)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	handler.RespondJSON(w, http.StatusOK, stats)
}

type changeTierRequest struct {
	MembershipTierID uuid.UUID `json:"membershipTierId" validate:"required"`
}

// ChangeTier handles POST /api/clubs/{clubID}/subscriptions/{subscriptionID}/change-tier
func (h *SubscriptionHandler) ChangeTier(w http.ResponseWriter, r *http.Request) {
	clubID, subID, err := subscriptionPath(r)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	var req changeTierRequest
	if err := handler.DecodeJSON(r, &req); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	if err := handler.Validate("subscription.changeTier", &req); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	result, err := h.subscriptions.ChangeTier(r.Context(), clubID, subID, actorFromRequest(r), req.MembershipTierID)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	handler.RespondJSON(w, http.StatusOK, result)
}

type pauseRequest struct {
	PausedUntil *time.Time `json:"pausedUntil"`
}

// Pause handles POST /api/clubs/{clubID}/subscriptions/{subscriptionID}/pause
func (h *SubscriptionHandler) Pause(w http.ResponseWriter, r *http.Request) {
	clubID, subID, err := subscriptionPath(r)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	// Body is optional; pausing without a date is open-ended.
	var req pauseRequest
	if r.Body != nil && r.ContentLength > 0 {
		if err := handler.DecodeJSON(r, &req); err != nil {
			handler.ErrorResponse(w, r, err)
			return
		}
	}

	sub, err := h.subscriptions.Pause(r.Context(), clubID, subID, actorFromRequest(r), req.PausedUntil)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	handler.RespondJSON(w, http.StatusOK, sub)
}

// Resume handles POST /api/clubs/{clubID}/subscriptions/{subscriptionID}/resume
func (h *SubscriptionHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.subscriptions.Resume)
}

// Suspend handles POST /api/clubs/{clubID}/subscriptions/{subscriptionID}/suspend
func (h *SubscriptionHandler) Suspend(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.subscriptions.Suspend)
}

// Reactivate handles POST /api/clubs/{clubID}/subscriptions/{subscriptionID}/reactivate
func (h *SubscriptionHandler) Reactivate(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.subscriptions.Reactivate)
}

func (h *SubscriptionHandler) transition(w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, clubID, id uuid.UUID, actor domain.AuditContext) (*domain.Subscription, error),
) {
	clubID, subID, err := subscriptionPath(r)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	sub, err := fn(r.Context(), clubID, subID, actorFromRequest(r))
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	handler.RespondJSON(w, http.StatusOK, sub)
}

type cancelRequest struct {
	Immediate bool   `json:"immediate"`
	Reason    string `json:"reason"`
}

// Cancel handles POST /api/clubs/{clubID}/subscriptions/{subscriptionID}/cancel
func (h *SubscriptionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	clubID, subID, err := subscriptionPath(r)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	// Body is optional; the default is a cancellation at period end.
	var req cancelRequest
	if r.Body != nil && r.ContentLength > 0 {
		if err := handler.DecodeJSON(r, &req); err != nil {
			handler.ErrorResponse(w, r, err)
			return
		}
	}

	sub, err := h.subscriptions.Cancel(r.Context(), clubID, subID, actorFromRequest(r), req.Immediate, req.Reason)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	handler.RespondJSON(w, http.StatusOK, sub)
}

func subscriptionPath(r *http.Request) (clubID, subID uuid.UUID, err error) {
	clubID, err = handler.PathUUID(r, "clubID")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	subID, err = handler.PathUUID(r, "subscriptionID")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return clubID, subID, nil
}
