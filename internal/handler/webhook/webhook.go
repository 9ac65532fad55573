// Package webhook receives payment provider callbacks. One handler serves
// every registered provider; the provider name in the URL selects which
// signature scheme and event format apply.
package webhook

import (
	"io"
	"net/http"

	"github.com/pitchside/pitchside/internal/domain"
	"github.com/pitchside/pitchside/internal/handler"
	"github.com/pitchside/pitchside/internal/middleware"
	"github.com/pitchside/pitchside/internal/service"
)

// Providers cap webhook bodies well under this; anything larger is abuse.
const maxPayloadBytes = 1 << 20

// Handler serves POST /webhooks/{provider}.
type Handler struct {
	processor *service.WebhookProcessor
}

// NewHandler creates a webhook Handler.
func NewHandler(processor *service.WebhookProcessor) *Handler {
	return &Handler{processor: processor}
}

// Handle reads, verifies and applies one webhook delivery.
//
// Response contract: 404 for an unknown provider, 500 when applying events
// failed so the provider redelivers, 200 for everything else, including bad
// signatures and unparseable payloads, which are logged and dropped.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	providerName := r.PathValue("provider")

	provider, ok := h.processor.Provider(providerName)
	if !ok {
		handler.ErrorResponse(w, r, domain.NotFound("webhook.handle", "provider", providerName))
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		handler.ErrorResponse(w, r, domain.Invalid("webhook.handle", "failed to read request body"))
		return
	}

	signature := r.Header.Get(provider.SignatureHeader())

	processed, err := h.processor.Process(r.Context(), providerName, payload, signature)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	middleware.GetLogger(r.Context()).Info("webhook handled",
		"provider", providerName, "events_processed", processed)

	handler.RespondJSON(w, http.StatusOK, map[string]interface{}{"received": true, "processed": processed})
}
