package admin

import (
	"net/http"
	"strconv"

	"github.com/pitchside/pitchside/internal/domain"
	"github.com/pitchside/pitchside/internal/handler"
	"github.com/pitchside/pitchside/internal/service"
)

// DiagnosticsHandler explains why subscriptions are not syncing to their
// payment provider.
type DiagnosticsHandler struct {
	subscriptions *service.SubscriptionService
}

// NewDiagnosticsHandler creates a DiagnosticsHandler.
func NewDiagnosticsHandler(subscriptions *service.SubscriptionService) *DiagnosticsHandler {
	return &DiagnosticsHandler{subscriptions: subscriptions}
}

// SubscriptionSync handles GET /api/admin/subscriptions/diagnostics
func (h *DiagnosticsHandler) SubscriptionSync(w http.ResponseWriter, r *http.Request) {
	diagnoses, err := h.subscriptions.SyncDiagnostics(r.Context(), queryInt32(r, "limit"))
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	if diagnoses == nil {
		diagnoses = []domain.SyncDiagnosis{}
	}

	handler.RespondJSON(w, http.StatusOK, map[string]interface{}{"diagnostics": diagnoses})
}

func queryInt32(r *http.Request, name string) int32 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || n < 0 {
		return 0
	}
	return int32(n)
}
