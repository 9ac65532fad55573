// Package admin holds the operator-facing endpoints: worker execution
// control and subscription sync diagnostics. These routes sit behind the
// platform's internal gateway.
package admin

import (
	"net/http"

	"github.com/pitchside/pitchside/internal/domain"
	"github.com/pitchside/pitchside/internal/handler"
	"github.com/pitchside/pitchside/internal/service"
)

// WorkerHandler serves worker execution visibility and manual triggers.
type WorkerHandler struct {
	executions *service.WorkerExecutionService
}

// NewWorkerHandler creates a WorkerHandler.
func NewWorkerHandler(executions *service.WorkerExecutionService) *WorkerHandler {
	return &WorkerHandler{executions: executions}
}

// Latest handles GET /api/admin/workers/latest
func (h *WorkerHandler) Latest(w http.ResponseWriter, r *http.Request) {
	executions, err := h.executions.Latest(r.Context())
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	if executions == nil {
		executions = []domain.WorkerExecution{}
	}

	handler.RespondJSON(w, http.StatusOK, map[string]interface{}{"executions": executions})
}

// History handles GET /api/admin/workers/history
func (h *WorkerHandler) History(w http.ResponseWriter, r *http.Request) {
	workerName := r.URL.Query().Get("worker")
	limit := queryInt32(r, "limit")

	executions, err := h.executions.History(r.Context(), workerName, limit)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	if executions == nil {
		executions = []domain.WorkerExecution{}
	}

	handler.RespondJSON(w, http.StatusOK, map[string]interface{}{"executions": executions})
}

// Trigger handles POST /api/admin/workers/{workerName}/trigger
// Responds 409 when a run for that worker is already in flight.
func (h *WorkerHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	workerName := r.PathValue("workerName")
	if workerName == "" {
		handler.ErrorResponse(w, r, domain.Invalid("", "worker name is required"))
		return
	}

	execution, err := h.executions.Trigger(r.Context(), workerName)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	handler.RespondJSON(w, http.StatusAccepted, execution)
}
