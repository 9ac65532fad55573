// Package handler holds the shared HTTP response plumbing for the JSON API:
// error rendering, request decoding, and the domain error to status mapping.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/pitchside/pitchside/internal/domain"
	"github.com/pitchside/pitchside/internal/middleware"
)

// ErrorCodeToHTTPStatus maps domain error codes to HTTP status codes.
func ErrorCodeToHTTPStatus(code string) int {
	switch code {
	case domain.EINVALID:
		return http.StatusBadRequest // 400
	case domain.EUNAUTHORIZED:
		return http.StatusUnauthorized // 401
	case domain.EPAYMENT:
		return http.StatusPaymentRequired // 402
	case domain.EFORBIDDEN:
		return http.StatusForbidden // 403
	case domain.ENOTFOUND:
		return http.StatusNotFound // 404
	case domain.ECONFLICT:
		return http.StatusConflict // 409
	case domain.ERATELIMIT:
		return http.StatusTooManyRequests // 429
	case domain.EINTERNAL:
		return http.StatusInternalServerError // 500
	case domain.ENOTIMPL:
		return http.StatusNotImplemented // 501
	default:
		return http.StatusInternalServerError // 500
	}
}

// ErrorResponse writes a structured JSON error for any error the services
// return. Validation errors include per-field messages; internal errors hide
// their details behind a generic message.
func ErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	if fields := domain.GetValidationFields(err); fields != nil {
		writeError(w, r, err, http.StatusBadRequest, map[string]interface{}{
			"code":    domain.EINVALID,
			"message": "Validation failed",
			"fields":  fields,
		})
		return
	}

	code := domain.ErrorCode(err)
	writeError(w, r, err, ErrorCodeToHTTPStatus(code), map[string]interface{}{
		"code":    code,
		"message": domain.ErrorMessage(err),
	})
}

func writeError(w http.ResponseWriter, r *http.Request, err error, status int, body map[string]interface{}) {
	logger := middleware.GetLogger(r.Context())

	attrs := []any{
		"error", err.Error(),
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
	}
	if status >= 500 {
		logger.Error("request failed", attrs...)
	} else {
		logger.Info("request rejected", attrs...)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{"error": body})
}
