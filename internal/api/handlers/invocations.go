package handlers

import (
	"net/http"
	"strconv"

	"jenkinsrun/internal/api/middleware"
	"jenkinsrun/internal/logger"
	"jenkinsrun/internal/storage"
	"jenkinsrun/internal/storage/models"
)

const (
	defaultInvocationLimit = 100
	maxInvocationLimit     = 1000
)

// InvocationHandler serves the invocation history
type InvocationHandler struct{}

// NewInvocationHandler creates a new InvocationHandler instance
func NewInvocationHandler() *InvocationHandler {
	return &InvocationHandler{}
}

// ListInvocations handles GET /api/v1/invocations
func (h *InvocationHandler) ListInvocations(w http.ResponseWriter, r *http.Request) {
	limit := defaultInvocationLimit
	offset := 0

	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = min(parsed, maxInvocationLimit)
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	invocations, err := storage.GetInvocations(limit, offset)
	if err != nil {
		logger.Error("Failed to get invocations", "error", err, "request_id", middleware.GetRequestID(r))
		writeErrorWithRequestID(w, r, http.StatusInternalServerError, "Failed to get invocations")
		return
	}
	if invocations == nil {
		invocations = []models.Invocation{}
	}

	writeJSON(w, http.StatusOK, invocations)
}
