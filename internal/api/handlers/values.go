package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"jenkinsrun/internal/api/middleware"
	"jenkinsrun/internal/logger"
	"jenkinsrun/internal/storage"
)

// OutputValue is one value the last reported build of a job left behind
type OutputValue struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ValuesHandler serves the output values stored per job
type ValuesHandler struct{}

// NewValuesHandler creates a new ValuesHandler instance
func NewValuesHandler() *ValuesHandler {
	return &ValuesHandler{}
}

// ListValues handles GET /api/v1/values?job=<job>
func (h *ValuesHandler) ListValues(w http.ResponseWriter, r *http.Request) {
	job := r.URL.Query().Get("job")
	if msg := validateJob(job); msg != "" {
		writeErrorWithRequestID(w, r, http.StatusBadRequest, msg)
		return
	}

	stored, err := storage.GetOutputValues(job)
	if err != nil {
		logger.Error("Failed to get output values", "job", job, "error", err, "request_id", middleware.GetRequestID(r))
		writeErrorWithRequestID(w, r, http.StatusInternalServerError, "Failed to get output values")
		return
	}

	values := make([]OutputValue, 0, len(stored))
	for _, v := range stored {
		values = append(values, OutputValue{Key: v.Key, Value: json.RawMessage(v.Value), UpdatedAt: v.UpdatedAt})
	}
	writeJSON(w, http.StatusOK, values)
}
