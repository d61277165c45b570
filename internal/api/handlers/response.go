package handlers

import (
	"encoding/json"
	"net/http"

	"jenkinsrun/internal/api/middleware"
	"jenkinsrun/internal/logger"
)

// writeJSON writes v with the given status
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", "error", err, "status", status)
	}
}

// writeErrorWithRequestID writes a standardized error response with optional request ID
func writeErrorWithRequestID(w http.ResponseWriter, r *http.Request, status int, message string) {
	response := map[string]interface{}{
		"error":  message,
		"status": http.StatusText(status),
	}

	// Add request ID if available (from context, not header)
	if r != nil {
		if requestID := middleware.GetRequestID(r); requestID != "" {
			response["request_id"] = requestID
		}
	}

	writeJSON(w, status, response)
}
