package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"jenkinsrun/internal/api/middleware"
	"jenkinsrun/internal/engine"
	"jenkinsrun/internal/host"
	"jenkinsrun/internal/logger"
)

const (
	maxJobLength        = 255
	maxParameters       = 100
	maxParameterLength  = 10240
	maxParameterKeySize = 255
)

// BuildRequest is the body of POST /api/v1/builds
type BuildRequest struct {
	Job        string   `json:"job"`
	Parameters []string `json:"parameters"` // key=value entries, split on the first '='
	Override   bool     `json:"override"`
}

// BuildDataRequest is the body of POST /api/v1/builds/data
type BuildDataRequest struct {
	Job string `json:"job"`
}

// BuildResponse is what a finished invocation returns
type BuildResponse struct {
	InvocationID string              `json:"invocation_id"`
	Result       *engine.BuildResult `json:"result"`
	Output       string              `json:"output"`
	Links        []host.Link         `json:"links,omitempty"`
	NotNeeded    bool                `json:"not_needed,omitempty"`
	Error        string              `json:"error,omitempty"`
}

// BuildHandler runs builds on behalf of API clients
type BuildHandler struct {
	runner *host.Runner
}

// NewBuildHandler creates a new BuildHandler instance
func NewBuildHandler(runner *host.Runner) *BuildHandler {
	return &BuildHandler{runner: runner}
}

// RunBuild handles POST /api/v1/builds. The build runs to completion even if
// the client disconnects.
func (h *BuildHandler) RunBuild(w http.ResponseWriter, r *http.Request) {
	var req BuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Error("Failed to parse request body", "error", err, "request_id", middleware.GetRequestID(r))
		writeErrorWithRequestID(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}

	if msg := validateJob(req.Job); msg != "" {
		writeErrorWithRequestID(w, r, http.StatusBadRequest, msg)
		return
	}
	if msg := validateParameters(req.Parameters); msg != "" {
		writeErrorWithRequestID(w, r, http.StatusBadRequest, msg)
		return
	}

	buildReq := engine.BuildRequest{
		Job:        req.Job,
		Parameters: engine.ParseParameters(req.Parameters),
		Override:   req.Override,
	}
	outcome := h.runner.Build(context.WithoutCancel(r.Context()), host.SourceAPI, buildReq, nil)
	writeOutcome(w, r, outcome)
}

// RunBuildData handles POST /api/v1/builds/data
func (h *BuildHandler) RunBuildData(w http.ResponseWriter, r *http.Request) {
	var req BuildDataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Error("Failed to parse request body", "error", err, "request_id", middleware.GetRequestID(r))
		writeErrorWithRequestID(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}
	if msg := validateJob(req.Job); msg != "" {
		writeErrorWithRequestID(w, r, http.StatusBadRequest, msg)
		return
	}

	outcome := h.runner.BuildData(context.WithoutCancel(r.Context()), host.SourceAPI, req.Job, nil)
	writeOutcome(w, r, outcome)
}

// writeOutcome maps the invocation error onto a status. A build that ran and
// failed is still a completed request.
func writeOutcome(w http.ResponseWriter, r *http.Request, outcome *host.Outcome) {
	resp := BuildResponse{
		InvocationID: outcome.InvocationID,
		Result:       outcome.Result,
		Output:       outcome.Output,
		Links:        outcome.Links,
		NotNeeded:    outcome.NotNeeded,
	}

	status := http.StatusOK
	if outcome.Err != nil {
		resp.Error = outcome.Err.Error()
		status = statusFor(outcome.Err)
		logger.Error("Invocation failed", "invocation_id", outcome.InvocationID, "error", outcome.Err, "request_id", middleware.GetRequestID(r))
	}
	writeJSON(w, status, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrBuildFailed):
		return http.StatusOK
	case errors.Is(err, engine.ErrConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrBuildStartTimeout), errors.Is(err, engine.ErrPollTimeout), errors.Is(err, engine.ErrLogTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func validateJob(job string) string {
	job = strings.TrimSpace(job)
	if job == "" {
		return "Job name is required"
	}
	// Jenkins job names are typically limited
	if len(job) > maxJobLength {
		return fmt.Sprintf("Job name exceeds maximum length of %d characters", maxJobLength)
	}
	for _, segment := range strings.Split(job, "/") {
		if segment == ".." || segment == "." {
			return "Invalid job name format"
		}
	}
	return ""
}

func validateParameters(params []string) string {
	if len(params) > maxParameters {
		return fmt.Sprintf("Maximum %d parameters allowed", maxParameters)
	}
	for _, entry := range params {
		key, value, _ := strings.Cut(entry, "=")
		if len(key) > maxParameterKeySize {
			return fmt.Sprintf("Parameter key '%s' exceeds maximum length of %d characters", engine.Truncate(key, 32), maxParameterKeySize)
		}
		if len(value) > maxParameterLength {
			return fmt.Sprintf("Parameter value for '%s' exceeds maximum length of 10KB", key)
		}
	}
	return ""
}
