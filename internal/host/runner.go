package host

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"jenkinsrun/internal/engine"
	"jenkinsrun/internal/events"
	"jenkinsrun/internal/logger"
	"jenkinsrun/internal/storage/models"
)

// Invocation sources
const (
	SourceCLI = "cli"
	SourceAPI = "api"
)

// Operations recorded in the history
const (
	OperationBuild     = "build"
	OperationBuildData = "build_data"
)

// Outcome is what one invocation produced
type Outcome struct {
	InvocationID string              `json:"invocation_id"`
	Result       *engine.BuildResult `json:"result"`
	Output       string              `json:"output"`
	Links        []Link              `json:"links,omitempty"`
	NotNeeded    bool                `json:"not_needed,omitempty"`
	Err          error               `json:"-"`
}

// defaultPublishTimeout bounds publishing once a build has finished
const defaultPublishTimeout = 15 * time.Second

// Runner runs invocations against an engine, recording each one in the
// store and publishing its outcome
type Runner struct {
	Engine    engine.CIEngine
	Store     Store
	Publisher events.Publisher

	// PublishTimeout bounds each event publication, zero means the default
	PublishTimeout time.Duration
}

// Build runs a build invocation. Console output is copied to out when it is
// not nil.
func (r *Runner) Build(ctx context.Context, source string, req engine.BuildRequest, out io.Writer) *Outcome {
	session := NewSession(req.Job, r.Store, out)
	r.begin(session, source, OperationBuild, req.Job, req.Parameters)

	result, err := r.Engine.Build(ctx, req, session)
	return r.finish(ctx, session, source, OperationBuild, req.Job, result, err)
}

// BuildData reports the last completed build of job
func (r *Runner) BuildData(ctx context.Context, source, job string, out io.Writer) *Outcome {
	session := NewSession(job, r.Store, out)
	r.begin(session, source, OperationBuildData, job, nil)

	result, err := r.Engine.BuildData(ctx, job, session)
	return r.finish(ctx, session, source, OperationBuildData, job, result, err)
}

func (r *Runner) begin(session *Session, source, operation, job string, params map[string]string) {
	inv := models.Invocation{
		ID:        session.ID(),
		Source:    source,
		Operation: operation,
		Job:       job,
		StartedAt: time.Now(),
	}
	if len(params) > 0 {
		if encoded, err := json.Marshal(params); err == nil {
			inv.Parameters = string(encoded)
		}
	}
	if err := r.Store.InsertInvocation(inv); err != nil {
		logger.Warn("Failed to record invocation", "invocation_id", inv.ID, "error", err)
	}
	logger.Info("Invocation started", "invocation_id", inv.ID, "source", source, "operation", operation, "job", job)
}

func (r *Runner) finish(ctx context.Context, session *Session, source, operation, job string, result *engine.BuildResult, err error) *Outcome {
	finished := time.Now()

	var errMsg string
	if err != nil {
		errMsg = err.Error()
	}
	var number int
	if result != nil {
		number = result.BuildNumber
	}
	if storeErr := r.Store.FinishInvocation(session.ID(), number, result.Result(), errMsg, finished); storeErr != nil {
		logger.Warn("Failed to record invocation outcome", "invocation_id", session.ID(), "error", storeErr)
	}

	if r.Publisher != nil {
		event := events.Event{
			InvocationID: session.ID(),
			Source:       source,
			Operation:    operation,
			Job:          job,
			Result:       result,
			Error:        errMsg,
			FinishedAt:   finished,
		}
		timeout := r.PublishTimeout
		if timeout <= 0 {
			timeout = defaultPublishTimeout
		}
		// Events go out even when the caller has gone away, but never hold
		// the invocation open past the timeout
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		if pubErr := r.Publisher.Publish(pubCtx, event); pubErr != nil {
			logger.Warn("Failed to publish invocation event", "invocation_id", session.ID(), "error", pubErr)
		}
		cancel()
	}

	logger.Info("Invocation finished", "invocation_id", session.ID(), "job", job, "build_number", number, "result", result.Result(), "error", errMsg)

	return &Outcome{
		InvocationID: session.ID(),
		Result:       result,
		Output:       session.Output(),
		Links:        session.Links(),
		NotNeeded:    session.IsNotNeeded(),
		Err:          err,
	}
}
