package jenkins

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"jenkinsrun/internal/config"
	"jenkinsrun/internal/engine"
	"jenkinsrun/internal/logger"
)

const tracerName = "jenkinsrun/internal/engine/jenkins"

var _ engine.CIEngine = (*Trigger)(nil)

// JobConfigurer prepares a job that does not exist yet on the server. It is
// only consulted when the request allows an override.
type JobConfigurer interface {
	Configure(ctx context.Context, job string, host engine.Host) error
}

// Option configures a Trigger
type Option func(*Trigger)

// WithConfigurer sets the collaborator used for missing jobs
func WithConfigurer(c JobConfigurer) Option {
	return func(t *Trigger) {
		t.configurer = c
	}
}

// Trigger implements the CIEngine interface for Jenkins. All state of one
// build lives on the stack of Build; the only thing shared between
// invocations is the client and the detected strategy.
type Trigger struct {
	client     *Client
	cfg        config.BuildConfig
	configurer JobConfigurer
	tracer     trace.Tracer

	mu       sync.Mutex
	strategy *Strategy
}

// NewTrigger creates a new Jenkins trigger instance
func NewTrigger(client *Client, cfg config.BuildConfig, opts ...Option) *Trigger {
	config.SetBuildDefaults(&cfg)
	t := &Trigger{
		client: client,
		cfg:    cfg,
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Build submits req, follows the build to completion while streaming its
// console output into host, and reports the canonical result
func (t *Trigger) Build(ctx context.Context, req engine.BuildRequest, host engine.Host) (*engine.BuildResult, error) {
	if strings.Trim(req.Job, "/") == "" {
		return nil, &engine.ConfigurationError{Missing: []string{"job"}}
	}
	log := logger.With("job", req.Job)

	ctx, span := t.tracer.Start(ctx, "jenkins.build", trace.WithAttributes(
		attribute.String("jenkins.job", req.Job),
		attribute.Int("jenkins.parameters", len(req.Parameters)),
	))
	defer span.End()

	result, err := t.build(ctx, req, host)
	if result != nil {
		span.SetAttributes(attribute.Int("jenkins.build_number", result.BuildNumber))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("Build failed", "error", err)
		return result, err
	}
	span.SetAttributes(attribute.String("jenkins.result", result.Result()))
	return result, nil
}

func (t *Trigger) build(ctx context.Context, req engine.BuildRequest, host engine.Host) (*engine.BuildResult, error) {
	strategy, known, err := t.preflight(ctx, req.Job)
	if err != nil {
		return nil, err
	}

	guess, exists, err := t.nextBuildNumber(ctx, req.Job)
	if err != nil {
		return nil, err
	}
	if known != nil {
		exists = *known
	}
	if !exists {
		if err := t.configureMissing(ctx, req, host); err != nil {
			return nil, err
		}
	}

	sub, err := t.submit(ctx, req)
	if err != nil {
		return nil, err
	}

	number, err := t.resolve(ctx, strategy, req.Job, sub, guess)
	if err != nil {
		return nil, err
	}

	result := &engine.BuildResult{BuildNumber: number}
	if err := host.SaveOutputValue("build_number", number); err != nil {
		logger.Warn("Failed to save output value", "key", "build_number", "error", err)
	}
	host.WriteOutput(fmt.Sprintf("Build Number Is %d\n", number))
	logger.Info("Build started", "job", req.Job, "build_number", number, "strategy", strategy.String())

	details, err := t.poll(ctx, host, req.Job, number)
	if err != nil {
		buildURL := buildPageURL(t.client, req.Job, number, "")
		result.Links = engine.Links{Build: buildURL, Log: buildURL + "console"}
		if saveErr := host.SaveOutputValue("links", result.Links); saveErr != nil {
			logger.Warn("Failed to save output value", "key", "links", "error", saveErr)
		}
		return result, err
	}
	return t.aggregate(ctx, host, req.Job, number, details)
}

// BuildData reports the last completed build of job unless the host has
// already seen it
func (t *Trigger) BuildData(ctx context.Context, job string, host engine.Host) (*engine.BuildResult, error) {
	if strings.Trim(job, "/") == "" {
		return nil, &engine.ConfigurationError{Missing: []string{"job"}}
	}

	ctx, span := t.tracer.Start(ctx, "jenkins.build_data", trace.WithAttributes(attribute.String("jenkins.job", job)))
	defer span.End()

	var info jobInfo
	if _, err := t.client.GetJSON(ctx, jobPath(job)+"/api/json", &info); err != nil {
		if IsNotFound(err) {
			err = &engine.ConfigurationError{Reason: fmt.Sprintf("job '%s' not found", job)}
		}
		span.RecordError(err)
		return nil, err
	}

	if info.LastCompletedBuild == nil || info.LastCompletedBuild.Number == 0 || t.alreadyReported(host, info.LastCompletedBuild.Number) {
		host.WriteOutput("No new completed build found\n")
		host.NotNeeded()
		return nil, nil
	}

	number := info.LastCompletedBuild.Number
	if err := host.SaveOutputValue("build_number", number); err != nil {
		logger.Warn("Failed to save output value", "key", "build_number", "error", err)
	}
	host.WriteOutput(fmt.Sprintf("Build Number Is %d\n", number))
	span.SetAttributes(attribute.Int("jenkins.build_number", number))

	var details BuildDetails
	if _, err := t.client.GetJSON(ctx, buildPath(job, number)+"/api/json", &details); err != nil {
		span.RecordError(err)
		return &engine.BuildResult{BuildNumber: number}, err
	}
	result, err := t.aggregate(ctx, host, job, number, &details)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

// alreadyReported compares number with the build_number the host stored last
func (t *Trigger) alreadyReported(host engine.Host, number int) bool {
	stored, err := host.ReadOutputValue("build_number")
	if err != nil || stored == nil {
		return false
	}
	switch v := stored.(type) {
	case int:
		return v == number
	case int64:
		return v == int64(number)
	case float64:
		return v == float64(number)
	case string:
		return v == fmt.Sprint(number)
	default:
		return false
	}
}

// preflight returns the build id strategy for this server and, for top-level
// jobs, whether the server lists the job. The strategy is detected once; a
// failed lookup means guessing for this invocation and asking again next time.
func (t *Trigger) preflight(ctx context.Context, job string) (Strategy, *bool, error) {
	version, root, err := t.client.root(ctx)

	t.mu.Lock()
	defer t.mu.Unlock()

	if err != nil {
		var parseErr *engine.JSONParseError
		if errors.As(err, &parseErr) {
			return StrategyGuess, nil, err
		}
		if t.strategy != nil {
			return *t.strategy, nil, nil
		}
		logger.Warn("Failed to query Jenkins server, guessing build numbers", "error", err)
		return StrategyGuess, nil, nil
	}

	if t.strategy == nil {
		strategy := SelectStrategy(version, t.cfg.QueueMinVersion)
		t.strategy = &strategy
		logger.Info("Selected build id strategy", "version", version, "strategy", strategy.String())
	}

	var known *bool
	if name := strings.Trim(job, "/"); !strings.Contains(name, "/") {
		found := false
		for _, j := range root.Jobs {
			if j.Name == name {
				found = true
				break
			}
		}
		known = &found
	}
	return *t.strategy, known, nil
}

// nextBuildNumber reads the number the server will give the next build. A
// missing job yields 1.
func (t *Trigger) nextBuildNumber(ctx context.Context, job string) (int, bool, error) {
	var info jobInfo
	_, err := t.client.GetJSON(ctx, jobPath(job)+"/api/json", &info)
	if IsNotFound(err) {
		return 1, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if info.NextBuildNumber < 1 {
		return 1, true, nil
	}
	return info.NextBuildNumber, true, nil
}

func (t *Trigger) configureMissing(ctx context.Context, req engine.BuildRequest, host engine.Host) error {
	if !req.Override {
		return &engine.ConfigurationError{Reason: fmt.Sprintf("job '%s' not found and no override allowed", req.Job)}
	}
	if t.configurer == nil {
		logger.Warn("Job not found, submitting anyway", "job", req.Job)
		return nil
	}
	if err := t.configurer.Configure(ctx, req.Job, host); err != nil {
		return fmt.Errorf("configure job %s: %w", req.Job, err)
	}
	return nil
}

func (t *Trigger) submit(ctx context.Context, req engine.BuildRequest) (*submission, error) {
	ctx, span := t.tracer.Start(ctx, "jenkins.submit")
	defer span.End()

	sub, err := submitBuild(ctx, t.client, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int64("jenkins.queue_id", sub.QueueID))
	return sub, nil
}

func (t *Trigger) resolve(ctx context.Context, strategy Strategy, job string, sub *submission, guess int) (int, error) {
	ctx, span := t.tracer.Start(ctx, "jenkins.resolve", trace.WithAttributes(
		attribute.String("jenkins.strategy", strategy.String()),
	))
	defer span.End()

	r := &resolver{
		client:          t.client,
		interval:        t.cfg.QueuePollInterval,
		timeout:         t.cfg.StartTimeout,
		cancelOnTimeout: t.cfg.CancelOnTimeout,
	}
	number, err := r.resolve(ctx, strategy, job, sub, guess)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	span.SetAttributes(attribute.Int("jenkins.build_number", number))
	return number, nil
}

func (t *Trigger) poll(ctx context.Context, host engine.Host, job string, number int) (*BuildDetails, error) {
	ctx, span := t.tracer.Start(ctx, "jenkins.poll", trace.WithAttributes(
		attribute.Int("jenkins.build_number", number),
	))
	defer span.End()

	logs := newLogStreamer(t.client, host, job, number, t.cfg.PollInterval)
	logs.maxIdle = t.cfg.MaxNotFound
	p := &poller{
		client:      t.client,
		logs:        logs,
		job:         job,
		number:      number,
		interval:    t.cfg.PollInterval,
		maxNotFound: t.cfg.MaxNotFound,
		timeout:     t.cfg.PollTimeout,
	}

	details, err := p.run(ctx)
	if err == nil {
		err = logs.drain(ctx)
	}
	span.SetAttributes(
		attribute.String("jenkins.poll_state", p.state.String()),
		attribute.Int("jenkins.poll_attempts", p.attempts),
		attribute.Int64("jenkins.log_bytes", logs.cursor),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return details, nil
}

func (t *Trigger) aggregate(ctx context.Context, host engine.Host, job string, number int, details *BuildDetails) (*engine.BuildResult, error) {
	ctx, span := t.tracer.Start(ctx, "jenkins.aggregate")
	defer span.End()

	a := &aggregator{
		client:             t.client,
		host:               host,
		unstableIsSuccess:  t.cfg.UnstableIsSuccess,
		resolveAuthorEmail: t.cfg.ResolveAuthorEmail == nil || *t.cfg.ResolveAuthorEmail,
	}
	result, err := a.aggregate(ctx, job, number, details)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}
