package jenkins

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/blang/semver"

	"jenkinsrun/internal/engine"
	"jenkinsrun/internal/logger"
)

// Strategy is how a submitted build is turned into a build number
type Strategy int

const (
	// StrategyGuess reads nextBuildNumber before submitting and waits for
	// that build to appear
	StrategyGuess Strategy = iota
	// StrategyQueue follows the queue item handed back on submission
	StrategyQueue
)

func (s Strategy) String() string {
	if s == StrategyQueue {
		return "queue"
	}
	return "guess"
}

// SelectStrategy picks the queue strategy when the advertised server version
// is at least minVersion
func SelectStrategy(version, minVersion string) Strategy {
	v, ok := parseVersion(version)
	if !ok {
		return StrategyGuess
	}
	min, ok := parseVersion(minVersion)
	if !ok {
		return StrategyGuess
	}
	if v.GTE(min) {
		return StrategyQueue
	}
	return StrategyGuess
}

// parseVersion accepts Jenkins style versions: 1.519, 2.401.3, 2.332.3.4-rolling
func parseVersion(version string) (semver.Version, bool) {
	version = strings.TrimSpace(version)
	if version == "" {
		return semver.Version{}, false
	}
	if v, err := semver.ParseTolerant(version); err == nil {
		return v, true
	}

	core := strings.SplitN(version, "-", 2)[0]
	parts := strings.Split(core, ".")
	if len(parts) > 3 {
		parts = parts[:3]
	}
	v, err := semver.ParseTolerant(strings.Join(parts, "."))
	if err != nil {
		return semver.Version{}, false
	}
	return v, true
}

// resolver waits for a submitted build to be assigned a number
type resolver struct {
	client          *Client
	interval        time.Duration
	timeout         time.Duration
	cancelOnTimeout bool
}

// resolve picks the queue path when the strategy allows it and the server
// handed back a queue item, and falls back to the guessed number otherwise
func (r *resolver) resolve(ctx context.Context, strategy Strategy, job string, sub *submission, guess int) (int, error) {
	if strategy == StrategyQueue && sub.QueueID > 0 {
		return r.fromQueue(ctx, job, sub.QueueID)
	}
	if strategy == StrategyQueue {
		logger.Warn("No queue item in build response, guessing build number", "job", job, "location", sub.Location, "guess", guess)
	}
	return r.byGuess(ctx, job, guess)
}

// fromQueue polls the queue item until it names its executable
func (r *resolver) fromQueue(ctx context.Context, job string, queueID int64) (int, error) {
	path := fmt.Sprintf("/queue/item/%d/api/json", queueID)
	deadline := time.Now().Add(r.timeout)

	for {
		var item queueItem
		_, err := r.client.GetJSON(ctx, path, &item)
		switch {
		case err == nil && item.Executable != nil && item.Executable.Number > 0:
			logger.Debug("Queue item resolved", "job", job, "queue_id", queueID, "build_number", item.Executable.Number)
			return item.Executable.Number, nil
		case err == nil && item.Cancelled:
			return 0, &engine.BuildStartTimeoutError{Job: job, QueueID: queueID, Reason: "queue item was cancelled"}
		case err == nil:
			logger.Debug("Build still queued", "job", job, "queue_id", queueID, "why", item.Why)
		case IsNotFound(err), IsTransportTimeout(err):
			logger.Debug("Queue item not available yet", "job", job, "queue_id", queueID, "error", err)
		default:
			return 0, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			r.cancel(ctx, job, queueID)
			return 0, &engine.BuildStartTimeoutError{Job: job, QueueID: queueID, Timeout: r.timeout}
		}
		if err := sleep(ctx, min(r.interval, remaining)); err != nil {
			return 0, err
		}
	}
}

// cancel asks the server to drop a queue item. Its outcome never changes
// the reported failure.
func (r *resolver) cancel(ctx context.Context, job string, queueID int64) {
	if !r.cancelOnTimeout {
		return
	}
	path := fmt.Sprintf("/queue/cancelItem?id=%d", queueID)
	if _, err := r.client.Post(ctx, path, nil); err != nil {
		logger.Warn("Failed to cancel queue item", "job", job, "queue_id", queueID, "error", err)
		return
	}
	logger.Info("Cancelled queue item", "job", job, "queue_id", queueID)
}

// byGuess polls the guessed build until the server knows about it
func (r *resolver) byGuess(ctx context.Context, job string, number int) (int, error) {
	path := buildPath(job, number) + "/api/json"
	deadline := time.Now().Add(r.timeout)

	for {
		var details BuildDetails
		_, err := r.client.GetJSON(ctx, path, &details)
		if err == nil {
			return number, nil
		}
		if !IsNotFound(err) {
			return 0, err
		}
		logger.Debug("Build not started yet", "job", job, "build_number", number)

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, &engine.BuildStartTimeoutError{Job: job, BuildNumber: number, Timeout: r.timeout}
		}
		if err := sleep(ctx, min(r.interval, remaining)); err != nil {
			return 0, err
		}
	}
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
