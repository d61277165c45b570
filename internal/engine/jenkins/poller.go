package jenkins

import (
	"context"
	"time"

	"jenkinsrun/internal/engine"
	"jenkinsrun/internal/logger"
)

// pollState is where the completion poller is in its lifecycle
type pollState int

const (
	stateStarting pollState = iota
	statePolling
	stateDone
	stateFailed
	stateTimedOut
	stateCancelled
)

func (s pollState) String() string {
	switch s {
	case stateStarting:
		return "starting"
	case statePolling:
		return "polling"
	case stateDone:
		return "done"
	case stateFailed:
		return "failed"
	case stateTimedOut:
		return "timed_out"
	case stateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// poller waits for one build to stop building, advancing its console log
// on every iteration that produced build details
type poller struct {
	client      *Client
	logs        *logStreamer
	job         string
	number      int
	interval    time.Duration
	maxNotFound int
	timeout     time.Duration // non-positive means no overall bound

	state    pollState
	notFound int
	attempts int
	seen     bool
}

// run polls until the build is terminal. It never reports completion while
// the server says the build is still running.
func (p *poller) run(ctx context.Context) (*BuildDetails, error) {
	path := buildPath(p.job, p.number) + "/api/json"
	started := time.Now()
	p.state = stateStarting

	for {
		p.attempts++

		var details BuildDetails
		_, err := p.client.GetJSON(ctx, path, &details)
		switch {
		case err == nil:
			p.seen = true
			p.notFound = 0
			p.state = statePolling

			if err := p.logs.advance(ctx); err != nil {
				p.state = stateFailed
				return nil, err
			}
			if !details.Building {
				p.state = stateDone
				return &details, nil
			}

		case ctx.Err() != nil:
			p.state = stateCancelled
			return nil, ctx.Err()

		case IsNotFound(err), IsTransportTimeout(err):
			p.notFound++
			logger.Debug("Build details not available yet", "job", p.job, "build_number", p.number, "attempt", p.notFound, "error", err)
			if p.notFound > p.maxNotFound {
				p.state = stateTimedOut
				return nil, &engine.PollTimeoutError{
					Job:             p.job,
					BuildNumber:     p.number,
					Attempts:        p.notFound,
					Elapsed:         time.Since(started),
					NotMaterialized: !p.seen,
				}
			}

		default:
			p.state = stateFailed
			return nil, err
		}

		if p.timeout > 0 && time.Since(started) >= p.timeout {
			p.state = stateTimedOut
			return nil, &engine.PollTimeoutError{
				Job:         p.job,
				BuildNumber: p.number,
				Attempts:    p.attempts,
				Elapsed:     time.Since(started),
			}
		}

		if err := sleep(ctx, p.interval); err != nil {
			p.state = stateCancelled
			return nil, err
		}
	}
}
