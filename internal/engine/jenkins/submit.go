package jenkins

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"

	"jenkinsrun/internal/engine"
	"jenkinsrun/internal/logger"
)

// queueLocationPattern matches the Location Jenkins returns for a queued build
var queueLocationPattern = regexp.MustCompile(`/queue/item/(\d+)/?$`)

// submission is what the server told us about an accepted build request
type submission struct {
	Location string
	QueueID  int64 // zero when the server did not hand out a queue item
}

// submitBuild posts the build request. Parameterized builds go to
// buildWithParameters, all others to build.
func submitBuild(ctx context.Context, client *Client, req engine.BuildRequest) (*submission, error) {
	form := url.Values{}
	endpoint := jobPath(req.Job) + "/build"

	if len(req.Parameters) > 0 {
		endpoint = jobPath(req.Job) + "/buildWithParameters"
		for k, v := range req.Parameters {
			form.Set(k, v)
		}
	} else {
		// Jenkins Stapler expects a json field for non-parameterized builds
		form.Set("json", "{}")
	}

	resp, err := client.Post(ctx, endpoint, form)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status != 0 {
			return nil, &engine.BuildSubmissionError{Job: req.Job, Status: apiErr.Status, Body: apiErr.Body}
		}
		return nil, fmt.Errorf("submit build of %s: %w", req.Job, err)
	}

	sub := parseLocation(resp.Header.Get("Location"))
	logger.Debug("Build submitted", "job", req.Job, "status", resp.Status, "location", sub.Location, "queue_id", sub.QueueID)
	return sub, nil
}

// parseLocation extracts the queue item id from a Location header, which may
// be relative or absolute
func parseLocation(location string) *submission {
	sub := &submission{Location: location}
	if location == "" {
		return sub
	}

	path := location
	if u, err := url.Parse(location); err == nil {
		path = u.Path
	}

	if m := queueLocationPattern.FindStringSubmatch(path); m != nil {
		if id, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			sub.QueueID = id
		}
	}
	return sub
}
