package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	ErrConfiguration     = errors.New("configuration error")
	ErrBuildSubmission   = errors.New("build submission rejected")
	ErrBuildStartTimeout = errors.New("build did not start in time")
	ErrLogTimeout        = errors.New("console log fetch timed out")
	ErrPollTimeout       = errors.New("build polling timed out")
	ErrBuildFailed       = errors.New("build failed")
	ErrJSONParse         = errors.New("malformed server payload")
)

// excerptLen bounds how much of a payload is quoted in errors
const excerptLen = 200

// Excerpt returns at most the first 200 bytes of body, never splitting a
// UTF-8 sequence
func Excerpt(body []byte) string {
	if len(body) > excerptLen {
		return Truncate(string(body), excerptLen) + "..."
	}
	return string(body)
}

// Truncate shortens s to at most n bytes, backing off to a rune boundary
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// ConfigurationError reports missing or invalid required input
type ConfigurationError struct {
	Missing []string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	if len(e.Missing) > 0 {
		return "missing fields: " + strings.Join(e.Missing, ",")
	}
	return e.Reason
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// BuildSubmissionError reports that the server rejected the build request
type BuildSubmissionError struct {
	Job    string
	Status int
	Body   string
}

func (e *BuildSubmissionError) Error() string {
	return fmt.Sprintf("jenkins rejected build of %s: %d %s", e.Job, e.Status, e.Body)
}

func (e *BuildSubmissionError) Is(target error) bool { return target == ErrBuildSubmission }

// BuildStartTimeoutError reports that no build number was assigned in time
type BuildStartTimeoutError struct {
	Job         string
	BuildNumber int   // set when guessing
	QueueID     int64 // set when waiting on the queue
	Timeout     time.Duration
	Reason      string
}

func (e *BuildStartTimeoutError) Error() string {
	var target string
	switch {
	case e.QueueID > 0:
		target = fmt.Sprintf("queue item %d", e.QueueID)
	case e.BuildNumber > 0:
		target = fmt.Sprintf("build number %d", e.BuildNumber)
	default:
		target = "build"
	}
	if e.Reason != "" {
		return fmt.Sprintf("jenkins job %s %s did not start: %s", e.Job, target, e.Reason)
	}
	return fmt.Sprintf("timed out after %s waiting for jenkins job %s %s to start", e.Timeout, e.Job, target)
}

func (e *BuildStartTimeoutError) Is(target error) bool { return target == ErrBuildStartTimeout }

// LogTimeoutError reports a transport timeout while fetching console output
type LogTimeoutError struct {
	Job         string
	BuildNumber int
	Offset      int64
	Err         error
}

func (e *LogTimeoutError) Error() string {
	return fmt.Sprintf("timed out fetching console output of %s #%d at offset %d: %v", e.Job, e.BuildNumber, e.Offset, e.Err)
}

func (e *LogTimeoutError) Unwrap() error { return e.Err }

func (e *LogTimeoutError) Is(target error) bool { return target == ErrLogTimeout }

// PollTimeoutError reports that completion polling exceeded its bound.
// NotMaterialized is set when the server never produced the build record,
// in which case the error also matches ErrBuildStartTimeout.
type PollTimeoutError struct {
	Job             string
	BuildNumber     int
	Attempts        int
	Elapsed         time.Duration
	NotMaterialized bool
}

func (e *PollTimeoutError) Error() string {
	if e.NotMaterialized {
		return fmt.Sprintf("timed out trying to get build details for %s build number %d after %d attempts", e.Job, e.BuildNumber, e.Attempts)
	}
	return fmt.Sprintf("timed out after %s waiting for %s build number %d to complete", e.Elapsed.Round(time.Second), e.Job, e.BuildNumber)
}

func (e *PollTimeoutError) Is(target error) bool {
	return target == ErrPollTimeout || (e.NotMaterialized && target == ErrBuildStartTimeout)
}

// BuildFailedError reports a completed build whose result is not a success
type BuildFailedError struct {
	Job         string
	BuildNumber int
	Result      string
}

func (e *BuildFailedError) Error() string {
	result := e.Result
	if result == "" {
		result = "no result"
	}
	return fmt.Sprintf("jenkins job %s build %d failed: %s", e.Job, e.BuildNumber, result)
}

func (e *BuildFailedError) Is(target error) bool { return target == ErrBuildFailed }

// JSONParseError reports a payload that could not be decoded
type JSONParseError struct {
	Path    string
	Excerpt string
	Err     error
}

func (e *JSONParseError) Error() string {
	return fmt.Sprintf("malformed response from %s: %v: %q", e.Path, e.Err, e.Excerpt)
}

func (e *JSONParseError) Unwrap() error { return e.Err }

func (e *JSONParseError) Is(target error) bool { return target == ErrJSONParse }
