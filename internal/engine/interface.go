package engine

import (
	"context"
	"strings"
)

// Completion states reported by the CI server for a finished build
const (
	ResultSuccess  = "SUCCESS"
	ResultUnstable = "UNSTABLE"
	ResultFailure  = "FAILURE"
	ResultAborted  = "ABORTED"
)

// BuildRequest describes one build invocation
type BuildRequest struct {
	Job        string            `json:"job"`
	Parameters map[string]string `json:"parameters,omitempty"`
	// Override allows building a job that does not exist yet
	Override bool `json:"override,omitempty"`
}

// ParseParameters converts an ordered list of "key=value" strings into a
// parameter map. Entries are split on the first '='; an entry without one
// yields an empty value. Later keys win.
func ParseParameters(list []string) map[string]string {
	if len(list) == 0 {
		return nil
	}
	params := make(map[string]string, len(list))
	for _, entry := range list {
		key, value, _ := strings.Cut(entry, "=")
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		params[key] = strings.TrimSpace(value)
	}
	return params
}

// Links points at the server pages of a build
type Links struct {
	Build string `json:"build,omitempty"`
	Log   string `json:"log,omitempty"`
	Test  string `json:"test,omitempty"`
}

// TestSummary is the normalized test report of a build
type TestSummary struct {
	Total    int      `json:"tests"`
	Failed   int      `json:"failures"`
	Skipped  int      `json:"skipped"`
	Passed   int      `json:"passed"`
	Duration *float64 `json:"duration"`
}

// BuildResult is the canonical outcome of a tracked build
type BuildResult struct {
	BuildNumber int           `json:"build_number"`
	Success     bool          `json:"success"`
	RawResult   *string       `json:"build_result"`
	Links       Links         `json:"links"`
	Tests       []TestSummary `json:"tests,omitempty"`
	SCMKind     string        `json:"scm_kind,omitempty"`
	Reference   string        `json:"reference,omitempty"`
	Revision    string        `json:"revision,omitempty"`
	CommitID    string        `json:"commit_id,omitempty"`
	AuthorName  string        `json:"author_name,omitempty"`
	AuthorEmail string        `json:"author_email,omitempty"`
}

// Result returns the raw completion state, or "" when the server reported none
func (r *BuildResult) Result() string {
	if r == nil || r.RawResult == nil {
		return ""
	}
	return *r.RawResult
}

// Host is the orchestration pipeline the build reports into
type Host interface {
	WriteOutput(text string)
	SaveOutputValue(key string, value interface{}) error
	ReadOutputValue(key string) (interface{}, error)
	NotNeeded()
	AddLink(label, url string)
}

// CIEngine is an interface for CI engines
type CIEngine interface {
	// Build submits the job, tracks it to completion and reports the
	// canonical result into host
	Build(ctx context.Context, req BuildRequest, host Host) (*BuildResult, error)

	// BuildData reports the latest completed build of a job if it has not
	// been reported before. It returns a nil result when there is nothing new.
	BuildData(ctx context.Context, job string, host Host) (*BuildResult, error)
}
