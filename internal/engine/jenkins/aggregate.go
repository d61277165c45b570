package jenkins

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"jenkinsrun/internal/engine"
	"jenkinsrun/internal/logger"
)

// aggregator turns terminal build details into the canonical result and
// reports it to the host
type aggregator struct {
	client             *Client
	host               engine.Host
	unstableIsSuccess  bool
	resolveAuthorEmail bool
}

// isSuccess applies the success policy to a raw completion state
func isSuccess(result *string, unstableIsSuccess bool) bool {
	if result == nil {
		return false
	}
	return *result == engine.ResultSuccess || (unstableIsSuccess && *result == engine.ResultUnstable)
}

// aggregate persists links, tests and commit metadata, and only then
// reports a non-successful build as BuildFailedError
func (a *aggregator) aggregate(ctx context.Context, job string, number int, details *BuildDetails) (*engine.BuildResult, error) {
	log := logger.With("job", job, "build_number", number)

	result := &engine.BuildResult{
		BuildNumber: number,
		Success:     isSuccess(details.Result, a.unstableIsSuccess),
		RawResult:   details.Result,
	}

	buildURL := buildPageURL(a.client, job, number, details.URL)
	result.Links = engine.Links{Build: buildURL, Log: buildURL + "console"}

	// Result, links and commit metadata reach the host before the test
	// report is fetched
	a.applyChangeSet(ctx, details, result)
	a.save("build_result", details.Result)
	a.save("links", result.Links)
	a.host.AddLink("Build Page", result.Links.Build)

	tests, err := a.testSummary(ctx, job, number)
	if err != nil {
		return result, err
	}
	if tests != nil {
		result.Tests = []engine.TestSummary{*tests}
		result.Links.Test = buildURL + "testReport"
		a.writeLine(fmt.Sprintf("Test results: test count=%d, failures=%d, skipped=%d, passed=%d, duration=%s",
			tests.Total, tests.Failed, tests.Skipped, tests.Passed, formatDuration(tests.Duration)))
		a.save("tests", result.Tests)
		a.save("links", result.Links)
		a.host.AddLink("Test Result", result.Links.Test)
	} else {
		a.writeLine("No test results available")
	}

	if result.Success {
		a.writeLine("Jenkins Job Completed Successfully")
		log.Info("Build completed", "result", result.Result())
		return result, nil
	}

	a.writeLine("Jenkins Job Completed Unsuccessfully")
	log.Warn("Build completed unsuccessfully", "result", result.Result())
	return result, &engine.BuildFailedError{Job: job, BuildNumber: number, Result: result.Result()}
}

// buildPageURL is the build's page, derived from the client when the
// server did not report one. It always ends in a slash.
func buildPageURL(client *Client, job string, number int, reported string) string {
	if reported == "" {
		reported = client.BaseURL() + buildPath(job, number) + "/"
	}
	if !strings.HasSuffix(reported, "/") {
		reported += "/"
	}
	return reported
}

// testSummary fetches the test report. A 404 means no tests ran.
func (a *aggregator) testSummary(ctx context.Context, job string, number int) (*engine.TestSummary, error) {
	var report testReport
	_, err := a.client.GetJSON(ctx, buildPath(job, number)+"/testReport/api/json", &report)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch test report of %s #%d: %w", job, number, err)
	}
	return normalizeTests(report), nil
}

// normalizeTests fills in whichever of passCount and totalCount the server omitted
func normalizeTests(report testReport) *engine.TestSummary {
	summary := &engine.TestSummary{Duration: report.Duration}
	if report.FailCount != nil {
		summary.Failed = *report.FailCount
	}
	if report.SkipCount != nil {
		summary.Skipped = *report.SkipCount
	}

	switch {
	case report.PassCount != nil:
		summary.Passed = *report.PassCount
	case report.TotalCount != nil:
		summary.Passed = *report.TotalCount - (summary.Skipped + summary.Failed)
	}

	if report.TotalCount != nil {
		summary.Total = *report.TotalCount
	} else {
		summary.Total = summary.Failed + summary.Skipped + summary.Passed
	}
	return summary
}

// latestEntry returns the change with the greatest timestamp; ties keep the first seen
func latestEntry(entries []ChangeSetEntry) (ChangeSetEntry, bool) {
	if len(entries) == 0 {
		return ChangeSetEntry{}, false
	}
	latest := entries[0]
	for _, entry := range entries[1:] {
		if entry.Timestamp > latest.Timestamp {
			latest = entry
		}
	}
	return latest, true
}

// applyChangeSet records commit metadata of the latest change
func (a *aggregator) applyChangeSet(ctx context.Context, details *BuildDetails, result *engine.BuildResult) {
	entry, ok := latestEntry(details.Entries())
	if !ok {
		return
	}

	result.SCMKind = entry.Kind
	result.CommitID = entry.CommitID
	result.AuthorName = entry.AuthorName

	switch entry.Kind {
	case "git":
		result.Reference = entry.CommitID
		a.save("reference", entry.CommitID)
	case "svn":
		result.Revision = entry.CommitID
		a.save("revision", entry.CommitID)
	}

	if entry.Kind != "" {
		a.save("scm_kind", entry.Kind)
	}
	a.save("commit_id", entry.CommitID)
	if entry.AuthorName != "" {
		a.save("author_name", entry.AuthorName)
	}

	if a.resolveAuthorEmail {
		if email := a.authorEmail(ctx, entry); email != "" {
			result.AuthorEmail = email
			a.save("author_email", email)
		}
	}
}

// authorEmail looks up the author's mail address. Profile URLs pointing
// away from the server are replaced by /user/<name>. Any failure only means
// the address is omitted.
func (a *aggregator) authorEmail(ctx context.Context, entry ChangeSetEntry) string {
	var path string
	switch {
	case entry.AuthorURL != "" && a.client.OnServer(entry.AuthorURL):
		path = strings.TrimSuffix(entry.AuthorURL, "/") + "/api/json"
	case entry.AuthorName != "":
		path = "/user/" + url.PathEscape(entry.AuthorName) + "/api/json"
	default:
		return ""
	}

	var user userInfo
	if _, err := a.client.GetJSON(ctx, path, &user); err != nil {
		logger.Debug("Author lookup failed", "author", entry.AuthorName, "error", err)
		return ""
	}
	for _, property := range user.Property {
		if property.Address != "" {
			return property.Address
		}
	}
	return ""
}

func (a *aggregator) save(key string, value interface{}) {
	if err := a.host.SaveOutputValue(key, value); err != nil {
		logger.Warn("Failed to save output value", "key", key, "error", err)
	}
}

func (a *aggregator) writeLine(msg string) {
	a.host.WriteOutput(msg + "\n")
}

func formatDuration(d *float64) string {
	if d == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.3fs", *d)
}
