package jenkins

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"jenkinsrun/internal/config"
	"jenkinsrun/internal/engine"
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func TestIsSuccess(t *testing.T) {
	tests := []struct {
		result            *string
		unstableIsSuccess bool
		want              bool
	}{
		{strPtr("SUCCESS"), false, true},
		{strPtr("UNSTABLE"), false, false},
		{strPtr("UNSTABLE"), true, true},
		{strPtr("FAILURE"), true, false},
		{strPtr("ABORTED"), false, false},
		{nil, true, false},
	}
	for _, tt := range tests {
		if got := isSuccess(tt.result, tt.unstableIsSuccess); got != tt.want {
			t.Errorf("isSuccess(%v, %v) = %v, want %v", tt.result, tt.unstableIsSuccess, got, tt.want)
		}
	}
}

func TestNormalizeTests(t *testing.T) {
	tests := []struct {
		name   string
		report testReport
		want   engine.TestSummary
	}{
		{
			name:   "pass count given",
			report: testReport{FailCount: intPtr(1), SkipCount: intPtr(2), PassCount: intPtr(7)},
			want:   engine.TestSummary{Total: 10, Failed: 1, Skipped: 2, Passed: 7},
		},
		{
			name:   "total count given",
			report: testReport{FailCount: intPtr(1), SkipCount: intPtr(2), TotalCount: intPtr(20)},
			want:   engine.TestSummary{Total: 20, Failed: 1, Skipped: 2, Passed: 17},
		},
		{
			name:   "both given",
			report: testReport{FailCount: intPtr(0), SkipCount: intPtr(0), PassCount: intPtr(4), TotalCount: intPtr(5)},
			want:   engine.TestSummary{Total: 5, Passed: 4},
		},
		{
			name:   "only failures",
			report: testReport{FailCount: intPtr(3)},
			want:   engine.TestSummary{Total: 3, Failed: 3},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeTests(tt.report)
			got.Duration = nil
			if *got != tt.want {
				t.Errorf("normalizeTests() = %+v, want %+v", *got, tt.want)
			}
		})
	}
}

func TestLatestEntry(t *testing.T) {
	for _, order := range [][]int64{{100, 200}, {200, 100}} {
		var entries []ChangeSetEntry
		for _, ts := range order {
			entries = append(entries, ChangeSetEntry{CommitID: map[int64]string{100: "old", 200: "new"}[ts], Timestamp: ts})
		}
		latest, ok := latestEntry(entries)
		if !ok || latest.CommitID != "new" {
			t.Errorf("order %v: expected the timestamp-200 entry, got %+v", order, latest)
		}
	}

	tie, _ := latestEntry([]ChangeSetEntry{{CommitID: "first", Timestamp: 5}, {CommitID: "second", Timestamp: 5}})
	if tie.CommitID != "first" {
		t.Errorf("Expected ties to keep the first entry, got %q", tie.CommitID)
	}
	if _, ok := latestEntry(nil); ok {
		t.Error("Expected no entry for an empty change set")
	}
}

func decodeDetails(t *testing.T, payload string) *BuildDetails {
	t.Helper()
	var details BuildDetails
	if err := json.Unmarshal([]byte(payload), &details); err != nil {
		t.Fatalf("bad fixture: %v", err)
	}
	return &details
}

func TestAggregate_SuccessWithoutTests(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	host := NewFakeHost()
	a := &aggregator{client: client, host: host}
	details := decodeDetails(t, `{"number":7,"building":false,"result":"SUCCESS","url":"http://jenkins/job/demo/7/"}`)

	result, err := a.aggregate(context.Background(), "demo", 7, details)
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}
	if !result.Success || result.Result() != "SUCCESS" {
		t.Errorf("Unexpected result %+v", result)
	}
	if result.Tests != nil || result.Links.Test != "" {
		t.Errorf("Expected no tests and no test link, got %+v %q", result.Tests, result.Links.Test)
	}
	if result.Links.Build != "http://jenkins/job/demo/7/" || result.Links.Log != "http://jenkins/job/demo/7/console" {
		t.Errorf("Unexpected links %+v", result.Links)
	}
	if _, ok := host.Values["tests"]; ok {
		t.Error("Expected no tests output value")
	}
	if host.Links["Build Page"] != result.Links.Build {
		t.Errorf("Expected Build Page link, got %v", host.Links)
	}
	if _, ok := host.Links["Test Result"]; ok {
		t.Error("Expected no Test Result link")
	}
}

func TestAggregate_UnstableFailsAfterPersisting(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/job/demo/8/testReport/api/json":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"failCount":2,"skipCount":1,"passCount":10,"duration":3.5}`))
		case "/user/alice/api/json":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"property":[{"_class":"hudson.model.MyViewsProperty"},{"address":"alice@example.com"}]}`))
		default:
			t.Errorf("Unexpected request %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})

	host := NewFakeHost()
	a := &aggregator{client: client, host: host, resolveAuthorEmail: true}
	details := decodeDetails(t, `{
		"number":8,"building":false,"result":"UNSTABLE","url":"http://jenkins/job/demo/8/",
		"changeSet":{"kind":"git","items":[
			{"timestamp":200,"commitId":"abc200","author":{"fullName":"alice","absoluteUrl":"`+client.BaseURL()+`/user/alice"}},
			{"timestamp":100,"commitId":"abc100","author":{"fullName":"bob"}}
		]}
	}`)

	result, err := a.aggregate(context.Background(), "demo", 8, details)

	var failed *engine.BuildFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("Expected BuildFailedError, got %v", err)
	}
	if failed.Result != "UNSTABLE" || failed.BuildNumber != 8 {
		t.Errorf("Unexpected failure %+v", failed)
	}

	// Side effects happened before the failure
	if result.Result() != "UNSTABLE" || result.Success {
		t.Errorf("Expected raw result UNSTABLE and no success, got %+v", result)
	}
	if len(result.Tests) != 1 || result.Tests[0].Total != 13 {
		t.Errorf("Unexpected tests %+v", result.Tests)
	}
	if host.Links["Test Result"] != "http://jenkins/job/demo/8/testReport" {
		t.Errorf("Expected Test Result link, got %v", host.Links)
	}
	for key, want := range map[string]interface{}{
		"reference":    "abc200",
		"commit_id":    "abc200",
		"scm_kind":     "git",
		"author_name":  "alice",
		"author_email": "alice@example.com",
	} {
		if host.Values[key] != want {
			t.Errorf("Output %s = %v, want %v", key, host.Values[key], want)
		}
	}
	if raw, ok := host.Values["build_result"].(*string); !ok || *raw != "UNSTABLE" {
		t.Errorf("Expected build_result UNSTABLE, got %v", host.Values["build_result"])
	}
}

func TestAggregate_ForeignAuthorURL(t *testing.T) {
	foreign := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("Credentials sent to a foreign host: %s %s", r.URL.Path, r.Header.Get("Authorization"))
	}))
	defer foreign.Close()

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/user/mallory/api/json" {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"property":[{"address":"mallory@example.com"}]}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})

	host := NewFakeHost()
	a := &aggregator{client: client, host: host, resolveAuthorEmail: true}
	details := decodeDetails(t, `{"building":false,"result":"SUCCESS","url":"http://jenkins/job/demo/9/",
		"changeSet":{"kind":"git","items":[{"timestamp":1,"commitId":"f00","author":{"fullName":"mallory","absoluteUrl":"`+foreign.URL+`/user/mallory"}}]}}`)

	result, err := a.aggregate(context.Background(), "demo", 9, details)
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}
	if result.AuthorEmail != "mallory@example.com" {
		t.Errorf("Expected the address from the configured server, got %q", result.AuthorEmail)
	}
}

func TestClientOnServer(t *testing.T) {
	client := NewClient(config.JenkinsConfig{URL: "https://ci.example.com/", WebPath: "jenkins"})
	tests := []struct {
		url  string
		want bool
	}{
		{"https://ci.example.com/user/alice", true},
		{"https://CI.example.com/jenkins/user/alice", true},
		{"http://ci.example.com/user/alice", false},
		{"https://ci.example.com:8443/user/alice", false},
		{"https://evil.example.com/user/alice", false},
		{"/user/alice", false},
		{"::not a url", false},
	}
	for _, tt := range tests {
		if got := client.OnServer(tt.url); got != tt.want {
			t.Errorf("OnServer(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestAggregate_UnstableIsSuccess(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	a := &aggregator{client: client, host: NewFakeHost(), unstableIsSuccess: true}
	result, err := a.aggregate(context.Background(), "demo", 3, decodeDetails(t, `{"building":false,"result":"UNSTABLE","url":"http://jenkins/job/demo/3/"}`))
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}
	if !result.Success {
		t.Error("Expected UNSTABLE to count as success")
	}
}

func TestAggregate_SubversionAndMissingEmail(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		// Neither a test report nor a user profile
		w.WriteHeader(http.StatusNotFound)
	})

	host := NewFakeHost()
	a := &aggregator{client: client, host: host, resolveAuthorEmail: true}
	details := decodeDetails(t, `{
		"building":false,"result":"SUCCESS","url":"http://jenkins/job/demo/4/",
		"changeSets":[{"kind":"svn","items":[{"timestamp":50,"id":"1234","author":{"fullName":"carol"}}]}]
	}`)

	result, err := a.aggregate(context.Background(), "demo", 4, details)
	if err != nil {
		t.Fatalf("A failed author lookup must not fail the build: %v", err)
	}
	if result.Revision != "1234" || result.CommitID != "1234" || result.Reference != "" {
		t.Errorf("Unexpected commit fields %+v", result)
	}
	if result.AuthorEmail != "" {
		t.Errorf("Expected no author email, got %q", result.AuthorEmail)
	}
	if _, ok := host.Values["author_email"]; ok {
		t.Error("Expected no author_email output")
	}
}

func TestAggregate_TestReportErrors(t *testing.T) {
	tests := []struct {
		name  string
		write func(w http.ResponseWriter)
		check func(t *testing.T, err error)
	}{
		{
			name: "malformed",
			write: func(w http.ResponseWriter) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(`{"failCount": [`))
			},
			check: func(t *testing.T, err error) {
				var parseErr *engine.JSONParseError
				if !errors.As(err, &parseErr) || parseErr.Excerpt == "" {
					t.Errorf("Expected JSONParseError with excerpt, got %v", err)
				}
			},
		},
		{
			name: "server error",
			write: func(w http.ResponseWriter) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			check: func(t *testing.T, err error) {
				var apiErr *APIError
				if !errors.As(err, &apiErr) || apiErr.Kind != KindServerError {
					t.Errorf("Expected server error, got %v", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				tt.write(w)
			})
			host := NewFakeHost()
			a := &aggregator{client: client, host: host}
			details := decodeDetails(t, `{"building":false,"result":"FAILURE","url":"http://jenkins/job/demo/5/",
				"changeSet":{"kind":"git","items":[{"commitId":"abc","timestamp":1}]}}`)
			result, err := a.aggregate(context.Background(), "demo", 5, details)
			tt.check(t, err)

			if result == nil || result.Result() != "FAILURE" {
				t.Fatalf("Expected the partial result, got %+v", result)
			}
			if raw, ok := host.Values["build_result"].(*string); !ok || *raw != "FAILURE" {
				t.Errorf("Expected build_result to be saved, got %#v", host.Values["build_result"])
			}
			if links, ok := host.Values["links"].(engine.Links); !ok || links.Build != "http://jenkins/job/demo/5/" {
				t.Errorf("Expected links to be saved, got %#v", host.Values["links"])
			}
			if host.Links["Build Page"] != "http://jenkins/job/demo/5/" {
				t.Errorf("Expected the Build Page link, got %v", host.Links)
			}
			if host.Values["commit_id"] != "abc" || host.Values["reference"] != "abc" {
				t.Errorf("Expected commit metadata to be saved, got %v", host.Values)
			}
			if _, ok := host.Links["Test Result"]; ok {
				t.Error("Expected no Test Result link without a report")
			}
		})
	}
}
