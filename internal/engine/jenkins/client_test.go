package jenkins

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"jenkinsrun/internal/config"
	"jenkinsrun/internal/engine"
)

const crumbIssuerPath = "/crumbIssuer/api/json"

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(config.JenkinsConfig{
		URL:      server.URL,
		Username: "user",
		Token:    "token",
		Timeout:  5,
	})
	return client, server
}

func TestGetJSON(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		expectedAuth := "Basic " + base64.StdEncoding.EncodeToString([]byte("user:token"))
		if auth := r.Header.Get("Authorization"); auth != expectedAuth {
			t.Errorf("Expected Auth header %q, got %q", expectedAuth, auth)
		}
		w.Header().Set("Content-Type", "application/json;charset=utf-8")
		w.Write([]byte(`{"name":"demo","nextBuildNumber":12}`))
	})

	var info jobInfo
	resp, err := client.GetJSON(context.Background(), "/job/demo/api/json", &info)
	if err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if resp.Kind != PayloadJSON {
		t.Errorf("Expected JSON payload kind, got %v", resp.Kind)
	}
	if info.NextBuildNumber != 12 {
		t.Errorf("Expected nextBuildNumber 12, got %d", info.NextBuildNumber)
	}
}

func TestGetJSON_HTMLPage(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html;charset=utf-8")
		w.Write([]byte(`<html><body>Sign in to Jenkins</body></html>`))
	})

	var info jobInfo
	resp, err := client.GetJSON(context.Background(), "/job/demo/api/json", &info)

	var parseErr *engine.JSONParseError
	if !errors.As(err, &parseErr) || !errors.Is(err, errNotJSON) {
		t.Fatalf("Expected an HTML page to be refused, got %v", err)
	}
	if !strings.Contains(parseErr.Excerpt, "Sign in to Jenkins") {
		t.Errorf("Expected the page in the excerpt, got %q", parseErr.Excerpt)
	}
	if resp == nil || resp.Kind != PayloadHTML {
		t.Errorf("Expected an HTML payload kind, got %+v", resp)
	}
}

func TestPayloadKind(t *testing.T) {
	tests := []struct {
		contentType string
		want        PayloadKind
	}{
		{"application/json;charset=utf-8", PayloadJSON},
		{"application/vnd.api+json", PayloadJSON},
		{"text/html; charset=UTF-8", PayloadHTML},
		{"text/plain", PayloadText},
		{"", PayloadText},
	}
	for _, tt := range tests {
		if got := payloadKind(tt.contentType); got != tt.want {
			t.Errorf("payloadKind(%q) = %v, want %v", tt.contentType, got, tt.want)
		}
	}
}

func TestGetJSON_Malformed(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"building": tru`))
	})

	var details BuildDetails
	_, err := client.GetJSON(context.Background(), "/job/demo/1/api/json", &details)

	var parseErr *engine.JSONParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("Expected JSONParseError, got %v", err)
	}
	if !strings.Contains(parseErr.Excerpt, `{"building": tru`) {
		t.Errorf("Expected excerpt of the payload, got %q", parseErr.Excerpt)
	}
	if !errors.Is(err, engine.ErrJSONParse) {
		t.Error("Expected error to match ErrJSONParse")
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		kind     ErrorKind
		notFound bool
	}{
		{"not found", http.StatusNotFound, KindNotFound, true},
		{"server error", http.StatusInternalServerError, KindServerError, false},
		{"bad gateway", http.StatusBadGateway, KindServerError, false},
		{"forbidden", http.StatusForbidden, KindRejected, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte("nope"))
			})

			_, err := client.Get(context.Background(), "/anything")
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("Expected APIError, got %v", err)
			}
			if apiErr.Kind != tt.kind {
				t.Errorf("Expected kind %v, got %v", tt.kind, apiErr.Kind)
			}
			if apiErr.Status != tt.status || apiErr.Body != "nope" {
				t.Errorf("Expected status %d and body, got %d %q", tt.status, apiErr.Status, apiErr.Body)
			}
			if IsNotFound(err) != tt.notFound {
				t.Errorf("IsNotFound = %v, want %v", IsNotFound(err), tt.notFound)
			}
		})
	}
}

func TestTransportTimeout(t *testing.T) {
	release := make(chan struct{})
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Get(ctx, "/slow")
	if !IsTransportTimeout(err) {
		t.Fatalf("Expected transport timeout, got %v", err)
	}
}

func TestPost_Crumb(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == crumbIssuerPath {
			w.Write([]byte(`{"crumb":"test-crumb","crumbRequestField":"Jenkins-Crumb"}`))
			return
		}
		if r.Header.Get("Jenkins-Crumb") != "test-crumb" {
			t.Errorf("Expected crumb header, got %q", r.Header.Get("Jenkins-Crumb"))
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm failed: %v", err)
		}
		if r.PostForm.Get("Jenkins-Crumb") != "test-crumb" || r.PostForm.Get("BRANCH") != "main" {
			t.Errorf("Unexpected form: %v", r.PostForm)
		}
		w.WriteHeader(http.StatusCreated)
	})

	form := url.Values{}
	form.Set("BRANCH", "main")
	if _, err := client.Post(context.Background(), "/job/demo/buildWithParameters", form); err != nil {
		t.Fatalf("Post failed: %v", err)
	}
}

func TestPost_NoCrumbIssuer(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == crumbIssuerPath {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("Jenkins-Crumb") != "" {
			t.Error("Expected no crumb header")
		}
		w.WriteHeader(http.StatusCreated)
	})

	if _, err := client.Post(context.Background(), "/job/demo/build", nil); err != nil {
		t.Fatalf("Post failed: %v", err)
	}
}

func TestPost_DoesNotFollowRedirect(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case crumbIssuerPath:
			w.WriteHeader(http.StatusNotFound)
		case "/job/demo/build":
			w.Header().Set("Location", "/queue/item/5/")
			w.WriteHeader(http.StatusFound)
		default:
			t.Errorf("Redirect was followed to %s", r.URL.Path)
		}
	})
	resp, err := client.Post(context.Background(), "/job/demo/build", nil)
	if err != nil {
		t.Fatalf("Post failed: %v", err)
	}
	if resp.Status != http.StatusFound || resp.Header.Get("Location") != "/queue/item/5/" {
		t.Errorf("Expected the redirect itself, got %d %q", resp.Status, resp.Header.Get("Location"))
	}
}

func TestClient_WebPathAndAbsoluteURL(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := NewClient(config.JenkinsConfig{URL: server.URL + "/", WebPath: "/jenkins/", Timeout: 5})
	if client.BaseURL() != server.URL+"/jenkins" {
		t.Errorf("Unexpected base URL %q", client.BaseURL())
	}

	resp, err := client.Get(context.Background(), "/api/json")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if resp.Kind != PayloadText || resp.Text() != "ok" {
		t.Errorf("Expected text payload, got %v %q", resp.Kind, resp.Text())
	}
	if _, err := client.Get(context.Background(), server.URL+"/user/alice/api/json"); err != nil {
		t.Fatalf("Get absolute failed: %v", err)
	}

	want := []string{"/jenkins/api/json", "/user/alice/api/json"}
	for i, p := range want {
		if i >= len(paths) || paths[i] != p {
			t.Errorf("Expected request %d to %q, got %v", i, p, paths)
		}
	}
}

func TestRoot(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Jenkins", "2.401.3")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jobs":[{"name":"demo"}]}`))
	})

	version, info, err := client.root(context.Background())
	if err != nil {
		t.Fatalf("root failed: %v", err)
	}
	if version != "2.401.3" {
		t.Errorf("Expected version 2.401.3, got %q", version)
	}
	if len(info.Jobs) != 1 || info.Jobs[0].Name != "demo" {
		t.Errorf("Unexpected jobs %+v", info.Jobs)
	}
}

func TestJobPath(t *testing.T) {
	tests := map[string]string{
		"demo":           "/job/demo",
		"folder/demo":    "/job/folder/job/demo",
		"/a/b/c/":        "/job/a/job/b/job/c",
		"with space":     "/job/with%20space",
		"team/app build": "/job/team/job/app%20build",
	}
	for job, want := range tests {
		if got := jobPath(job); got != want {
			t.Errorf("jobPath(%q) = %q, want %q", job, got, want)
		}
	}
	if got := buildPath("folder/demo", 7); got != "/job/folder/job/demo/7" {
		t.Errorf("Unexpected build path %q", got)
	}
}
