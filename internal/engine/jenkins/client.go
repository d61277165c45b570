package jenkins

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"jenkinsrun/internal/config"
	"jenkinsrun/internal/engine"
	"jenkinsrun/internal/logger"
)

// PayloadKind tells how a response body should be interpreted
type PayloadKind int

const (
	PayloadText PayloadKind = iota
	PayloadJSON
	PayloadHTML // login pages and proxy error pages
)

// errNotJSON is wrapped into the parse error of a page served where JSON was expected
var errNotJSON = errors.New("server returned an HTML page instead of JSON")

// Response is a successful answer from the Jenkins server. The payload kind
// is resolved once from the Content-Type so call sites never sniff bodies.
type Response struct {
	Kind   PayloadKind
	Status int
	Header http.Header
	Body   []byte
	path   string
}

// Decode unmarshals a JSON payload into v. HTML pages are refused without
// being parsed.
func (r *Response) Decode(v interface{}) error {
	if r.Kind == PayloadHTML {
		return &engine.JSONParseError{Path: r.path, Excerpt: engine.Excerpt(r.Body), Err: errNotJSON}
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return &engine.JSONParseError{Path: r.path, Excerpt: engine.Excerpt(r.Body), Err: err}
	}
	return nil
}

// Text returns the payload as plain text
func (r *Response) Text() string {
	return string(r.Body)
}

// ErrorKind classifies a failed request
type ErrorKind int

const (
	KindTransport ErrorKind = iota
	KindTransportTimeout
	KindNotFound
	KindServerError
	KindRejected
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransportTimeout:
		return "transport timeout"
	case KindNotFound:
		return "not found"
	case KindServerError:
		return "server error"
	case KindRejected:
		return "rejected"
	default:
		return "transport"
	}
}

// APIError is a failed request to the Jenkins server
type APIError struct {
	Kind   ErrorKind
	Method string
	URL    string
	Status int
	Body   string
	Err    error
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s %s: %s: %v", e.Method, e.URL, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, formatJenkinsError(e.Status))
}

func (e *APIError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a 404 from the server
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == KindNotFound
}

// IsTransportTimeout reports whether err is a request that timed out
func IsTransportTimeout(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == KindTransportTimeout
}

// Client represents a Jenkins API client. It holds no per-build state and
// is safe for concurrent use by independent invocations.
type Client struct {
	url      string
	username string
	token    string
	client   *http.Client
}

// NewClient creates a new Jenkins client instance
func NewClient(cfg config.JenkinsConfig) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // Opt-in for self-signed servers
	}

	client := &http.Client{
		Timeout:   time.Duration(cfg.Timeout) * time.Second,
		Transport: transport,
		// POST answers carry the Location we need; GETs follow redirects
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > 0 && via[0].Method == http.MethodPost {
				return http.ErrUseLastResponse
			}
			if len(via) >= 10 {
				return errors.New("stopped after 10 redirects")
			}
			return nil
		},
	}

	// Normalize URL: remove trailing slash to avoid double slashes in paths
	base := strings.TrimSuffix(cfg.URL, "/")
	if webPath := strings.Trim(cfg.WebPath, "/"); webPath != "" {
		base += "/" + webPath
	}

	return &Client{
		url:      base,
		username: cfg.Username,
		token:    cfg.Token,
		client:   client,
	}
}

// BaseURL returns the server root including the web path
func (c *Client) BaseURL() string {
	return c.url
}

// OnServer reports whether rawURL points at the configured Jenkins host.
// Credentials are only ever sent there.
func (c *Client) OnServer(rawURL string) bool {
	target, err := url.Parse(rawURL)
	if err != nil || target.Host == "" {
		return false
	}
	base, err := url.Parse(c.url)
	if err != nil {
		return false
	}
	return strings.EqualFold(target.Scheme, base.Scheme) && strings.EqualFold(target.Host, base.Host)
}

// Get fetches path, following redirects
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.doRequest(ctx, http.MethodGet, path, nil, "", "")
}

// GetJSON fetches path and decodes the JSON payload into v
func (c *Client) GetJSON(ctx context.Context, path string, v interface{}) (*Response, error) {
	resp, err := c.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := resp.Decode(v); err != nil {
		return resp, err
	}
	return resp, nil
}

// root fetches the server root document along with the version advertised
// in the X-Jenkins header
func (c *Client) root(ctx context.Context) (string, *rootInfo, error) {
	var info rootInfo
	resp, err := c.GetJSON(ctx, "/api/json?tree=jobs[name]", &info)
	if err != nil {
		return "", nil, err
	}
	return resp.Header.Get("X-Jenkins"), &info, nil
}

// Post sends form to path. A CSRF crumb is attached when the server issues one.
func (c *Client) Post(ctx context.Context, path string, form url.Values) (*Response, error) {
	// Get CSRF crumb first - some Jenkins versions require it
	crumbField, crumbValue, err := c.getCrumb(ctx)
	if err != nil {
		logger.Warn("Failed to get CSRF crumb, proceeding without it", "error", err)
	}

	if form == nil {
		form = url.Values{}
	}
	// Include the crumb in the form data if available
	if crumbField != "" && crumbValue != "" {
		form.Set(crumbField, crumbValue)
	}

	return c.doRequest(ctx, http.MethodPost, path, form, crumbField, crumbValue)
}

// doRequest sends an HTTP request to the Jenkins API
func (c *Client) doRequest(ctx context.Context, method, path string, form url.Values, crumbField, crumbValue string) (*Response, error) {
	fullURL := c.resolve(path)

	var reqBody io.Reader
	if form != nil {
		reqBody = strings.NewReader(form.Encode())
	}

	// Create the request with context
	req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return nil, &APIError{Kind: KindTransport, Method: method, URL: fullURL, Err: err}
	}

	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	c.authorize(req)

	// Also set crumb in header (some Jenkins versions require both)
	if crumbField != "" && crumbValue != "" {
		req.Header.Set(crumbField, crumbValue)
	}

	// Send the request
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, transportError(method, fullURL, err)
	}
	defer resp.Body.Close()

	// Read the response body
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(method, fullURL, err)
	}

	// 3xx only reaches us for POSTs, where it is an accepted answer
	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		apiErr := &APIError{
			Kind:   classifyStatus(resp.StatusCode),
			Method: method,
			URL:    fullURL,
			Status: resp.StatusCode,
			Body:   string(respBody),
		}
		if apiErr.Kind == KindNotFound {
			logger.Debug("Jenkins resource not found", "url", fullURL)
		} else {
			logger.Error("Jenkins API request failed", "status", resp.Status, "body", engine.Excerpt(respBody), "url", fullURL)
		}
		return nil, apiErr
	}

	return &Response{
		Kind:   payloadKind(resp.Header.Get("Content-Type")),
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   respBody,
		path:   path,
	}, nil
}

// resolve turns a server path or an absolute URL into a request URL
func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.url + path
}

// authorize sets Basic Authentication (username:token) when credentials are configured
func (c *Client) authorize(req *http.Request) {
	if c.username == "" && c.token == "" {
		return
	}
	auth := base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("%s:%s", c.username, c.token)))
	req.Header.Set("Authorization", "Basic "+auth)
}

// getCrumb retrieves the CSRF crumb from Jenkins for POST requests
// Returns the crumb field name and value separately
func (c *Client) getCrumb(ctx context.Context) (string, string, error) {
	crumbURL := c.url + "/crumbIssuer/api/json"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, crumbURL, nil)
	if err != nil {
		return "", "", err
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	// Crumbs are disabled on this server
	if resp.StatusCode == http.StatusNotFound {
		return "", "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("failed to get crumb: %s", resp.Status)
	}

	var crumbData struct {
		Crumb             string `json:"crumb"`
		CrumbRequestField string `json:"crumbRequestField"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&crumbData); err != nil {
		return "", "", err
	}

	crumbField := crumbData.CrumbRequestField
	if crumbField == "" {
		crumbField = "Jenkins-Crumb" // Default field name
	}

	return crumbField, crumbData.Crumb, nil
}

func payloadKind(contentType string) PayloadKind {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return PayloadText
	}
	switch {
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		return PayloadJSON
	case mediaType == "text/html" || mediaType == "application/xhtml+xml":
		return PayloadHTML
	}
	return PayloadText
}

func classifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusNotFound:
		return KindNotFound
	case status >= 500:
		return KindServerError
	default:
		return KindRejected
	}
}

func transportError(method, fullURL string, err error) error {
	kind := KindTransport
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = KindTransportTimeout
	}
	return &APIError{Kind: kind, Method: method, URL: fullURL, Err: err}
}

// formatJenkinsError formats Jenkins API errors into user-friendly messages
func formatJenkinsError(statusCode int) error {
	switch statusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("authentication failed: invalid credentials")
	case http.StatusForbidden:
		return fmt.Errorf("access denied: insufficient permissions")
	case http.StatusNotFound:
		return fmt.Errorf("resource not found")
	case http.StatusBadRequest:
		return fmt.Errorf("invalid request")
	case http.StatusMethodNotAllowed:
		return fmt.Errorf("method not allowed")
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return fmt.Errorf("jenkins server error: %d", statusCode)
	default:
		return fmt.Errorf("jenkins api request failed: %d", statusCode)
	}
}
