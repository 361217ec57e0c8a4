package dav

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

var (
	ErrConnectionFailed = errors.New("connection failed")
	ErrAuthFailed       = errors.New("authentication failed")
	ErrInvalidResponse  = errors.New("invalid server response")
)

const (
	defaultTimeout = 30 * time.Second
	minTLSVersion  = tls.VersionTLS12
)

// Response is the outcome of a single WebDAV request.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// IsSuccess reports whether the status code is in the 2xx range.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// ETag returns the entity tag reported by the server, if any.
func (r *Response) ETag() string {
	return r.Header.Get("ETag")
}

// Credentials selects the authentication mode for a client.
type Credentials struct {
	Username    string
	Password    string
	BearerToken string // Non-empty selects OAuth2 bearer auth
}

// Client issues WebDAV requests against a single server.
//
// All outbound requests pass through a shared rate limiter so that aggressive
// sync fan-out cannot hammer the remote server.
type Client struct {
	baseURL    string
	creds      Credentials
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a WebDAV transport client.
func NewClient(baseURL string, creds Credentials, rps float64, burst int) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("%w: base URL is required", ErrConnectionFailed)
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: minTLSVersion,
		},
		MaxIdleConns:        10,
		IdleConnTimeout:     30 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	httpClient := &http.Client{
		Timeout:   defaultTimeout,
		Transport: transport,
	}

	if creds.BearerToken != "" {
		// Route through oauth2 so the Authorization header is managed by the
		// token source; static tokens are refreshed out-of-band by the caller.
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: creds.BearerToken})
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)
		httpClient = oauth2.NewClient(ctx, src)
		httpClient.Timeout = defaultTimeout
	}

	if rps <= 0 {
		rps = 10
	}
	if burst <= 0 {
		burst = int(rps)
	}

	return &Client{
		baseURL:    baseURL,
		creds:      creds,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
	}, nil
}

// BaseURL returns the server base URL this client was created with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// HTTPClient exposes the underlying HTTP client for discovery helpers.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// Propfind issues a PROPFIND request with the given Depth header.
func (c *Client) Propfind(ctx context.Context, url string, depth int, body string) (*Response, error) {
	return c.do(ctx, "PROPFIND", url, []byte(body), header{
		"Content-Type": "application/xml; charset=utf-8",
		"Depth":        strconv.Itoa(depth),
	})
}

// Report issues a REPORT request with Depth 1.
func (c *Client) Report(ctx context.Context, url string, body string) (*Response, error) {
	return c.do(ctx, "REPORT", url, []byte(body), header{
		"Content-Type": "application/xml; charset=utf-8",
		"Depth":        "1",
	})
}

// Get fetches a single resource.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	return c.do(ctx, http.MethodGet, url, nil, nil)
}

// Put uploads a resource body. A non-empty ifMatch etag makes the write
// conditional on the server-side version being unchanged.
func (c *Client) Put(ctx context.Context, url string, body []byte, contentType, ifMatch string) (*Response, error) {
	h := header{"Content-Type": contentType}
	if ifMatch != "" {
		h["If-Match"] = ifMatch
	}
	return c.do(ctx, http.MethodPut, url, body, h)
}

// Delete removes a resource, optionally guarded by an If-Match precondition.
func (c *Client) Delete(ctx context.Context, url string, ifMatch string) (*Response, error) {
	var h header
	if ifMatch != "" {
		h = header{"If-Match": ifMatch}
	}
	return c.do(ctx, http.MethodDelete, url, nil, h)
}

type header map[string]string

func (c *Client) do(ctx context.Context, method, url string, body []byte, h header) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if c.creds.BearerToken == "" && c.creds.Username != "" {
		req.SetBasicAuth(c.creds.Username, c.creds.Password)
	}

	for k, v := range h {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       respBody,
	}, nil
}

// IsAuthStatus reports whether the status code indicates an authentication
// or authorization failure that should be surfaced to the user.
func IsAuthStatus(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

// IsGoneStatus reports whether the status code means the resource vanished
// server-side.
func IsGoneStatus(status int) bool {
	return status == http.StatusNotFound || status == http.StatusGone
}
