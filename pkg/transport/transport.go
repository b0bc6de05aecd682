// Package transport sends serialized batches to the collection service and
// returns the raw status code and body. It does not interpret responses and
// does not retry: events that fail to upload stay queued for the next cycle.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "drey-go"
	maxResponseBytes = 1 << 20
)

// Request is one POST to the collection service.
type Request struct {
	Path       string // appended to the base URL, e.g. EventsPath(projectID)
	Credential string // sent verbatim in the Authorization header
	Body       []byte
}

// Response is the raw result of a request.
type Response struct {
	StatusCode int
	Body       []byte
}

// Success reports whether the status code is 2xx.
func (r *Response) Success() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Transport executes requests against the collection service.
type Transport interface {
	Execute(ctx context.Context, req *Request) (*Response, error)
}

// StatusError represents a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string // first 512 bytes
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// NewStatusError builds a StatusError from a response, truncating the body.
func NewStatusError(resp *Response) *StatusError {
	body := string(resp.Body)
	if len(body) > 512 {
		body = body[:512]
	}
	return &StatusError{StatusCode: resp.StatusCode, Body: body}
}

// EventsPath is the batch endpoint for a project.
func EventsPath(projectID string) string {
	return "/3.0/projects/" + url.PathEscape(projectID) + "/events"
}

// CollectionPath is the single-event endpoint for a collection.
func CollectionPath(projectID, collection string) string {
	return EventsPath(projectID) + "/" + url.PathEscape(collection)
}

// Option configures an HTTPTransport.
type Option func(*HTTPTransport)

// WithTimeout sets the HTTP client timeout. Default: 30s.
func WithTimeout(d time.Duration) Option {
	return func(t *HTTPTransport) {
		if d > 0 {
			t.client.Timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *HTTPTransport) {
		if c != nil {
			t.client = c
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(t *HTTPTransport) { t.userAgent = ua }
}

// HTTPTransport POSTs JSON bodies to baseURL + Request.Path.
type HTTPTransport struct {
	baseURL   string
	userAgent string
	client    *http.Client
}

// New creates an HTTPTransport for baseURL.
func New(baseURL string, opts ...Option) *HTTPTransport {
	t := &HTTPTransport{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: defaultUserAgent,
		client:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Execute implements Transport. Network errors and timeouts are returned as
// errors; any HTTP status, including non-2xx, is returned as a Response.
func (t *HTTPTransport) Execute(ctx context.Context, r *Request) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+r.Path, bytes.NewReader(r.Body))
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", t.userAgent)
	if r.Credential != "" {
		req.Header.Set("Authorization", r.Credential)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("transport: read body: %w", err)
	}

	return &Response{StatusCode: resp.StatusCode, Body: body}, nil
}

// Func adapts a function to the Transport interface.
type Func func(ctx context.Context, req *Request) (*Response, error)

// Execute implements Transport.
func (f Func) Execute(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}
