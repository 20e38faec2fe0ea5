// Package transport issues single HTTP requests against the campus backend and
// normalizes the outcome into a JSON payload or a typed error. It never retries
// and never interprets status codes beyond success versus failure.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultTimeout applies when the caller does not provide an http.Client.
	DefaultTimeout = 30 * time.Second

	contentTypeJSON = "application/json"
	maxErrorBody    = 1 << 20 // 1 MB max error body
)

// Request describes one call. Path is joined to the client's base URL.
// Raw with ContentType replaces the JSON body (multipart uploads).
type Request struct {
	Method      string
	Path        string
	Query       url.Values
	Body        any
	Header      http.Header
	Raw         []byte
	ContentType string
}

// Doer is the subset of *http.Client the transport needs.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Sender is implemented by Client and by anything that can stand in for it.
type Sender interface {
	Send(ctx context.Context, req Request) (json.RawMessage, error)
}

// Client is the campus API transport.
type Client struct {
	baseURL    string
	httpClient Doer
	logger     *zap.Logger
}

var _ Sender = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(d Doer) Option {
	return func(c *Client) {
		if d != nil {
			c.httpClient = d
		}
	}
}

// WithTimeout sets the timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a new transport client for baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Send performs req. A 2xx response yields its body (nil when empty); any
// other status yields *HTTPError; a missing response yields *TransportError.
func (c *Client) Send(ctx context.Context, req Request) (json.RawMessage, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	contentType := contentTypeJSON
	switch {
	case req.Raw != nil:
		body = bytes.NewReader(req.Raw)
		if req.ContentType != "" {
			contentType = req.ContentType
		}
	case req.Body != nil:
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	target := c.baseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", contentTypeJSON)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Debug("request failed",
			zap.String("method", method),
			zap.String("path", req.Path),
			zap.Error(err))
		return nil, &TransportError{Op: method + " " + req.Path, Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	c.logger.Debug("request completed",
		zap.String("method", method),
		zap.String("path", req.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, readHTTPError(resp)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: "read " + req.Path, Err: err}
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, nil
	}
	return json.RawMessage(payload), nil
}

func readHTTPError(resp *http.Response) *HTTPError {
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return &HTTPError{Status: resp.StatusCode, Message: fmt.Sprintf("failed to read body: %v", err)}
	}
	httpErr := &HTTPError{Status: resp.StatusCode}
	trimmed := bytes.TrimSpace(respBody)
	if len(trimmed) == 0 {
		return httpErr
	}
	if json.Valid(trimmed) {
		httpErr.Body = json.RawMessage(trimmed)
		var apiErr struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		if json.Unmarshal(trimmed, &apiErr) == nil {
			if apiErr.Message != "" {
				httpErr.Message = apiErr.Message
			} else {
				httpErr.Message = apiErr.Error
			}
		}
		return httpErr
	}
	httpErr.Message = string(trimmed)
	return httpErr
}

// Decode unmarshals a payload returned by Send into T. An empty payload yields
// the zero value.
func Decode[T any](payload json.RawMessage) (T, error) {
	var out T
	if len(payload) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return out, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}
