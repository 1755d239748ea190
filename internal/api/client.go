// Package api is the HTTP client for the TaskMaster REST API.
//
// Every endpoint answers with a JSON object carrying at least a "success"
// flag and, on failure, a "message". Do distinguishes two failure classes:
//
//   - *NetworkError: no usable response reached the client (dial failure,
//     timeout, cancelled context, proxy error page). Callers may retry.
//   - *Error: the server answered and rejected the request. Never retried.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// IdempotencyHeader carries the queued operation id on replay.
const IdempotencyHeader = "Idempotency-Key"

// TokenSource returns the bearer token to send, or "" for anonymous calls.
type TokenSource func(ctx context.Context) string

// Config configures a Client.
type Config struct {
	// BaseURL is the API root, e.g. http://localhost:5000/api.
	BaseURL string

	// Timeout bounds each request (0 = no timeout).
	Timeout time.Duration

	// UserAgent is sent with every request.
	UserAgent string

	// Logger receives one line per request when Verbose is set.
	Logger  *log.Logger
	Verbose bool
}

// DefaultConfig returns the configuration for a local development server.
func DefaultConfig() Config {
	return Config{
		BaseURL:   "http://localhost:5000/api",
		Timeout:   30 * time.Second,
		UserAgent: "tm",
		Logger:    log.New(os.Stderr, "[api] ", log.LstdFlags),
	}
}

// Client calls the TaskMaster API.
type Client struct {
	config Config
	tokens TokenSource
	http   *http.Client
}

// New creates a client. tokens may be nil for anonymous use.
func New(config Config, tokens TokenSource) *Client {
	def := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.UserAgent == "" {
		config.UserAgent = def.UserAgent
	}
	if config.Logger == nil {
		config.Logger = def.Logger
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if tokens == nil {
		tokens = func(context.Context) string { return "" }
	}
	return &Client{
		config: config,
		tokens: tokens,
		http:   &http.Client{Timeout: config.Timeout},
	}
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// Request is a JSON API call.
type Request struct {
	Method   string
	Endpoint string
	Body     json.RawMessage

	// IdempotencyKey is sent as the Idempotency-Key header when set.
	IdempotencyKey string
}

// Response is a decoded API reply.
type Response struct {
	Status int
	Body   json.RawMessage
}

// Decode unmarshals the response body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// envelope is the part of every response the client inspects.
type envelope struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

// Do sends req and returns the decoded response.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.config.BaseURL+req.Endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request %s %s: %w", req.Method, req.Endpoint, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.IdempotencyKey != "" {
		httpReq.Header.Set(IdempotencyHeader, req.IdempotencyKey)
	}

	return c.send(ctx, httpReq, req.Method, req.Endpoint)
}

// Upload posts a file as multipart form data under field.
func (c *Client) Upload(ctx context.Context, endpoint, field, path string) (*Response, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish multipart body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to build upload request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	return c.send(ctx, httpReq, http.MethodPost, endpoint)
}

// Download streams a non-JSON GET response (such as an export) into w.
func (c *Client) Download(ctx context.Context, endpoint string, w io.Writer) (int64, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build download request: %w", err)
	}
	c.decorate(ctx, httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return 0, &NetworkError{Method: http.MethodGet, Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return 0, classify(http.MethodGet, endpoint, resp.StatusCode, data)
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, &NetworkError{Method: http.MethodGet, Endpoint: endpoint, Err: err}
	}
	return n, nil
}

func (c *Client) decorate(ctx context.Context, req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.config.UserAgent)
	if tok := c.tokens(ctx); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
}

func (c *Client) send(ctx context.Context, httpReq *http.Request, method, endpoint string) (*Response, error) {
	c.decorate(ctx, httpReq)

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		if c.config.Verbose {
			c.config.Logger.Printf("%s %s failed after %v: %v", method, endpoint, time.Since(start).Round(time.Millisecond), err)
		}
		return nil, &NetworkError{Method: method, Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Method: method, Endpoint: endpoint, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if c.config.Verbose {
		c.config.Logger.Printf("%s %s -> %d (%v)", method, endpoint, resp.StatusCode, time.Since(start).Round(time.Millisecond))
	}

	if err := classify(method, endpoint, resp.StatusCode, data); err != nil {
		return nil, err
	}
	return &Response{Status: resp.StatusCode, Body: data}, nil
}

// classify maps a received response to nil, *Error or *NetworkError.
func classify(method, endpoint string, status int, data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 && status < 300 {
		return nil
	}

	var env envelope
	isJSON := json.Unmarshal(data, &env) == nil

	if !isJSON {
		// A proxy or load balancer answered for a server that is down.
		if status == http.StatusBadGateway || status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout {
			return &NetworkError{Method: method, Endpoint: endpoint, Err: fmt.Errorf("upstream unavailable (HTTP %d)", status)}
		}
		if status >= 300 {
			return &Error{Status: status, Method: method, Endpoint: endpoint, Message: http.StatusText(status)}
		}
		return &Error{Status: status, Method: method, Endpoint: endpoint, Message: "response is not JSON"}
	}

	if status >= 300 || (env.Success != nil && !*env.Success) {
		msg := env.Message
		if msg == "" {
			msg = env.Error
		}
		if msg == "" {
			msg = "Something went wrong"
		}
		return &Error{Status: status, Method: method, Endpoint: endpoint, Message: msg}
	}
	return nil
}

// Error is an explicit rejection from the server.
type Error struct {
	Status   int
	Method   string
	Endpoint string
	Message  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %s (HTTP %d)", e.Method, e.Endpoint, e.Message, e.Status)
}

// NetworkError means the request did not produce a usable server response.
type NetworkError struct {
	Method   string
	Endpoint string
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: network error: %v", e.Method, e.Endpoint, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsNetworkError reports whether err is or wraps a *NetworkError.
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsUnauthorized reports whether err is a 401 rejection.
func IsUnauthorized(err error) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Status == http.StatusUnauthorized
}
