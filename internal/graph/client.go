package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"m365gate/pkg/logging"
)

const (
	// DefaultBaseURL is the upstream API root.
	DefaultBaseURL = "https://graph.microsoft.com/v1.0"
	// DefaultTimeout bounds every upstream call.
	DefaultTimeout = 10 * time.Second

	maxResponseBytes = 32 << 20
)

// Error is a non-2xx upstream answer, or a transport failure when Status is 0.
type Error struct {
	Status  int
	Code    string
	Message string
	Timeout bool
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Timeout:
		return "upstream request timed out"
	case e.Status == 0:
		return fmt.Sprintf("upstream request failed: %v", e.Err)
	case e.Code != "":
		return fmt.Sprintf("upstream returned %d %s: %s", e.Status, e.Code, e.Message)
	default:
		return fmt.Sprintf("upstream returned %d", e.Status)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// IsNotFound reports whether err is an upstream 404.
func IsNotFound(err error) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.Status == http.StatusNotFound
}

// Config configures a Client.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// Client calls the upstream API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// New creates a Client.
func New(cfg Config) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: cfg.HTTPClient,
		timeout:    cfg.Timeout,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	return c
}

// BaseURL returns the configured API root.
func (c *Client) BaseURL() string { return c.baseURL }

// Request describes one upstream call.
type Request struct {
	Method string
	// Path is relative to the base URL, e.g. "/me/messages".
	Path  string
	Query url.Values
	// Body is JSON-encoded when non-nil.
	Body any
	// RawBody is sent as-is with ContentType when Body is nil.
	RawBody     []byte
	ContentType string
	// Header adds extra request headers, e.g. ConsistencyLevel.
	Header http.Header
}

// Response is a successful upstream answer.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// JSON decodes the body into v.
func (r *Response) JSON(v any) error {
	if len(r.Body) == 0 {
		return nil
	}
	return json.Unmarshal(r.Body, v)
}

// Do performs req with token as the bearer. ctx cancellation aborts the call.
func (c *Client) Do(ctx context.Context, token string, req Request) (*Response, error) {
	if token == "" {
		return nil, errors.New("graph: empty access token")
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := c.baseURL + req.Path
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}

	var body io.Reader
	contentType := req.ContentType
	switch {
	case req.Body != nil:
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	case req.RawBody != nil:
		body = bytes.NewReader(req.RawBody)
		if contentType == "" {
			contentType = "application/octet-stream"
		}
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", contentType)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			logging.Warn("Graph", "%s %s timed out after %s", method, req.Path, time.Since(start).Round(time.Millisecond))
			return nil, &Error{Timeout: true, Err: err}
		}
		return nil, &Error{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &Error{Status: resp.StatusCode, Err: fmt.Errorf("failed to read upstream response: %w", err)}
	}
	logging.Debug("Graph", "%s %s -> %d in %s", method, req.Path, resp.StatusCode, time.Since(start).Round(time.Millisecond))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, parseError(resp.StatusCode, data)
	}
	return &Response{Status: resp.StatusCode, ContentType: resp.Header.Get("Content-Type"), Body: data}, nil
}

// Get is a GET decoding the JSON response into out.
func (c *Client) Get(ctx context.Context, token, path string, query url.Values, out any) error {
	resp, err := c.Do(ctx, token, Request{Method: http.MethodGet, Path: path, Query: query})
	if err != nil {
		return err
	}
	return resp.JSON(out)
}

// Send performs a write with a JSON body and decodes any JSON answer into out,
// which may be nil.
func (c *Client) Send(ctx context.Context, token, method, path string, body, out any) error {
	resp, err := c.Do(ctx, token, Request{Method: method, Path: path, Body: body})
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return resp.JSON(out)
}

// parseError reads the upstream error envelope {"error":{"code","message"}}.
func parseError(status int, data []byte) *Error {
	e := &Error{Status: status}
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(data, &env) == nil {
		e.Code = env.Error.Code
		e.Message = env.Error.Message
	}
	return e
}
