// Package client talks to the workflow backend: executions, workflow
// persistence, documents and authentication.
package client

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

	apperrors "github.com/goliatone/go-errors"
	"github.com/sony/gobreaker"

	stackflow "github.com/goliatone/go-stackflow"
	"github.com/goliatone/go-stackflow/logging"
	"github.com/goliatone/go-stackflow/runner"
)

// DefaultMaxUploadSize is the document size limit.
const DefaultMaxUploadSize int64 = 10 << 20

// BreakerSettings tunes the circuit breaker guarding the backend.
type BreakerSettings struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultBreakerSettings trips after 80% failures over at least 5 requests.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		Name:             "stackflow-backend",
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

func WithLogger(l logging.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithRunner replaces the retry handler used for idempotent calls.
func WithRunner(h *runner.Handler) Option {
	return func(c *Client) { c.runner = h }
}

func WithBreakerSettings(s BreakerSettings) Option {
	return func(c *Client) { c.breakerSettings = s }
}

func WithMaxUploadSize(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxUpload = n
		}
	}
}

// Client is the backend API client.
type Client struct {
	baseURL         *url.URL
	http            *http.Client
	tokens          TokenSource
	runner          *runner.Handler
	breaker         *gobreaker.CircuitBreaker
	breakerSettings BreakerSettings
	maxUpload       int64
	logger          logging.Logger
}

// New builds a client for the backend at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, stackflow.NewError(stackflow.ErrInvalidRequest,
			fmt.Sprintf("invalid backend url %q", baseURL), err, nil)
	}

	c := &Client{
		baseURL:         u,
		http:            &http.Client{Timeout: 60 * time.Second},
		breakerSettings: DefaultBreakerSettings(),
		maxUpload:       DefaultMaxUploadSize,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.logger = logging.Normalize(c.logger)
	if c.tokens == nil {
		c.tokens = NewTokenStore("")
	}
	if c.runner == nil {
		c.runner = runner.NewHandler(
			runner.WithLogger(c.logger),
			runner.WithMaxRetries(2),
			runner.WithRetryStrategy(runner.RetryIf{
				Strategy:  runner.ExponentialBackoffStrategy{Base: 200 * time.Millisecond, Factor: 2, Max: 2 * time.Second},
				Retryable: Retryable,
			}),
		)
	}
	c.breaker = c.newBreaker(c.breakerSettings)
	return c, nil
}

func (c *Client) newBreaker(s BreakerSettings) *gobreaker.CircuitBreaker {
	logger := c.logger
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= s.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker %s changed from %s to %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !serverFault(err)
		},
	})
}

// Tokens returns the token source used for bearer authentication.
func (c *Client) Tokens() TokenSource {
	return c.tokens
}

type call struct {
	method      string
	path        string
	body        []byte
	contentType string
	out         any
	anonymous   bool
	// notFound replaces the generic collaborator error on 404.
	notFound *apperrors.Error
}

func jsonCall(method, path string, in, out any) (call, error) {
	c := call{method: method, path: path, out: out}
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return call{}, stackflow.NewError(stackflow.ErrInvalidRequest, "encode request body", err, nil)
		}
		c.body = raw
		c.contentType = "application/json"
	}
	return c, nil
}

// send performs a call through the breaker. Idempotent methods are retried
// by the runner; POST is sent once.
func (c *Client) send(ctx context.Context, cl call) error {
	attempt := func(ctx context.Context) error {
		_, err := c.breaker.Execute(func() (interface{}, error) {
			return nil, c.roundTrip(ctx, cl)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return stackflow.NewError(stackflow.ErrCollaborator, "Service temporarily unavailable", err,
				map[string]any{"breaker": c.breakerSettings.Name})
		}
		return err
	}

	if cl.method == http.MethodPost {
		return attempt(ctx)
	}
	return c.runner.Run(ctx, attempt)
}

func (c *Client) roundTrip(ctx context.Context, cl call) error {
	u := c.baseURL.JoinPath(cl.path)

	var body io.Reader
	if cl.body != nil {
		body = bytes.NewReader(cl.body)
	}
	req, err := http.NewRequestWithContext(ctx, cl.method, u.String(), body)
	if err != nil {
		return stackflow.NewError(stackflow.ErrInvalidRequest, "build request", err, nil)
	}
	req.Header.Set("Accept", "application/json")
	if cl.contentType != "" {
		req.Header.Set("Content-Type", cl.contentType)
	}
	if !cl.anonymous {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return stackflow.NewError(stackflow.ErrCollaborator, fmt.Sprintf("%s %s failed", cl.method, cl.path), err,
			map[string]any{"path": cl.path})
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return stackflow.NewError(stackflow.ErrCollaborator, "read response", err, map[string]any{"path": cl.path})
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.statusError(cl, resp.StatusCode, raw)
	}
	if cl.out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, cl.out); err != nil {
		// the status marks the answer as delivered, so it is neither retried
		// nor counted by the breaker
		return stackflow.NewError(stackflow.ErrCollaborator, "decode response", err,
			map[string]any{"path": cl.path, "status": resp.StatusCode})
	}
	return nil
}

func (c *Client) statusError(cl call, status int, raw []byte) error {
	detail := parseDetail(raw)
	meta := map[string]any{"status": status, "path": cl.path}
	if detail != "" {
		meta["detail"] = detail
	}
	c.logger.Debug("%s %s returned %d: %s", cl.method, cl.path, status, detail)

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return stackflow.NewError(stackflow.ErrUnauthorized, detail, nil, meta)
	case status == http.StatusNotFound && cl.notFound != nil:
		return stackflow.NewError(cl.notFound, detail, nil, meta)
	}
	msg := detail
	if msg == "" {
		msg = fmt.Sprintf("%s %s returned %d", cl.method, cl.path, status)
	}
	return stackflow.NewError(stackflow.ErrCollaborator, msg, nil, meta)
}

// parseDetail extracts the detail field of an error body. Non-string details
// such as validation lists are returned as raw JSON.
func parseDetail(raw []byte) string {
	var body struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return ""
	}
	if len(body.Detail) > 0 {
		var s string
		if err := json.Unmarshal(body.Detail, &s); err == nil {
			return s
		}
		return string(body.Detail)
	}
	return body.Message
}

func statusOf(err error) int {
	if s, ok := stackflow.Metadata(err)["status"].(int); ok {
		return s
	}
	return 0
}

// serverFault reports whether err is a transport failure or a 5xx answer.
func serverFault(err error) bool {
	if !stackflow.HasCode(err, stackflow.ErrCodeCollaborator) {
		return false
	}
	s := statusOf(err)
	return s == 0 || s >= 500
}

// Retryable reports whether a failed call may be retried.
func Retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if _, breakerOpen := stackflow.Metadata(err)["breaker"]; breakerOpen {
		return false
	}
	return serverFault(err)
}
