// Package client provides a Go client for the HTTP control surface of a
// remote cadence node.
//
// Usage:
//
//	c := client.New("http://cadence-1:8080",
//	    client.WithRetry(3, backoff.NewExponentialWithJitter(100*time.Millisecond, 2*time.Second)),
//	)
//
//	// Put a workflow online and start a run.
//	if err := c.OnlineWorkflow(ctx, 10); err != nil { ... }
//	runID, err := c.TriggerWorkflow(ctx, 10)
//
//	// Inspect the run.
//	run, err := c.GetWorkflowRun(ctx, runID)
//	for _, jr := range run.JobRuns {
//	    fmt.Printf("job %d: %s\n", jr.JobID, jr.Status)
//	}
//
// Any node of the cluster accepts every request: commands are broadcast to
// the owners of the affected buckets.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/xraph/cadence/backoff"
)

// Error is a non-2xx response from a node.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("cadence/client: %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
}

// IsNotFound reports whether err is a 404 from a node.
func IsNotFound(err error) bool { return hasStatus(err, http.StatusNotFound) }

// IsConflict reports whether err is a 409 from a node: the requested state
// transition is not allowed, or the workflow is not online.
func IsConflict(err error) bool { return hasStatus(err, http.StatusConflict) }

func hasStatus(err error, status int) bool {
	var e *Error
	return errors.As(err, &e) && e.StatusCode == status
}

// Client talks to one cadence node over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger

	// Retries of idempotent requests.
	maxRetries int
	backoff    backoff.Strategy
}

// New creates a client for the node at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  slog.Default(),
		backoff: backoff.NewConstant(time.Second),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do sends one request. GET requests are retried on transport errors and
// 503 responses; commands are sent once.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var raw []byte
	if body != nil {
		var err error
		if raw, err = json.Marshal(body); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	retries := 0
	if method == http.MethodGet {
		retries = c.maxRetries
	}
	for attempt := 0; ; attempt++ {
		err := c.send(ctx, method, path, raw, out)
		if err == nil || attempt >= retries || !retryable(err) {
			return err
		}
		delay := c.backoff.Delay(attempt + 1)
		c.logger.Debug("cadence client retrying",
			slog.String("path", path),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) send(ctx context.Context, method, path string, raw []byte, out any) error {
	var reader io.Reader
	if raw != nil {
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if raw != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		var e struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(data))
		}
		return &Error{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func retryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == http.StatusServiceUnavailable
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
