package client

import (
	"log/slog"
	"net/http"

	"github.com/xraph/cadence/backoff"
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithRetry retries read requests up to maxRetries times, waiting the
// delay of strategy between attempts.
func WithRetry(maxRetries int, strategy backoff.Strategy) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.backoff = strategy
	}
}
