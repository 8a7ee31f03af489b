// Package gateway sends rendered notifications to the external e-mail API.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// ErrUpstream marks every failed gateway call: non-2xx, transport error or timeout.
var ErrUpstream = errors.New("email gateway call failed")

// maxErrorBody caps how much of an error response is kept in the error text.
const maxErrorBody = 512

// EmailGateway posts e-mails to a fixed endpoint. It never retries; callers own
// the retry policy because only they know whether the record is already stored.
type EmailGateway struct {
	endpoint   string
	httpClient *http.Client
	limiter    *rate.Limiter

	onSent   func(time.Duration)
	onFailed func(time.Duration)
}

// Option customises an EmailGateway.
type Option func(*EmailGateway)

// WithRateLimit throttles outgoing calls to perSec with the given burst.
func WithRateLimit(perSec float64, burst int) Option {
	return func(g *EmailGateway) {
		if perSec > 0 {
			g.limiter = rate.NewLimiter(rate.Limit(perSec), max(burst, 1))
		}
	}
}

// WithHooks installs metric callbacks; nil callbacks are ignored.
func WithHooks(onSent, onFailed func(time.Duration)) Option {
	return func(g *EmailGateway) {
		if onSent != nil {
			g.onSent = onSent
		}
		if onFailed != nil {
			g.onFailed = onFailed
		}
	}
}

// WithHTTPClient replaces the default client (tests, custom transports).
func WithHTTPClient(c *http.Client) Option {
	return func(g *EmailGateway) { g.httpClient = c }
}

// New creates a gateway for endpoint; every request is bounded by timeout.
func New(endpoint string, timeout time.Duration, opts ...Option) *EmailGateway {
	g := &EmailGateway{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
		onSent:     func(time.Duration) {},
		onFailed:   func(time.Duration) {},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Send asks the gateway to e-mail htmlBody to recipient. The parameters travel
// as encoded query values, never concatenated into the URL by hand.
func (g *EmailGateway) Send(ctx context.Context, recipient, title, htmlBody string) error {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: waiting for rate limiter: %v", ErrUpstream, err)
		}
	}

	u, err := url.Parse(g.endpoint)
	if err != nil {
		return fmt.Errorf("parse gateway url: %w", err)
	}
	q := u.Query()
	q.Set("email", recipient)
	q.Set("title", title)
	q.Set("htmlBody", htmlBody)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := g.httpClient.Do(req)
	if err != nil {
		g.onFailed(time.Since(start))
		return fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		g.onFailed(time.Since(start))
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%w: status=%d, body=%s", ErrUpstream, resp.StatusCode, string(body))
	}

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)
	g.onSent(time.Since(start))
	return nil
}
