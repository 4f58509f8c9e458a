// Package api is the HTTP client for the per-server VPN portal API:
// certificate issuance and validity checks, and profile listing. All calls
// are authenticated with a bearer access token; a 401 is surfaced as
// ErrUnauthorized so callers can escalate their authorization policy
// instead of failing.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Amebis/eduvpn-client/internal/retry"
)

// ErrUnauthorized is returned when the server rejects the access token.
// Callers translate it into an authorization policy escalation; it is
// never surfaced to the user directly.
var ErrUnauthorized = errors.New("server rejected access token")

// Client talks to one or more server portal APIs.
type Client struct {
	http     *http.Client
	attempts int
	delay    time.Duration
}

// NewClient creates an API client with the default bounded-retry policy.
func NewClient() *Client {
	return &Client{
		http:     &http.Client{Timeout: 10 * time.Second},
		attempts: retry.DefaultAttempts,
		delay:    retry.DefaultDelay,
	}
}

// do performs one authenticated request with bounded retries on transport
// errors. Any HTTP response, including an error status, stops the retry
// loop: only failures to obtain a response at all are transient.
func (c *Client) do(ctx context.Context, op, method, rawURL, token string, form url.Values) (*http.Response, []byte, error) {
	var (
		resp *http.Response
		body []byte
	)
	err := retry.Do(ctx, c.attempts, c.delay, op, func() error {
		var reader io.Reader
		if form != nil {
			reader = strings.NewReader(form.Encode())
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if form != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}

		r, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = r.Body.Close() }()

		b, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			return err
		}
		resp = r
		body = b
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, nil, ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("%s: unexpected status %d", op, resp.StatusCode)
	}
	return resp, body, nil
}

// endpoint joins the server base URI and an API call path.
func endpoint(base, call string) string {
	return strings.TrimSuffix(base, "/") + "/" + call
}
