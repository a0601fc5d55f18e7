// Package billing wraps the external recurring-billing provider. The
// lifecycle manager only needs one operation from it: idempotent
// cancellation of a subscription by its external reference.
package billing

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Provider cancels subscriptions with the external billing system.
// CancelSubscription must be idempotent: cancelling an already-cancelled or
// unknown subscription is a success.
type Provider interface {
	CancelSubscription(ctx context.Context, externalRef string) error
}

// Nop is a Provider that accepts every cancellation. Used in dev mode and
// tests that do not care about billing.
type Nop struct{}

func (Nop) CancelSubscription(ctx context.Context, externalRef string) error { return nil }

// Client talks to the billing provider over HTTP.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient constructs a Client. The timeout bounds every cancellation call
// individually; a timed-out call degrades to "record as failed, continue" in
// the caller.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// CancelSubscription issues the cancel call. 404 and 410 responses count as
// success: the subscription is already gone on the provider side.
func (c *Client) CancelSubscription(ctx context.Context, externalRef string) error {
	externalRef = strings.TrimSpace(externalRef)
	if externalRef == "" {
		return fmt.Errorf("billing: external reference is required")
	}
	endpoint := c.baseURL + "/v1/subscriptions/" + url.PathEscape(externalRef) + "/cancel"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("billing: build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("billing: cancel %s: %w", externalRef, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		// Already cancelled or never existed; treat as done.
		return nil
	default:
		return fmt.Errorf("billing: cancel %s: unexpected status %d", externalRef, resp.StatusCode)
	}
}
