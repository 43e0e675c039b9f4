// Package fetch wraps outbound HTTP with bounded timeouts and an error
// classification the retry machinery relies on.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"activityd/pkg/logger"
	"activityd/pkg/metrics"
	"activityd/pkg/models"
)

// maxResponseBytes caps how much of a response body is read. Feed pages
// are small; anything larger indicates a misconfigured target.
const maxResponseBytes = 8 << 20

// Error is a classified outbound failure. Retryable failures (network
// errors, timeouts, 5xx, 429) may be attempted again; everything else
// is permanent for the same request.
type Error struct {
	Target    string
	Status    int
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.Target, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.Target, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a retryable fetch failure.
// Unclassified errors are treated as permanent.
func IsRetryable(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Retryable
	}
	return false
}

// Client issues outbound requests with a per-attempt timeout.
type Client struct {
	hc      *http.Client
	timeout time.Duration
}

// NewClient builds a client with a tuned transport. timeout bounds each
// individual attempt; zero means 10s.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        16,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return &Client{hc: &http.Client{Transport: tr}, timeout: timeout}
}

// Get fetches target and returns the response body. Failures come back
// as *Error with the Retryable flag set per classification.
func (c *Client) Get(ctx context.Context, target string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, target, "", nil)
}

// Fetch performs the single attempt described by task. Retry
// composition belongs to the caller; this never retries internally.
func (c *Client) Fetch(ctx context.Context, task *models.FetchTask) ([]byte, error) {
	return c.Get(ctx, task.Target)
}

// Post sends body as JSON to target.
func (c *Client) Post(ctx context.Context, target string, body []byte) ([]byte, error) {
	return c.do(ctx, http.MethodPost, target, "application/json", body)
}

func (c *Client) do(ctx context.Context, method, target, contentType string, body []byte) ([]byte, error) {
	if _, err := url.ParseRequestURI(target); err != nil {
		metrics.FetchAttempts.WithLabelValues("bad_target").Inc()
		return nil, &Error{Target: target, Retryable: false, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		metrics.FetchAttempts.WithLabelValues("bad_target").Inc()
		return nil, &Error{Target: target, Retryable: false, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		metrics.FetchAttempts.WithLabelValues("transport").Inc()
		logger.Debug("fetch_transport_error", "target", target, "err", err)
		// transport failures and deadline expiry are retryable
		return nil, &Error{Target: target, Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		metrics.FetchAttempts.WithLabelValues("transport").Inc()
		return nil, &Error{Target: target, Retryable: true, Err: err}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		metrics.FetchAttempts.WithLabelValues("ok").Inc()
		logger.Debug("fetch_ok", "target", target, "status", resp.StatusCode,
			"bytes", len(b), "elapsed_ms", time.Since(start).Milliseconds())
		return b, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		metrics.FetchAttempts.WithLabelValues("retryable_status").Inc()
		return nil, &Error{Target: target, Status: resp.StatusCode, Retryable: true}
	default:
		metrics.FetchAttempts.WithLabelValues("permanent_status").Inc()
		return nil, &Error{Target: target, Status: resp.StatusCode, Retryable: false}
	}
}
