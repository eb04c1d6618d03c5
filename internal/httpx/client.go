// Package httpx holds the shared outbound HTTP client setup.
package httpx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"
)

// DefaultTimeout bounds a whole request when the configuration sets none.
const DefaultTimeout = 30 * time.Second

// DefaultUserAgent is sent when the configuration sets none.
const DefaultUserAgent = "certcrawl/1"

// MaxBodyBytes caps how much of a response body is read.
const MaxBodyBytes = 32 << 20

// NewClient returns an http.Client with the given overall timeout.
// A zero timeout means DefaultTimeout.
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: tr}
}

// Doer is the subset of *http.Client the rest of the module depends on.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// StatusError reports a response outside the 2xx range.
type StatusError struct {
	Method string
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.Status)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Status, e.Body)
}

// Do sends req and returns the body of a 2xx response.
//
// Transport failures are returned as-is (wrapped with the method and URL);
// a non-2xx response is returned as *StatusError carrying a truncated body.
func Do(ctx context.Context, c Doer, req *http.Request, userAgent string) ([]byte, error) {
	req = req.WithContext(ctx)
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	req.Header.Set("User-Agent", userAgent)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := c.Do(req)
	if err != nil {
		// net/http reports the full request URL, secrets included.
		var ue *url.Error
		if errors.As(err, &ue) {
			ue.URL = Redact(ue.URL)
		}
		return nil, fmt.Errorf("%s %s: %w", req.Method, Redact(req.URL.String()), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w", req.Method, Redact(req.URL.String()), err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{
			Method: req.Method,
			URL:    Redact(req.URL.String()),
			Status: resp.StatusCode,
			Body:   truncate(string(body), 256),
		}
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
