// Package ledger is the client for the external notarization ledger.
//
// The client performs exactly one HTTP exchange per call and never retries;
// the crawler's batch-abort semantics own the retry policy.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roach88/certcrawl/internal/httpx"
)

// Fixed submission payload values: a zero-value ETH transfer.
const (
	TokenType = "ETH"
	ZeroValue = "0"
)

// Config identifies the ledger endpoint and the vendor submitting to it.
type Config struct {
	Agent        string // base URL, e.g. https://ledger.example
	VendorID     string
	AssetAddress string
	APIKey       string
	Timeout      time.Duration
	UserAgent    string
}

// Submission is one entry returned by Query, kept as decoded JSON.
type Submission map[string]any

// Certifier is the write side used by the crawl loop.
type Certifier interface {
	Certify(ctx context.Context, metadata string) error
}

// Querier is the read side used by on-demand lookup.
type Querier interface {
	Query(ctx context.Context, metadata string) ([]Submission, error)
}

// Ledger is both sides together.
type Ledger interface {
	Certifier
	Querier
}

// Client talks to the ledger over HTTP. Safe for concurrent use.
type Client struct {
	cfg  Config
	base *url.URL
	http httpx.Doer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(d httpx.Doer) Option {
	return func(c *Client) { c.http = d }
}

// New validates cfg and returns a Client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.Agent == "" {
		return nil, errors.New("ledger: agent URL is required")
	}
	if cfg.VendorID == "" {
		return nil, errors.New("ledger: vendor id is required")
	}
	if cfg.AssetAddress == "" {
		return nil, errors.New("ledger: asset address is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.Agent, "/"))
	if err != nil {
		return nil, fmt.Errorf("ledger: agent URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("ledger: agent URL %q must be absolute", cfg.Agent)
	}

	c := &Client{cfg: cfg, base: base}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = httpx.NewClient(cfg.Timeout)
	}
	return c, nil
}

type certifyRequest struct {
	TokenType string `json:"tokenType"`
	Value     string `json:"value"`
	Metadata  string `json:"metadata"`
}

// Certify submits metadata as a zero-value transfer. A nil return means the
// ledger acknowledged the submission; nothing else is verified.
func (c *Client) Certify(ctx context.Context, metadata string) error {
	payload, err := json.Marshal(certifyRequest{
		TokenType: TokenType,
		Value:     ZeroValue,
		Metadata:  metadata,
	})
	if err != nil {
		return fmt.Errorf("ledger certify: encode: %w", err)
	}

	u := c.endpoint("bolt", "remittance", c.cfg.VendorID, c.cfg.AssetAddress)
	req, err := http.NewRequest(http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("ledger certify: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(ctx, "certify", req)
	if err != nil {
		return err
	}
	return checkAck(body)
}

// checkAck rejects a 2xx body that explicitly reports failure. Bodies that
// are not JSON objects, or carry no success flag, count as acknowledged.
func checkAck(body []byte) error {
	var ack struct {
		Success *bool  `json:"success"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &ack); err != nil || ack.Success == nil || *ack.Success {
		return nil
	}
	reason := ack.Message
	if reason == "" {
		reason = "success=false"
	}
	return &ResponseError{Op: "certify", Status: http.StatusOK, Reason: reason}
}

// Query returns the ledger submissions whose metadata matches exactly.
func (c *Client) Query(ctx context.Context, metadata string) ([]Submission, error) {
	u := c.endpoint("bolt", "txhashs")
	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("ledger query: %w", err)
	}
	q := req.URL.Query()
	q.Set("metadata", metadata)
	req.URL.RawQuery = q.Encode()

	body, err := c.do(ctx, "query", req)
	if err != nil {
		return nil, err
	}
	subs, err := decodeSubmissions(body)
	if err != nil {
		return nil, &ResponseError{Op: "query", Status: http.StatusOK, Reason: err.Error()}
	}
	return subs, nil
}

func decodeSubmissions(body []byte) ([]Submission, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var wrapped struct {
			Payload []Submission `json:"payload"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		if wrapped.Payload == nil {
			return []Submission{}, nil
		}
		return wrapped.Payload, nil
	}
	var subs []Submission
	if err := json.Unmarshal(trimmed, &subs); err != nil {
		return nil, fmt.Errorf("decode submissions: %w", err)
	}
	if subs == nil {
		subs = []Submission{}
	}
	return subs, nil
}

// endpoint joins escaped path segments onto the agent URL and attaches the
// API key.
func (c *Client) endpoint(segments ...string) string {
	u := *c.base
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	u.Path = strings.TrimRight(c.base.Path, "/") + "/" + strings.Join(segments, "/")
	u.RawPath = strings.TrimRight(c.base.EscapedPath(), "/") + "/" + strings.Join(escaped, "/")
	q := url.Values{}
	q.Set("apiKey", c.cfg.APIKey)
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Client) do(ctx context.Context, op string, req *http.Request) ([]byte, error) {
	body, err := httpx.Do(ctx, c.http, req, c.cfg.UserAgent)
	if err == nil {
		return body, nil
	}
	var se *httpx.StatusError
	if errors.As(err, &se) {
		return nil, &ResponseError{Op: op, Status: se.Status, Reason: se.Body}
	}
	return nil, &TransientNetworkError{Op: op, Err: err}
}
