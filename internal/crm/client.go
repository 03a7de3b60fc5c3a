// ABOUTME: Forwards natural-language queries to the CRM query endpoint
// ABOUTME: One POST per attempt with a per-attempt timeout and bounded exponential backoff

package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ambivo-corp/ambivo-gpt/internal/apierror"
	"github.com/ambivo-corp/ambivo-gpt/internal/auth"
)

// NaturalQueryPath is the CRM endpoint, relative to the base URL.
const NaturalQueryPath = "/entity/natural_query"

// maxResponseBytes caps how much of a CRM answer is read into memory.
const maxResponseBytes = 8 << 20

// Config holds forwarder settings.
type Config struct {
	BaseURL         string
	Timeout         time.Duration
	MaxRetries      int
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration
	UserAgent       string

	// HTTPClient is optional; a pooled client is created when nil.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Payload is the JSON body sent to the CRM.
type Payload struct {
	Query          string  `json:"query"`
	ResponseFormat string  `json:"response_format"`
	EnableMemory   *bool   `json:"enable_memory,omitempty"`
	SessionID      *string `json:"session_id,omitempty"`
}

// Response is a successful CRM answer.
type Response struct {
	Status   int
	Body     []byte
	Attempts int
	Elapsed  time.Duration
}

// Client is safe for concurrent use. Its only shared state is the pooled
// HTTP transport.
type Client struct {
	endpoint   string
	timeout    time.Duration
	maxRetries int
	backoff    time.Duration
	backoffMax time.Duration
	userAgent  string
	http       *http.Client
	logger     *slog.Logger
}

// NewClient validates cfg and builds a client.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parsing crm base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("crm base url must be http or https, got %q", cfg.BaseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("crm base url has no host: %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		return nil, errors.New("crm timeout must be positive")
	}
	if cfg.MaxRetries < 0 {
		return nil, errors.New("crm max retries must not be negative")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: http.DefaultTransport.(*http.Transport).Clone(),
			// A redirected POST would be replayed as a bodyless GET.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	backoffMax := cfg.RetryBackoffMax
	if backoffMax < cfg.RetryBackoff {
		backoffMax = cfg.RetryBackoff
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "ambivo-gpt"
	}

	return &Client{
		endpoint:   base + NaturalQueryPath,
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.RetryBackoff,
		backoffMax: backoffMax,
		userAgent:  userAgent,
		http:       httpClient,
		logger:     logger.With("component", "crm"),
	}, nil
}

// Endpoint returns the full CRM query URL.
func (c *Client) Endpoint() string { return c.endpoint }

// Close releases idle pooled connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// attemptResult is the outcome of one round trip.
type attemptResult struct {
	status int
	body   []byte
	err    error
}

// NaturalQuery forwards p with the given bearer token. Connection failures,
// timeouts and 5xx answers are retried up to MaxRetries more times; 3xx and
// 4xx answers are final.
func (c *Client) NaturalQuery(ctx context.Context, token string, p Payload) (*Response, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encoding crm payload: %w", err)
	}

	start := time.Now()
	wait := c.backoff
	var last attemptResult

	for attempt := 1; ; attempt++ {
		last = c.do(ctx, token, body)

		switch {
		case last.err == nil && last.status >= 200 && last.status < 300:
			elapsed := time.Since(start)
			c.logger.Debug("crm query succeeded",
				"status", last.status,
				"attempts", attempt,
				"elapsed", elapsed,
			)
			return &Response{Status: last.status, Body: last.body, Attempts: attempt, Elapsed: elapsed}, nil

		case last.err == nil && !retryableStatus(last.status):
			return nil, c.classifyStatus(last, token)
		}

		if attempt > c.maxRetries || ctx.Err() != nil {
			break
		}

		c.logger.Warn("crm attempt failed, retrying",
			"attempt", attempt,
			"status", last.status,
			"error", last.err,
			"backoff", wait,
		)
		if !sleep(ctx, wait) {
			break
		}
		wait *= 2
		if wait > c.backoffMax {
			wait = c.backoffMax
		}
	}

	if last.err != nil {
		c.logger.Error("crm unreachable", "error", last.err, "elapsed", time.Since(start))
		msg := "CRM unreachable"
		if isTimeout(last.err) {
			msg = fmt.Sprintf("CRM did not respond within %s", c.timeout)
		}
		return nil, apierror.Wrap(apierror.KindUpstreamUnavailable, msg,
			fmt.Errorf("%w: %w", ErrUpstreamUnavailable, last.err))
	}
	return nil, c.classifyStatus(last, token)
}

// do performs one attempt bounded by the per-attempt timeout.
func (c *Client) do(ctx context.Context, token string, body []byte) attemptResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return attemptResult{err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return attemptResult{err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return attemptResult{status: resp.StatusCode, err: fmt.Errorf("reading crm response: %w", err)}
	}
	return attemptResult{status: resp.StatusCode, body: data}
}

func (c *Client) classifyStatus(r attemptResult, token string) error {
	excerpt := redact(string(r.body), token)

	if r.status == http.StatusUnauthorized || r.status == http.StatusForbidden {
		c.logger.Info("crm rejected credential",
			"status", r.status,
			"fingerprint", auth.Fingerprint(token),
		)
		return apierror.Wrap(apierror.KindAuthentication,
			fmt.Sprintf("CRM rejected the credential (HTTP %d)", r.status),
			fmt.Errorf("%w: HTTP %d", ErrUpstreamRejected, r.status))
	}

	c.logger.Warn("crm returned error status", "status", r.status, "body", excerpt)
	return apierror.Upstream(r.status, excerpt, fmt.Errorf("%w: HTTP %d", ErrUpstreamStatus, r.status))
}

// sleep waits for d or until ctx is done. Returns false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
