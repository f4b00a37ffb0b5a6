package notifier

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

	"golang.org/x/time/rate"

	"stockwatch/pkg/logx"
)

// DefaultUserAgent looks like a desktop browser; some webhook fronts reject bare clients.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

const bodySnippetLimit = 300

var (
	// ErrNotConfigured is set on a skipped Result.
	ErrNotConfigured = errors.New("notifier: webhook not configured")
	// ErrInvalidEndpoint marks an endpoint no request can be built for. It is
	// never retried.
	ErrInvalidEndpoint = errors.New("notifier: invalid webhook endpoint")
)

var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:    true,
	http.StatusForbidden:          true,
	http.StatusBadGateway:         true,
	http.StatusServiceUnavailable: true,
}

// Client delivers messages to one webhook endpoint. Safe for concurrent use.
type Client struct {
	cfg     Config
	policy  Policy
	http    *http.Client
	log     logx.Logger
	limiter *rate.Limiter

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a Client. A zero-value Config is usable; the endpoint may be empty,
// in which case every delivery is skipped with a warning.
func New(cfg Config, log logx.Logger) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	c := &Client{
		cfg:    cfg,
		policy: Policy{Base: cfg.RetryBase, MaxDelay: cfg.RetryMaxDelay}.withDefaults(),
		http:   &http.Client{Timeout: cfg.Timeout},
		log:    log.With(logx.String("comp", "notifier")),
		now:    time.Now,
		sleep:  sleepCtx,
	}
	if cfg.RatePerSec > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	return c
}

// Deliver sends msg to the configured endpoint.
func (c *Client) Deliver(ctx context.Context, msg Message) Result {
	return c.DeliverTo(ctx, msg, c.cfg.Endpoint)
}

// DeliverTo sends msg to endpoint, retrying transient failures. It never
// panics and never returns an error to unwind the caller; the outcome is in Result.
func (c *Client) DeliverTo(ctx context.Context, msg Message, endpoint string) Result {
	endpoint = NormalizeEndpoint(endpoint)
	if endpoint == "" {
		c.log.Warn("webhook not configured")
		return Result{Skipped: true, Err: ErrNotConfigured}
	}
	if err := checkEndpoint(endpoint); err != nil {
		c.log.Error("webhook endpoint invalid", logx.Err(err))
		return Result{Err: err}
	}
	body, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("webhook payload encode failed", logx.Err(err))
		return Result{Err: fmt.Errorf("encode payload: %w", err)}
	}

	var res Result
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		res.Attempts = attempt
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				res.Err = err
				return res
			}
		}

		status, hint, snippet, err := c.post(ctx, endpoint, body)
		res.Status, res.Err = status, err
		if err == nil && status >= 200 && status < 300 {
			res.Delivered = true
			c.log.Info("webhook delivered",
				logx.Endpoint("endpoint", endpoint),
				logx.Int("status", status),
				logx.Int("attempt", attempt),
			)
			return res
		}
		if err == nil {
			res.Err = fmt.Errorf("webhook status %d", status)
		}
		if ctx.Err() != nil {
			res.Err = ctx.Err()
			return res
		}

		retryable := err != nil || retryableStatus[status]
		if !retryable {
			c.log.Warn("webhook rejected",
				logx.Int("status", status),
				logx.String("body", snippet),
			)
			return res
		}
		if attempt == c.cfg.MaxAttempts {
			c.log.Warn("webhook delivery gave up",
				logx.Endpoint("endpoint", endpoint),
				logx.Int("status", status),
				logx.Int("attempts", attempt),
				logx.String("body", snippet),
				logx.Err(err),
			)
			return res
		}

		wait := Backoff(c.policy, attempt, hint)
		c.log.Info("webhook retry scheduled",
			logx.Int("status", status),
			logx.Int("attempt", attempt),
			logx.Duration("wait", wait),
			logx.String("body", snippet),
			logx.Err(err),
		)
		if err := c.sleep(ctx, wait); err != nil {
			res.Err = err
			return res
		}
	}
	return res
}

// post performs one attempt. err is non-nil only for transport-level failures.
func (c *Client) post(ctx context.Context, endpoint string, body []byte) (int, time.Duration, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, 0, "", err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, bodySnippetLimit))
	_, _ = io.Copy(io.Discard, resp.Body)

	hint, _ := ParseRetryAfter(resp.Header.Get("Retry-After"), c.now())
	return resp.StatusCode, hint, strings.TrimSpace(string(raw)), nil
}

// checkEndpoint rejects endpoints that would fail before reaching the network.
// The url itself stays out of the error: it carries the webhook token.
func checkEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("%w: malformed url", ErrInvalidEndpoint)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme must be http or https", ErrInvalidEndpoint)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidEndpoint)
	}
	return nil
}

// NormalizeEndpoint trims the URL, rewrites the legacy discordapp.com host and
// asks for a synchronous response (wait=true) when no query is present.
func NormalizeEndpoint(endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return ""
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	switch strings.ToLower(u.Hostname()) {
	case "discordapp.com":
		u.Host = strings.Replace(u.Host, u.Hostname(), "discord.com", 1)
	case "www.discordapp.com":
		u.Host = strings.Replace(u.Host, u.Hostname(), "www.discord.com", 1)
	}
	if u.RawQuery == "" {
		u.RawQuery = "wait=true"
	}
	return u.String()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
