// internal/adapters/channel/client.go
package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"ota_sync/internal/adapters/observability"
	"ota_sync/internal/domain"
)

const service = "channel_manager"

type Credentials struct {
	BaseURL string
	APIKey  string
}

type Options struct {
	Live           Credentials
	Sandbox        Credentials
	RPS            int
	RequestTimeout time.Duration // per attempt, independent of caller deadlines
	MaxAttempts    int
}

type Client struct {
	opts Options
	hc   *http.Client
	rl   *rate.Limiter
}

func New(opts Options) (*Client, error) {
	if opts.Live.APIKey == "" && opts.Sandbox.APIKey == "" {
		return nil, fmt.Errorf("channel API key is required")
	}
	if opts.RPS <= 0 {
		opts.RPS = 5
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 20 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 4
	}
	return &Client{
		opts: opts,
		hc:   &http.Client{Timeout: opts.RequestTimeout},
		rl:   rate.NewLimiter(rate.Limit(opts.RPS), opts.RPS),
	}, nil
}

// ---- Public API ----

func (c *Client) TestConnection(ctx context.Context, ep domain.Endpoint) (domain.Exchange, error) {
	body, err := json.Marshal(struct {
		HotelCode     string `json:"hotelCode"`
		PMSIdentifier string `json:"pmsIdentifier,omitempty"`
	}{ep.HotelCode, ep.PMSIdentifier})
	if err != nil {
		return domain.Exchange{}, err
	}
	return c.post(ctx, ep, "connection_test", "/connection/test", "", body)
}

func (c *Client) PushRates(ctx context.Context, ep domain.Endpoint, idemKey string, body []byte) (domain.Exchange, error) {
	return c.post(ctx, ep, "rate_push", "/rates", idemKey, body)
}

func (c *Client) PushInventory(ctx context.Context, ep domain.Endpoint, idemKey string, body []byte) (domain.Exchange, error) {
	return c.post(ctx, ep, "inventory_push", "/inventory", idemKey, body)
}

// ---- Internals ----

// envelope is the channel manager's common reply shape.
type envelope struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (c *Client) resolve(ep domain.Endpoint) (base, key string) {
	cred := c.opts.Live
	if ep.Sandbox {
		cred = c.opts.Sandbox
	}
	base = cred.BaseURL
	if ep.BaseURL != "" {
		base = ep.BaseURL
	}
	return strings.TrimRight(base, "/"), cred.APIKey
}

// post sends body with client-side rate limiting and retries on 429 and
// transient 5xx, honoring Retry-After. Every attempt sends the same bytes.
func (c *Client) post(ctx context.Context, ep domain.Endpoint, op, path, idemKey string, body []byte) (domain.Exchange, error) {
	ex := domain.Exchange{Request: body}
	base, key := c.resolve(ep)
	if base == "" {
		return ex, domain.NewValidationError("apiBaseUrl", "no channel endpoint configured")
	}
	url := base + path

	if err := c.rl.Wait(ctx); err != nil {
		return ex, &domain.ConnectivityError{Op: op, Err: err}
	}

	bo := retrySchedule()
	var lastErr error
	for i := 0; i < c.opts.MaxAttempts; i++ {
		last := i == c.opts.MaxAttempts-1

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return ex, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "ota-sync/1.0")
		if key != "" {
			req.Header.Set("X-API-Key", key)
		}
		if idemKey != "" {
			req.Header.Set("Idempotency-Key", idemKey)
		}

		start := time.Now()
		resp, err := c.hc.Do(req)
		if err != nil {
			observability.ObserveExternal(service, op, 0, time.Since(start))
			if ctx.Err() != nil {
				return ex, &domain.ConnectivityError{Op: op, Err: ctx.Err()}
			}
			lastErr = &domain.ConnectivityError{Op: op, Err: err}
			if !last && sleepCtx(ctx, bo.NextBackOff()) {
				continue
			}
			return ex, lastErr
		}
		raw, rerr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		observability.ObserveExternal(service, op, resp.StatusCode, time.Since(start))
		ex.Response = raw
		if rerr != nil {
			lastErr = &domain.ConnectivityError{Op: op, Err: rerr}
			if !last && sleepCtx(ctx, bo.NextBackOff()) {
				continue
			}
			return ex, lastErr
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			var env envelope
			if len(bytes.TrimSpace(raw)) > 0 {
				if err := json.Unmarshal(raw, &env); err != nil {
					return ex, &domain.ExternalRejectionError{Op: op, StatusCode: resp.StatusCode, Message: "unreadable response: " + err.Error(), Body: raw}
				}
			}
			ex.Message = firstNonEmpty(env.Message, env.Error)
			if env.Success != nil && !*env.Success {
				return ex, &domain.ExternalRejectionError{Op: op, StatusCode: resp.StatusCode, Message: firstNonEmpty(ex.Message, "rejected"), Body: raw}
			}
			if ex.Message == "" {
				ex.Message = "ok"
			}
			return ex, nil

		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			wait := retryAfter(resp)
			if wait == 0 {
				wait = bo.NextBackOff()
			}
			lastErr = &domain.ConnectivityError{Op: op, Err: fmt.Errorf("remote %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))}
			if !last && sleepCtx(ctx, wait) {
				continue
			}
			return ex, lastErr

		default:
			msg := strings.TrimSpace(string(raw))
			var env envelope
			if json.Unmarshal(raw, &env) == nil {
				if m := firstNonEmpty(env.Message, env.Error); m != "" {
					msg = m
				}
			}
			if msg == "" {
				msg = http.StatusText(resp.StatusCode)
			}
			ex.Message = msg
			return ex, &domain.ExternalRejectionError{Op: op, StatusCode: resp.StatusCode, Message: msg, Body: raw}
		}
	}
	if lastErr == nil {
		lastErr = &domain.ConnectivityError{Op: op, Err: errors.New("no attempt made")}
	}
	return ex, lastErr
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if v != "" {
			return v
		}
	}
	return ""
}

// sleepCtx waits for d or returns early if ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// retryAfter parses Retry-After header (seconds or HTTP-date). Returns 0 if absent/invalid.
func retryAfter(resp *http.Response) time.Duration {
	h := resp.Header.Get("Retry-After")
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(h)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// retrySchedule doubles from 200ms per attempt with +/-50% jitter.
func retrySchedule() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.RandomizationFactor = 0.5
	bo.Multiplier = 2
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}
