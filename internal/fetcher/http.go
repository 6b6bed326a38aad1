package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/citation-enricher/internal/resilience"
)

// ErrThrottled is returned when the API keeps answering 429 after the
// configured number of cooldown retries.
var ErrThrottled = eris.New("fetcher: throttled by upstream")

// maxErrorBody caps how much of a failed response body is kept for logs.
const maxErrorBody = 512

// StatusError reports a non-2xx response.
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

// Hooks lets callers observe fetcher activity without coupling the fetcher
// to a metrics backend. Nil hooks are skipped.
type Hooks struct {
	OnRequest      func(url string, status int, elapsed time.Duration)
	OnThrottle     func(url string, attempt int)
	OnThrottleDone func(url string)
}

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent string
	// APIKey is sent as X-Api-Key when set.
	APIKey  string
	Timeout time.Duration
	// ThrottleCooldown is the fixed sleep after a 429 before retrying.
	ThrottleCooldown time.Duration
	// MaxThrottleRetries is how many times a 429'd request is retried.
	MaxThrottleRetries int
	// Retry governs retries of transient failures (network errors, 5xx).
	Retry resilience.RetryConfig
	Hooks Hooks
}

// HTTPFetcher posts JSON queries to one API family. Every attempt, including
// retries, passes through the shared limiter.
type HTTPFetcher struct {
	client  *http.Client
	opts    HTTPOptions
	limiter Limiter
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(limiter Limiter, opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.ThrottleCooldown == 0 {
		opts.ThrottleCooldown = 60 * time.Second
	}
	if opts.MaxThrottleRetries < 0 {
		opts.MaxThrottleRetries = 0
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "citation-enricher/1.0"
	}
	if limiter == nil {
		limiter = NewIntervalLimiter(0)
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 4,
		MaxConnsPerHost:     8,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts:    opts,
		limiter: limiter,
	}
}

// PostJSON marshals body, posts it to url and returns the raw response payload.
func (f *HTTPFetcher) PostJSON(ctx context.Context, url string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: marshal request")
	}

	retryCfg := f.opts.Retry
	if retryCfg.OnRetry == nil {
		retryCfg.OnRetry = resilience.RetryLogger("patentsview", url)
	}

	// The cooldown budget covers the whole call, not each transient retry.
	throttles := 0
	data, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) ([]byte, error) {
		return f.doThrottled(ctx, url, payload, &throttles)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: post %s", url)
	}
	return data, nil
}

// doThrottled performs one logical request. A 429 triggers a fixed cooldown
// and a retry under the same limiter while *throttles is below
// MaxThrottleRetries.
func (f *HTTPFetcher) doThrottled(ctx context.Context, url string, payload []byte, throttles *int) ([]byte, error) {
	for {
		if err := f.limiter.Acquire(ctx); err != nil {
			return nil, err
		}

		status, data, err := f.do(ctx, url, payload)
		if err != nil {
			return nil, err
		}

		switch {
		case status == http.StatusTooManyRequests:
			if *throttles >= f.opts.MaxThrottleRetries {
				return nil, eris.Wrapf(ErrThrottled, "429 from %s after %d cooldowns", url, *throttles)
			}
			*throttles++
			zap.L().Warn("rate limited (429), cooling down",
				zap.String("url", url),
				zap.Int("attempt", *throttles),
				zap.Duration("cooldown", f.opts.ThrottleCooldown),
			)
			if f.opts.Hooks.OnThrottle != nil {
				f.opts.Hooks.OnThrottle(url, *throttles)
			}
			err := sleepCtx(ctx, f.opts.ThrottleCooldown)
			if f.opts.Hooks.OnThrottleDone != nil {
				f.opts.Hooks.OnThrottleDone(url)
			}
			if err != nil {
				return nil, eris.Wrap(err, "fetcher: throttle cooldown")
			}
			continue
		case resilience.IsTransientHTTPStatus(status):
			return nil, resilience.NewTransientError(&StatusError{StatusCode: status, URL: url, Body: truncate(data)}, status)
		case status < 200 || status >= 300:
			return nil, &StatusError{StatusCode: status, URL: url, Body: truncate(data)}
		}
		return data, nil
	}
}

func (f *HTTPFetcher) do(ctx context.Context, url string, payload []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, eris.Wrap(err, "fetcher: create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if f.opts.APIKey != "" {
		req.Header.Set("X-Api-Key", f.opts.APIKey)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return 0, nil, eris.Wrap(err, "fetcher: do request")
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if f.opts.Hooks.OnRequest != nil {
		f.opts.Hooks.OnRequest(url, resp.StatusCode, time.Since(start))
	}
	if err != nil {
		return 0, nil, resilience.NewTransientError(eris.Wrap(err, "fetcher: read body"), resp.StatusCode)
	}
	return resp.StatusCode, data, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(b []byte) string {
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody])
	}
	return string(b)
}
