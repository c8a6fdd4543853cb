package request

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"sync"
	"time"

	"flightassure/pkg/cache"
	"flightassure/pkg/tracker"
	"flightassure/pkg/version"

	"golang.org/x/time/rate"
)

var defaultUserAgent = fmt.Sprintf("FlightAssure/%s (terrain analysis)", version.Version)

// StatusError is returned for non-retryable HTTP error responses.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api error: status %d for %s", e.StatusCode, e.URL)
}

// IsNotFound reports whether err is a 404 StatusError.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// Options tunes a Client.
type Options struct {
	Retries           int
	Timeout           time.Duration
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	RequestsPerSecond float64 // per host; 0 disables the limiter
	Burst             int
}

// DefaultOptions returns conservative defaults.
func DefaultOptions() Options {
	return Options{
		Retries:           3,
		Timeout:           30 * time.Second,
		BaseDelay:         500 * time.Millisecond,
		MaxDelay:          10 * time.Second,
		RequestsPerSecond: 10,
		Burst:             10,
	}
}

// Client handles HTTP requests with per-host queuing, caching, and tracking.
type Client struct {
	httpClient *http.Client
	cache      cache.Cacher
	tracker    *tracker.Tracker
	backoff    *ProviderBackoff
	opts       Options

	// Queues per host
	queues   map[string]chan job
	limiters map[string]*rate.Limiter
	mu       sync.Mutex // Protects queues and limiters
}

// job represents a queued request.
type job struct {
	req      *http.Request
	headers  map[string]string
	cacheKey string
	respChan chan jobResult
}

type jobResult struct {
	body []byte
	err  error
}

// New creates a new Client. c may be nil to disable response caching.
func New(c cache.Cacher, t *tracker.Tracker, opts Options) *Client {
	if opts.Retries <= 0 {
		opts.Retries = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if t == nil {
		t = tracker.New()
	}
	return &Client{
		httpClient: &http.Client{Timeout: opts.Timeout},
		cache:      c,
		tracker:    t,
		backoff:    NewProviderBackoff(opts.BaseDelay, opts.MaxDelay),
		opts:       opts,
		queues:     make(map[string]chan job),
		limiters:   make(map[string]*rate.Limiter),
	}
}

// Tracker returns the stats tracker used by the client.
func (c *Client) Tracker() *tracker.Tracker { return c.tracker }

// Get performs a GET request with queuing and caching if key is provided.
func (c *Client) Get(ctx context.Context, u, cacheKey string) ([]byte, error) {
	return c.GetWithHeaders(ctx, u, nil, cacheKey)
}

// GetWithHeaders performs a GET request with custom headers and optional caching.
func (c *Client) GetWithHeaders(ctx context.Context, u string, headers map[string]string, cacheKey string) ([]byte, error) {
	parsedURL, err := url.Parse(u)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	host := parsedURL.Host

	// 1. Check Cache (Only if key is provided)
	if cacheKey != "" && c.cache != nil {
		if val, hit := c.cache.GetCache(ctx, cacheKey); hit {
			c.tracker.TrackCacheHit(host)
			slog.Debug("Cache Hit", "host", host, "key", cacheKey)
			return val, nil
		}
		c.tracker.TrackCacheMiss(host)
	}

	// 2. Enqueue Request
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	respChan := make(chan jobResult, 1)
	c.dispatch(host, job{req: req, headers: headers, cacheKey: cacheKey, respChan: respChan})

	// 3. Wait for Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-respChan:
		return res.body, res.err
	}
}

// dispatch sends the job to the host's queue, creating the queue/worker if needed.
func (c *Client) dispatch(host string, j job) {
	c.mu.Lock()
	q, ok := c.queues[host]
	if !ok {
		q = make(chan job, 100)
		c.queues[host] = q
		var lim *rate.Limiter
		if c.opts.RequestsPerSecond > 0 {
			burst := c.opts.Burst
			if burst < 1 {
				burst = 1
			}
			lim = rate.NewLimiter(rate.Limit(c.opts.RequestsPerSecond), burst)
		}
		c.limiters[host] = lim
		go c.worker(host, q, lim)
	}
	c.mu.Unlock()

	// Blocks while the queue is full, throttling the caller
	select {
	case q <- j:
	case <-j.req.Context().Done():
		j.respChan <- jobResult{err: j.req.Context().Err()}
	}
}

// worker processes requests for a specific host sequentially.
func (c *Client) worker(host string, q <-chan job, lim *rate.Limiter) {
	for j := range q {
		ctx := j.req.Context()
		if ctx.Err() != nil {
			slog.Debug("Job dropped from queue (context expired)", "host", host, "error", ctx.Err())
			j.respChan <- jobResult{err: ctx.Err()}
			continue
		}

		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				j.respChan <- jobResult{err: err}
				continue
			}
		}
		if err := c.backoff.Wait(ctx, host); err != nil {
			j.respChan <- jobResult{err: err}
			continue
		}

		uaSet := false
		for k, v := range j.headers {
			j.req.Header.Set(k, v)
			if http.CanonicalHeaderKey(k) == "User-Agent" {
				uaSet = true
			}
		}
		if !uaSet {
			j.req.Header.Set("User-Agent", defaultUserAgent)
		}

		body, err := c.executeWithBackoff(j.req)
		switch {
		case err == nil:
			c.tracker.TrackSuccess(host)
			c.backoff.RecordSuccess(host)
			if j.cacheKey != "" && c.cache != nil {
				if err := c.cache.SetCache(context.Background(), j.cacheKey, body); err != nil {
					slog.Error("Failed to cache response", "url", j.req.URL, "error", err)
				}
			}
		case IsNotFound(err):
			c.tracker.TrackNoData(host)
		default:
			c.tracker.TrackFailure(host)
			c.backoff.RecordFailure(host)
		}

		j.respChan <- jobResult{body: body, err: err}
	}
}

// executeWithBackoff attempts the request with exponential backoff on retryable errors.
func (c *Client) executeWithBackoff(req *http.Request) ([]byte, error) {
	baseDelay := c.opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}

	var lastErr error
	for attempt := 0; attempt < c.opts.Retries; attempt++ {
		if req.Context().Err() != nil {
			return nil, req.Context().Err()
		}

		slog.Debug("Network Request", "host", req.URL.Host, "path", req.URL.Path, "attempt", attempt+1)
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if req.Context().Err() != nil {
				return nil, req.Context().Err()
			}
			slog.Warn("Request failed, retrying", "host", req.URL.Host, "attempt", attempt+1, "error", err)
			lastErr = err
		} else {
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				resp.Body.Close()
				slog.Warn("API Backoff", "status", resp.StatusCode, "host", req.URL.Host, "attempt", attempt+1)
				lastErr = &StatusError{StatusCode: resp.StatusCode, URL: redact(req.URL)}
			} else {
				if resp.StatusCode >= 400 {
					resp.Body.Close()
					return nil, &StatusError{StatusCode: resp.StatusCode, URL: redact(req.URL)}
				}
				body, err := io.ReadAll(resp.Body)
				resp.Body.Close()
				if err != nil {
					return nil, fmt.Errorf("read error: %w", err)
				}
				return body, nil
			}
		}

		if attempt == c.opts.Retries-1 {
			break
		}
		sleepDur := time.Duration(math.Pow(2, float64(attempt))) * baseDelay
		select {
		case <-time.After(sleepDur):
		case <-req.Context().Done():
			return nil, req.Context().Err()
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// redact strips the query string, which may carry access tokens.
func redact(u *url.URL) string {
	cp := *u
	cp.RawQuery = ""
	return cp.String()
}
