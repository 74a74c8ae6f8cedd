// Package outbound applies one timeout, retry, rate-limit and circuit breaker
// policy to every outbound HTTP call. Breakers are kept per upstream host.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/redseat/internal/config"
	"github.com/mantonx/redseat/internal/metrics"
	"github.com/mantonx/redseat/internal/models"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

// UpstreamError is returned for non-success upstream statuses
type UpstreamError struct {
	URL    string
	Status int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s returned status %d", e.URL, e.Status)
}

// ErrCircuitOpen is returned when the breaker rejects a request
var ErrCircuitOpen = errors.New("outbound circuit breaker open")

// Client performs outbound HTTP requests under the shared policy
type Client struct {
	http       *http.Client
	limiter    *rate.Limiter
	retries    int
	retryDelay time.Duration
	userAgent  string
	logger     hclog.Logger

	breakerSettings gobreaker.Settings
	breakersMu      sync.Mutex
	breakers        map[string]*gobreaker.CircuitBreaker[*http.Response]
}

// New creates a client from the outbound configuration. The timeout bounds
// connecting and waiting for response headers only, so a streamed body may
// take as long as the caller's context allows.
func New(cfg config.OutboundConfig, logger hclog.Logger) *Client {
	logger = logger.Named("outbound")

	maxFailures := cfg.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}

	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Timeout > 0 {
		transport.DialContext = (&net.Dialer{Timeout: cfg.Timeout, KeepAlive: 30 * time.Second}).DialContext
		transport.TLSHandshakeTimeout = cfg.Timeout
		transport.ResponseHeaderTimeout = cfg.Timeout
	}

	return &Client{
		http:       &http.Client{Transport: transport},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst),
		retries:    cfg.Retries,
		retryDelay: cfg.RetryDelay,
		userAgent:  cfg.UserAgent,
		logger:     logger,
		breakerSettings: gobreaker.Settings{
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     cfg.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
				metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			},
		},
		breakers: make(map[string]*gobreaker.CircuitBreaker[*http.Response]),
	}
}

// breaker returns the circuit breaker of host, creating it on first use
func (c *Client) breaker(host string) *gobreaker.CircuitBreaker[*http.Response] {
	c.breakersMu.Lock()
	defer c.breakersMu.Unlock()

	if cb, ok := c.breakers[host]; ok {
		return cb
	}
	settings := c.breakerSettings
	settings.Name = "outbound:" + host
	metrics.CircuitBreakerState.WithLabelValues(settings.Name).Set(0)
	cb := gobreaker.NewCircuitBreaker[*http.Response](settings)
	c.breakers[host] = cb
	return cb
}

// Do sends req. GET and HEAD requests are retried on network errors and 5xx.
// A 5xx response that survives all retries is returned to the caller as is.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	req = req.WithContext(ctx)
	if c.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	attempts := 1
	if req.Method == http.MethodGet || req.Method == http.MethodHead {
		attempts += c.retries
	}

	breaker := c.breaker(req.URL.Host)

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			metrics.OutboundRequests.WithLabelValues("retry").Inc()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		resp, err := breaker.Execute(func() (*http.Response, error) {
			resp, err := c.http.Do(req)
			if err != nil {
				return nil, err
			}
			if resp.StatusCode >= 500 {
				return resp, &UpstreamError{URL: req.URL.String(), Status: resp.StatusCode}
			}
			return resp, nil
		})

		switch {
		case err == nil:
			metrics.OutboundRequests.WithLabelValues("success").Inc()
			return resp, nil
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			metrics.OutboundRequests.WithLabelValues("rejected").Inc()
			return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, req.URL.Host)
		case ctx.Err() != nil:
			return nil, ctx.Err()
		}

		metrics.OutboundRequests.WithLabelValues("failure").Inc()
		lastErr = err
		if resp != nil {
			if attempt == attempts-1 {
				return resp, nil
			}
			drain(resp)
		}
		c.logger.Debug("outbound request failed", "url", req.URL.Redacted(), "attempt", attempt+1, "error", err)
	}

	return nil, lastErr
}

// Get fetches an RsRequest, forwarding its headers and the optional range.
// Any non-2xx status is turned into an *UpstreamError.
func (c *Client) Get(ctx context.Context, r *models.RsRequest, rng *models.ByteRange) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, r.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid request url: %w", err)
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	if rng != nil {
		req.Header.Set("Range", rng.Header())
	}

	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		drain(resp)
		return nil, &UpstreamError{URL: r.URL, Status: resp.StatusCode}
	}
	return resp, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
