// Package httpclient provides the retrying, rate-limited HTTP client used for every
// outbound source call.
package httpclient

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

// Doer sends HTTP requests; *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options tune the client.
type Options struct {
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	// RatePerHost is the steady request rate allowed per host; zero disables limiting.
	RatePerHost float64
	Burst       int
	UserAgent   string
	Logger      *slog.Logger
}

// DefaultOptions mirror the production retry budget.
func DefaultOptions() Options {
	return Options{
		Timeout:      60 * time.Second,
		RetryMax:     10,
		RetryWaitMin: time.Second,
		RetryWaitMax: 60 * time.Second,
		RatePerHost:  5,
		Burst:        5,
		UserAgent:    "EduPipeline/1.0",
	}
}

// UserAgent identifies the caller to polite APIs.
func UserAgent(teamEmail string) string {
	if teamEmail == "" {
		return "EduPipeline/1.0"
	}
	return "EduPipeline/1.0 (mailto:" + teamEmail + ")"
}

// New builds a client retrying 429 and 5xx answers with exponential backoff.
func New(opts Options) *http.Client {
	def := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.RetryMax < 0 {
		opts.RetryMax = 0
	}
	if opts.RetryWaitMin <= 0 {
		opts.RetryWaitMin = def.RetryWaitMin
	}
	if opts.RetryWaitMax < opts.RetryWaitMin {
		opts.RetryWaitMax = opts.RetryWaitMin
	}
	if opts.UserAgent == "" {
		opts.UserAgent = def.UserAgent
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{
		Timeout:   opts.Timeout,
		Transport: newPoliteTransport(http.DefaultTransport, opts.RatePerHost, opts.Burst, opts.UserAgent),
	}
	rc.RetryMax = opts.RetryMax
	rc.RetryWaitMin = opts.RetryWaitMin
	rc.RetryWaitMax = opts.RetryWaitMax
	rc.Backoff = retryablehttp.DefaultBackoff
	rc.CheckRetry = retryPolicy
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = nil
	if opts.Logger != nil {
		rc.Logger = opts.Logger
	}

	return rc.StandardClient()
}

func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true, nil
	}
	return false, nil
}

// politeTransport stamps the User-Agent and spaces requests per host.
type politeTransport struct {
	base      http.RoundTripper
	limit     rate.Limit
	burst     int
	userAgent string

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newPoliteTransport(base http.RoundTripper, perSecond float64, burst int, userAgent string) *politeTransport {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst < 1 {
		burst = 1
	}
	return &politeTransport{
		base:      base,
		limit:     limit,
		burst:     burst,
		userAgent: userAgent,
		limiters:  map[string]*rate.Limiter{},
	}
}

func (t *politeTransport) limiter(host string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.limiters[host]
	if !ok {
		l = rate.NewLimiter(t.limit, t.burst)
		t.limiters[host] = l
	}
	return l
}

func (t *politeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter(req.URL.Host).Wait(req.Context()); err != nil {
		return nil, err
	}
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.userAgent)
	}
	return t.base.RoundTrip(req)
}
