package portal

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const (
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	defaultTimeout = 2 * time.Minute
)

// SessionOptions configures the HTTP session shared by every request of one
// protocol client or page fetcher.
type SessionOptions struct {
	Timeout time.Duration
	Retries int
	// Transport overrides the default round tripper (tests).
	Transport http.RoundTripper
}

// NewSession builds a resty client with its own cookie jar, browser-like
// headers and retry on transport errors, 429 and 5xx.
func NewSession(opts SessionOptions) (*resty.Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}

	client := resty.New()
	if opts.Transport != nil {
		client.SetTransport(opts.Transport)
	}
	client.SetCookieJar(jar)
	client.SetTimeout(opts.Timeout)
	client.SetHeaders(map[string]string{
		"User-Agent":                userAgent,
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
		"Accept-Language":           "en-US,en;q=0.5",
		"Upgrade-Insecure-Requests": "1",
	})
	client.SetRetryCount(opts.Retries)
	client.SetRetryWaitTime(500 * time.Millisecond)
	client.SetRetryMaxWaitTime(4 * time.Second)
	client.AddRetryCondition(func(res *resty.Response, err error) bool {
		if err != nil {
			return true
		}
		return res.StatusCode() == http.StatusTooManyRequests || res.StatusCode() >= 500
	})

	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		slog.Debug("portal request", "method", req.Method, "url", req.URL)
		return nil
	})
	client.OnAfterResponse(func(_ *resty.Client, res *resty.Response) error {
		slog.Debug("portal response",
			"method", res.Request.Method,
			"status", res.StatusCode(),
			"content_type", res.Header().Get("Content-Type"),
			"bytes", len(res.Body()),
			"elapsed", res.Time(),
		)
		return nil
	})
	client.OnError(func(req *resty.Request, err error) {
		slog.Debug("portal request failed", "method", req.Method, "url", req.URL, "err", err)
	})
	return client, nil
}

// NewLimiter returns a limiter allowing perSec requests per second.
// Zero or negative means unlimited. One limiter may pace several clients.
func NewLimiter(perSec float64) *rate.Limiter {
	if perSec <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := int(perSec)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSec), burst)
}

// PageFetcher performs plain GETs over a paced session. The drift validator
// uses it to capture pages without touching a protocol client's state.
type PageFetcher struct {
	http    *resty.Client
	limiter *rate.Limiter
}

// NewPageFetcher builds a fetcher with its own session, paced by limiter.
// A nil limiter means unlimited.
func NewPageFetcher(opts SessionOptions, limiter *rate.Limiter) (*PageFetcher, error) {
	session, err := NewSession(opts)
	if err != nil {
		return nil, err
	}
	if limiter == nil {
		limiter = NewLimiter(0)
	}
	return &PageFetcher{http: session, limiter: limiter}, nil
}

// Fetch returns the body of url, failing on non-2xx responses.
func (f *PageFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	res, err := f.http.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("GET %s: HTTP %d", url, res.StatusCode())
	}
	return res.Body(), nil
}
