package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/brother-wolf/scrapers-lib/pkg/fn"
	"github.com/brother-wolf/scrapers-lib/pkg/resilience"
)

// DefaultMaxBytes caps a fetched page.
const DefaultMaxBytes = 16 << 20

var ErrPageTooLarge = errors.New("page too large")

// FetcherConfig controls outbound requests.
type FetcherConfig struct {
	UserAgent string
	// RateLimit is the minimum spacing between requests. 0 disables it.
	RateLimit time.Duration
	Timeout   time.Duration
	Retry     fn.RetryOpts
	Breaker   resilience.BreakerOpts
	MaxBytes  int64
}

// Fetcher downloads timeline pages with rate limiting, retries and a
// circuit breaker. Safe for concurrent use.
type Fetcher struct {
	cfg     FetcherConfig
	client  *http.Client
	limiter *resilience.Limiter
	breaker *resilience.Breaker
	now     func() time.Time
}

// NewFetcher creates a Fetcher. Zero-valued config fields get defaults.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = fn.DefaultRetry
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "scrapers-lib/1.0"
	}
	return &Fetcher{
		cfg: cfg,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: resilience.NewLimiter(resilience.Every(cfg.RateLimit)),
		breaker: resilience.NewBreaker(cfg.Breaker),
		now:     time.Now,
	}
}

// Breaker exposes the fetcher's circuit breaker state for health reporting.
func (f *Fetcher) Breaker() *resilience.Breaker { return f.breaker }

// Fetch downloads url. Client errors other than 429 are not retried.
func (f *Fetcher) Fetch(ctx context.Context, url string) fn.Result[Page] {
	return fn.Retry(ctx, f.cfg.Retry, func(ctx context.Context) fn.Result[Page] {
		if err := f.limiter.Wait(ctx); err != nil {
			return fn.Err[Page](fn.Permanent(err))
		}
		return resilience.CallResult(f.breaker, ctx, func(ctx context.Context) fn.Result[Page] {
			return f.doGet(ctx, url)
		})
	})
}

func (f *Fetcher) doGet(ctx context.Context, url string) fn.Result[Page] {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fn.Err[Page](fn.Permanent(err))
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := f.client.Do(req)
	if err != nil {
		return fn.Err[Page](err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fn.Errf[Page]("http %d from %s", resp.StatusCode, url)
	case resp.StatusCode != http.StatusOK:
		return fn.Err[Page](fn.Permanent(fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBytes+1))
	if err != nil {
		return fn.Err[Page](fmt.Errorf("read body: %w", err))
	}
	if int64(len(body)) > f.cfg.MaxBytes {
		return fn.Err[Page](fn.Permanent(fmt.Errorf("%w: %s exceeds %d bytes", ErrPageTooLarge, url, f.cfg.MaxBytes)))
	}
	return fn.Ok(Page{Source: url, Markup: string(body), FetchedAt: f.now().UTC()})
}

// ReadFile loads a saved page from disk.
func ReadFile(path string) (Page, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Page{}, fmt.Errorf("read %s: %w", path, err)
	}
	return Page{Source: path, Markup: string(b), FetchedAt: time.Now().UTC()}, nil
}
