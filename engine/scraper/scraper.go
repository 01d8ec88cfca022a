package scraper

import (
	"context"
	"errors"
	"time"

	"github.com/brother-wolf/scrapers-lib/engine/timeline"
	"github.com/brother-wolf/scrapers-lib/pkg/fn"
	"github.com/brother-wolf/scrapers-lib/pkg/metrics"
)

// PageFetcher loads one page of markup.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) fn.Result[Page]
}

var _ PageFetcher = (*Fetcher)(nil)

// Metrics counts scrape outcomes. A nil *Metrics records nothing.
type Metrics struct {
	reg           *metrics.Registry
	Pages         *metrics.Counter
	PageErrors    *metrics.Counter
	Posts         *metrics.Counter
	FetchDuration *metrics.Histogram
	LastScrape    *metrics.Gauge
}

// NewMetrics registers the scrape metrics on reg.
func NewMetrics(reg *metrics.Registry) *Metrics {
	return &Metrics{
		reg:           reg,
		Pages:         reg.Counter("timeline_pages_total", "Pages extracted"),
		PageErrors:    reg.Counter("timeline_page_errors_total", "Pages that failed to fetch or extract"),
		Posts:         reg.Counter("timeline_posts_total", "Posts extracted"),
		FetchDuration: reg.Histogram("timeline_fetch_duration_seconds", "Page fetch duration", nil),
		LastScrape:    reg.Gauge("timeline_last_scrape_timestamp", "Epoch of last completed scrape"),
	}
}

func (m *Metrics) fault(field timeline.Field) {
	if m == nil {
		return
	}
	m.reg.Counter(metrics.WithLabels("timeline_faults_total", "field", string(field)), "Malformed post containers").Inc()
}

// Scraper runs fetch → extract over a list of sources.
type Scraper struct {
	fetcher PageFetcher
	opts    ScrapeOpts
	metrics *Metrics
	now     func() time.Time
}

// New creates a Scraper. m may be nil.
func New(fetcher PageFetcher, opts ScrapeOpts, m *Metrics) *Scraper {
	return &Scraper{fetcher: fetcher, opts: opts, metrics: m, now: time.Now}
}

// Extract runs the extraction step on a page already in memory.
func (s *Scraper) Extract(page Page) (Result, error) {
	res := Result{Source: page.Source, ScrapedAt: s.now().UTC()}
	if s.opts.Partial {
		res.Posts, res.Faults = timeline.ExtractPartial(page.Markup)
		for _, f := range res.Faults {
			s.metrics.fault(f.Field)
		}
	} else {
		posts, err := timeline.Extract(page.Markup)
		if err != nil {
			var fe *timeline.FieldError
			if errors.As(err, &fe) {
				s.metrics.fault(fe.Field)
			}
			return Result{}, err
		}
		res.Posts = posts
	}
	if s.opts.Dedup {
		res.Posts = timeline.Dedup(res.Posts)
	}
	if s.metrics != nil {
		s.metrics.Pages.Inc()
		s.metrics.Posts.Add(int64(len(res.Posts)))
	}
	return res, nil
}

func (s *Scraper) fetchStage() fn.Stage[string, Page] {
	return fn.TracedStage[string, Page]("timeline.fetch", func(ctx context.Context, url string) fn.Result[Page] {
		start := time.Now()
		r := s.fetcher.Fetch(ctx, url)
		if s.metrics != nil {
			s.metrics.FetchDuration.Since(start)
		}
		return r
	})
}

func (s *Scraper) extractStage() fn.Stage[Page, Result] {
	return fn.TracedStage("timeline.extract", fn.MapStage[Page, Result](s.Extract))
}

// ScrapeURLs fetches and extracts every url with bounded concurrency,
// returning results in url order. Without Partial any failed page fails the
// run; with Partial failed pages are dropped and returned joined in err
// alongside the successful results.
func (s *Scraper) ScrapeURLs(ctx context.Context, urls []string) ([]Result, error) {
	stage := fn.Then(s.fetchStage(), s.extractStage())
	results := fn.ParMapResult(urls, s.opts.Workers, func(url string) fn.Result[Result] {
		return stage(ctx, url)
	})

	for _, r := range results {
		if r.IsErr() && s.metrics != nil {
			s.metrics.PageErrors.Inc()
		}
	}
	if s.metrics != nil {
		s.metrics.LastScrape.Set(s.now().Unix())
	}

	if !s.opts.Partial {
		return fn.Collect(results).Unwrap()
	}
	return fn.Partition(results)
}

// ScrapeFiles extracts saved pages from disk, in order.
func (s *Scraper) ScrapeFiles(paths []string) ([]Result, error) {
	out := make([]Result, 0, len(paths))
	for _, p := range paths {
		page, err := ReadFile(p)
		if err == nil {
			var res Result
			if res, err = s.Extract(page); err == nil {
				out = append(out, res)
				continue
			}
		}
		if s.metrics != nil {
			s.metrics.PageErrors.Inc()
		}
		if !s.opts.Partial {
			return nil, err
		}
	}
	return out, nil
}

// Posts flattens results into one ordered slice.
func Posts(results []Result) []timeline.Post {
	return fn.FlatMap(results, func(r Result) []timeline.Post { return r.Posts })
}
