// Command scrape-timeline extracts posts from saved or live timeline pages
// and writes them to stdout and to every configured sink.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/brother-wolf/scrapers-lib/engine/output"
	"github.com/brother-wolf/scrapers-lib/engine/scraper"
	"github.com/brother-wolf/scrapers-lib/engine/store"
	"github.com/brother-wolf/scrapers-lib/engine/timeline"
	"github.com/brother-wolf/scrapers-lib/pkg/config"
	"github.com/brother-wolf/scrapers-lib/pkg/fn"
	"github.com/brother-wolf/scrapers-lib/pkg/logging"
	"github.com/brother-wolf/scrapers-lib/pkg/metrics"
	"github.com/brother-wolf/scrapers-lib/pkg/resilience"
)

type options struct {
	files    []string
	urls     []string
	format   string
	quiet    bool
	interval time.Duration
	metrics  string
	scrape   scraper.ScrapeOpts
}

func main() {
	cfg := config.Load()

	files := flag.String("file", cfg.File, "comma-separated saved pages to extract (- for stdin)")
	urls := flag.String("url", cfg.URL, "comma-separated timeline URLs to fetch")
	format := flag.String("format", output.FormatJSON, "stdout format: json, msgpack or text")
	quiet := flag.Bool("quiet", false, "don't write posts to stdout")
	partial := flag.Bool("partial", false, "skip malformed posts instead of failing the page")
	dedup := flag.Bool("dedup", false, "drop repeated post ids within a page")
	workers := flag.Int("workers", 4, "concurrent page fetches")
	interval := flag.Duration("interval", 0, "polling interval for -url (0 = one-shot)")
	metricsAddr := flag.String("metrics", metricsAddrFrom(cfg.MetricsPort), "serve /metrics on this address")
	flag.StringVar(&cfg.NATSURL, "nats", cfg.NATSURL, "NATS URL to publish posts to")
	flag.StringVar(&cfg.NATSSubject, "subject", cfg.NATSSubject, "NATS subject")
	flag.StringVar(&cfg.SQLitePath, "sqlite", cfg.SQLitePath, "SQLite database path")
	flag.StringVar(&cfg.PostgresURL, "postgres", cfg.PostgresURL, "Postgres DSN")
	flag.StringVar(&cfg.Neo4jURL, "neo4j", cfg.Neo4jURL, "Neo4j bolt URL")
	flag.StringVar(&cfg.QdrantURL, "qdrant", cfg.QdrantURL, "Qdrant gRPC address for the content index")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	flag.Parse()

	logger := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Prefix: "scrape-timeline"})
	slog.SetDefault(logger)

	opts := options{
		files:    splitList(*files),
		urls:     splitList(*urls),
		format:   *format,
		quiet:    *quiet,
		interval: *interval,
		metrics:  *metricsAddr,
		scrape:   scraper.ScrapeOpts{Partial: *partial, Dedup: *dedup, Workers: *workers},
	}
	if len(opts.files) == 0 && len(opts.urls) == 0 {
		opts.files = []string{"-"}
	}

	if err := run(cfg, opts, logger); err != nil {
		logger.Error("scrape failed", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, opts options, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	enc, err := output.New(opts.format, os.Stdout)
	if err != nil {
		return err
	}
	if opts.quiet {
		enc = discard{}
	}

	sinks, err := store.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open sinks: %w", err)
	}
	defer sinks.Close()

	reg := metrics.New()
	if opts.metrics != "" {
		go serveMetrics(opts.metrics, reg, logger)
	}

	fetcher := scraper.NewFetcher(scraper.FetcherConfig{
		UserAgent: cfg.UserAgent,
		RateLimit: cfg.RateLimit,
		Breaker: resilience.BreakerOpts{
			OnStateChange: func(from, to resilience.State) {
				logger.Warn("fetch circuit breaker", "from", from, "to", to)
			},
		},
	})
	s := scraper.New(fetcher, opts.scrape, scraper.NewMetrics(reg))

	// Files are read on the first pass only; later passes re-fetch urls.
	once := func(files []string) error {
		results, err := collect(ctx, s, files, opts.urls)
		if err != nil && !opts.scrape.Partial {
			return err
		}
		if err != nil {
			logger.Warn("some pages failed", "err", err)
		}
		return emit(ctx, results, enc, sinks, logger)
	}

	if err := once(opts.files); err != nil {
		return err
	}
	if opts.interval <= 0 || len(opts.urls) == 0 {
		return nil
	}

	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case <-ticker.C:
			if err := once(nil); err != nil {
				logger.Error("scrape error", "err", err)
			}
		}
	}
}

// collect extracts every file (- is stdin) and then every url.
func collect(ctx context.Context, s *scraper.Scraper, files, urls []string) ([]scraper.Result, error) {
	var (
		results []scraper.Result
		errs    []error
		paths   []string
	)
	add := func(res []scraper.Result, err error) {
		results = append(results, res...)
		if err != nil {
			errs = append(errs, err)
		}
	}
	for _, f := range fn.UniqueBy(files, func(f string) string { return f }) {
		if f == "-" {
			add(extractStdin(s))
			continue
		}
		paths = append(paths, f)
	}
	if len(paths) > 0 {
		add(s.ScrapeFiles(paths))
	}
	if len(urls) > 0 {
		add(s.ScrapeURLs(ctx, urls))
	}
	return results, errors.Join(errs...)
}

func emit(ctx context.Context, results []scraper.Result, enc output.Encoder, sink store.Sink, logger *slog.Logger) error {
	for _, r := range results {
		for _, f := range r.Faults {
			logger.Warn("skipped malformed post", "source", r.Source, "index", f.Index, "field", f.Field, "err", f.Err, "detail", f.Detail)
		}
		logger.Info("extracted", "source", r.Source, "posts", len(r.Posts), "faults", len(r.Faults))
	}
	posts := scraper.Posts(results)
	if err := enc.Encode(posts); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if err := sink.Write(ctx, posts); err != nil {
		return fmt.Errorf("sinks: %w", err)
	}
	return nil
}

func extractStdin(s *scraper.Scraper) ([]scraper.Result, error) {
	b, err := io.ReadAll(os.Stdin)
	if err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	res, err := s.Extract(scraper.Page{Source: "stdin", Markup: string(b), FetchedAt: time.Now().UTC()})
	if err != nil {
		return nil, fmt.Errorf("stdin: %w", err)
	}
	return []scraper.Result{res}, nil
}

func serveMetrics(addr string, reg *metrics.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", reg.Handler())
	logger.Info("metrics listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server", "err", err)
	}
}

type discard struct{}

func (discard) Encode([]timeline.Post) error { return nil }

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func metricsAddrFrom(port string) string {
	if port == "" {
		return ""
	}
	return ":" + port
}
