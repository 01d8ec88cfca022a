// Command api serves timeline extraction over HTTP: post markup in, posts out.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/brother-wolf/scrapers-lib/engine/scraper"
	"github.com/brother-wolf/scrapers-lib/engine/semantic"
	"github.com/brother-wolf/scrapers-lib/engine/store"
	"github.com/brother-wolf/scrapers-lib/engine/timeline"
	"github.com/brother-wolf/scrapers-lib/pkg/config"
	"github.com/brother-wolf/scrapers-lib/pkg/logging"
	"github.com/brother-wolf/scrapers-lib/pkg/metrics"
	"github.com/brother-wolf/scrapers-lib/pkg/mid"
)

// maxMarkupBytes caps a POST /api/extract body.
const maxMarkupBytes = 16 << 20

func main() {
	cfg := config.Load()
	logger := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Prefix: "api"})
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sinks, err := store.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open sinks: %w", err)
	}
	defer sinks.Close()

	reg := metrics.New()
	s := &server{log: logger, metrics: scraper.NewMetrics(reg), sink: sinks}
	if sinks.Index != nil {
		s.search = sinks.Index
	}
	if sinks.SQLite != nil {
		s.recent = sinks.SQLite
	} else if sinks.Neo4j != nil {
		s.recent = sinks.Neo4j
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      s.routes(reg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port, "sinks", sinks.Len())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

type searcher interface {
	Query(ctx context.Context, text string, topK int) ([]semantic.SearchResult, error)
}

type recentReader interface {
	Recent(ctx context.Context, limit int) ([]timeline.Post, error)
}

type server struct {
	log     *slog.Logger
	metrics *scraper.Metrics
	sink    store.Sink // never nil; may hold no sinks
	search  searcher   // nil without a vector index
	recent  recentReader
}

func (s *server) routes(reg *metrics.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.Handle("POST /api/extract", mid.MaxBody(maxMarkupBytes)(http.HandlerFunc(s.handleExtract)))
	mux.HandleFunc("GET /api/search", s.handleSearch)
	mux.HandleFunc("GET /api/posts", s.handleRecent)
	mux.Handle("GET /metrics", reg.Handler())

	return mid.Chain(mux,
		mid.Recover(s.log),
		mid.Logger(s.log),
		mid.Metrics(reg),
		mid.OTel("timeline-api"),
	)
}

// --- Handlers ---

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Fault is the JSON form of a malformed post container.
type Fault struct {
	Index  int    `json:"index"`
	PostID uint64 `json:"post_id,omitempty"`
	Field  string `json:"field"`
	Error  string `json:"error"`
}

func toFault(fe *timeline.FieldError) Fault {
	return Fault{Index: fe.Index, PostID: fe.PostID, Field: string(fe.Field), Error: fe.Error()}
}

// ExtractResponse is the JSON response for POST /api/extract.
type ExtractResponse struct {
	Posts  []timeline.Post `json:"posts"`
	Faults []Fault         `json:"faults"`
	Stored bool            `json:"stored,omitempty"`
}

// handleExtract reads markup from the body. Query flags: partial=1 keeps the
// well-formed posts of a page with faults, dedup=1 drops repeated ids,
// store=1 writes the posts to the configured sinks.
func (s *server) handleExtract(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(w, http.StatusRequestEntityTooLarge, "markup too large")
			return
		}
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	q := r.URL.Query()
	opts := scraper.ScrapeOpts{Partial: boolParam(q.Get("partial")), Dedup: boolParam(q.Get("dedup"))}
	res, err := scraper.New(nil, opts, s.metrics).Extract(scraper.Page{Source: "api", Markup: string(body)})
	if err != nil {
		var fe *timeline.FieldError
		if errors.As(err, &fe) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": err.Error(), "fault": toFault(fe)})
			return
		}
		s.log.Error("extract failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := ExtractResponse{Posts: res.Posts, Faults: make([]Fault, 0, len(res.Faults))}
	for _, fe := range res.Faults {
		resp.Faults = append(resp.Faults, toFault(fe))
	}
	if boolParam(q.Get("store")) && len(res.Posts) > 0 {
		if err := s.sink.Write(r.Context(), res.Posts); err != nil {
			s.log.Error("store posts failed", "posts", len(res.Posts), "err", err)
			writeError(w, http.StatusBadGateway, "store: "+err.Error())
			return
		}
		resp.Stored = true
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.search == nil {
		writeError(w, http.StatusServiceUnavailable, "no vector index configured")
		return
	}
	text := r.URL.Query().Get("q")
	if text == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	results, err := s.search.Query(r.Context(), text, intParam(r, "k", 10))
	if err != nil {
		s.log.Error("search failed", "err", err)
		writeError(w, http.StatusBadGateway, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *server) handleRecent(w http.ResponseWriter, r *http.Request) {
	if s.recent == nil {
		writeError(w, http.StatusServiceUnavailable, "no queryable store configured")
		return
	}
	posts, err := s.recent.Recent(r.Context(), intParam(r, "limit", 50))
	if err != nil {
		s.log.Error("recent posts failed", "err", err)
		writeError(w, http.StatusBadGateway, "store read failed")
		return
	}
	if posts == nil {
		posts = []timeline.Post{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"posts": posts})
}

// --- Helpers ---

func boolParam(v string) bool {
	b, _ := strconv.ParseBool(v)
	return b
}

// intParam reads a positive integer query parameter, capped at 1000.
func intParam(r *http.Request, key string, fallback int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n <= 0 {
		return fallback
	}
	return min(n, 1000)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
