package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/brother-wolf/scrapers-lib/engine/output"
	"github.com/brother-wolf/scrapers-lib/engine/scraper"
	"github.com/brother-wolf/scrapers-lib/engine/store"
	"github.com/brother-wolf/scrapers-lib/engine/timeline"
)

const page = `<div class="content"><a class="tweet-timestamp" href="/a/status/42"><span class="_timestamp" data-time-ms="1000"></span></a><p class="tweet-text">hello</p></div>`

func writePage(t *testing.T, markup string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "page.html")
	if err := os.WriteFile(path, []byte(markup), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSplitList(t *testing.T) {
	got := splitList(" a.html, ,b.html,")
	if !reflect.DeepEqual(got, []string{"a.html", "b.html"}) {
		t.Fatalf("got %v", got)
	}
	if splitList("") != nil {
		t.Fatal("expected nil for empty list")
	}
}

func TestCollectFilesAndURLs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Replace(page, "/status/42", "/status/43", 1)))
	}))
	defer srv.Close()

	path := writePage(t, page)
	s := scraper.New(scraper.NewFetcher(scraper.FetcherConfig{}), scraper.ScrapeOpts{}, nil)
	results, err := collect(context.Background(), s, []string{path, path}, []string{srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	posts := scraper.Posts(results)
	if len(posts) != 2 || posts[0].ID != 42 || posts[1].ID != 43 {
		t.Fatalf("unexpected posts %+v", posts)
	}
}

func TestCollectStrictFault(t *testing.T) {
	path := writePage(t, `<div class="content"><p class="tweet-text">x</p></div>`)
	s := scraper.New(nil, scraper.ScrapeOpts{}, nil)
	if _, err := collect(context.Background(), s, []string{path}, nil); err == nil {
		t.Fatal("expected fault error")
	}
}

func TestEmitWritesStdoutAndSinks(t *testing.T) {
	var buf bytes.Buffer
	enc, err := output.New(output.FormatJSON, &buf)
	if err != nil {
		t.Fatal(err)
	}
	db, err := store.OpenSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	sinks := store.NewMulti(nil)
	sinks.Add("sqlite", db)
	defer sinks.Close()

	results := []scraper.Result{{Source: "a", Posts: []timeline.Post{timeline.NewPost(42, 1000, "hello")}}}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := emit(context.Background(), results, enc, sinks, log); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"id":42`) {
		t.Fatalf("unexpected stdout %q", buf.String())
	}
	n, err := db.Count(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("expected 1 stored post, got %d (%v)", n, err)
	}
}

func TestMetricsAddrFrom(t *testing.T) {
	if metricsAddrFrom("") != "" || metricsAddrFrom("9100") != ":9100" {
		t.Fatal("unexpected metrics address")
	}
}
