// Package scraper fetches timeline pages and turns them into posts: it is the
// I/O side around engine/timeline, which never touches the network.
package scraper

import (
	"time"

	"github.com/brother-wolf/scrapers-lib/engine/timeline"
)

// Page is one fetched markup buffer.
type Page struct {
	Source    string    `json:"source"`
	Markup    string    `json:"-"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Result holds the posts extracted from one page.
type Result struct {
	Source    string                 `json:"source"`
	Posts     []timeline.Post        `json:"posts"`
	Faults    []*timeline.FieldError `json:"-"`
	ScrapedAt time.Time              `json:"scraped_at"`
}

// ScrapeOpts configures a scrape run.
type ScrapeOpts struct {
	// Partial keeps the well-formed posts of a page and reports the
	// malformed containers as Faults instead of failing the page.
	Partial bool
	// Dedup drops repeated post IDs within each page.
	Dedup bool
	// Workers bounds concurrent page fetches. <= 0 fetches all at once.
	Workers int
}
