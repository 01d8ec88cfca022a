package timeline

// Site scrapes one site's rendered markup into typed records.
type Site[T any] interface {
	Scrape(markup string) ([]T, error)
}

// Twitter scrapes the legacy twitter.com timeline markup.
type Twitter struct {
	// Partial skips malformed containers instead of failing the call.
	// Skipped faults are discarded; use ExtractPartial to see them.
	Partial bool
}

var _ Site[Post] = Twitter{}

func (t Twitter) Scrape(markup string) ([]Post, error) {
	if t.Partial {
		posts, _ := ExtractPartial(markup)
		return posts, nil
	}
	return Extract(markup)
}
