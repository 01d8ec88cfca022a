// Package store persists extracted posts. Every sink upserts on post id, so
// re-scraping the same page is harmless.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/brother-wolf/scrapers-lib/engine/timeline"
	"github.com/brother-wolf/scrapers-lib/pkg/fn"
)

// Sink receives batches of posts.
type Sink interface {
	Write(ctx context.Context, posts []timeline.Post) error
	Close() error
}

type named struct {
	name  string
	sink  Sink
	write fn.Stage[[]timeline.Post, []timeline.Post]
}

// Multi fans a batch out to every added sink. A failing sink does not stop
// the others; their errors are joined.
type Multi struct {
	log   *slog.Logger
	sinks []named
}

// NewMulti creates an empty Multi.
func NewMulti(log *slog.Logger) *Multi {
	if log == nil {
		log = slog.Default()
	}
	return &Multi{log: log}
}

// Add registers sink under name. Writes to it are traced as "store.<name>".
func (m *Multi) Add(name string, sink Sink) {
	m.sinks = append(m.sinks, named{
		name: name,
		sink: sink,
		write: fn.TracedStage("store."+name, fn.TapStage(func(ctx context.Context, posts []timeline.Post) error {
			return sink.Write(ctx, posts)
		})),
	})
}

// Len reports the number of sinks.
func (m *Multi) Len() int { return len(m.sinks) }

func (m *Multi) Write(ctx context.Context, posts []timeline.Post) error {
	if len(posts) == 0 {
		return nil
	}
	var errs []error
	for _, s := range m.sinks {
		if _, err := s.write(ctx, posts).Unwrap(); err != nil {
			m.log.Error("sink write failed", "sink", s.name, "posts", len(posts), "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
			continue
		}
		m.log.Debug("sink write", "sink", s.name, "posts", len(posts))
	}
	return errors.Join(errs...)
}

// Close closes every sink in reverse order of addition.
func (m *Multi) Close() error {
	var errs []error
	for i := len(m.sinks) - 1; i >= 0; i-- {
		if err := m.sinks[i].sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", m.sinks[i].name, err))
		}
	}
	return errors.Join(errs...)
}
