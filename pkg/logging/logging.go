// Package logging builds the *slog.Logger used by the drivers, rendered by
// charmbracelet/log.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	charmlog "github.com/charmbracelet/log"
)

// Options configures New.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // text, json, logfmt
	Prefix string
	Writer io.Writer
}

// New returns a slog.Logger backed by a charm handler. Unknown levels fall
// back to info and unknown formats to text.
func New(opts Options) *slog.Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	level, err := charmlog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil {
		level = charmlog.InfoLevel
	}

	h := charmlog.NewWithOptions(w, charmlog.Options{
		Level:           level,
		Prefix:          opts.Prefix,
		ReportTimestamp: true,
		Formatter:       formatter(opts.Format),
	})
	return slog.New(h)
}

func formatter(name string) charmlog.Formatter {
	switch strings.ToLower(name) {
	case "json":
		return charmlog.JSONFormatter
	case "logfmt":
		return charmlog.LogfmtFormatter
	default:
		return charmlog.TextFormatter
	}
}
