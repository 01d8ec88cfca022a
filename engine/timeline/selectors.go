package timeline

import "github.com/andybalholm/cascadia"

// Timeline DOM patterns. The legacy timeline markup changes rarely, but when
// it does these are the only lines that should need editing.
const (
	ContainerPattern = "div.content"
	ContentPattern   = "p.tweet-text"
	PermalinkPattern = "a.tweet-timestamp"
	TimestampPattern = "span._timestamp"

	permalinkAttr   = "href"
	timestampAttr   = "data-time-ms"
	statusDelimiter = "/status/"
)

// Field names a value resolved from a post container.
type Field string

const (
	FieldID      Field = "id"
	FieldContent Field = "content"
	FieldEpoch   Field = "epoch"
)

// pick says which match is authoritative when a pattern matches more than once.
type pick int

const (
	pickFirst pick = iota
	pickLast
)

// fieldRule resolves one raw string from a container subtree: the inner
// markup of the picked match when attr is empty, otherwise the attribute.
type fieldRule struct {
	field   Field
	pattern string
	match   cascadia.Selector
	pick    pick
	attr    string
}

func rule(field Field, pattern string, p pick, attr string) fieldRule {
	return fieldRule{field: field, pattern: pattern, match: cascadia.MustCompile(pattern), pick: p, attr: attr}
}

// Compiled at package load; a bad pattern panics before any markup is read.
var (
	containerMatcher = cascadia.MustCompile(ContainerPattern)

	// Resolution order. The identifier goes first so later faults can name it.
	fieldRules = []fieldRule{
		rule(FieldID, PermalinkPattern, pickFirst, permalinkAttr),
		rule(FieldContent, ContentPattern, pickFirst, ""),
		// Containers carry a second, visually hidden timestamp; the last one wins.
		rule(FieldEpoch, TimestampPattern, pickLast, timestampAttr),
	}
)
