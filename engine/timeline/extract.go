package timeline

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ParseFragment parses markup that need not be a complete document. Every
// top-level node of the fragment becomes a child of the returned document.
func ParseFragment(markup string) (*goquery.Document, error) {
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(markup), body)
	if err != nil {
		return nil, fmt.Errorf("timeline: parse fragment: %w", err)
	}
	root := &html.Node{Type: html.DocumentNode}
	for _, n := range nodes {
		root.AppendChild(n)
	}
	return goquery.NewDocumentFromNode(root), nil
}

// Extract returns one Post per post container in markup, in document order.
// Markup without containers yields an empty slice. The first malformed
// container fails the whole call with a *FieldError and no posts.
func Extract(markup string) ([]Post, error) {
	containers, err := findContainers(markup)
	if err != nil {
		return nil, err
	}
	posts := make([]Post, 0, containers.Length())
	for i := range containers.Nodes {
		p, ferr := extractPost(i, containers.Eq(i))
		if ferr != nil {
			return nil, ferr
		}
		posts = append(posts, p)
	}
	return posts, nil
}

// ExtractPartial is Extract with per-container isolation: malformed
// containers are skipped and reported, the rest are returned in order.
// A parse failure of the markup itself is reported as the only fault.
func ExtractPartial(markup string) ([]Post, []*FieldError) {
	containers, err := findContainers(markup)
	if err != nil {
		return []Post{}, []*FieldError{{Index: -1, Err: ErrMalformedValue, Detail: err.Error()}}
	}
	posts := make([]Post, 0, containers.Length())
	var faults []*FieldError
	for i := range containers.Nodes {
		p, ferr := extractPost(i, containers.Eq(i))
		if ferr != nil {
			faults = append(faults, ferr)
			continue
		}
		posts = append(posts, p)
	}
	return posts, faults
}

func findContainers(markup string) (*goquery.Selection, error) {
	doc, err := ParseFragment(markup)
	if err != nil {
		return nil, err
	}
	return doc.FindMatcher(containerMatcher), nil
}

func extractPost(index int, container *goquery.Selection) (Post, *FieldError) {
	var (
		id      uint64
		content string
		epoch   int64
	)
	for _, r := range fieldRules {
		raw, ferr := r.resolve(container)
		if ferr == nil {
			switch r.field {
			case FieldID:
				id, ferr = parseID(raw)
			case FieldContent:
				content = raw
			case FieldEpoch:
				epoch, ferr = parseEpoch(raw)
			}
		}
		if ferr != nil {
			ferr.Index = index
			ferr.PostID = id
			ferr.Field = r.field
			return Post{}, ferr
		}
	}
	return NewPost(id, epoch, content), nil
}

func (r fieldRule) resolve(container *goquery.Selection) (string, *FieldError) {
	matches := container.FindMatcher(r.match)
	if matches.Length() == 0 {
		return "", &FieldError{Err: ErrMissingElement, Detail: r.pattern}
	}
	el := matches.First()
	if r.pick == pickLast {
		el = matches.Last()
	}
	if r.attr == "" {
		return InnerHTML(el.Get(0)), nil
	}
	v, ok := el.Attr(r.attr)
	if !ok {
		return "", &FieldError{Err: ErrMissingAttribute, Detail: r.pattern + "[" + r.attr + "]"}
	}
	return v, nil
}

// parseID reads the numeric identifier after the last "/status/" in a
// permalink path.
func parseID(href string) (uint64, *FieldError) {
	i := strings.LastIndex(href, statusDelimiter)
	if i < 0 {
		return 0, &FieldError{Err: ErrMalformedValue, Detail: fmt.Sprintf("no %q in %q", statusDelimiter, href)}
	}
	id, err := strconv.ParseUint(href[i+len(statusDelimiter):], 10, 64)
	if err != nil {
		return 0, &FieldError{Err: ErrMalformedValue, Detail: err.Error()}
	}
	return id, nil
}

func parseEpoch(raw string) (int64, *FieldError) {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, &FieldError{Err: ErrMalformedValue, Detail: err.Error()}
	}
	return ms, nil
}
