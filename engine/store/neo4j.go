package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/brother-wolf/scrapers-lib/engine/timeline"
	"github.com/brother-wolf/scrapers-lib/pkg/repo"
)

// PostLabel is the node label posts are stored under.
const PostLabel = "Post"

// Neo4j stores each post as a :Post node keyed by its decimal id.
type Neo4j struct {
	driver neo4j.DriverWithContext
	repo   repo.Repository[timeline.Post, string]
}

// OpenNeo4j connects to uri and ensures the id constraint exists.
func OpenNeo4j(ctx context.Context, uri, user, pass string) (*Neo4j, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, pass, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j: driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("neo4j: connect %s: %w", uri, err)
	}
	r := NewPostRepo(driver)
	if err := r.EnsureConstraint(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("neo4j: constraint: %w", err)
	}
	return &Neo4j{driver: driver, repo: r}, nil
}

// NewPostRepo returns a repository mapping posts to :Post nodes.
func NewPostRepo(driver neo4j.DriverWithContext) *repo.Neo4jRepo[timeline.Post, string] {
	return repo.NewNeo4jRepo[timeline.Post, string](driver, PostLabel, postToMap, postFromRecord)
}

func postToMap(p timeline.Post) map[string]any {
	return map[string]any{
		"id":        strconv.FormatUint(p.ID, 10),
		"epoch":     p.Epoch,
		"date_time": p.DateTime,
		"content":   p.Content,
	}
}

func postFromRecord(rec *neo4j.Record) (timeline.Post, error) {
	v, ok := rec.Get("n")
	if !ok {
		return timeline.Post{}, fmt.Errorf("neo4j: record has no node")
	}
	node, ok := v.(neo4j.Node)
	if !ok {
		return timeline.Post{}, fmt.Errorf("neo4j: expected node, got %T", v)
	}
	idStr, _ := node.Props["id"].(string)
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		return timeline.Post{}, fmt.Errorf("neo4j: bad post id %q: %w", idStr, err)
	}
	epoch, _ := node.Props["epoch"].(int64)
	dt, _ := node.Props["date_time"].(string)
	content, _ := node.Props["content"].(string)
	return timeline.Post{ID: id, Epoch: epoch, DateTime: dt, Content: content}, nil
}

func (n *Neo4j) Write(ctx context.Context, posts []timeline.Post) error {
	return n.repo.Upsert(ctx, posts)
}

// Recent returns up to limit posts, newest first.
func (n *Neo4j) Recent(ctx context.Context, limit int) ([]timeline.Post, error) {
	return n.repo.List(ctx, repo.ListOpts{Limit: limit, OrderBy: "epoch"})
}

func (n *Neo4j) Close() error {
	if n.driver == nil {
		return nil
	}
	return n.driver.Close(context.Background())
}
